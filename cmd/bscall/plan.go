package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bscall/bscall/contigpool"
	"github.com/bscall/bscall/internal/cli"
)

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	common := cli.Register(fs)
	manifestPath := fs.String("manifest", "", "Reference contig manifest path (required)")
	poolSize := fs.Int64("pool-size", contigpool.DefaultPoolSize, "Target pool size, in reference bases")
	omit := fs.String("omit", "", "Comma-separated contig names to omit")
	include := fs.String("include", "", "Comma-separated contig names to include exclusively")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := common.Apply(); err != nil {
		return err
	}
	if *manifestPath == "" {
		return fmt.Errorf("plan: -manifest is required")
	}

	f, err := os.Open(*manifestPath)
	if err != nil {
		return fmt.Errorf("plan: opening manifest: %w", err)
	}
	defer f.Close()
	cat, err := contigpool.Load(f)
	if err != nil {
		return fmt.Errorf("plan: loading manifest: %w", err)
	}

	pools, err := contigpool.Plan(cat, *poolSize, splitNonEmpty(*omit), splitNonEmpty(*include))
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	contigs := cat.Contigs()
	for i, p := range pools {
		names := make([]string, len(p.ContigIdx))
		for j, idx := range p.ContigIdx {
			names[j] = contigs[idx].Name
		}
		fmt.Printf("pool %d\ttotal=%d\tcontigs=%s\n", i, p.Total, strings.Join(names, ","))
	}
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
