package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bscall/bscall/internal/cli"
	"github.com/bscall/bscall/stats"
)

func runMergeStats(args []string) error {
	fs := flag.NewFlagSet("merge-stats", flag.ExitOnError)
	common := cli.Register(fs)
	out := fs.String("out", "", "Output merged JSON stats path (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := common.Apply(); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("merge-stats: -out is required")
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("merge-stats: at least one input stats JSON path required")
	}

	samples := make([]*stats.Sample, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("merge-stats: opening %s: %w", p, err)
		}
		s, err := stats.ReadJSON(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("merge-stats: parsing %s: %w", p, err)
		}
		samples = append(samples, s)
	}

	merged := stats.MergeAll(samples)
	outFile, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("merge-stats: creating %s: %w", *out, err)
	}
	defer outFile.Close()
	if err := merged.WriteJSON(outFile); err != nil {
		return fmt.Errorf("merge-stats: writing %s: %w", *out, err)
	}
	fmt.Printf("merged %d stats files into %s\n", len(paths), *out)
	return nil
}
