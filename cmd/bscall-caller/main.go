// bscall-caller streams one pool's worth of a coordinate-sorted BAM through
// the pileup and genotype model into a BCF-equivalent output stream plus a
// JSON stats file, implementing spec §4.E as a standalone pool worker that
// cmd/bscall's run subcommand invokes once per contig pool.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bscall/bscall/caller"
	"github.com/bscall/bscall/contigpool"
	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/internal/cli"
	"github.com/bscall/bscall/internal/htsbridge"
	"github.com/bscall/bscall/pileup"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	bamPath       = flag.String("bam", "", "Input coordinate-sorted BAM path (required)")
	manifestPath  = flag.String("manifest", "", "Reference contig manifest path (required)")
	sampleName    = flag.String("sample", "", "Sample name recorded in the output header (required)")
	outPath       = flag.String("out", "", "Output BCF-equivalent path (required)")
	statsPath     = flag.String("stats", "", "Output JSON stats path (required)")
	underConv     = flag.Float64("under-conversion", 0.01, "Under-conversion rate")
	overConv      = flag.Float64("over-conversion", 0.05, "Over-conversion rate")
	refBias       = flag.Float64("ref-bias", 2, "Reference-allele prior weight")
	haploid       = flag.Bool("haploid", false, "Call in haploid mode")
	minMapQ       = flag.Int("mapq", 20, "Minimum mapping quality")
	minBaseQual   = flag.Int("min-base-qual", 20, "Minimum base quality")
	omitContigs   = flag.String("omit", "", "Comma-separated contig names to omit from the header")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	start := time.Now()
	flag.Usage = usage
	common := cli.Register(flag.CommandLine)
	shutdown := grail.Init()
	defer shutdown()

	flag.Parse()
	if err := common.Apply(); err != nil {
		log.Panicf("%v", err)
	}
	for _, req := range []struct {
		name string
		val  string
	}{{"bam", *bamPath}, {"manifest", *manifestPath}, {"sample", *sampleName}, {"out", *outPath}, {"stats", *statsPath}} {
		if req.val == "" {
			log.Fatalf("-%s is required", req.name)
		}
	}

	ctx := vcontext.Background()

	manifest, err := os.Open(*manifestPath)
	if err != nil {
		log.Panicf("opening manifest: %v", err)
	}
	cat, err := contigpool.Load(manifest)
	manifest.Close()
	if err != nil {
		log.Panicf("loading manifest: %v", err)
	}

	reader, err := htsbridge.OpenReader(ctx, *bamPath, "")
	if err != nil {
		log.Panicf("opening BAM: %v", err)
	}
	defer reader.Close()

	outFile, err := os.Create(*outPath)
	if err != nil {
		log.Panicf("creating output: %v", err)
	}
	defer outFile.Close()

	var omit []string
	if *omitContigs != "" {
		omit = splitComma(*omitContigs)
	}
	sink := caller.NewBCFWriter(outFile, *sampleName, cat.Contigs(), omit)

	opts := caller.Options{
		Model:        genotype.NewModel(*underConv, *overConv, *refBias, *haploid, false),
		Fisher:       genotype.NewFisherTest(),
		SampleName:   *sampleName,
		MinBaseQual:  *minBaseQual,
		PileupFilter: defaultFiltersWith(*minMapQ, *minBaseQual),
	}

	refs := reader.References()
	refName := func(ref int32) string {
		if ref < 0 || int(ref) >= len(refs) {
			return ""
		}
		return refs[ref].Name()
	}

	blocks := make(chan *pileup.Block, caller.ChannelCapacity)
	errc := make(chan error, 1)
	go func() {
		defer close(blocks)
		builder := pileup.NewBuilder(opts.PileupFilter, refName)
		emit := func(b *pileup.Block) error {
			blocks <- b
			return nil
		}
		for {
			rec, err := reader.Read()
			if err != nil {
				break
			}
			if err := builder.Add(rec, emit); err != nil {
				errc <- err
				return
			}
		}
		errc <- builder.Flush(emit)
	}()

	sample, runErr := caller.RunPool(ctx, opts, blocks, sink)
	if feedErr := <-errc; feedErr != nil && runErr == nil {
		runErr = feedErr
	}
	if runErr != nil {
		log.Panicf("%v", runErr)
	}

	if err := sample.CaptureResourceUsage(start); err != nil {
		log.Printf("capturing resource usage: %v", err)
	}

	statsFile, err := os.Create(*statsPath)
	if err != nil {
		log.Panicf("creating stats file: %v", err)
	}
	defer statsFile.Close()
	if err := sample.WriteJSON(statsFile); err != nil {
		log.Panicf("writing stats: %v", err)
	}
	log.Printf("done: %s -> %s", *bamPath, *outPath)
}

func defaultFiltersWith(minMapQ, minBaseQual int) pileup.Filters {
	f := pileup.DefaultFilters()
	f.MinMapQ = minMapQ
	f.MinBaseQual = minBaseQual
	return f
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
