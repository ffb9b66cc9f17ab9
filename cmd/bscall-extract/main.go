// bscall-extract re-scores a TSV feed of per-sample counts (see -in) under
// independently configurable conversion rates and splits positions into
// CpG/non-CpG TSV tables, implementing the table part of spec §4.F. It
// writes no bedMethyl tracks.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bscall/bscall/extractor"
	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/internal/cli"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

var (
	inPath      = flag.String("in", "", "Input calls TSV path: contig\\tpos\\trefbase\\tcontext\\tcounts... (required)")
	outPrefix   = flag.String("out", "bscall-extract", "Output path prefix; writes <prefix>.cpg.tsv and <prefix>.noncpg.tsv")
	underConv   = flag.Float64("under-conversion", 0.01, "Under-conversion rate used to recall genotypes")
	overConv    = flag.Float64("over-conversion", 0.05, "Over-conversion rate used to recall genotypes")
	refBias     = flag.Float64("ref-bias", 2, "Reference-allele prior weight")
	threshold   = flag.Float64("threshold", 20, "Joint phred threshold stored in extractor.Options; every row is written regardless")
	minN        = flag.Int("min-n", 1, "min_n: sample count the joint phred is computed over")
	commonGT    = flag.Bool("common-gt", false, "Fold every sample's genotype call into one joint call")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	common := cli.Register(flag.CommandLine)
	shutdown := grail.Init()
	defer shutdown()

	flag.Parse()
	if err := common.Apply(); err != nil {
		log.Panicf("%v", err)
	}
	if *inPath == "" {
		log.Fatalf("-in is required")
	}

	in, err := os.Open(*inPath)
	if err != nil {
		log.Panicf("opening input: %v", err)
	}
	defer in.Close()

	cpgFile, err := os.Create(*outPrefix + ".cpg.tsv")
	if err != nil {
		log.Panicf("creating cpg output: %v", err)
	}
	defer cpgFile.Close()
	nonCpgFile, err := os.Create(*outPrefix + ".noncpg.tsv")
	if err != nil {
		log.Panicf("creating non-cpg output: %v", err)
	}
	defer nonCpgFile.Close()

	cpgW := tsv.NewWriter(cpgFile)
	nonCpgW := tsv.NewWriter(nonCpgFile)
	writeTableHeader(cpgW)
	writeTableHeader(nonCpgW)

	opts := extractor.Options{
		Model:     genotype.NewModel(*underConv, *overConv, *refBias, false, false),
		Fisher:    genotype.NewFisherTest(),
		Threshold: *threshold,
		MinN:      *minN,
		CommonGT:  *commonGT,
	}

	var detector extractor.CpGDetector
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	nRows, nEmitted := 0, 0
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		site, isC, isG, err := parseSite(line)
		if err != nil {
			log.Panicf("line %d: %v", nRows+1, err)
		}
		nRows++

		calls := extractor.Recall(opts, site)
		_, _, isCpG := detector.Observe(site.Contig, site.Pos, isC, isG, calls[0])

		target := nonCpgW
		if isCpG {
			target = cpgW
		}
		writeRow(target, site, calls[0])
		nEmitted++
	}
	if err := sc.Err(); err != nil {
		log.Panicf("reading input: %v", err)
	}
	log.Printf("processed %d rows, emitted %d", nRows, nEmitted)
}

func writeTableHeader(w *tsv.Writer) {
	w.WriteString("#CHROM")
	w.WriteString("POS")
	w.WriteString("CONTEXT")
	w.WriteString("GENOTYPE")
	w.WriteString("PHRED")
	if err := w.EndLine(); err != nil {
		log.Panicf("writing header: %v", err)
	}
}

func writeRow(w *tsv.Writer, s extractor.Site, call genotype.Call) {
	w.WriteString(s.Contig)
	w.WriteUint32(uint32(s.Pos + 1))
	w.WriteString(s.Context)
	w.WriteString(genotypeLabel(call.ArgMax))
	w.WriteString(strconv.FormatFloat(phredOf(call), 'f', 1, 64))
	if err := w.EndLine(); err != nil {
		log.Panicf("writing row: %v", err)
	}
}

func phredOf(call genotype.Call) float64 {
	max := call.LogProb[call.ArgMax]
	return -10 * max / 2.302585092994046
}

var genotypeLabels = [genotype.NGenotype]string{
	"AA", "AC", "AG", "AT", "CC", "CG", "CT", "GG", "GT", "TT",
}

func genotypeLabel(g genotype.Genotype) string {
	if int(g) < 0 || int(g) >= len(genotypeLabels) {
		return "."
	}
	return genotypeLabels[g]
}

// parseSite parses one line of the extractor's input feed:
// contig\tpos(0-based)\trefbase\tcontext\tisC\tisG\tc0,c1,...,c7\tq0,q1,...,q7
func parseSite(line string) (extractor.Site, bool, bool, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return extractor.Site{}, false, false, fmt.Errorf("expected at least 8 fields, got %d", len(fields))
	}
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return extractor.Site{}, false, false, fmt.Errorf("invalid pos: %w", err)
	}
	counts, err := parseIntList(fields[6], 8)
	if err != nil {
		return extractor.Site{}, false, false, fmt.Errorf("invalid counts: %w", err)
	}
	quals, err := parseIntList(fields[7], 8)
	if err != nil {
		return extractor.Site{}, false, false, fmt.Errorf("invalid quals: %w", err)
	}
	var sc extractor.SampleCounts
	copy(sc.Counts[:], counts)
	copy(sc.Quals[:], quals)

	site := extractor.Site{
		Contig:  fields[0],
		Pos:     pos,
		RefBase: fields[2][0],
		Context: fields[3],
		Samples: []extractor.SampleCounts{sc},
	}
	isC := fields[4] == "1"
	isG := fields[5] == "1"
	return site, isC, isG, nil
}

func parseIntList(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
