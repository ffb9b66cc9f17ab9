// bscall-dbsnp-index builds the dbSNP random-access index of spec §4.B from
// a tab-separated (contig, 1-based pos, rs-id[, MAF]) feed.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bscall/bscall/dbsnp"
	"github.com/bscall/bscall/internal/cli"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
)

var (
	description = flag.String("description", "", "Free-text description stored in the index header")
	out         = flag.String("out", "", "Output index path (required)")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] input.tsv\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	common := cli.Register(flag.CommandLine)
	shutdown := grail.Init()
	defer shutdown()

	if err := common.Apply(); err != nil {
		log.Panicf("%v", err)
	}
	if flag.NArg() != 1 {
		log.Fatalf("exactly one input TSV path required")
	}
	if *out == "" {
		log.Fatalf("-out is required")
	}

	recs, err := readRecords(flag.Arg(0))
	if err != nil {
		log.Panicf("%v", err)
	}

	b := dbsnp.NewBuilder()
	if err := b.AddRecords(recs); err != nil {
		log.Panicf("%v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Panicf("creating %s: %v", *out, err)
	}
	defer f.Close()
	if err := b.Write(f, *description); err != nil {
		log.Panicf("writing index: %v", err)
	}
	log.Printf("wrote %d records to %s", len(recs), *out)
}

// readRecords parses lines of "contig\tpos\tname" or
// "contig\tpos\tname\tmaf".
func readRecords(path string) ([]dbsnp.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []dbsnp.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 tab-separated fields, got %d", lineNo, len(fields))
		}
		pos, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid position %q: %w", lineNo, fields[1], err)
		}
		rec := dbsnp.Record{Contig: fields[0], Pos: uint32(pos), Name: fields[2]}
		if len(fields) >= 4 && fields[3] != "" {
			maf64, err := strconv.ParseFloat(fields[3], 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid MAF %q: %w", lineNo, fields[3], err)
			}
			maf32 := float32(maf64)
			rec.MAF = &maf32
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
