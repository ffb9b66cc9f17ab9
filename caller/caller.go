// Package caller orchestrates pileup.Builder and genotype.Model into the
// per-pool reader -> pileup -> caller -> writer pipeline of spec §4.E,
// following the bounded-channel pipeline shape of
// github.com/grailbio/bio's pileup/snp package.
package caller

import (
	"context"
	"sort"

	"github.com/bscall/bscall/dbsnp"
	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/pileup"
	"github.com/bscall/bscall/stats"
	"github.com/grailbio/base/errors"
)

// ChannelCapacity is the bounded-channel capacity of spec §5.
const ChannelCapacity = 32

// CallBatchSize batches GenotypeCall records, per spec §4.E.
const CallBatchSize = 4096

// CallBlock is emitted once per pileup.Block, carrying the context records
// downstream of it need (spec §4.E).
type CallBlock struct {
	Index      uint64
	Contig     string
	Window     [2]int64 // [start, end)
	RefBases   []byte
	DBSNPSlice *dbsnp.Index // optional; nil if no dbSNP index was supplied
}

// CallRecord is one position's genotype call plus its reference coordinate,
// ready for BCF/VCF emission.
type CallRecord struct {
	Pos  int64
	Call genotype.Call
	FS   float64
}

// CallBatch is a contiguous run of up to CallBatchSize CallRecords
// belonging to one CallBlock, tagged with a monotonically increasing index
// so a writer can reorder pool output (spec §5 "Ordering guarantees").
type CallBatch struct {
	BlockIndex uint64
	SeqIndex   uint64
	Records    []CallRecord
}

// Options configures one pool's call run.
type Options struct {
	Model        *genotype.Model
	Fisher       *genotype.FisherTest
	SampleName   string
	MinBaseQual  int
	PileupFilter pileup.Filters
}

// Sink receives CallBlocks and CallBatches in strict submission order. A
// sink may optionally return its own stats.Sample from Close (e.g. a
// format that tallies output-side counts); RunPool's caller-side sample is
// tracked independently and always returned regardless.
type Sink interface {
	Block(*CallBlock) error
	Batch(*CallBatch) error
	Close() (*stats.Sample, error)
}

// RunPool drives one contig-pool's pileup blocks through the genotype model
// and into sink, honoring the ordering guarantee of spec §5: batches are
// delivered to sink in increasing SeqIndex order even though Convert may
// process blocks out of order internally (it does not, here, since
// conversion is synchronous per block; the reordering buffer exists for
// parity with a future concurrent convert stage).
func RunPool(ctx context.Context, opts Options, blocks <-chan *pileup.Block, sink Sink) (*stats.Sample, error) {
	sample := stats.NewSample(opts.SampleName)
	var seq uint64
	var blockIdx uint64

	pending := make(map[uint64]*CallBatch)
	nextWant := uint64(0)

	flush := func(b *CallBatch) error {
		pending[b.SeqIndex] = b
		for {
			next, ok := pending[nextWant]
			if !ok {
				return nil
			}
			if err := sink.Batch(next); err != nil {
				return err
			}
			delete(pending, nextWant)
			nextWant++
		}
	}

	for blk := range blocks {
		select {
		case <-ctx.Done():
			return sample, ctx.Err()
		default:
		}

		cb := &CallBlock{
			Index:    blockIdx,
			Contig:   blk.Contig,
			Window:   [2]int64{blk.Start, blk.Start + int64(len(blk.Positions))},
			RefBases: blockRefBases(blk),
		}
		if err := sink.Block(cb); err != nil {
			return sample, err
		}
		blockIdx++

		records := convertBlock(opts, blk, sample)
		for start := 0; start < len(records); start += CallBatchSize {
			end := start + CallBatchSize
			if end > len(records) {
				end = len(records)
			}
			batch := &CallBatch{BlockIndex: cb.Index, SeqIndex: seq, Records: records[start:end]}
			seq++
			if err := flush(batch); err != nil {
				return sample, err
			}
		}
	}
	if len(pending) != 0 {
		return sample, errors.E(errors.Invalid, "caller: writer exited with out-of-order batches still pending")
	}
	if _, err := sink.Close(); err != nil {
		return sample, err
	}
	return sample, nil
}

func blockRefBases(blk *pileup.Block) []byte {
	out := make([]byte, len(blk.Positions))
	for i, p := range blk.Positions {
		out[i] = p.RefBase
	}
	return out
}

func convertBlock(opts Options, blk *pileup.Block, sample *stats.Sample) []CallRecord {
	records := make([]CallRecord, 0, len(blk.Positions))
	for _, p := range blk.Positions {
		var counts, quals [8]int
		for i := 0; i < 8; i++ {
			counts[i] = int(p.Counts[i]) + int(p.Counts[i+8])
			if counts[i] > 0 {
				quals[i] = int(p.QualSum[i]) / counts[i]
			}
		}
		call := opts.Model.CalcGTProb(counts, quals, p.RefBase)

		var fs float64
		if genotype.Het[call.ArgMax] {
			fs = opts.Fisher.CalcFSStat(call.ArgMax, p.Counts)
		}

		records = append(records, CallRecord{Pos: p.RefPos, Call: call, FS: fs})

		sample.Coverage[stats.CoverageAll]++
		if genotype.Het[call.ArgMax] {
			sample.Coverage[stats.CoverageVariant]++
		}
		sample.AddFisher(genotype.Het[call.ArgMax], fs)
		for strandSet := 0; strandSet < 2; strandSet++ {
			m := call.Meth[strandSet*3]
			if m >= 0 {
				sample.AddMeth(m)
			}
		}
	}
	return records
}

// MergeBCFs concatenates per-pool BCF byte streams naively (no re-header),
// per spec §4.E "per-pool BCFs are concatenated naively".
func MergeBCFs(w ConcatWriter, parts [][]byte) error {
	for i, p := range parts {
		body := p
		if i > 0 {
			body = stripHeader(p)
		}
		if _, err := w.Write(body); err != nil {
			return errors.E(err, "caller: concatenating pool BCF output")
		}
	}
	return nil
}

// ConcatWriter is the minimal surface MergeBCFs needs.
type ConcatWriter interface {
	Write([]byte) (int, error)
}

// stripHeader removes the leading lines that begin with '#', i.e. the
// VCF/BCF text header, and returns p from the first line that does not, so
// only the second-and-later pool's data lines are appended during a naive
// concat.
func stripHeader(p []byte) []byte {
	i := 0
	for i < len(p) {
		lineEnd := indexByte(p[i:], '\n')
		if lineEnd < 0 {
			return nil
		}
		line := p[i : i+lineEnd]
		if len(line) == 0 || line[0] != '#' {
			return p[i:]
		}
		i += lineEnd + 1
	}
	return nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// sortContigsByPoolOrder returns the indices of totals in ascending order of
// total, the same ascending-by-total-length order contigpool.Plan returns,
// which puts small pools (and thus fast feedback) first. Nothing in this
// repository calls it.
func sortContigsByPoolOrder(totals []int64) []int {
	idx := make([]int, len(totals))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return totals[idx[a]] < totals[idx[b]] })
	return idx
}
