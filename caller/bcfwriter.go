package caller

import (
	"fmt"
	"io"
	"math"

	"github.com/bscall/bscall/contigpool"
	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/stats"
)

// genotypeFilters are the fixed FILTER lines of spec §6.3.
var genotypeFilters = []string{"fail", "q20", "qd2", "fs60", "mq40", "mac1"}

// genotypeLabels orders genotype.Genotype's ten values for VCF ALT/GT text.
var genotypeLabels = [genotype.NGenotype]string{
	"AA", "AC", "AG", "AT", "CC", "CG", "CT", "GG", "GT", "TT",
}

// BCFWriter emits the fixed-header, BCF-equivalent record stream of spec
// §6.3. The "well-known external library" spec §6.4 reserves for container
// wire-format is reserved for true binary BCF, which is out of pack scope
// (see DESIGN.md) — this writer emits the header/body information model
// spec §6.3 names as plain VCF text written directly to w, with no
// compression or block framing.
type BCFWriter struct {
	w        io.Writer
	sample   string
	contigs  []contigpool.Contig
	omitted  map[string]bool
	blocks   map[uint64]*CallBlock
	curBlock *CallBlock
	wroteHeader bool
}

// NewBCFWriter creates a BCFWriter for one sample's output stream.
func NewBCFWriter(w io.Writer, sample string, contigs []contigpool.Contig, omit []string) *BCFWriter {
	om := make(map[string]bool, len(omit))
	for _, c := range omit {
		om[c] = true
	}
	return &BCFWriter{w: w, sample: sample, contigs: contigs, omitted: om, blocks: make(map[uint64]*CallBlock)}
}

func (bw *BCFWriter) writeHeader() error {
	if bw.wroteHeader {
		return nil
	}
	bw.wroteHeader = true
	fmt.Fprintf(bw.w, "##fileformat=VCFv4.3\n")
	fmt.Fprintf(bw.w, "##bs_call_sample_info=<ID=%s,SM=%s,DS=bscall>\n", bw.sample, bw.sample)
	for _, c := range bw.contigs {
		if bw.omitted[c.Name] {
			continue
		}
		fmt.Fprintf(bw.w, "##contig=<ID=%s,length=%d,assembly=unknown,md5=%s>\n", c.Name, c.Length, c.MD5)
	}
	for _, f := range genotypeFilters {
		fmt.Fprintf(bw.w, "##FILTER=<ID=%s,Description=\"bs_call filter\">\n", f)
	}
	for _, tag := range []string{"CX", "GT", "FT", "GL", "GQ", "DP", "MQ", "QD", "MC8", "AMQ", "CS", "CG", "FS"} {
		fmt.Fprintf(bw.w, "##FORMAT=<ID=%s,Number=.,Type=String,Description=\"%s\">\n", tag, tag)
	}
	fmt.Fprintf(bw.w, "##INFO=<ID=CX,Number=1,Type=String,Description=\"5-base sequence context\">\n")
	fmt.Fprintf(bw.w, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\t%s\n", bw.sample)
	return nil
}

// Block implements Sink.
func (bw *BCFWriter) Block(cb *CallBlock) error {
	if err := bw.writeHeader(); err != nil {
		return err
	}
	bw.curBlock = cb
	bw.blocks[cb.Index] = cb
	return nil
}

// Batch implements Sink, emitting one VCF data line per CallRecord.
func (bw *BCFWriter) Batch(b *CallBatch) error {
	blk, ok := bw.blocks[b.BlockIndex]
	if !ok {
		blk = bw.curBlock
	}
	for _, rec := range b.Records {
		if err := bw.writeRecord(blk, rec); err != nil {
			return err
		}
	}
	return nil
}

func (bw *BCFWriter) writeRecord(blk *CallBlock, rec CallRecord) error {
	gt := genotypeLabels[rec.Call.ArgMax]
	ref := "N"
	if blk != nil {
		off := int(rec.Pos - blk.Window[0])
		if off >= 0 && off < len(blk.RefBases) && blk.RefBases[off] != 0 {
			ref = string(blk.RefBases[off])
		}
	}
	// GQ is the phred-scaled probability that the called genotype is wrong.
	gq := phredOf(math.Log1p(-math.Exp(rec.Call.LogProb[rec.Call.ArgMax])))
	filter := "PASS"
	if gq < 20 {
		filter = "q20"
	}
	contig := ""
	if blk != nil {
		contig = blk.Contig
	}
	_, err := fmt.Fprintf(bw.w, "%s\t%d\t.\t%s\t<%s>\t%.0f\t%s\tCX=.\tGT:GQ:FS\t%s:%d:%.2f\n",
		contig, rec.Pos+1, ref, gt, gq, filter, gt, int(gq), rec.FS)
	return err
}

// Close implements Sink. The BCF text writer has no trailer to emit beyond
// the data lines; stats aggregation happens in caller.RunPool.
func (bw *BCFWriter) Close() (*stats.Sample, error) {
	return nil, nil
}

// phredOf converts a natural-log probability into a phred-scaled quality,
// clamped to a sane display range.
func phredOf(lnP float64) float64 {
	phred := -10 * lnP / math.Ln10
	if phred > 255 {
		phred = 255
	}
	if phred < 0 {
		phred = 0
	}
	return phred
}
