// Package htsbridge is the single seam between this repository and
// github.com/grailbio/hts, the htslib-equivalent library spec §6.4 requires
// the core consume BAM/CRAM/BGZF through. No other package imports
// github.com/grailbio/hts directly; everything goes through the thin
// wrappers here, mirroring how grailbio-bio's encoding/bam package sits
// between pileup/snp and github.com/grailbio/hts/{sam,bam,bgzf}.
package htsbridge

import (
	"context"
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

// Record is the record type streamed by Reader.Read; a type alias keeps
// call sites able to use sam.Record's fields (Ref, Pos, Cigar, Seq, Qual,
// Flags, ...) without importing hts/sam themselves.
type Record = sam.Record

// Reference describes one contig/chromosome entry from a BAM header.
type Reference = sam.Reference

// Reader streams alignment records from a coordinate-sorted BAM file,
// wrapping bam.Reader the way encoding/bam wraps it for pileup/snp.
type Reader struct {
	r    *bam.Reader
	rc   io.Closer
	refs []*Reference
}

// OpenReader opens path (optionally bgzf-compressed BAM) for streaming. The
// index argument is accepted for interface parity with a future
// random-access Query method; unindexed linear reads ignore it.
func OpenReader(ctx context.Context, path string, index string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, errors.NotExist, "htsbridge: opening BAM file")
	}
	r, err := bam.NewReader(f, 0)
	if err != nil {
		f.Close()
		return nil, errors.E(err, errors.Invalid, "htsbridge: opening BAM")
	}
	return &Reader{r: r, rc: f, refs: r.Header().Refs()}, nil
}

// References returns the BAM header's contig list, in file order.
func (r *Reader) References() []*Reference { return r.refs }

// Read returns the next alignment record, or io.EOF at end of file.
func (r *Reader) Read() (*Record, error) {
	rec, err := r.r.Read()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.rc != nil {
		return r.rc.Close()
	}
	return nil
}

// BGZFBlockSize is the default bgzf block size used when re-compressing
// derived BAM-adjacent outputs, matching bgzf.DefaultBlockSize's role in
// encoding/bam's writer path.
const BGZFBlockSize = bgzf.DefaultBlockSize

// NewBGZFWriter wraps w in a bgzf.Writer, the same framing htslib's bcf/vcf
// and bam writers use. The caller and extractor binaries do not use it;
// their text outputs are written uncompressed.
func NewBGZFWriter(w io.Writer) *bgzf.Writer {
	return bgzf.NewWriter(w, 1)
}

// Strand bits, re-exported so callers never need `sam.Reverse` etc.
const (
	FlagReverse       = sam.Reverse
	FlagMateReverse   = sam.MateReverse
	FlagRead1         = sam.Read1
	FlagRead2         = sam.Read2
	FlagUnmapped      = sam.Unmapped
	FlagMateUnmapped  = sam.MateUnmapped
	FlagSecondary     = sam.Secondary
	FlagQCFail        = sam.QCFail
	FlagDuplicate     = sam.Duplicate
	FlagSupplementary = sam.Supplementary
	FlagPaired        = sam.Paired
	FlagProperPair    = sam.ProperPair
)
