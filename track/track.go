// Package track implements the BigBed/BigWig writer of spec §4.G: rolling
// data blocks, ten geometric zoom levels, one reused libdeflate compressor
// per writer, a file-level summary, and an in-memory R-tree over block
// extents, grounded on the same producer/
// compressor-pool/writer staging github.com/grailbio/bio's pileup/snp
// basestrand output path uses, adapted to the BigBed/BigWig binary layout.
package track

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/grailbio/base/compress/libdeflate"
	"github.com/grailbio/base/errors"
)

// NumZoomLevels is the fixed number of zoom levels spec §3 names.
const NumZoomLevels = 10

// ZoomScaleFactor is the geometric scale between adjacent zoom levels.
const ZoomScaleFactor = 4

// MaxBBItems / MaxBWItems are the rolling data block item caps of spec §4.G.
const (
	MaxBBItems = 512
	MaxBWItems = 1024
)

// ZoomRec is one zoom-level summary record (spec §3).
type ZoomRec struct {
	ChromID uint32
	Start   uint32
	End     uint32
	Count   uint32
	Sum     float64
	SumSq   float64
	Min     float64
	Max     float64
}

// zoomAccum rolls WIG samples into ZoomRecs at one geometric scale: it
// emits a record whenever the incoming sample's position reaches or passes
// the current record's end, per spec §4.G "a zoom level emits a record
// whenever pos >= end".
type zoomAccum struct {
	scale   uint32
	cur     *ZoomRec
	chromID uint32
	emit    func(ZoomRec)
}

func newZoomAccum(scale uint32, emit func(ZoomRec)) *zoomAccum {
	return &zoomAccum{scale: scale, emit: emit}
}

// Add folds one (pos, value) sample into the accumulator. pos is 0-based.
func (z *zoomAccum) Add(chromID uint32, pos uint32, value float64) {
	if z.cur == nil || chromID != z.chromID || pos >= z.cur.End {
		if z.cur != nil {
			z.emit(*z.cur)
		}
		start := pos - pos%z.scale
		z.chromID = chromID
		z.cur = &ZoomRec{ChromID: chromID, Start: start, End: start + z.scale, Min: math.Inf(1), Max: math.Inf(-1)}
	}
	z.cur.Count++
	z.cur.Sum += value
	z.cur.SumSq += value * value
	if value < z.cur.Min {
		z.cur.Min = value
	}
	if value > z.cur.Max {
		z.cur.Max = value
	}
}

// Flush emits any in-progress record; call once at end-of-section.
func (z *zoomAccum) Flush() {
	if z.cur != nil {
		z.emit(*z.cur)
		z.cur = nil
	}
}

// Sample is one BigWig (pos, value) observation.
type Sample struct {
	ChromID uint32
	Pos     uint32
	Value   float64
}

// BBItem is one BigBed (chrom, start, end, name) tuple.
type BBItem struct {
	ChromID uint32
	Start   uint32
	End     uint32
	Name    string
}

// Summary is the file-level (count, min, max, sum, sumSq) aggregate of spec
// §4.G / invariant 5.
type Summary struct {
	Count uint64
	Min   float64
	Max   float64
	Sum   float64
	SumSq float64
}

func (s *Summary) addValue(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Count++
	s.Sum += v
	s.SumSq += v * v
}

// compressedBlock is a libdeflate-compressed data block awaiting Finish,
// which writes blocks in seq order.
type compressedBlock struct {
	seq      uint64
	chromID  uint32
	start    uint32
	end      uint32
	data     []byte
	rawSize  int
}

// BigWigWriter accumulates WIG samples into rolling blocks, feeds them
// through NumZoomLevels zoom accumulators, compresses blocks with a reused
// libdeflate.Writer the way encoding/bgzf's deflateFactory keeps its own
// *libdeflate.Writer and calls Reset instead of allocating one per block,
// and produces a final summary. It intentionally implements just the
// subset of the BigWig binary model spec §4.G / invariant 5 exercise:
// summary, zoom counts, and block compression; no on-disk R-tree index is
// written (Finish returns block extents, which BuildRTree groups in memory).
type BigWigWriter struct {
	zooms      [NumZoomLevels]*zoomAccum
	zoomOut    [NumZoomLevels][]ZoomRec
	summary    Summary
	cur        []Sample
	maxUncompressed int
	blocks     []compressedBlock
	seq        uint64
	dfWriter   *libdeflate.Writer
}

// NewBigWigWriter creates a writer whose first zoom level uses baseScale
// (spec scenario S5 uses 10) and geometrically scales by ZoomScaleFactor
// thereafter.
func NewBigWigWriter(baseScale uint32) *BigWigWriter {
	w := &BigWigWriter{}
	scale := baseScale
	for i := 0; i < NumZoomLevels; i++ {
		level := i
		w.zooms[i] = newZoomAccum(scale, func(r ZoomRec) {
			w.zoomOut[level] = append(w.zoomOut[level], r)
		})
		scale *= ZoomScaleFactor
	}
	return w
}

// Add folds one sample into the rolling data block and all zoom levels.
func (w *BigWigWriter) Add(s Sample) error {
	w.summary.addValue(s.Value)
	for _, z := range w.zooms {
		z.Add(s.ChromID, s.Pos, s.Value)
	}
	w.cur = append(w.cur, s)
	if len(w.cur) >= MaxBWItems {
		return w.sealBlock()
	}
	return nil
}

func (w *BigWigWriter) sealBlock() error {
	if len(w.cur) == 0 {
		return nil
	}
	var buf bytes.Buffer
	// 24-byte BigWig data-block header: chrom_id,start,end,step=0,span=1,
	// type=2 (bedGraph-style variable step),count.
	first, last := w.cur[0], w.cur[len(w.cur)-1]
	header := make([]byte, 24)
	binary.LittleEndian.PutUint32(header[0:4], first.ChromID)
	binary.LittleEndian.PutUint32(header[4:8], first.Pos)
	binary.LittleEndian.PutUint32(header[8:12], last.Pos+1)
	binary.LittleEndian.PutUint32(header[12:16], 0)
	binary.LittleEndian.PutUint32(header[16:20], 1)
	binary.LittleEndian.PutUint16(header[20:22], 2)
	binary.LittleEndian.PutUint16(header[22:24], uint16(len(w.cur)))
	buf.Write(header)
	for _, s := range w.cur {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], s.Pos)
		binary.LittleEndian.PutUint32(rec[4:8], s.Pos+1)
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(s.Value)))
		buf.Write(rec[:])
	}
	if buf.Len() > w.maxUncompressed {
		w.maxUncompressed = buf.Len()
	}
	cdata, err := w.deflate(buf.Bytes())
	if err != nil {
		return err
	}
	w.blocks = append(w.blocks, compressedBlock{seq: w.seq, chromID: first.ChromID, start: first.Pos, end: last.Pos + 1, data: cdata, rawSize: buf.Len()})
	w.seq++
	w.cur = w.cur[:0]
	return nil
}

// ZoomLevel returns the accumulated zoom records at level i (0 = finest),
// flushing the in-progress record first. Call after all Add calls.
func (w *BigWigWriter) ZoomLevel(i int) []ZoomRec {
	w.zooms[i].Flush()
	return w.zoomOut[i]
}

// Summary returns the running (count,min,max,sum,sumSq) aggregate.
func (w *BigWigWriter) Summary() Summary { return w.summary }

// Finish seals any partial block and writes every data block to dst as
// [u64 csize; u32 first_bin; data]. It writes no summary and no index (see
// DESIGN.md); the per-contig block extents it returns let a caller build
// one, e.g. with BuildRTree.
func (w *BigWigWriter) Finish(dst io.Writer) ([]BlockExtent, error) {
	if err := w.sealBlock(); err != nil {
		return nil, err
	}
	sort.Slice(w.blocks, func(i, j int) bool { return w.blocks[i].seq < w.blocks[j].seq })

	var extents []BlockExtent
	for _, b := range w.blocks {
		offset, err := currentOffset(dst)
		if err != nil {
			return nil, err
		}
		if err := binary.Write(dst, binary.LittleEndian, uint64(len(b.data))); err != nil {
			return nil, errors.E(err, "track: writing block size")
		}
		if err := binary.Write(dst, binary.LittleEndian, b.start); err != nil {
			return nil, errors.E(err, "track: writing block first_bin")
		}
		if _, err := dst.Write(b.data); err != nil {
			return nil, errors.E(err, "track: writing block data")
		}
		extents = append(extents, BlockExtent{ChromID: b.chromID, Start: b.start, End: b.end, Offset: offset})
	}
	return extents, nil
}

// BlockExtent records one compressed block's (contig, start, end, offset)
// for the R-tree builder.
type BlockExtent struct {
	ChromID uint32
	Start   uint32
	End     uint32
	Offset  uint64
}

// MaxUncompressedBlockSize reports the largest single block Finish
// deflated, needed for the BigWig file header's uncompressBufSize field.
func (w *BigWigWriter) MaxUncompressedBlockSize() int { return w.maxUncompressed }

// deflate compresses one data block with the writer's reused
// libdeflate.Writer, the same default-level/Reset-between-blocks pattern
// encoding/bgzf's deflateFactory uses for its own per-block compression.
func (w *BigWigWriter) deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if w.dfWriter == nil {
		var err error
		w.dfWriter, err = libdeflate.NewWriterLevel(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, errors.E(err, "track: creating libdeflate writer")
		}
	} else {
		w.dfWriter.Reset(&buf)
	}
	if _, err := w.dfWriter.Write(b); err != nil {
		return nil, errors.E(err, "track: libdeflate-compressing block")
	}
	if err := w.dfWriter.Close(); err != nil {
		return nil, errors.E(err, "track: closing libdeflate writer")
	}
	return buf.Bytes(), nil
}

// currentOffset reports how many bytes have been written to dst so far when
// dst is a *CountingWriter, and 0 for any other writer, so callers that need
// real offsets wrap dst in a CountingWriter.
func currentOffset(dst io.Writer) (uint64, error) {
	if cw, ok := dst.(*CountingWriter); ok {
		return cw.N, nil
	}
	return 0, nil
}

// CountingWriter wraps an io.Writer and tracks total bytes written, used by
// Finish's callers to get accurate block offsets without requiring an
// os.File/io.Seeker.
type CountingWriter struct {
	W io.Writer
	N uint64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += uint64(n)
	return n, err
}
