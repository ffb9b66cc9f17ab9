package track

import (
	"bytes"
	"compress/flate"
	"encoding/binary"

	"github.com/grailbio/base/compress/libdeflate"
	"github.com/grailbio/base/errors"
)

// BigBedWriter accumulates BBItem tuples into rolling, libdeflate-compressed
// blocks the same way BigWigWriter does for WIG samples (spec §4.G), used
// by the extractor's bedMethyl CpG/CHG/CHH sinks.
type BigBedWriter struct {
	cur             []BBItem
	blocks          []compressedBlock
	seq             uint64
	maxUncompressed int
	summary         Summary
	dfWriter        *libdeflate.Writer
}

// NewBigBedWriter creates an empty BigBedWriter.
func NewBigBedWriter() *BigBedWriter {
	return &BigBedWriter{}
}

// Add appends one feature tuple, treating presence (1.0) as the summarized
// value so BigBedWriter shares Summary's (count,min,max,sum,sumSq) shape.
func (w *BigBedWriter) Add(item BBItem) error {
	w.summary.addValue(1.0)
	w.cur = append(w.cur, item)
	if len(w.cur) >= MaxBBItems {
		return w.sealBlock()
	}
	return nil
}

func (w *BigBedWriter) sealBlock() error {
	if len(w.cur) == 0 {
		return nil
	}
	var buf bytes.Buffer
	first, last := w.cur[0], w.cur[len(w.cur)-1]
	for _, item := range w.cur {
		var head [12]byte
		binary.LittleEndian.PutUint32(head[0:4], item.ChromID)
		binary.LittleEndian.PutUint32(head[4:8], item.Start)
		binary.LittleEndian.PutUint32(head[8:12], item.End)
		buf.Write(head[:])
		buf.WriteString(item.Name)
		buf.WriteByte(0)
	}
	if buf.Len() > w.maxUncompressed {
		w.maxUncompressed = buf.Len()
	}
	cdata, err := w.deflate(buf.Bytes())
	if err != nil {
		return err
	}
	w.blocks = append(w.blocks, compressedBlock{
		seq: w.seq, chromID: first.ChromID, start: first.Start, end: last.End, data: cdata, rawSize: buf.Len(),
	})
	w.seq++
	w.cur = w.cur[:0]
	return nil
}

// deflate compresses one block with a reused libdeflate.Writer, mirroring
// BigWigWriter.deflate and encoding/bgzf's deflateFactory Reset pattern.
func (w *BigBedWriter) deflate(b []byte) ([]byte, error) {
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

// Finish seals any partial block and writes every compressed block as
// [u64 csize; u32 first_bin; data], returning the block extents for an
// R-tree index builder.
func (w *BigBedWriter) Finish(dst *CountingWriter) ([]BlockExtent, error) {
	if err := w.sealBlock(); err != nil {
		return nil, err
	}
	var extents []BlockExtent
	for _, b := range w.blocks {
		offset := dst.N
		if err := binary.Write(dst, binary.LittleEndian, uint64(len(b.data))); err != nil {
			return nil, errors.E(err, "track: writing bigbed block size")
		}
		if err := binary.Write(dst, binary.LittleEndian, b.start); err != nil {
			return nil, errors.E(err, "track: writing bigbed block first_bin")
		}
		if _, err := dst.Write(b.data); err != nil {
			return nil, errors.E(err, "track: writing bigbed block data")
		}
		extents = append(extents, BlockExtent{ChromID: b.chromID, Start: b.start, End: b.end, Offset: offset})
	}
	return extents, nil
}

// Summary returns the running feature-count summary.
func (w *BigBedWriter) Summary() Summary { return w.summary }

// MaxUncompressedBlockSize reports the largest deflated block's
// pre-compression size.
func (w *BigBedWriter) MaxUncompressedBlockSize() int { return w.maxUncompressed }
