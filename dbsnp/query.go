package dbsnp

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/zstd"
)

// Index provides random-access rs-id lookups against a memory-mapped
// on-disk dbSNP index built by Builder.Write (spec §4.B "Query").
type Index struct {
	data        mmap.MMap
	dec         *zstd.Decoder
	contigs     []contigDirEntry
	byName      map[string]int
	description string
	dirOffset   uint64
	prefixNames []string
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, errors.NotExist, "dbsnp: opening index file")
	}
	return f, nil
}

// Open memory-maps path and parses its compressed contig directory. The
// returned Index must be closed with Close when no longer needed.
func Open(path string) (*Index, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "dbsnp: mmap failed")
	}
	idx := &Index{data: data, byName: make(map[string]int)}
	if err := idx.parseHeader(); err != nil {
		idx.data.Unmap()
		f.Close()
		return nil, err
	}
	f.Close() // the mmap keeps the pages alive; the fd is no longer needed
	return idx, nil
}

func (idx *Index) parseHeader() error {
	if len(idx.data) < headerSize {
		return errors.E(errors.Invalid, "dbsnp: file too small for header")
	}
	if binary.LittleEndian.Uint32(idx.data[0:4]) != Magic {
		return errors.E(errors.Invalid, "dbsnp: bad magic at offset 0")
	}
	tailStart := len(idx.data) - 4
	if tailStart < 0 || binary.LittleEndian.Uint32(idx.data[tailStart:]) != Magic {
		return errors.E(errors.Invalid, "dbsnp: bad magic at EOF (truncated file)")
	}
	compress := idx.data[4]
	if compress != CompressZstd {
		return errors.E(errors.Invalid, fmt.Sprintf("dbsnp: unsupported compression type %d", compress))
	}
	dirOffset := binary.LittleEndian.Uint64(idx.data[8:16])
	dirCSize := binary.LittleEndian.Uint64(idx.data[24:32])

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return errors.E(err, "dbsnp: creating zstd decoder")
	}
	idx.dec = dec

	if dirOffset+dirCSize > uint64(len(idx.data)) {
		return errors.E(errors.Invalid, "dbsnp: directory extends past EOF")
	}
	dirBuf, err := dec.DecodeAll(idx.data[dirOffset:dirOffset+dirCSize], nil)
	if err != nil {
		return errors.E(err, "dbsnp: decompressing directory")
	}

	if len(dirBuf) < 4 {
		return errors.E(errors.Invalid, "dbsnp: truncated directory")
	}
	nContigs := binary.LittleEndian.Uint32(dirBuf[0:4])
	p := 4
	type raw struct{ min, max uint32; off uint64 }
	raws := make([]raw, nContigs)
	for i := 0; i < int(nContigs); i++ {
		if p+16 > len(dirBuf) {
			return errors.E(errors.Invalid, "dbsnp: truncated directory entries")
		}
		raws[i].min = binary.LittleEndian.Uint32(dirBuf[p:])
		raws[i].max = binary.LittleEndian.Uint32(dirBuf[p+4:])
		raws[i].off = binary.LittleEndian.Uint64(dirBuf[p+8:])
		p += 16
	}
	descEnd := strings.IndexByte(string(dirBuf[p:]), 0)
	if descEnd < 0 {
		return errors.E(errors.Invalid, "dbsnp: missing description terminator")
	}
	idx.description = string(dirBuf[p : p+descEnd])
	p += descEnd + 1

	idx.contigs = make([]contigDirEntry, nContigs)
	for i := 0; i < int(nContigs); i++ {
		end := strings.IndexByte(string(dirBuf[p:]), 0)
		if end < 0 {
			return errors.E(errors.Invalid, "dbsnp: missing contig name terminator")
		}
		name := string(dirBuf[p : p+end])
		p += end + 1
		idx.contigs[i] = contigDirEntry{Name: name, MinBin: raws[i].min, MaxBin: raws[i].max, Offset: raws[i].off}
		idx.byName[name] = i
	}

	if p+4 > len(dirBuf) {
		return errors.E(errors.Invalid, "dbsnp: truncated prefix table count")
	}
	nPrefixes := binary.LittleEndian.Uint32(dirBuf[p:])
	p += 4
	idx.prefixNames = make([]string, nPrefixes)
	for i := 0; i < int(nPrefixes); i++ {
		end := strings.IndexByte(string(dirBuf[p:]), 0)
		if end < 0 {
			return errors.E(errors.Invalid, "dbsnp: missing prefix terminator")
		}
		idx.prefixNames[i] = string(dirBuf[p : p+end])
		p += end + 1
	}

	idx.dirOffset = dirOffset
	return nil
}

// regionEnd returns the end offset of contig i's data region: the next
// contig's offset, or dirOffset (the start of the compressed directory) for
// the last contig.
func (idx *Index) regionEnd(i int) uint64 {
	if i+1 < len(idx.contigs) {
		return idx.contigs[i+1].Offset
	}
	return idx.dirOffset
}

// Close releases the memory mapping.
func (idx *Index) Close() error {
	return idx.data.Unmap()
}

// Description returns the free-text description stored in the index.
func (idx *Index) Description() string { return idx.description }

// Result is a found dbSNP record.
type Result struct {
	ID       string
	Selected bool // true if the BCD terminator marked this id as flagged/maf-selected
}

// Query answers "rs-id at position p (1-based) on contig c?" per spec §4.B.
// found is false both when the contig is unknown and when the contig is
// known but has no entry at pos.
func (idx *Index) Query(contig string, pos uint32) (res Result, found bool, err error) {
	ci, ok := idx.byName[contig]
	if !ok {
		return Result{}, false, nil
	}
	entry := idx.contigs[ci]
	binIdx := (pos - 1) / BinSize
	bit := byte((pos - 1) % BinSize)
	if binIdx < entry.MinBin || binIdx > entry.MaxBin {
		return Result{}, false, nil
	}

	end := idx.regionEnd(ci)
	off := entry.Offset
	curBin := uint32(0)
	first := true

	for off < end {
		if off+12 > end {
			return Result{}, false, errors.E(errors.Invalid, "dbsnp: truncated block header")
		}
		csize := binary.LittleEndian.Uint64(idx.data[off:])
		firstBin := binary.LittleEndian.Uint32(idx.data[off+8:])
		off += 12
		if off+csize > end {
			return Result{}, false, errors.E(errors.Invalid, "dbsnp: truncated compressed block")
		}
		cdata := idx.data[off : off+csize]
		off += csize

		// Skip decompressing blocks that cannot contain the target bin: a
		// block's bins are contiguous-or-increasing, so if its first bin
		// already exceeds the target we're done; otherwise decompress and
		// scan (cheap relative to a contended build, per §4.B's intent).
		if firstBin > binIdx {
			return Result{}, false, nil
		}

		ubuf, derr := idx.dec.DecodeAll(cdata, nil)
		if derr != nil {
			return Result{}, false, errors.E(derr, "dbsnp: decompressing data block")
		}

		p := 0
		curBin = firstBin
		first = true
		for p < len(ubuf) {
			if !first {
				inc, n := readBinInc(ubuf[p:])
				p += n
				curBin += inc + 1
			}
			first = false

			if p+32 > len(ubuf) {
				return Result{}, false, errors.E(errors.Invalid, "dbsnp: truncated bin mask")
			}
			var mask [4]uint64
			for w := 0; w < 4; w++ {
				mask[w] = binary.LittleEndian.Uint64(ubuf[p:])
				p += 8
			}
			// One u32 prefix index per set mask bit, then the
			// u32-length-prefixed nibble blob (see decodeBCDAt).
			nEntries := 0
			for _, mw := range mask {
				nEntries += bits.OnesCount64(mw)
			}
			idStart := p
			p += nEntries * 4
			if p+4 > len(ubuf) {
				return Result{}, false, errors.E(errors.Invalid, "dbsnp: truncated bin identifier length")
			}
			nibLen := binary.LittleEndian.Uint32(ubuf[p:])
			p += 4 + int(nibLen)
			if p > len(ubuf) {
				return Result{}, false, errors.E(errors.Invalid, "dbsnp: truncated bin identifier data")
			}
			idData := ubuf[idStart:p]

			if curBin == binIdx {
				present := mask[bit/64]&(1<<(bit%64)) != 0
				if !present {
					return Result{}, false, nil
				}
				id, selected, derr := decodeBCDAt(idData, mask, bit, idx.prefixNames)
				if derr != nil {
					return Result{}, false, errors.E(derr, "dbsnp: decoding identifier")
				}
				return Result{ID: id, Selected: selected}, true, nil
			}
			if curBin > binIdx {
				return Result{}, false, nil
			}
		}
	}
	return Result{}, false, nil
}

// readBinInc decodes the varint bin-increment encoding written by
// writeBinInc, returning the value and the number of bytes consumed.
func readBinInc(b []byte) (uint32, int) {
	tag := b[0]
	switch {
	case tag < 64:
		return uint32(tag), 1
	case tag == 64:
		return uint32(b[1]), 2
	case tag == 128:
		return uint32(binary.LittleEndian.Uint16(b[1:])), 3
	default: // 192
		return binary.LittleEndian.Uint32(b[1:]), 5
	}
}

// decodeBCDAt reconstructs the identifier stored at mask bit targetBit
// within one bin's identifier blob, which serializeBlocks lays out as (1) a
// contiguous array of popcount(mask) little-endian prefixIdx words in
// ascending-bit order, followed by (2) a single u32-length-prefixed nibble
// blob holding every entry's BCD-encoded digits, concatenated in the same
// order and each terminated by bcdTermNormal/bcdTermFlagged.
func decodeBCDAt(idData []byte, mask [4]uint64, targetBit byte, prefixNames []string) (string, bool, error) {
	numEntries := 0
	for _, w := range mask {
		numEntries += bits.OnesCount64(w)
	}

	ordinal := 0
	for b := byte(0); b < targetBit; b++ {
		if mask[b/64]&(1<<(b%64)) != 0 {
			ordinal++
		}
	}
	if ordinal >= numEntries {
		return "", false, fmt.Errorf("dbsnp: bit %d has no entry in a %d-entry bin", targetBit, numEntries)
	}

	prefixWordsLen := numEntries * 4
	if prefixWordsLen+4 > len(idData) {
		return "", false, fmt.Errorf("dbsnp: truncated prefix index array")
	}
	prefixIdx := binary.LittleEndian.Uint32(idData[ordinal*4:])

	nibLen := binary.LittleEndian.Uint32(idData[prefixWordsLen:])
	nibStart := prefixWordsLen + 4
	if nibStart+int(nibLen) > len(idData) {
		return "", false, fmt.Errorf("dbsnp: truncated nibble blob")
	}
	nib := nibbleReader{buf: idData[nibStart : nibStart+int(nibLen)]}

	nibOff := 0
	var digits string
	var flagged bool
	for i := 0; i <= ordinal; i++ {
		var nNib int
		var err error
		digits, flagged, nNib, err = bcdDecodeDigits(func(j int) byte { return nib.nibbleAt(nibOff + j) }, 0)
		if err != nil {
			return "", false, err
		}
		nibOff += nNib
	}

	prefix := ""
	if int(prefixIdx) < len(prefixNames) {
		prefix = prefixNames[prefixIdx]
	}
	return prefix + digits, flagged, nil
}
