// Package contigpool loads a reference contig catalog and packs its contigs
// into size-balanced work pools, the unit of parallelism for the caller and
// extractor pipelines (spec §4.A).
package contigpool

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
)

// DefaultPoolSize is the pool-size tuning knob's default, in reference bases.
const DefaultPoolSize = 25_000_000

// Contig is one entry of the reference manifest. Immutable once loaded.
type Contig struct {
	Name   string
	Length int64
	MD5    string
}

// Catalog is the ordered, immutable set of contigs loaded from a manifest.
type Catalog struct {
	contigs []Contig
	byName  map[string]int
}

// Load parses a tab-separated md5 manifest of the form
// "<name>\tLN:<len>\tM5:<hash>" into a Catalog, preserving manifest order.
func Load(r io.Reader) (*Catalog, error) {
	cat := &Catalog{byName: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("contigpool: malformed manifest line %d: %q", lineNo, line))
		}
		name := fields[0]
		length, err := parseTagged(fields[1], "LN:")
		if err != nil {
			return nil, errors.E(err, errors.Invalid, fmt.Sprintf("contigpool: line %d", lineNo))
		}
		n, err := strconv.ParseInt(length, 10, 64)
		if err != nil {
			return nil, errors.E(err, errors.Invalid, fmt.Sprintf("contigpool: line %d: bad LN value", lineNo))
		}
		md5, err := parseTagged(fields[2], "M5:")
		if err != nil {
			return nil, errors.E(err, errors.Invalid, fmt.Sprintf("contigpool: line %d", lineNo))
		}
		if _, dup := cat.byName[name]; dup {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("contigpool: duplicate contig %q at line %d", name, lineNo))
		}
		cat.byName[name] = len(cat.contigs)
		cat.contigs = append(cat.contigs, Contig{Name: name, Length: n, MD5: md5})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "contigpool: reading manifest")
	}
	return cat, nil
}

func parseTagged(field, tag string) (string, error) {
	if !strings.HasPrefix(field, tag) {
		return "", fmt.Errorf("expected field with prefix %q, got %q", tag, field)
	}
	return strings.TrimPrefix(field, tag), nil
}

// Contigs returns the catalog's contigs in manifest order.
func (c *Catalog) Contigs() []Contig { return c.contigs }

// Fingerprint returns a fast, order-sensitive hash of the whole manifest
// (name/length/md5 of every contig, in load order), using go-farm the way
// fusion/kmer_index.go uses it for its own high-volume hashing. No command
// in this repository calls it.
func (c *Catalog) Fingerprint() uint64 {
	var buf []byte
	for _, ctg := range c.contigs {
		buf = append(buf, ctg.Name...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, ctg.Length, 10)
		buf = append(buf, 0)
		buf = append(buf, ctg.MD5...)
		buf = append(buf, 0)
	}
	return farm.Hash64(buf)
}

// Index returns the position of name in the catalog, or -1 if absent.
func (c *Catalog) Index(name string) int {
	if i, ok := c.byName[name]; ok {
		return i
	}
	return -1
}

// Pool is a set of contig indices (into the originating Catalog) and their
// summed length.
type Pool struct {
	ContigIdx []int
	Total     int64
}

// Plan selects the non-omitted, included contigs and greedily bin-packs them
// into pools of at most poolSize bases (except singleton contigs already
// exceeding poolSize), returning pools ordered by ascending total length.
//
// omit wins over include when a contig name appears in both lists, per the
// original defs::contigs omit/include semantics (SPEC_FULL §4 supplement).
// Plan fails if includeList names a contig absent from the catalog.
func Plan(cat *Catalog, poolSize int64, omitList, includeList []string) ([]Pool, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	omit := make(map[string]bool, len(omitList))
	for _, n := range omitList {
		omit[n] = true
	}
	var selected []int
	if len(includeList) > 0 {
		for _, n := range includeList {
			idx := cat.Index(n)
			if idx < 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("contigpool: requested contig %q not found in catalog", n))
			}
			if omit[n] {
				continue
			}
			selected = append(selected, idx)
		}
	} else {
		for i, c := range cat.contigs {
			if omit[c.Name] {
				continue
			}
			selected = append(selected, i)
		}
	}

	var singletons []Pool
	var remaining []int
	for _, idx := range selected {
		if cat.contigs[idx].Length >= poolSize {
			singletons = append(singletons, Pool{ContigIdx: []int{idx}, Total: cat.contigs[idx].Length})
		} else {
			remaining = append(remaining, idx)
		}
	}

	var sumRemaining int64
	for _, idx := range remaining {
		sumRemaining += cat.contigs[idx].Length
	}

	var packed []Pool
	if len(remaining) > 0 {
		nPools := (sumRemaining + poolSize - 1) / poolSize
		if nPools < 1 {
			nPools = 1
		}
		packed = packGreedy(cat, remaining, int(nPools))
	}

	all := append(packed, singletons...)
	sortPoolsByTotal(all)
	return all, nil
}

// poolHeapItem tracks a pool-in-progress, ordered by current total so the
// min-heap always hands the next contig to the currently-smallest pool.
type poolHeapItem struct {
	idx   int
	total int64
}

type poolMinHeap []*poolHeapItem

func (h poolMinHeap) Len() int            { return len(h) }
func (h poolMinHeap) Less(i, j int) bool  { return h[i].total < h[j].total }
func (h poolMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *poolMinHeap) Push(x interface{}) { *h = append(*h, x.(*poolHeapItem)) }
func (h *poolMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// packGreedy fills nPools pools by always assigning the next (largest-first)
// contig to the pool with the smallest current total, using a min-heap keyed
// on current size as spec.md §3 requires.
func packGreedy(cat *Catalog, contigIdx []int, nPools int) []Pool {
	sorted := make([]int, len(contigIdx))
	copy(sorted, contigIdx)
	// Largest-first assignment minimizes the final size imbalance of a
	// greedy min-heap packer.
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if cat.contigs[sorted[j]].Length > cat.contigs[sorted[i]].Length {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	pools := make([]Pool, nPools)
	h := make(poolMinHeap, nPools)
	for i := range h {
		h[i] = &poolHeapItem{idx: i}
	}
	heap.Init(&h)

	for _, idx := range sorted {
		item := heap.Pop(&h).(*poolHeapItem)
		pools[item.idx].ContigIdx = append(pools[item.idx].ContigIdx, idx)
		pools[item.idx].Total += cat.contigs[idx].Length
		item.total = pools[item.idx].Total
		heap.Push(&h, item)
	}
	// Drop any pool that ended up empty (possible when nPools exceeds the
	// number of remaining contigs).
	out := pools[:0]
	for _, p := range pools {
		if len(p.ContigIdx) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func sortPoolsByTotal(pools []Pool) {
	for i := 1; i < len(pools); i++ {
		for j := i; j > 0 && pools[j].Total < pools[j-1].Total; j-- {
			pools[j], pools[j-1] = pools[j-1], pools[j]
		}
	}
}
