// Package stats implements the per-sample JSON statistics object of spec
// §4.I: filter dispositions, coverage, phred/mutation/methylation
// histograms, folded element-wise across pools with an associative,
// commutative Merge.
package stats

import (
	"encoding/json"
	"io"

	"github.com/bscall/bscall/pileup"
)

const (
	phredBuckets = 256
	methBuckets  = 101 // 0.00..1.00 at 0.01 resolution
)

// Coverage categories of spec §4.I.
type CoverageCategory string

const (
	CoverageAll         CoverageCategory = "all"
	CoverageVariant     CoverageCategory = "variant"
	CoverageCpGRef      CoverageCategory = "cpg_ref"
	CoverageCpGNonRef   CoverageCategory = "cpg_non_ref"
	CoverageInformative CoverageCategory = "informative"
)

// Phred distribution categories.
type PhredCategory string

const (
	PhredQual   PhredCategory = "qual"
	PhredGQ     PhredCategory = "gq"
	PhredFS     PhredCategory = "fs"
	PhredRMSMQ  PhredCategory = "rms_mq"
)

// Sample aggregates one sample's run of the caller or extractor. All map
// values are counts and are safe to sum element-wise (spec §4.I "Merge is
// associative and commutative").
type Sample struct {
	Name string `json:"name"`

	ReadDispositions map[pileup.Disposition]int64     `json:"read_dispositions"`
	BaseDispositions map[pileup.BaseDisposition]int64  `json:"base_dispositions"`
	Coverage         map[CoverageCategory]int64         `json:"coverage"`
	PhredHist        map[PhredCategory][phredBuckets]int64 `json:"phred_histograms"`
	MutationClass    [12]int64                          `json:"mutation_class"`
	MethHist         [methBuckets]int64                  `json:"methylation_histogram"`
	GCCoverage       map[int][]int64                     `json:"gc_vs_coverage"` // gc bin -> coverage histogram
	FisherByHet      map[string][phredBuckets]int64        `json:"fisher_by_het"`
	ResourceUsage    ResourceUsage                        `json:"resource_usage"`
}

// NewSample returns an empty Sample ready to accumulate.
func NewSample(name string) *Sample {
	return &Sample{
		Name:             name,
		ReadDispositions: make(map[pileup.Disposition]int64),
		BaseDispositions: make(map[pileup.BaseDisposition]int64),
		Coverage:         make(map[CoverageCategory]int64),
		PhredHist:        make(map[PhredCategory][phredBuckets]int64),
		GCCoverage:       make(map[int][]int64),
		FisherByHet:      make(map[string][phredBuckets]int64),
	}
}

// AddPhred bumps the bucket for a clamped phred value in the named
// distribution.
func (s *Sample) AddPhred(cat PhredCategory, phred float64) {
	b := clampBucket(phred, phredBuckets)
	h := s.PhredHist[cat]
	h[b]++
	s.PhredHist[cat] = h
}

// AddMeth bumps the bucket for a methylation point estimate in [0,1].
func (s *Sample) AddMeth(m float64) {
	b := clampBucket(m*100, methBuckets)
	s.MethHist[b]++
}

// AddFisher bumps the Fisher-phred histogram keyed by whether the call was
// heterozygous.
func (s *Sample) AddFisher(het bool, phred float64) {
	key := hetKey(het)
	b := clampBucket(phred, phredBuckets)
	h := s.FisherByHet[key]
	h[b]++
	s.FisherByHet[key] = h
}

func hetKey(het bool) string {
	if het {
		return "het"
	}
	return "hom"
}

// AddGCCoverage bumps the coverage histogram bucket for a GC-content bin.
func (s *Sample) AddGCCoverage(gcBin int, depth int) {
	h, ok := s.GCCoverage[gcBin]
	if !ok {
		h = make([]int64, 0, depth+1)
	}
	for len(h) <= depth {
		h = append(h, 0)
	}
	h[depth]++
	s.GCCoverage[gcBin] = h
}

func clampBucket(v float64, n int) int {
	b := int(v)
	if b < 0 {
		b = 0
	}
	if b >= n {
		b = n - 1
	}
	return b
}

// ResourceUsage is the supplemented rusage tracking of SPEC_FULL §4
// ("Supplemented from original_source/"), grounded on rust/bs_call's direct
// getrusage(2) call.
type ResourceUsage struct {
	WallSeconds float64 `json:"wall_seconds"`
	UserSeconds float64 `json:"user_seconds"`
	SysSeconds  float64 `json:"sys_seconds"`
	MaxRSSKB    int64   `json:"max_rss_kb"`
}

// Merge folds other into s element-wise; both must describe the same
// sample. Maps are unioned with summed values, arrays summed index-wise,
// GCCoverage histograms summed bucket-by-bucket growing the shorter one.
func (s *Sample) Merge(other *Sample) {
	for k, v := range other.ReadDispositions {
		s.ReadDispositions[k] += v
	}
	for k, v := range other.BaseDispositions {
		s.BaseDispositions[k] += v
	}
	for k, v := range other.Coverage {
		s.Coverage[k] += v
	}
	for k, v := range other.PhredHist {
		h := s.PhredHist[k]
		for i := range v {
			h[i] += v[i]
		}
		s.PhredHist[k] = h
	}
	for i := range other.MutationClass {
		s.MutationClass[i] += other.MutationClass[i]
	}
	for i := range other.MethHist {
		s.MethHist[i] += other.MethHist[i]
	}
	for k, v := range other.FisherByHet {
		h := s.FisherByHet[k]
		for i := range v {
			h[i] += v[i]
		}
		s.FisherByHet[k] = h
	}
	for gcBin, hist := range other.GCCoverage {
		cur, ok := s.GCCoverage[gcBin]
		if !ok {
			cur = make([]int64, 0, len(hist))
		}
		for len(cur) < len(hist) {
			cur = append(cur, 0)
		}
		for i, v := range hist {
			cur[i] += v
		}
		s.GCCoverage[gcBin] = cur
	}
	s.ResourceUsage.WallSeconds += other.ResourceUsage.WallSeconds
	s.ResourceUsage.UserSeconds += other.ResourceUsage.UserSeconds
	s.ResourceUsage.SysSeconds += other.ResourceUsage.SysSeconds
	if other.ResourceUsage.MaxRSSKB > s.ResourceUsage.MaxRSSKB {
		s.ResourceUsage.MaxRSSKB = other.ResourceUsage.MaxRSSKB
	}
}

// MergeAll folds a slice of per-pool Samples for the same sample into one,
// per spec §4.E "Merging ... per-pool JSON stats are merged by summing
// counts."
func MergeAll(samples []*Sample) *Sample {
	if len(samples) == 0 {
		return nil
	}
	out := NewSample(samples[0].Name)
	for _, s := range samples {
		out.Merge(s)
	}
	return out
}

// WriteJSON pretty-prints s to w, per spec §4.I "Output is pretty-printed JSON."
func (s *Sample) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// ReadJSON decodes a Sample previously written by WriteJSON.
func ReadJSON(r io.Reader) (*Sample, error) {
	var s Sample
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
