package genotype

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// lfactStoreSize bounds the precomputed log-factorial table; beyond it,
// Fisher falls back to gonum's Lgamma, mirroring the original's
// lgamma(x+1) fallback.
const lfactStoreSize = 256

// FisherTest computes the exact Fisher strand-bias test of spec §4.D,
// caching log-factorials up to lfactStoreSize.
type FisherTest struct {
	lfact [lfactStoreSize]float64
}

// NewFisherTest builds a FisherTest with its log-factorial table
// precomputed.
func NewFisherTest() *FisherTest {
	f := &FisherTest{}
	for i := 2; i < lfactStoreSize; i++ {
		f.lfact[i] = f.lfact[i-1] + math.Log(float64(i))
	}
	return f
}

func (f *FisherTest) lfactOf(x int) float64 {
	if x < lfactStoreSize {
		return f.lfact[x]
	}
	v, _ := mathext.Lgamma(float64(x + 1))
	return v
}

// strandCountTable maps each heterozygous genotype to the two pairs of base
// indices (allele-1, allele-2) contributing forward/reverse strand counts,
// per the original fisher.rs's calc_fs_stat match arms. cts is the 16-wide
// [8 forward][8 reverse] count array indexed like pileup counts
// (A,C,G,T,ambigCG1,ambigG0,ambigC0,ambigGT1), cts[i+8] giving the reverse
// strand.
var strandCountTable = map[Genotype][2][]int{
	AC: {{idxA, idxAmbigCG1}, {idxC, idxAmbigG0, idxAmbigGT1}},
	AG: {{idxA}, {idxG, idxAmbigC0}},
	AT: {{idxA, idxAmbigCG1}, {idxT, idxAmbigGT1}},
	CG: {{idxC, idxAmbigG0, idxAmbigGT1}, {idxG, idxAmbigCG1, idxAmbigC0}},
	CT: {{idxC, idxAmbigG0}, {idxT}},
	GT: {{idxG, idxAmbigCG1, idxAmbigC0}, {idxT, idxAmbigGT1}},
}

// CalcFSStat returns the strand-bias phred score −10·log10(p) for the
// called genotype mx given a 16-wide per-strand count table (forward counts
// in cts[0:8], reverse in cts[8:16]); it is 0 for homozygous genotypes.
func (f *FisherTest) CalcFSStat(mx Genotype, cts [16]uint32) float64 {
	if !Het[mx] {
		return 0
	}
	idx, ok := strandCountTable[mx]
	if !ok {
		panic("genotype: unexpected heterozygous genotype in Fisher table")
	}
	sum := func(idxs []int, offset int) uint32 {
		var s uint32
		for _, i := range idxs {
			s += cts[i+offset]
		}
		return s
	}
	ftab := [4]uint32{
		sum(idx[0], 0), sum(idx[1], 0),
		sum(idx[0], 8), sum(idx[1], 8),
	}
	p := f.Fisher(ftab)
	if p < 1e-20 {
		p = 1e-20
	}
	return -10 * math.Log10(p)
}

// Fisher computes the exact two-sided Fisher test p-value for the 2×2
// table [a b; c d] (ftab = [a,b,c,d]), using the same walk-the-diagonal
// algorithm as the original implementation: start from the observed table,
// then accumulate the probability of every more-extreme table reachable by
// shifting probability mass along the diagonal that increases |delta| from
// independence.
func (f *FisherTest) Fisher(ftab [4]uint32) float64 {
	row0 := float64(ftab[0] + ftab[1])
	row1 := float64(ftab[2] + ftab[3])
	col0 := float64(ftab[0] + ftab[2])
	n := row0 + row1
	if n < 1 {
		return 1
	}

	c := [4]int{int(ftab[0]), int(ftab[1]), int(ftab[2]), int(ftab[3])}
	delta := float64(ftab[0]) - row0*col0/n
	konst := f.lfactOf(c[0]+c[2]) + f.lfactOf(c[1]+c[3]) + f.lfactOf(c[0]+c[1]) + f.lfactOf(c[2]+c[3]) - f.lfactOf(c[0]+c[1]+c[2]+c[3])
	like := math.Exp(konst - f.lfactOf(c[0]) - f.lfactOf(c[1]) - f.lfactOf(c[2]) - f.lfactOf(c[3]))
	prob := like

	minInt := func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}

	if delta > 0 {
		m := minInt(c[1], c[2])
		for i := 0; i < m; i++ {
			like *= float64((c[1]-i)*(c[2]-i)) / float64((c[0]+i+1)*(c[3]+i+1))
			prob += like
		}
		m = minInt(c[0], c[3])
		adjust := int(math.Ceil(2 * delta))
		if adjust <= m {
			c[0] -= adjust
			c[3] -= adjust
			c[1] += adjust
			c[2] += adjust
			like = math.Exp(konst - f.lfactOf(c[0]) - f.lfactOf(c[1]) - f.lfactOf(c[2]) - f.lfactOf(c[3]))
			prob += like
			for i := 0; i < m-adjust; i++ {
				like *= float64((c[0]-i)*(c[3]-i)) / float64((c[1]+i+1)*(c[2]+i+1))
				prob += like
			}
		}
	} else {
		m := minInt(c[0], c[3])
		for i := 0; i < m; i++ {
			like *= float64((c[0]-i)*(c[3]-i)) / float64((c[1]+i+1)*(c[2]+i+1))
			prob += like
		}
		m = minInt(c[1], c[2])
		adjust := int(math.Ceil(-2 * delta))
		if adjust < 1 {
			adjust = 1
		}
		if adjust <= m {
			c[0] += adjust
			c[3] += adjust
			c[1] -= adjust
			c[2] -= adjust
			like = math.Exp(konst - f.lfactOf(c[0]) - f.lfactOf(c[1]) - f.lfactOf(c[2]) - f.lfactOf(c[3]))
			prob += like
			for i := 0; i < m-adjust; i++ {
				like *= float64((c[1]-i)*(c[2]-i)) / float64((c[0]+i+1)*(c[3]+i+1))
				prob += like
			}
		}
	}
	return prob
}
