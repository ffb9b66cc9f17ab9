package genotype

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumExp(ll [NGenotype]float64) float64 {
	var s float64
	for _, v := range ll {
		s += math.Exp(v)
	}
	return s
}

// TestCalcGTProbNormalizes is spec §8 invariant 2: probabilities always sum
// to 1 within 1e-9, and ArgMax names the maximal log-probability.
func TestCalcGTProbNormalizes(t *testing.T) {
	m := NewModel(0.01, 0.01, 1.0, false, false)
	counts := [8]int{10, 12, 3, 8, 2, 1, 0, 4}
	quals := [8]int{30, 28, 25, 33, 20, 18, 0, 22}
	call := m.CalcGTProb(counts, quals, 2)

	assert.InDelta(t, 1.0, sumExp(call.LogProb), 1e-9)

	maxV := call.LogProb[0]
	maxI := Genotype(0)
	for i, v := range call.LogProb {
		if v > maxV {
			maxV, maxI = v, Genotype(i)
		}
	}
	assert.Equal(t, maxI, call.ArgMax)
}

// TestCalcGTProbHaploid is spec §8 invariant 2's haploid clause: restricting
// support to homozygous genotypes must zero out (−∞) every heterozygote.
func TestCalcGTProbHaploid(t *testing.T) {
	m := NewModel(0.01, 0.01, 1.0, true, false)
	counts := [8]int{20, 1, 0, 0, 0, 0, 0, 0}
	quals := [8]int{30, 30, 0, 0, 0, 0, 0, 0}
	call := m.CalcGTProb(counts, quals, 1)

	for _, g := range []Genotype{AC, AG, AT, CG, CT, GT} {
		assert.True(t, math.IsInf(call.LogProb[g], -1), "genotype %d should be -Inf in haploid mode", g)
	}
	assert.InDelta(t, 1.0, sumExp(call.LogProb), 1e-9)
	assert.Equal(t, AA, call.ArgMax)
}

// TestCalcGTProbS1 exercises scenario S1 from spec §8: ~100x coverage at a
// reference C position from C2T-strand reads split roughly 50/50 between
// the unconverted (methylated) and converted (unmethylated) signal should
// call CC with an intermediate top-strand methylation estimate.
func TestCalcGTProbS1(t *testing.T) {
	m := NewModel(0.01, 0.01, 1.0, false, false)
	var counts [8]int
	counts[idxAmbigG0] = 50  // C on C2T reads: unconverted (methylated)
	counts[idxAmbigGT1] = 50 // T on C2T reads: converted (unmethylated)
	var quals [8]int
	quals[idxAmbigG0] = 30
	quals[idxAmbigGT1] = 30

	call := m.CalcGTProb(counts, quals, 2)
	require.Equal(t, CC, call.ArgMax)
	assert.InDelta(t, 1.0, sumExp(call.LogProb), 1e-9)
}

func TestModelPanicsOnBadParams(t *testing.T) {
	assert.Panics(t, func() { NewModel(0, 0.1, 1.0, false, false) })
	assert.Panics(t, func() { NewModel(0.1, 0.1, 0, false, false) })
}
