package genotype

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFisherMarginsZero is spec §8 invariant 3: a table whose margins sum
// to 0 always returns p=1.
func TestFisherMarginsZero(t *testing.T) {
	f := NewFisherTest()
	assert.Equal(t, 1.0, f.Fisher([4]uint32{0, 0, 0, 0}))
}

// TestFisherRowColSwapSymmetric is spec §8 invariant 3: swapping the two
// rows or the two columns of the table must not change the p-value.
func TestFisherRowColSwapSymmetric(t *testing.T) {
	f := NewFisherTest()
	base := [4]uint32{12, 5, 3, 18}
	p0 := f.Fisher(base)

	rowSwap := [4]uint32{base[2], base[3], base[0], base[1]}
	assert.InDelta(t, p0, f.Fisher(rowSwap), 1e-9)

	colSwap := [4]uint32{base[1], base[0], base[3], base[2]}
	assert.InDelta(t, p0, f.Fisher(colSwap), 1e-9)
}

// TestFisherMonotonic is spec §8 invariant 3: the p-value should decrease
// monotonically as the table's imbalance grows with fixed margins.
func TestFisherMonotonic(t *testing.T) {
	f := NewFisherTest()
	// Fixed margins (row sums 20/20, col sums 20/20); walk the table from
	// balanced to extreme and confirm p is non-increasing.
	tables := [][4]uint32{
		{10, 10, 10, 10},
		{14, 6, 6, 14},
		{17, 3, 3, 17},
		{20, 0, 0, 20},
	}
	prev := math.Inf(1)
	for _, tab := range tables {
		p := f.Fisher(tab)
		assert.LessOrEqual(t, p, prev+1e-12)
		prev = p
	}
}

func TestCalcFSStatHomozygousIsZero(t *testing.T) {
	f := NewFisherTest()
	var cts [16]uint32
	cts[idxA] = 30
	cts[idxA+8] = 25
	assert.Equal(t, 0.0, f.CalcFSStat(AA, cts))
}

func TestCalcFSStatHeterozygous(t *testing.T) {
	f := NewFisherTest()
	var cts [16]uint32
	// Strongly strand-biased CT het: C mostly forward, T mostly reverse.
	cts[idxC] = 40
	cts[idxAmbigG0] = 0
	cts[idxT+8] = 40
	phred := f.CalcFSStat(CT, cts)
	assert.Greater(t, phred, 0.0)
}

// TestCalcFSStatGT exercises the GT heterozygous entry of strandCountTable,
// which must pair idxG with idxAmbigCG1/idxAmbigC0 on one side and idxT
// with idxAmbigGT1 on the other (original fisher.rs's
// get_cts(&[2,4,6], &[3,7]) for genotype index 8).
func TestCalcFSStatGT(t *testing.T) {
	f := NewFisherTest()
	var cts [16]uint32
	// Strongly strand-biased GT het: G mostly forward, T mostly reverse.
	cts[idxG] = 40
	cts[idxAmbigCG1] = 0
	cts[idxAmbigC0] = 0
	cts[idxT+8] = 40
	phred := f.CalcFSStat(GT, cts)
	assert.Greater(t, phred, 0.0)

	// A perfectly balanced table must score as unbiased regardless of which
	// index pairing is in play.
	var balanced [16]uint32
	balanced[idxG] = 20
	balanced[idxG+8] = 20
	balanced[idxT] = 20
	balanced[idxT+8] = 20
	assert.Equal(t, 0.0, math.Round(f.CalcFSStat(GT, balanced)))
}
