package extractor

import (
	"testing"

	"github.com/bscall/bscall/genotype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCpGDetectorResetsOnContigChange(t *testing.T) {
	var d CpGDetector
	_, _, isCpG := d.Observe("chr1", 100, true, false, genotype.Call{})
	assert.False(t, isCpG)

	prevPos, _, isCpG := d.Observe("chr1", 101, false, true, genotype.Call{ArgMax: genotype.CG})
	assert.True(t, isCpG)
	assert.Equal(t, int64(100), prevPos)

	// Contig change must clear the lookback even though the position would
	// otherwise look contiguous.
	d.Observe("chr1", 102, true, false, genotype.Call{})
	_, _, isCpG = d.Observe("chr2", 103, false, true, genotype.Call{})
	assert.False(t, isCpG)
}

func TestRecallIndependentOfOriginalCall(t *testing.T) {
	model := genotype.NewModel(0.02, 0.02, 1.0, false, false)
	opts := Options{Model: model, Fisher: genotype.NewFisherTest()}
	s := Site{
		Contig:  "chr1",
		Pos:     10,
		RefBase: 'C',
		Samples: []SampleCounts{
			{Counts: [8]int{0, 0, 0, 0, 0, 40, 0, 0}, Quals: [8]int{0, 0, 0, 0, 0, 30, 0, 0}},
		},
	}
	calls := Recall(opts, s)
	require.Len(t, calls, 1)
	assert.Equal(t, genotype.CC, calls[0].ArgMax)
}

func TestJointPhredIncreasesWithMoreConfidentSamples(t *testing.T) {
	low := jointPhred([]float64{0.5, 0.5, 0.5}, 2)
	high := jointPhred([]float64{0.99, 0.99, 0.99}, 2)
	assert.Greater(t, high, low)
}

func TestCombineLogProbsSkipsFlaggedSamples(t *testing.T) {
	calls := []genotype.Call{
		{LogProb: [genotype.NGenotype]float64{-0.1, -10, -10, -10, -5, -10, -10, -10, -10, -10}, ArgMax: genotype.AA},
		{LogProb: [genotype.NGenotype]float64{-20, -10, -10, -10, -0.1, -10, -10, -10, -10, -10}, ArgMax: genotype.CC},
	}
	samples := []SampleCounts{{}, {Skip: true}}
	combined := combineLogProbs(calls, samples)
	assert.Equal(t, genotype.AA, combined.ArgMax)
}
