package track

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestZoomLevelScenarioS5 reproduces spec §8 scenario S5: 400 consecutive
// samples at positions 0..399 value 1.0 with first zoom scale 10 must
// produce 40 zoom-level-0 records, each count=10 sum=10 sumSq=10 min=max=1.
func TestZoomLevelScenarioS5(t *testing.T) {
	w := NewBigWigWriter(10)
	for pos := uint32(0); pos < 400; pos++ {
		require.NoError(t, w.Add(Sample{ChromID: 0, Pos: pos, Value: 1.0}))
	}
	recs := w.ZoomLevel(0)
	require.Len(t, recs, 40)
	for _, r := range recs {
		assert.Equal(t, uint32(10), r.Count)
		assert.InDelta(t, 10.0, r.Sum, 1e-9)
		assert.InDelta(t, 10.0, r.SumSq, 1e-9)
		assert.Equal(t, 1.0, r.Min)
		assert.Equal(t, 1.0, r.Max)
	}
}

// TestSummaryMatchesNaiveRecomputation is spec §8 invariant 5: the summary
// (count,min,max,sum,sumSq) must equal a naive recomputation over inputs.
func TestSummaryMatchesNaiveRecomputation(t *testing.T) {
	w := NewBigWigWriter(1024)
	values := []float64{1, 3, 2, 5, 0.5}
	for i, v := range values {
		require.NoError(t, w.Add(Sample{ChromID: 0, Pos: uint32(i), Value: v}))
	}
	s := w.Summary()
	assert.Equal(t, uint64(len(values)), s.Count)

	var wantSum, wantSumSq, wantMin, wantMax float64
	wantMin, wantMax = values[0], values[0]
	for _, v := range values {
		wantSum += v
		wantSumSq += v * v
		if v < wantMin {
			wantMin = v
		}
		if v > wantMax {
			wantMax = v
		}
	}
	assert.InDelta(t, wantSum, s.Sum, 1e-9)
	assert.InDelta(t, wantSumSq, s.SumSq, 1e-9)
	assert.Equal(t, wantMin, s.Min)
	assert.Equal(t, wantMax, s.Max)
}

func TestFinishRoundTripsBlockCount(t *testing.T) {
	w := NewBigWigWriter(10)
	for pos := uint32(0); pos < 2000; pos++ {
		require.NoError(t, w.Add(Sample{ChromID: 0, Pos: pos, Value: float64(pos % 5)}))
	}
	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}
	extents, err := w.Finish(cw)
	require.NoError(t, err)
	assert.Equal(t, 2, len(extents)) // 2000 samples / MaxBWItems(1024) = 2 blocks
	assert.Greater(t, cw.N, uint64(0))

	root := BuildRTree(extents)
	require.NotNil(t, root)
	assert.Len(t, Leaves(root), len(extents))
}
