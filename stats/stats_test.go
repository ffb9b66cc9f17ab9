package stats

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAssociativeCommutative(t *testing.T) {
	a := NewSample("s1")
	a.AddPhred(PhredQual, 30)
	a.AddMeth(0.5)
	a.Coverage[CoverageAll] = 10

	b := NewSample("s1")
	b.AddPhred(PhredQual, 30)
	b.AddMeth(0.5)
	b.Coverage[CoverageAll] = 5

	c := NewSample("s1")
	c.Coverage[CoverageVariant] = 2

	ab := NewSample("s1")
	ab.Merge(a)
	ab.Merge(b)
	abc := NewSample("s1")
	abc.Merge(ab)
	abc.Merge(c)

	ba := NewSample("s1")
	ba.Merge(b)
	ba.Merge(a)
	cba := NewSample("s1")
	cba.Merge(c)
	cba.Merge(ba)

	assert.Equal(t, abc.Coverage[CoverageAll], cba.Coverage[CoverageAll])
	assert.Equal(t, int64(15), abc.Coverage[CoverageAll])
	assert.Equal(t, int64(2), abc.Coverage[CoverageVariant])
	assert.Equal(t, abc.PhredHist[PhredQual], cba.PhredHist[PhredQual])
	assert.Equal(t, int64(2), abc.PhredHist[PhredQual][30])
	assert.Equal(t, int64(2), abc.MethHist[50])
}

func TestMergeAllThreePools(t *testing.T) {
	pools := make([]*Sample, 3)
	for i := range pools {
		pools[i] = NewSample("sampleA")
		pools[i].Coverage[CoverageAll] = int64(i + 1)
	}
	merged := MergeAll(pools)
	require.NotNil(t, merged)
	assert.Equal(t, int64(6), merged.Coverage[CoverageAll])
	assert.Equal(t, "sampleA", merged.Name)
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewSample("s1")
	s.AddPhred(PhredFS, 12)
	s.AddGCCoverage(40, 8)
	s.ResourceUsage.MaxRSSKB = 1024

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Name)
	assert.Equal(t, int64(1), got.PhredHist[PhredFS][12])
	assert.Equal(t, int64(1024), got.ResourceUsage.MaxRSSKB)
}
