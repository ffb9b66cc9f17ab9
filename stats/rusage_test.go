package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureResourceUsagePopulatesFields(t *testing.T) {
	s := NewSample("s1")
	start := time.Now().Add(-10 * time.Millisecond)
	require.NoError(t, s.CaptureResourceUsage(start))

	assert.GreaterOrEqual(t, s.ResourceUsage.WallSeconds, 0.0)
	assert.GreaterOrEqual(t, s.ResourceUsage.UserSeconds, 0.0)
	assert.GreaterOrEqual(t, s.ResourceUsage.SysSeconds, 0.0)
	assert.Greater(t, s.ResourceUsage.MaxRSSKB, int64(0))
}
