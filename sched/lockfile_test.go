package sched

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")

	l1, err := AcquireLock(path)
	require.NoError(t, err)
	require.NotNil(t, l1)

	_, err = AcquireLock(path)
	assert.Error(t, err)

	require.NoError(t, l1.Release())

	l2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")
	l, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}
