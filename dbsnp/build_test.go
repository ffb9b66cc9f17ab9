package dbsnp

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempIndex(t *testing.T, recs []Record) *Index {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.AddRecords(recs))

	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf, ""))

	f, err := os.CreateTemp("", "dbsnp-index-*.idx")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })
	_, err = f.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	idx, err := Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// TestQueryRoundTripS3 is spec §8 scenario S3: a BED entry
// "chr1 99 100 rs1234" (0-based half-open, so the SNP sits at 1-based
// position 100) must be found at position 100 and absent at 99.
func TestQueryRoundTripS3(t *testing.T) {
	idx := writeTempIndex(t, []Record{
		{Contig: "chr1", Pos: 100, Name: "rs1234"},
	})

	res, found, err := idx.Query("chr1", 100)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs1234", res.ID)
	assert.False(t, res.Selected)

	_, found, err = idx.Query("chr1", 99)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestQueryRoundTripManyEntriesSameBin is spec §8 invariant 4: every
// identifier stored in a bin must be independently recoverable by position,
// regardless of how many other identifiers share the bin.
func TestQueryRoundTripManyEntriesSameBin(t *testing.T) {
	maf := float32(0.2)
	recs := []Record{
		{Contig: "chr1", Pos: 1, Name: "rs1"},
		{Contig: "chr1", Pos: 5, Name: "rs55"},
		{Contig: "chr1", Pos: 5, Name: "rs56"}, // overwrites rs55 at the same bit
		{Contig: "chr1", Pos: 200, Name: "ss9999"},
		{Contig: "chr1", Pos: 256, Name: "rs1000", MAF: &maf},
		{Contig: "chr2", Pos: 1, Name: "rs42"},
	}
	idx := writeTempIndex(t, recs)

	res, found, err := idx.Query("chr1", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs1", res.ID)

	res, found, err = idx.Query("chr1", 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs56", res.ID)

	res, found, err = idx.Query("chr1", 200)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ss9999", res.ID)

	res, found, err = idx.Query("chr1", 256)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs1000", res.ID)
	assert.True(t, res.Selected)

	res, found, err = idx.Query("chr2", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs42", res.ID)

	_, found, err = idx.Query("chr1", 2)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = idx.Query("chr3", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestQueryAcrossMultipleBins exercises the bin-increment varint path with
// bins far enough apart to require each of the 1/2/3/5-byte tag widths.
func TestQueryAcrossMultipleBins(t *testing.T) {
	idx := writeTempIndex(t, []Record{
		{Contig: "chr1", Pos: 1, Name: "rs1"},
		{Contig: "chr1", Pos: 256 * 10, Name: "rs2"},
		{Contig: "chr1", Pos: 256 * 100, Name: "rs5"},
		{Contig: "chr1", Pos: 256 * 1000, Name: "rs3"},
		{Contig: "chr1", Pos: 256 * 100000, Name: "rs4"},
	})

	res, found, err := idx.Query("chr1", 256*100000)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs4", res.ID)

	res, found, err = idx.Query("chr1", 256*1000)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rs3", res.ID)
}

func TestAddRecordsRejectsZeroPos(t *testing.T) {
	b := NewBuilder()
	err := b.AddRecords([]Record{{Contig: "chr1", Pos: 0, Name: "rs1"}})
	assert.Error(t, err)
}

func TestDescriptionRoundTrip(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddRecords([]Record{{Contig: "chr1", Pos: 1, Name: "rs1"}}))
	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf, "custom description"))

	f, err := os.CreateTemp("", "dbsnp-index-*.idx")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	idx, err := Open(f.Name())
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, "custom description", idx.Description())
}
