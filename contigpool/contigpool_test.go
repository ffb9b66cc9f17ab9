package contigpool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(rows [][2]string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(r[0])
		b.WriteByte('\t')
		b.WriteString("LN:")
		b.WriteString(r[1])
		b.WriteString("\tM5:deadbeef\n")
	}
	return b.String()
}

func TestLoad(t *testing.T) {
	src := manifest([][2]string{{"chr1", "100"}, {"chr2", "200"}})
	cat, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, cat.Contigs(), 2)
	assert.Equal(t, "chr1", cat.Contigs()[0].Name)
	assert.Equal(t, int64(200), cat.Contigs()[1].Length)
	assert.Equal(t, 1, cat.Index("chr2"))
	assert.Equal(t, -1, cat.Index("chr3"))
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(strings.NewReader("chr1\tLN:100\n"))
	assert.Error(t, err)
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	src := manifest([][2]string{{"chr1", "100"}, {"chr2", "200"}})
	cat1, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	cat2, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, cat1.Fingerprint(), cat2.Fingerprint())

	changed := manifest([][2]string{{"chr1", "101"}, {"chr2", "200"}})
	cat3, err := Load(strings.NewReader(changed))
	require.NoError(t, err)
	assert.NotEqual(t, cat1.Fingerprint(), cat3.Fingerprint())
}

// TestPlanS4 is end-to-end scenario S4 from spec §8: contigs of lengths
// [60e6, 10e6, 5e6, 5e6, 4e6] with pool_size=25e6 should produce two pools,
// {60e6} and {10e6+5e6+5e6+4e6=24e6}.
func TestPlanS4(t *testing.T) {
	cat := &Catalog{byName: map[string]int{}}
	lens := []int64{60_000_000, 10_000_000, 5_000_000, 5_000_000, 4_000_000}
	names := []string{"a", "b", "c", "d", "e"}
	for i, l := range lens {
		cat.byName[names[i]] = i
		cat.contigs = append(cat.contigs, Contig{Name: names[i], Length: l})
	}
	pools, err := Plan(cat, 25_000_000, nil, nil)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, int64(24_000_000), pools[0].Total)
	assert.Equal(t, int64(60_000_000), pools[1].Total)

	var sum int64
	seen := map[int]bool{}
	for _, p := range pools {
		for _, idx := range p.ContigIdx {
			assert.False(t, seen[idx], "contig %d assigned to multiple pools", idx)
			seen[idx] = true
			sum += cat.contigs[idx].Length
		}
	}
	var want int64
	for _, l := range lens {
		want += l
	}
	assert.Equal(t, want, sum)
}

func TestPlanOmitInclude(t *testing.T) {
	cat := &Catalog{byName: map[string]int{"a": 0, "b": 1, "c": 2}}
	cat.contigs = []Contig{{Name: "a", Length: 10}, {Name: "b", Length: 20}, {Name: "c", Length: 30}}

	pools, err := Plan(cat, 1000, []string{"b"}, nil)
	require.NoError(t, err)
	var names []string
	for _, p := range pools {
		for _, idx := range p.ContigIdx {
			names = append(names, cat.contigs[idx].Name)
		}
	}
	assert.ElementsMatch(t, []string{"a", "c"}, names)

	// omit wins over include when both name the same contig.
	pools, err = Plan(cat, 1000, []string{"b"}, []string{"a", "b"})
	require.NoError(t, err)
	names = names[:0]
	for _, p := range pools {
		for _, idx := range p.ContigIdx {
			names = append(names, cat.contigs[idx].Name)
		}
	}
	assert.ElementsMatch(t, []string{"a"}, names)
}

func TestPlanMissingInclude(t *testing.T) {
	cat := &Catalog{byName: map[string]int{"a": 0}, contigs: []Contig{{Name: "a", Length: 10}}}
	_, err := Plan(cat, 1000, nil, []string{"zzz"})
	assert.Error(t, err)
}
