package caller

import (
	"context"
	"testing"

	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/pileup"
	"github.com/bscall/bscall/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	blocks  []*CallBlock
	batches []*CallBatch
}

func (s *recordingSink) Block(b *CallBlock) error { s.blocks = append(s.blocks, b); return nil }
func (s *recordingSink) Batch(b *CallBatch) error { s.batches = append(s.batches, b); return nil }
func (s *recordingSink) Close() (*stats.Sample, error) { return nil, nil }

// TestRunPoolS1 reproduces spec §8 scenario S1: 100x coverage at ref=C, all
// reads C2T strand, 50 C and 50 T at q=30 should argmax to CC with FS=0
// (homozygous).
func TestRunPoolS1(t *testing.T) {
	model := genotype.NewModel(0.01, 0.01, 1.0, false, false)
	opts := Options{Model: model, Fisher: genotype.NewFisherTest(), SampleName: "s1"}

	blocks := make(chan *pileup.Block, 1)
	var p pileup.Pos
	p.RefPos = 100
	p.RefBase = 'C'
	p.Counts[pileup.IdxAmbigG0] = 50  // C call (unconverted C) on C2T read
	p.Counts[pileup.IdxAmbigGT1] = 50 // T call (converted C) on C2T read
	for i := 0; i < 8; i++ {
		p.QualSum[i] = 0
	}
	p.QualSum[pileup.IdxAmbigG0] = 30 * 50
	p.QualSum[pileup.IdxAmbigGT1] = 30 * 50
	blocks <- &pileup.Block{Contig: "chr1", Start: 100, Positions: []pileup.Pos{p}}
	close(blocks)

	sink := &recordingSink{}
	sample, err := RunPool(context.Background(), opts, blocks, sink)
	require.NoError(t, err)
	require.Len(t, sink.blocks, 1)
	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0].Records, 1)

	call := sink.batches[0].Records[0].Call
	assert.Equal(t, genotype.CC, call.ArgMax)
	assert.Equal(t, int64(1), sample.Coverage[stats.CoverageAll])
}
