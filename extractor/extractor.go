// Package extractor implements the BCF extractor/recaller of spec §4.F:
// it streams called positions, re-scores genotypes under overridden
// conversion rates, detects CpG dinucleotides with a one-record lookback
// that resets on contig change (SPEC_FULL §6 open question 2), and defines
// Row and the Sinks bundle of CpG/non-CpG tables and bedMethyl track
// writers. The package itself writes no rows.
package extractor

import (
	"math"

	"github.com/bscall/bscall/genotype"
	"github.com/bscall/bscall/track"
	"github.com/grailbio/base/tsv"
)

// Site is one input position: the caller's original per-sample counts plus
// enough context to recompute genotype probabilities independently of the
// original call (spec §4.F step 2).
type Site struct {
	Contig  string
	Pos     int64 // 0-based
	RefBase byte
	Context string // INFO/CX, the 5-base context
	Samples []SampleCounts
}

// SampleCounts mirrors one sample's FORMAT/MC8, FORMAT/MQ and quality
// fields read off the input BCF.
type SampleCounts struct {
	Counts [8]int
	Quals  [8]int
	Skip   bool
}

// Options configures one extractor run.
type Options struct {
	Model      *genotype.Model
	Fisher     *genotype.FisherTest
	Threshold  float64 // required joint phred, spec §4.F "Filtering"
	MinN       int     // min_n: sample count the joint phred must be computed over
	MinNC      int     // min_nc: min non-converted bases per strand for non-CpG sites
	CommonGT   bool    // spec §4.F "Sample-level common_gt mode"
}

// Row is one emitted CpG/non-CpG table row.
type Row struct {
	Contig      string
	Pos         int64
	Context     string
	ArgMax      genotype.Genotype
	Phred       float64
	PerSample   []genotype.Call
}

// Recall applies Options.Model to every sample in s, optionally folding
// them into a single common genotype call (spec §4.F step 3).
func Recall(opts Options, s Site) []genotype.Call {
	calls := make([]genotype.Call, len(s.Samples))
	for i, sc := range s.Samples {
		if sc.Skip {
			continue
		}
		calls[i] = opts.Model.CalcGTProb(sc.Counts, sc.Quals, s.RefBase)
	}
	if opts.CommonGT {
		combined := combineLogProbs(calls, s.Samples)
		for i := range calls {
			if !s.Samples[i].Skip {
				calls[i].LogProb = combined.LogProb
				calls[i].ArgMax = combined.ArgMax
			}
		}
	}
	return calls
}

// combineLogProbs sums per-sample log-probabilities and re-normalizes,
// implementing the "joint" genotype of spec §4.F step 3.
func combineLogProbs(calls []genotype.Call, samples []SampleCounts) genotype.Call {
	var sum [genotype.NGenotype]float64
	any := false
	for i, c := range calls {
		if samples[i].Skip {
			continue
		}
		any = true
		for g := 0; g < genotype.NGenotype; g++ {
			sum[g] += c.LogProb[g]
		}
	}
	if !any {
		return genotype.Call{}
	}
	max := sum[0]
	argMax := genotype.Genotype(0)
	for g := 1; g < genotype.NGenotype; g++ {
		if sum[g] > max {
			max = sum[g]
			argMax = genotype.Genotype(g)
		}
	}
	var lsum float64
	for g := 0; g < genotype.NGenotype; g++ {
		lsum += expClamped(sum[g] - max)
	}
	logLsum := logClamped(lsum)
	var out [genotype.NGenotype]float64
	for g := 0; g < genotype.NGenotype; g++ {
		out[g] = sum[g] - max - logLsum
	}
	return genotype.Call{LogProb: out, ArgMax: argMax}
}

// jointPhred implements spec §4.F "Filtering" from per-sample "passes"
// probabilities. Ported from the original's get_prob_dist dynamic program:
// dp[k] is the probability that exactly k of the processed samples pass,
// built up one sample at a time over all samples in input order (they are
// not sorted or cut to the first min_n). The result is the phred-scaled
// probability that fewer than min_n samples pass, so more confident samples
// give a higher phred.
func jointPhred(passProbs []float64, minN int) float64 {
	dp := make([]float64, len(passProbs)+1)
	dp[0] = 1
	for _, p := range passProbs {
		for k := len(dp) - 1; k > 0; k-- {
			dp[k] = dp[k]*(1-p) + dp[k-1]*p
		}
		dp[0] *= 1 - p
	}
	failProb := 0.0
	for k := 0; k < minN && k <= len(passProbs); k++ {
		failProb += dp[k]
	}
	if failProb < 1e-25 {
		failProb = 1e-25
	}
	return -10 * logClamped(failProb) / ln10
}

const ln10 = 2.302585092994046

func expClamped(x float64) float64 {
	if x < -745 {
		return 0
	}
	return math.Exp(x)
}

func logClamped(x float64) float64 {
	if x <= 0 {
		return -745
	}
	return math.Log(x)
}

// window is the extractor's one-record CpG lookback (spec §4.F step 4 /
// SPEC_FULL §6 open question 2): it is cleared whenever the contig changes.
type window struct {
	have   bool
	contig string
	pos    int64
	call   genotype.Call
	isC    bool
}

// CpGDetector drives the lookback state machine.
type CpGDetector struct {
	w window
}

// Observe folds one (contig, pos, isC, isG, call) observation and reports
// whether it closes a CpG pair with the previous observation.
func (d *CpGDetector) Observe(contig string, pos int64, isC, isG bool, call genotype.Call) (prevPos int64, prevCall genotype.Call, isCpG bool) {
	if d.w.contig != contig {
		d.w = window{}
	}
	if d.w.have && d.w.isC && isG && pos == d.w.pos+1 && d.w.contig == contig {
		prevPos, prevCall, isCpG = d.w.pos, d.w.call, true
	}
	d.w = window{have: true, contig: contig, pos: pos, call: call, isC: isC}
	return
}

// Sinks bundles the two table outputs (CpG and non-CpG) plus the three
// bedMethyl track builders (CpG, CHG, CHH) of spec §4.F step 5.
type Sinks struct {
	CpG      *tsv.Writer
	NonCpG   *tsv.Writer
	CpGTrack *track.BigBedWriter
	CHGTrack *track.BigBedWriter
	CHHTrack *track.BigBedWriter
}
