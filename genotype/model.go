// Package genotype implements the per-position probabilistic genotype/
// methylation model of spec §4.D: a 10-state diploid genotype space jointly
// estimating base composition and strand-specific methylation, plus the
// Fisher-exact strand-bias statistic of §4.D/§8 invariant 3.
package genotype

import "math"

// Genotype indexes the 10 diploid genotypes in the fixed order the BCF
// header (spec §6.3) and the rest of the pipeline assume.
type Genotype int

const (
	AA Genotype = iota
	AC
	AG
	AT
	CC
	CG
	CT
	GG
	GT
	TT
	NGenotype
)

// Het reports whether genotype g is heterozygous.
var Het = [NGenotype]bool{
	AA: false, AC: true, AG: true, AT: true,
	CC: false, CG: true, CT: true,
	GG: false, GT: true,
	TT: false,
}

// Alternative names for positions of the 8-wide count/quality arrays the
// caller and extractor both use (the same layout as pileup.Pos); the model
// itself indexes the arrays through the idx* constants below, which say what
// each position holds.
const (
	baseA = iota
	baseC
	baseG
	baseT
	baseGfromC2T // position 4: A observed on a G2A read (see idxAmbigCG1)
	baseCfromG2A // position 5: C observed on a C2T read (see idxAmbigG0)
	_reserved6
	_reserved7
)

// The model's ambiguous-count indices follow the original bs_call layout
// exactly: counts[4] is an A seen on a G2A read, counts[5] a C seen on a C2T
// read, counts[6] a G seen on a G2A read, and counts[7] a T seen on a C2T
// read. calcZ splits the (5,7) and (6,4) pairs in closed form.
const (
	idxA        = 0
	idxC        = 1
	idxG        = 2
	idxT        = 3
	idxAmbigCG1 = 4 // A on a G2A read: an A, or a G converted to A
	idxAmbigG0  = 5 // C on a C2T read: an unconverted (methylated) C
	idxAmbigC0  = 6 // G on a G2A read: an unconverted (methylated) G
	idxAmbigGT1 = 7 // T on a C2T read: a T, or a C converted to T
)

// maxQual bounds the precomputed per-quality table; qualities above it fall
// back to on-the-fly computation (never needed in practice since BAM base
// qualities are capped well below this).
const maxQual = 64

// qualProb holds the three precomputed log terms a base quality contributes
// to genotype log-likelihoods, per spec §4.D.
type qualProb struct {
	k         float64
	lnK       float64
	lnKHalf   float64
	lnKOne    float64 // ln(1+k), computed via math.Log1p for accuracy at small k
}

// Model holds the conversion-rate and reference-bias parameters and a
// precomputed quality table, and is safe for concurrent read-only use by
// multiple pileup/caller goroutines.
type Model struct {
	qtab       [maxQual + 1]qualProb
	lnRefBias  float64
	lnRefBias1 float64
	lambda     float64 // 1 - under_conversion rate
	theta      float64 // over_conversion rate
	haploid    bool
	log10      bool // emit log probabilities in log10 rather than natural log
}

// NewModel builds a Model from the under/over conversion rates, a
// reference-bias prior, and the haploid/log10 output mode flags. underConv
// and overConv must lie in (0,1) and refBias must be > 0; NewModel panics
// otherwise.
func NewModel(underConv, overConv, refBias float64, haploid, log10 bool) *Model {
	if !(underConv > 0 && underConv < 1 && overConv > 0 && overConv < 1 && refBias > 0) {
		panic("genotype: conversion rates must be in (0,1) and refBias must be positive")
	}
	m := &Model{
		lambda:     1 - underConv,
		theta:      overConv,
		haploid:    haploid,
		log10:      log10,
		lnRefBias:  math.Log(refBias),
		lnRefBias1: math.Log(0.5 * (1 + refBias)),
	}
	for q := 0; q <= maxQual; q++ {
		e := math.Exp(float64(q) * -0.1 * math.Ln10)
		if e > 0.5 {
			e = 0.5
		}
		k := e / (3 - 4*e)
		m.qtab[q] = qualProb{k: k, lnK: math.Log(k), lnKHalf: math.Log(k + 0.5), lnKOne: math.Log1p(k)}
	}
	return m
}

func (m *Model) qualOf(q int) qualProb {
	if q > maxQual {
		q = maxQual
	}
	if q < 0 {
		q = 0
	}
	return m.qtab[q]
}

// Call is the per-position genotype/methylation result of spec §3's
// "Genotype call": 10 natural-log (or log10, per Model.log10) probabilities,
// the argmax index, and strand-specific methylation point estimates.
type Call struct {
	LogProb [NGenotype]float64
	ArgMax  Genotype
	// Meth holds 6 point estimates: 3 top-strand (w=1,p=1 / w=1,p=1/2 /
	// w=1.2,p=1 parameterizations) followed by 3 bottom-strand, or -1 where
	// undefined (no informative coverage).
	Meth [6]float64
}

// CalcGTProb computes the 10 diploid genotype log-likelihoods given 8 base
// counts and 8 mean base qualities (Phred-scaled ints), applies the
// reference-bias prior for refBase (1=A,2=C,3=G,4=T or the ASCII letters
// 'A','C','G','T'; any other value gets no prior), and
// normalizes so that sum(exp(LogProb)) == 1 (spec §8 invariant 2). In
// haploid mode, heterozygous genotypes are set to -Inf and the support is
// restricted to {AA, CC, GG, TT}.
func (m *Model) CalcGTProb(counts, quals [8]int, refBase byte) Call {
	var ll [NGenotype]float64
	m.addRefPrior(&ll, refBase)

	qp := func(i int) qualProb { return m.qualOf(quals[i]) }
	n := func(i int) float64 { return float64(counts[i]) }

	addContrib := func(v [NGenotype]float64) {
		for i := range ll {
			ll[i] += v[i]
		}
	}
	getPar := func(i int) (x, half, one float64) {
		q := qp(i)
		return n(i) * q.lnKOne, n(i) * q.lnKHalf, n(i) * q.lnK
	}

	if counts[idxA] != 0 {
		x, tz, tz1 := getPar(idxA)
		addContrib([NGenotype]float64{x, tz, tz, tz, tz1, tz1, tz1, tz1, tz1, tz1})
	}
	if counts[idxC] != 0 {
		x, tz, tz1 := getPar(idxC)
		addContrib([NGenotype]float64{tz1, tz, tz1, tz1, x, tz, tz, tz1, tz1, tz1})
	}
	if counts[idxG] != 0 {
		x, tz, tz1 := getPar(idxG)
		addContrib([NGenotype]float64{tz1, tz1, tz, tz1, tz1, tz, tz1, x, tz, tz1})
	}
	if counts[idxT] != 0 {
		x, tz, tz1 := getPar(idxT)
		addContrib([NGenotype]float64{tz1, tz1, tz1, tz, tz1, tz1, tz, tz1, tz, x})
	}

	var meth [6]float64
	top := meth[0:3]
	bot := meth[3:6]
	z0 := m.calcZ(counts[idxAmbigG0], counts[idxAmbigGT1], qp(idxAmbigG0).k, qp(idxAmbigGT1).k, top)
	z1 := m.calcZ(counts[idxAmbigC0], counts[idxAmbigCG1], qp(idxAmbigC0).k, qp(idxAmbigCG1).k, bot)

	if counts[idxAmbigCG1] != 0 {
		x, tz, tz1 := getPar(idxAmbigCG1)
		k4 := qp(idxAmbigCG1).k
		n4 := n(idxAmbigCG1)
		tz2 := n4 * math.Log(0.5*(1-z1[2])+k4)
		addContrib([NGenotype]float64{
			x, tz, n4 * math.Log(1-0.5*z1[1]+k4), tz,
			tz1, tz2, tz1, n4 * math.Log(1-z1[0]+k4), tz2, tz1,
		})
	}
	if counts[idxAmbigG0] != 0 {
		k5 := qp(idxAmbigG0).k
		n5 := n(idxAmbigG0)
		tz := n5 * math.Log(0.5*z0[2]+k5)
		tz1 := n5 * qp(idxAmbigG0).lnK
		addContrib([NGenotype]float64{
			tz1, tz, tz1, tz1,
			n5 * math.Log(z0[0]+k5), tz, n5 * math.Log(0.5*z0[1]+k5), tz1, tz1, tz1,
		})
	}
	if counts[idxAmbigC0] != 0 {
		k6 := qp(idxAmbigC0).k
		n6 := n(idxAmbigC0)
		tz := n6 * math.Log(0.5*z1[2]+k6)
		tz1 := n6 * qp(idxAmbigC0).lnK
		addContrib([NGenotype]float64{
			tz1, tz1, n6 * math.Log(0.5*z1[1]+k6), tz1,
			tz1, tz, tz1, n6 * math.Log(z1[0]+k6), tz, tz1,
		})
	}
	if counts[idxAmbigGT1] != 0 {
		x, tz, tz1 := getPar(idxAmbigGT1)
		k7 := qp(idxAmbigGT1).k
		n7 := n(idxAmbigGT1)
		tz2 := n7 * math.Log(0.5*(1-z0[2])+k7)
		addContrib([NGenotype]float64{
			tz1, tz2, tz1, tz,
			n7 * math.Log(1-z0[0]+k7), tz2, n7 * math.Log(1-0.5*z0[1]+k7), tz1, tz, x,
		})
	}

	scale := 1.0
	if m.log10 {
		scale = math.Ln10
	}

	var call Call
	call.Meth = meth

	if m.haploid {
		homIdx := [4]Genotype{AA, CC, GG, TT}
		argMax, max := homIdx[0], ll[homIdx[0]]
		for _, i := range homIdx[1:] {
			if ll[i] > max {
				argMax, max = i, ll[i]
			}
		}
		sum := 0.0
		for _, i := range homIdx {
			sum += math.Exp(ll[i] - max)
		}
		lsum := math.Log(sum)
		var out [NGenotype]float64
		for i := range out {
			out[i] = math.Inf(-1)
		}
		for _, i := range homIdx {
			out[i] = (ll[i] - max - lsum) / scale
		}
		call.ArgMax = argMax
		call.LogProb = out
		return call
	}

	argMax, max := Genotype(0), ll[0]
	for i := 1; i < len(ll); i++ {
		if ll[i] > max {
			argMax, max = Genotype(i), ll[i]
		}
	}
	sum := 0.0
	for _, v := range ll {
		sum += math.Exp(v - max)
	}
	lsum := math.Log(sum)
	for i := range ll {
		ll[i] = (ll[i] - max - lsum) / scale
	}
	call.ArgMax = argMax
	call.LogProb = ll
	return call
}

// calcZ solves the closed-form weighted split between methylation and error
// for an ambiguous BS-converted count pair (c1 unconverted-supporting,
// c2 converted-supporting), returning the three w/p parameterizations used
// by CalcGTProb, and writes the corresponding methylation point estimates
// (or -1 where undefined) into meth if non-nil.
func (m *Model) calcZ(c1, c2 int, k1, k2 float64, meth []float64) [3]float64 {
	var z [3]float64
	switch {
	case c1 == 0 && c2 == 0:
		z = [3]float64{0, 0, 0}
	case c2 == 0:
		v := 1 - m.theta
		z = [3]float64{v, v, v}
	case c1 == 0:
		v := 1 - m.lambda
		z = [3]float64{v, v, v}
	default:
		x1, x2 := float64(c1), float64(c2)
		lpt := m.lambda + m.theta
		lmt := m.lambda - m.theta
		d := (x1 + x2) * lmt
		f := func(x float64) float64 {
			switch {
			case x < -1:
				return 1 - m.lambda
			case x > 1:
				return 1 - m.theta
			default:
				return 0.5 * (lmt*x + 2 - lpt)
			}
		}
		z[0] = f((x1*(lpt+2*k2) - x2*(2-lpt+2*k1)) / d)
		z[1] = f((x1*(2+lpt+4*k2) - x2*(2-lpt+4*k1)) / d)
		z[2] = f((x1*(lpt+4*k2) - x2*(2-lpt+4*k1)) / d)
	}
	if meth != nil {
		if c1 == 0 && c2 == 0 {
			for i := range meth {
				meth[i] = -1
			}
		} else {
			clamp := func(x float64) float64 {
				if x < 0 {
					return -1
				}
				if x > 1 {
					return 1
				}
				return x
			}
			d := m.lambda - m.theta
			meth[0] = clamp((z[0] - 1 + m.lambda) / d)
			meth[1] = clamp((z[1] - 1 + m.lambda) / d)
			meth[2] = clamp((z[2] - 1 + m.lambda) / d)
		}
	}
	return z
}

func (m *Model) addRefPrior(ll *[NGenotype]float64, refBase byte) {
	lrb, lrb1 := m.lnRefBias, m.lnRefBias1
	switch refBase {
	case 1, 'A':
		ll[AC] = lrb1
		ll[AG] = lrb1
		ll[AT] = lrb1
		ll[AA] = lrb
	case 2, 'C':
		ll[AC] = lrb1
		ll[CG] = lrb1
		ll[CT] = lrb1
		ll[CC] = lrb
	case 3, 'G':
		ll[AG] = lrb1
		ll[CG] = lrb1
		ll[GT] = lrb1
		ll[GG] = lrb
	case 4, 'T':
		ll[AT] = lrb1
		ll[CT] = lrb1
		ll[GT] = lrb1
		ll[TT] = lrb
	}
}
