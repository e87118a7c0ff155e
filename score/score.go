// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package score implements the anomaly-score algorithm and its three scoring
modes: raw, scaled, and percentile-threshold (SPEC_FULL.md §6 / spec.md
§4.4).

Descent mirrors the teacher's knn package in spirit (nearest-neighbor
distance over raw []float64 vectors, see knn/distance.go) but the "nearest
neighbor" here is the 1-NN leaf refinement of a single isolation tree's
leaf, not a KNN classifier's full neighbor search.
*/
package score

import (
	"math"

	"github.com/shuLhan/numerus"

	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/internal/vecmath"
	"github.com/TimoSavi/ceif/itree"
)

// MinRelDist is the floor added to a leaf's nearest-sample relative
// distance before it divides the leaf's sample count, matching the later
// (and, per spec.md §9 Open Question #4, correct) code generation's
// MIN_REL_DIST = 0.05, not the earlier 0.1.
const MinRelDist = 0.05

// maxDimValue and limitDim ground the max-score corner probe exactly on
// the original MAX_DIM_VALUE / LIMIT_DIM constants.
const (
	maxDimValue = 1e100
	limitDim    = 8
)

// maxScoreAdjust bumps the probed maximum up slightly so that no real
// sample's scaled score can exceed 1.0 due to probe granularity.
const maxScoreAdjust = 1.01

// Scorer evaluates forests. Rnd supplies the cached c(n) harmonic-
// expectation table; it performs no further random draws during scoring.
type Scorer struct {
	Rnd               *rng.Source
	RefinementEnabled bool
}

// New creates a Scorer.
func New(rnd *rng.Source, refinementEnabled bool) *Scorer {
	return &Scorer{Rnd: rnd, RefinementEnabled: refinementEnabled}
}

// effVector returns the vector x actually routed through the trees: the
// autoscaled coordinates when the forest's autoscale is active, otherwise
// x itself.
func (s *Scorer) effVector(f *forest.Forest, x []float64) []float64 {
	if f.RefDim < 0 {
		return x
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = vecmath.Scale(x[i], f.Stats.Min[i], f.Stats.Max[i], f.Stats.Min[f.RefDim], f.Stats.Max[f.RefDim])
	}
	return out
}

// Raw computes the raw anomaly score s = 2^(-avgPath/c) for x against f.
func (s *Scorer) Raw(f *forest.Forest, x []float64) float64 {
	eff := s.effVector(f, x)
	return s.rawEff(f, eff)
}

func (s *Scorer) rawEff(f *forest.Forest, eff []float64) float64 {
	var total float64
	for _, tr := range f.Trees {
		total += s.pathLength(f, tr, eff)
	}
	avgPath := total / float64(len(f.Trees))
	return math.Pow(2, -avgPath/f.C)
}

// pathLength descends tr for x, returning the (possibly c-corrected)
// path length, per spec.md §4.4 step 2.
func (s *Scorer) pathLength(f *forest.Forest, tr *itree.Tree, x []float64) float64 {
	idx := tr.Root
	h := 0
	for idx != itree.NoChild {
		node := &tr.Nodes[idx]
		if node.IsLeaf() {
			return float64(h) + s.leafAdjustedC(f, node, x)
		}
		var next int32
		if vecmath.Dot(x, node.N) < node.PDotN {
			next = node.Left
		} else {
			next = node.Right
		}
		if next == itree.NoChild {
			return float64(h)
		}
		idx = next
		h++
	}
	return float64(h)
}

// leafAdjustedC computes adjusted_c for a reached leaf, applying the
// nearest-distance refinement when enabled and the forest has a positive
// average sample distance (spec.md §4.4).
func (s *Scorer) leafAdjustedC(f *forest.Forest, node *itree.Node, x []float64) float64 {
	if s.RefinementEnabled && f.AvgSampleDist > 0 && len(node.LeafSamples) > 0 {
		minSq := math.Inf(1)
		for _, si := range node.LeafSamples {
			v := f.Reservoir.X[si].X
			if f.RefDim >= 0 {
				v = f.Reservoir.X[si].Scaled
			}
			if d := vecmath.SqDist(x, v); d < minSq {
				minSq = d
			}
		}
		rel := math.Sqrt(minSq)/f.AvgSampleDist + MinRelDist
		return s.Rnd.C(float64(node.SampleCount) / rel)
	}
	return s.Rnd.C(float64(node.SampleCount))
}

// ensureScoreAids lazily computes and caches f.MinScore / f.MaxScore.
func (s *Scorer) ensureScoreAids(f *forest.Forest) {
	if f.ScoreAidsComputed {
		return
	}

	min := math.Inf(1)
	for _, samp := range f.Reservoir.X {
		v := samp.X
		if f.RefDim >= 0 {
			v = samp.Scaled
		}
		if sc := s.rawEff(f, v); sc < min {
			min = sc
		}
	}
	f.MinScore = min
	f.MaxScore = s.maxScore(f)
	f.ScoreAidsComputed = true
}

// maxScore probes the 3^min(D,8) corner combinations of {-MAX, 0, +MAX}
// over the forest's first limitDim dimensions (remaining dimensions fixed
// at +MAX), matching calculate_max_score in the original C source.
func (s *Scorer) maxScore(f *forest.Forest) float64 {
	d := len(f.Stats.Min)
	if d == 0 {
		return 1
	}
	lim := d
	if lim > limitDim {
		lim = limitDim
	}

	probe := make([]float64, d)
	for i := lim; i < d; i++ {
		probe[i] = maxDimValue
	}

	var best float64
	values := [3]float64{0, maxDimValue, -maxDimValue}

	var enumerate func(pos int)
	enumerate = func(pos int) {
		if pos == lim {
			eff := s.effVector(f, probe)
			if sc := s.rawEff(f, eff); sc > best {
				best = sc
			}
			return
		}
		for v := 0; v < 3; v++ {
			probe[pos] = values[v]
			enumerate(pos + 1)
		}
	}
	enumerate(0)

	adjusted := best * maxScoreAdjust
	if adjusted > 1 {
		adjusted = 1
	}
	return adjusted
}

// Scaled computes the scaled-to-[0,1] score: (raw-min)/(max-min), clamped.
func (s *Scorer) Scaled(f *forest.Forest, x []float64) float64 {
	s.ensureScoreAids(f)
	raw := s.Raw(f, x)
	if f.MaxScore == f.MinScore {
		return 0
	}
	return vecmath.Clamp((raw-f.MinScore)/(f.MaxScore-f.MinScore), 0, 1)
}

// ensurePercentile lazily computes f's percentile threshold at the rank
// implied by percent, by scoring every sample and sorting ascending
// (spec.md §4.4). It uses numerus.Floats64InplaceMergesort, exactly as
// the teacher's classifier.Runtime.Performance sorts probabilities while
// keeping an index slice aligned (classifier/runtime.go).
func (s *Scorer) ensurePercentile(f *forest.Forest, percent float64) {
	if f.PercentileComputed {
		return
	}
	n := f.Reservoir.Len()
	scores := make([]float64, n)
	ids := numerus.IntCreateSeq(0, n-1)
	for i, samp := range f.Reservoir.X {
		v := samp.X
		if f.RefDim >= 0 {
			v = samp.Scaled
		}
		scores[i] = s.rawEff(f, v)
	}
	numerus.Floats64InplaceMergesort(scores, ids, 0, n, true)

	rank := int(math.Ceil(float64(n-1) * percent / 100))
	rank = int(vecmath.Clamp(float64(rank), 0, float64(n-1)))
	f.PercentileThreshold = scores[rank]
	f.PercentileComputed = true
}

// Percentile returns x's raw score against f and whether it exceeds f's
// percent-th percentile threshold (computed once per forest and cached).
func (s *Scorer) Percentile(f *forest.Forest, percent float64, x []float64) (sc float64, exceeds bool) {
	s.ensurePercentile(f, percent)
	sc = s.Raw(f, x)
	return sc, sc > f.PercentileThreshold
}
