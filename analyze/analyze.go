// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package analyze implements the streaming analyzer and categorizer of
SPEC_FULL.md §8 / spec.md §4.6: route a record to its forest, lazily
score it under the configured mode, and report whether it clears the
forest's outlier threshold; or, in categorize mode, find the
best-matching forest across the whole table.

It plays the role the teacher's classifier.Runtime.ClassifySet plays for
a trained CART/random-forest model, generalized from supervised
class-probability voting to unsupervised per-category anomaly scoring.
*/
package analyze

import (
	"math"

	"github.com/TimoSavi/ceif/category"
	"github.com/TimoSavi/ceif/cluster"
	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/score"
)

// Mode selects which of the three scoring modes named in spec.md §4.4
// governs the outlier threshold comparison.
type Mode int

const (
	ModeRaw Mode = iota
	ModeScaled
	ModePercentile
)

// DimGate is the per-dimension attribution gate (SPEC_FULL.md §8,
// sourced from original_source/analyze.c): a record only clears the
// gate if the minimum dimension-attribution score over Dims also
// exceeds Threshold. A nil or empty-Dims gate always passes.
type DimGate struct {
	Dims      []int
	Threshold float64
}

// Pass reports whether x clears the gate against f.
func (g *DimGate) Pass(f *forest.Forest, sc *score.Scorer, x []float64) bool {
	if g == nil || len(g.Dims) == 0 {
		return true
	}
	min := math.Inf(1)
	for _, d := range g.Dims {
		if d < 0 || d >= len(x) {
			continue
		}
		if ds := cluster.DimensionScore(f, sc, x, d); ds < min {
			min = ds
		}
	}
	return min > g.Threshold
}

// Outcome reports what happened to one analyzed record.
type Outcome struct {
	Found    bool // the category key resolved to a forest
	Filtered bool // the forest exists but is excluded by a filter rule
	Sampled  bool // the row was selected for scoring by analyzed-row sampling
	Forest   *forest.Forest
	Score    float64
	Outlier  bool
}

// Analyzer ties the category router, the forest table, and the scorer
// together into the single streaming driver value spec.md §9's design
// notes call for.
type Analyzer struct {
	Router     *category.Router
	Forests    []*forest.Forest // indexed by forest id, as handed out by Router
	Scorer     *score.Scorer
	Mode       Mode
	Threshold  float64
	Percentile float64
	Gate       *DimGate

	// AnalyzedSampling, when > 0, is K: once a forest's TotalRows
	// exceeds K, each further row is scored with probability K/TotalRows
	// (spec.md §4.6).
	AnalyzedSampling int64
	Rnd              *rng.Source
}

func (a *Analyzer) forestFor(key string) (*forest.Forest, Outcome) {
	id, ok := a.Router.Resolve(key)
	if !ok {
		return nil, Outcome{Found: false}
	}
	if a.Router.IsFiltered(key) {
		return nil, Outcome{Found: true, Filtered: true}
	}
	f := a.Forests[id]
	if f.Filtered {
		return nil, Outcome{Found: true, Filtered: true}
	}
	return f, Outcome{}
}

func (a *Analyzer) score(f *forest.Forest, x []float64) (s float64, exceeds bool) {
	switch a.Mode {
	case ModeScaled:
		s = a.Scorer.Scaled(f, x)
		return s, s > a.Threshold
	case ModePercentile:
		return a.Scorer.Percentile(f, a.Percentile, x)
	default:
		s = a.Scorer.Raw(f, x)
		return s, s > a.Threshold
	}
}

// Analyze routes x (keyed by key) to its forest, applies analyzed-row
// sampling, scores it, and reports the outcome (spec.md §4.6 "Analyze").
func (a *Analyzer) Analyze(key string, x []float64) Outcome {
	f, out := a.forestFor(key)
	if f == nil {
		return out
	}

	f.TotalRows++

	accept := true
	if a.AnalyzedSampling > 0 && f.TotalRows > a.AnalyzedSampling {
		p := float64(a.AnalyzedSampling) / float64(f.TotalRows)
		accept = a.Rnd.Float64() < p
	}
	if !accept {
		return Outcome{Found: true, Forest: f}
	}

	f.AnalyzedRows++
	sc, exceeds := a.score(f, x)
	outlier := exceeds && a.Gate.Pass(f, a.Scorer, x)
	if outlier {
		f.HighAnalyzedRows++
	}

	return Outcome{Found: true, Sampled: true, Forest: f, Score: sc, Outlier: outlier}
}

// Accumulate adds x into key's forest running aggregate summary, for the
// streaming half of the aggregate analyze path (spec.md §4.6 "Aggregate
// paths"): one accumulating row per category, summarized and scored once
// at end of stream by AnalyzeAggregate. Filtered and unknown categories
// both report Found/Filtered exactly as Analyze does, so callers can
// drive the same "new category" format decision either way.
func (a *Analyzer) Accumulate(key string, x []float64) Outcome {
	f, out := a.forestFor(key)
	if f == nil {
		return out
	}
	f.TotalRows++
	f.Reservoir.AddAggregate(x)
	return Outcome{Found: true, Forest: f}
}

// AccumulateAny adds x into key's own forest running aggregate summary for
// the categorize aggregate path, bypassing the forest's filter rule:
// accumulation always targets the record's own category, and filtering is
// applied only once, when Categorize later picks the best-scoring match
// across all forests for each accumulated summary (spec.md §4.6
// "Aggregate paths").
func (a *Analyzer) AccumulateAny(key string, x []float64) bool {
	id, ok := a.Router.Resolve(key)
	if !ok {
		return false
	}
	f := a.Forests[id]
	if f == nil {
		return false
	}
	f.TotalRows++
	f.Reservoir.AddAggregate(x)
	return true
}

// AnalyzeAggregate scores the accumulated summary row for key's forest,
// for the aggregate-mode end-of-stream pass (spec.md §4.6 "Aggregate
// paths").
func (a *Analyzer) AnalyzeAggregate(key string) Outcome {
	f, out := a.forestFor(key)
	if f == nil {
		return out
	}
	if f.Reservoir.Summary == nil {
		return Outcome{Found: true, Forest: f}
	}
	sc, exceeds := a.score(f, f.Reservoir.Summary)
	outlier := exceeds && a.Gate.Pass(f, a.Scorer, f.Reservoir.Summary)
	return Outcome{Found: true, Sampled: true, Forest: f, Score: sc, Outlier: outlier}
}

// GridPoint is one synthetic point produced by Grid.
type GridPoint struct {
	Forest *forest.Forest
	X      []float64
	Score  float64
}

// Grid synthesizes a cartesian-product grid of points across each
// eligible forest's per-dimension [min,max] range and reports the points
// that score as outliers (spec.md §1, "synthesize test grids"; grounded
// in original_source's test2 in learn.c). extension widens the sampled
// range symmetrically around [min,max] (0 leaves it unchanged); interval
// is the number of steps taken across each dimension's range.
func (a *Analyzer) Grid(extension float64, interval int) []GridPoint {
	if interval < 1 {
		interval = 256
	}

	var out []GridPoint
	for _, f := range a.Forests {
		if f == nil || f.Filtered || !f.Eligible() {
			continue
		}
		out = append(out, gridForest(a, f, extension, interval)...)
	}
	return out
}

func gridForest(a *Analyzer, f *forest.Forest, extension float64, interval int) []GridPoint {
	d := len(f.Stats.Min)
	if d == 0 {
		return nil
	}
	length := make([]float64, d)
	for i := range length {
		length[i] = f.Stats.Max[i] - f.Stats.Min[i]
		if length[i] == 0 {
			length[i] = 1
		}
	}

	var out []GridPoint
	idx := make([]int, d)
	prev := make([]float64, d)
	first := true
	for idx[0] <= interval {
		x := make([]float64, d)
		for i := 0; i < d; i++ {
			x[i] = (1+extension)*(float64(idx[i])/float64(interval))*length[i] +
				(f.Stats.Min[i] - extension*length[i]/2)
		}
		if first || !sameVector(x, prev) {
			if sc, exceeds := a.score(f, x); exceeds {
				out = append(out, GridPoint{Forest: f, X: x, Score: sc})
			}
			prev, first = x, false
		}

		for i := d - 1; i >= 0; i-- {
			idx[i]++
			if i == 0 || idx[i] <= interval {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

func sameVector(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Categorize scores x in scaled mode against every non-filtered,
// eligible forest and returns the forest with the minimal scaled score
// (the best-matching category). If scoreLimit is set, it also reports
// whether that minimum still exceeds threshold, meaning the record
// doesn't really belong to any trained category (spec.md §4.6
// "Categorize").
func (a *Analyzer) Categorize(x []float64, scoreLimit bool) (best *forest.Forest, bestScore float64, ok bool) {
	bestScore = math.Inf(1)
	for _, f := range a.Forests {
		if f.Filtered || !f.Eligible() {
			continue
		}
		s := a.Scorer.Scaled(f, x)
		if s < bestScore {
			bestScore = s
			best = f
		}
	}
	if best == nil {
		return nil, 0, false
	}
	if scoreLimit && bestScore > a.Threshold {
		return best, bestScore, false
	}
	return best, bestScore, true
}
