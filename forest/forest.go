// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package forest implements the per-category Extended Isolation Forest: the
sample reservoir, the forest-level constants (c, height limit, average
nearest-sample distance, autoscale reference dimension), and the trainer
that builds TreeCount trees per forest from rotating slices of the
reservoir (SPEC_FULL.md §4 / spec.md §4.3).

It plays the role the teacher's classifier/randomforest.Runtime plays for
bagged CART trees, generalized from supervised bootstrap aggregation to
unsupervised extended isolation trees: Build there is Train here, and
the per-tree growth that GrowTree does there is left to package itree.
*/
package forest

import (
	"fmt"
	"math"
	"time"

	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/internal/vecmath"
	"github.com/TimoSavi/ceif/itree"
	"github.com/TimoSavi/ceif/sample"
)

// SamplesMin is the minimum sample count for a forest to be eligible for
// training/scoring, matching SAMPLES_MIN in the original C source.
const SamplesMin = 24

// ClusterMax is the maximum number of cluster centers tracked per forest,
// matching CLUSTER_MAX in the original C source. It is defined here (not
// in package cluster) because it also bounds Forest.ClusterCenters.
const ClusterMax = 256

// TrainConfig configures one forest's training run.
type TrainConfig struct {
	TreeCount         int
	SamplesMax        int
	CentroidThreshold float64
	RefinementEnabled bool
	Autoscale         bool
}

// Forest is one category's independent extended isolation forest.
type Forest struct {
	Category string
	Filtered bool

	Reservoir *sample.Reservoir
	Stats     sample.Stats
	RefDim    int // autoscale reference dimension, -1 if inactive

	AvgSampleDist float64

	Trees     []*itree.Tree
	TreeCount int
	C         float64
	HeightLimit int

	// Cached scoring aids, lazily populated by package score and then
	// reused across calls for this forest.
	MinScore           float64
	MaxScore           float64
	ScoreAidsComputed  bool
	PercentileThreshold float64
	PercentileComputed bool

	// Cluster-finder output (package cluster fills these in).
	ClusterCenters  []int
	ClusterRadius   float64
	ClusterCoverage float64

	CreatedAt   time.Time
	LastUpdated time.Time

	TotalRows         int64
	AnalyzedRows      int64
	HighAnalyzedRows  int64

	xCurrent      int
	xCurrentInit  bool
}

// New creates an empty forest for category, sized to hold at most
// treeCount*samplesMax samples in its reservoir (spec.md §3:
// samples_total = tree_count * samples_max).
func New(category string, treeCount, samplesMax int) *Forest {
	now := time.Now()
	return &Forest{
		Category:    category,
		Reservoir:   sample.New(treeCount * samplesMax),
		RefDim:      -1,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Touch updates LastUpdated, called on every observation of this
// category during training (spec.md §4.1).
func (f *Forest) Touch() {
	f.LastUpdated = time.Now()
}

// Eligible reports whether the forest has enough samples and at least one
// tree to participate in scoring (spec.md §3 invariant).
func (f *Forest) Eligible() bool {
	return !f.Filtered && f.Reservoir.Len() >= SamplesMin && f.TreeCount > 0
}

// Train (re)builds the forest's trees from its current reservoir. A
// forest below SamplesMin is marked Filtered and left tree-less; this is
// normal control flow, not an error (spec.md §3).
func (f *Forest) Train(rnd *rng.Source, cfg TrainConfig) error {
	if f.Reservoir.Len() < SamplesMin {
		f.Filtered = true
		f.TreeCount = 0
		f.Trees = nil
		return nil
	}
	if cfg.TreeCount <= 0 {
		return fmt.Errorf("forest %q: tree count must be positive", f.Category)
	}

	f.Stats = f.Reservoir.Recompute()
	f.RefDim = -1
	if cfg.Autoscale {
		f.RefDim = sample.Autoscale(f.Reservoir.X, f.Stats)
	}
	f.AvgSampleDist = f.computeAvgSampleDist()

	if !f.xCurrentInit {
		f.xCurrent = rnd.UniformInt(f.Reservoir.Len())
		f.xCurrentInit = true
	}

	centroidThreshold := cfg.CentroidThreshold
	if centroidThreshold <= 0 {
		centroidThreshold = itree.DefaultCentroidThreshold
	}

	trees := make([]*itree.Tree, 0, cfg.TreeCount)
	totalUsed := 0
	for i := 0; i < cfg.TreeCount; i++ {
		raw, eff, indices := f.nextTreeSlice(cfg.SamplesMax)
		totalUsed += len(raw)

		params := itree.BuildParams{
			HeightLimit:       itree.HeightLimit(len(raw)),
			CentroidThreshold: centroidThreshold,
			RefinementEnabled: cfg.RefinementEnabled,
			AvgSampleDist:     f.AvgSampleDist,
			RawMin:            f.Stats.Min,
			RawMax:            f.Stats.Max,
			ScaleP:            f.scaleP(),
		}
		trees = append(trees, itree.Build(raw, eff, indices, rnd, params))
	}

	f.Trees = trees
	f.TreeCount = cfg.TreeCount
	f.Filtered = false

	avgPerTree := float64(totalUsed) / float64(cfg.TreeCount)
	f.C = rnd.C(avgPerTree)
	f.HeightLimit = ceilLog2(avgPerTree) + 2

	// Invalidate scoring aids; they depend on the sample set and trees.
	f.ScoreAidsComputed = false
	f.PercentileComputed = false

	return nil
}

// nextTreeSlice takes min(|X|, samplesMax) consecutive samples from the
// reservoir's ring, starting at the current cursor, and advances the
// cursor past them (spec.md §4.3, "Per-tree sample selection").
func (f *Forest) nextTreeSlice(samplesMax int) (raw, eff [][]float64, indices []int) {
	n := f.Reservoir.Len()
	take := samplesMax
	if take > n {
		take = n
	}

	raw = make([][]float64, take)
	eff = make([][]float64, take)
	indices = make([]int, take)
	for i := 0; i < take; i++ {
		j := (f.xCurrent + i) % n
		s := f.Reservoir.X[j]
		raw[i] = s.X
		indices[i] = j
		if f.RefDim >= 0 && s.Scaled != nil {
			eff[i] = s.Scaled
		} else {
			eff[i] = s.X
		}
	}
	f.xCurrent = (f.xCurrent + take) % n
	return
}

// scaleP returns the raw-to-scaled split-point mapping used by the tree
// builder when autoscale is active, or nil when it is not.
func (f *Forest) scaleP() func([]float64) []float64 {
	if f.RefDim < 0 {
		return nil
	}
	refMin, refMax := f.Stats.Min[f.RefDim], f.Stats.Max[f.RefDim]
	min, max := f.Stats.Min, f.Stats.Max
	return func(p []float64) []float64 {
		out := make([]float64, len(p))
		for i := range p {
			out[i] = vecmath.Scale(p[i], min[i], max[i], refMin, refMax)
		}
		return out
	}
}

// computeAvgSampleDist estimates the average nearest-sample distance
// analytically, per spec.md §4.3:
//
//	sqrt(D/1.5 + 1/(2.4*D) - 1/12) * (V/|X|)^(1/D)
//
// where V is the hypercube volume spanned by the samples (or, under
// autoscale, the D-th power of the reference dimension's range). Any
// zero-width dimension factor defaults to 1 to keep V positive.
func (f *Forest) computeAvgSampleDist() float64 {
	d := len(f.Stats.Min)
	n := f.Reservoir.Len()
	if d == 0 || n == 0 {
		return 0
	}

	var volume float64
	if f.RefDim >= 0 {
		side := f.Stats.Max[f.RefDim] - f.Stats.Min[f.RefDim]
		if side <= 0 {
			side = 1
		}
		volume = math.Pow(side, float64(d))
	} else {
		volume = 1
		for i := 0; i < d; i++ {
			w := f.Stats.Max[i] - f.Stats.Min[i]
			if w <= 0 {
				w = 1
			}
			volume *= w
		}
	}

	fd := float64(d)
	inner := fd/1.5 + 1/(2.4*fd) - 1.0/12
	if inner < 0 {
		inner = 0
	}
	return math.Sqrt(inner) * math.Pow(volume/float64(n), 1/fd)
}

func ceilLog2(n float64) int {
	if n < 2 {
		return 1
	}
	return int(math.Ceil(math.Log2(n)))
}
