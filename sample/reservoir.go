// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package sample implements the per-forest bounded reservoir used during
training ingestion: uniform reservoir sampling over the observed stream,
optional duplicate rejection, optional aggregate (single accumulating row)
mode, and the min/max/avg/density statistics recomputed once ingestion
completes (SPEC_FULL.md §3 / spec.md §4.2).
*/
package sample

import (
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/internal/vecmath"
)

// Sample is one training row owned by exactly one forest: a raw coordinate
// vector, an optional autoscaled copy, and the index of its cluster center
// (-1 if unassigned).
type Sample struct {
	X             []float64
	Scaled        []float64
	ClusterCenter int
}

// Stats holds the per-dimension statistics recomputed after ingestion
// completes.
type Stats struct {
	Min, Max, Avg, Density []float64
}

// Reservoir is a bounded, uniformly-sampled reservoir of Sample values.
// Beyond Cap samples it replaces a uniformly random existing sample with
// probability Cap/(Cap+overflow), which yields a uniform sample over the
// full observed stream (spec.md §4.2, §8 "Boundaries").
type Reservoir struct {
	Cap       int
	X         []Sample
	overflow  int64
	Aggregate bool
	Summary   []float64
	hasSumRow bool
}

// New creates an empty reservoir bounded at cap samples.
func New(cap int) *Reservoir {
	return &Reservoir{Cap: cap}
}

// Len returns the number of samples currently held.
func (r *Reservoir) Len() int {
	return len(r.X)
}

// AddAggregate accumulates x component-wise into the single running summary
// row used by aggregate mode (spec.md §4.2). The summary row is sized
// from len(x) on first use.
func (r *Reservoir) AddAggregate(x []float64) {
	if !r.hasSumRow {
		r.Summary = make([]float64, len(x))
		r.hasSumRow = true
	}
	for i, v := range x {
		r.Summary[i] += v
	}
}

// isDuplicate reports whether x exactly matches, element-wise, any sample
// already in the reservoir.
func (r *Reservoir) isDuplicate(x []float64) bool {
	for i := range r.X {
		if vecmath.SqDist(r.X[i].X, x) == 0 {
			return true
		}
	}
	return false
}

// Add offers x to the reservoir.
//
// uniquePercent in [0,100] gates duplicate rejection: with probability
// uniquePercent/100 the candidate is compared element-wise against every
// existing sample and dropped on an exact match. saved disables duplicate
// rejection entirely (used when replaying a persisted snapshot, per
// spec.md §4.2's "Duplicate rejection is disabled when loading a
// persisted forest").
//
// It reports whether x was stored (appended or used to replace an existing
// sample) and whether it was dropped as a duplicate.
func (r *Reservoir) Add(x []float64, uniquePercent float64, saved bool, rnd *rng.Source) (stored, duplicate bool) {
	if !saved && uniquePercent > 0 {
		if rnd.Float64() < uniquePercent/100 && r.isDuplicate(x) {
			return false, true
		}
	}

	if len(r.X) < r.Cap {
		r.X = append(r.X, Sample{X: x, ClusterCenter: -1})
		return true, false
	}

	r.overflow++
	p := float64(r.Cap) / float64(int64(r.Cap)+r.overflow)
	if rnd.Float64() < p {
		idx := rnd.UniformInt(r.Cap)
		r.X[idx] = Sample{X: x, ClusterCenter: -1}
		return true, false
	}
	return false, false
}

// Recompute derives Stats from the current sample set. Density is clamped
// to 1/n when the dimension's range is zero, per spec.md §8's boundary
// case ("all samples in a dimension share a value").
func (r *Reservoir) Recompute() Stats {
	n := len(r.X)
	if n == 0 {
		return Stats{}
	}
	d := len(r.X[0].X)

	st := Stats{
		Min:     make([]float64, d),
		Max:     make([]float64, d),
		Avg:     make([]float64, d),
		Density: make([]float64, d),
	}
	copy(st.Min, r.X[0].X)
	copy(st.Max, r.X[0].X)

	for i := 0; i < n; i++ {
		x := r.X[i].X
		for j := 0; j < d; j++ {
			if x[j] < st.Min[j] {
				st.Min[j] = x[j]
			}
			if x[j] > st.Max[j] {
				st.Max[j] = x[j]
			}
			st.Avg[j] += x[j]
		}
	}
	for j := 0; j < d; j++ {
		st.Avg[j] /= float64(n)
		width := st.Max[j] - st.Min[j]
		if width == 0 {
			st.Density[j] = 1 / float64(n)
		} else {
			st.Density[j] = width / float64(n)
		}
	}
	return st
}

// Autoscale picks the dimension with the widest max-min range as the scale
// reference and fills each sample's Scaled vector by mapping every
// dimension onto that reference's [min,max] range (spec.md §4.2). It
// returns -1 if every dimension has zero width (autoscale inactive).
func Autoscale(samples []Sample, st Stats) int {
	if len(st.Min) == 0 {
		return -1
	}
	ref := -1
	widest := 0.0
	for i := range st.Min {
		w := st.Max[i] - st.Min[i]
		if w > widest {
			widest = w
			ref = i
		}
	}
	if ref < 0 {
		return -1
	}

	refMin, refMax := st.Min[ref], st.Max[ref]
	for i := range samples {
		x := samples[i].X
		scaled := make([]float64, len(x))
		for j := range x {
			scaled[j] = vecmath.Scale(x[j], st.Min[j], st.Max[j], refMin, refMax)
		}
		samples[i].Scaled = scaled
	}
	return ref
}
