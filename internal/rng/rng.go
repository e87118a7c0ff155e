// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package rng provides the seedable random source shared by the tree builder,
the sample reservoir, and the cluster finder.

Two pools are precomputed once per Source and then cycled rather than
redrawn, so that a run is fully reproducible from a single seed (see
SPEC_FULL.md §1, "Numeric primitives"): a standard-normal pool of size
FastNSamples and a harmonic-expectation (c(n)) pool of size FastCSamples.
*/
package rng

import (
	"math"
	"math/rand"
)

const (
	// FastNSamples is the size of the precomputed standard-normal pool,
	// matching FAST_N_SAMPLES in the original C source.
	FastNSamples = 32771

	// FastCSamples is the size of the precomputed harmonic-expectation
	// pool, matching FAST_C_SAMPLES in the original C source.
	FastCSamples = 2048

	// eulerGamma is the Euler-Mascheroni constant used by the harmonic
	// expectation c(n).
	eulerGamma = 0.5772156649
)

// Source is a seedable random source with cached normal deviates and cached
// c(n) values. It is not safe for concurrent use; callers that train or
// score multiple forests concurrently should use one Source per goroutine
// or synchronize access.
type Source struct {
	rnd *rand.Rand

	normals   [FastNSamples]float64
	normalPos int

	cvals [FastCSamples]float64
}

// New creates a Source seeded deterministically from seed.
func New(seed int64) *Source {
	s := &Source{rnd: rand.New(rand.NewSource(seed))}
	for i := range s.normals {
		s.normals[i] = s.rnd.NormFloat64()
	}
	for i := range s.cvals {
		s.cvals[i] = harmonicExpectation(float64(i))
	}
	return s
}

// NextNormal returns the next standard-normal deviate from the cached pool,
// cycling back to the start once exhausted.
func (s *Source) NextNormal() float64 {
	v := s.normals[s.normalPos]
	s.normalPos++
	if s.normalPos >= len(s.normals) {
		s.normalPos = 0
	}
	return v
}

// NextNormalVector fills dst with n cycled standard-normal deviates.
func (s *Source) NextNormalVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = s.NextNormal()
	}
	return v
}

// UniformInt returns a uniform integer in [0, n). It panics if n <= 0.
func (s *Source) UniformInt(n int) int {
	return s.rnd.Intn(n)
}

// Float64 returns a uniform float64 in [0, 1).
func (s *Source) Float64() float64 {
	return s.rnd.Float64()
}

// Scale maps x from [srcMin,srcMax] into [dstMin,dstMax]. It has no
// randomness of its own; it lives here so callers that already hold a
// *Source for sample scaling don't need a second import.
func (s *Source) Scale(x, srcMin, srcMax, dstMin, dstMax float64) float64 {
	if srcMax == srcMin {
		return dstMin
	}
	t := (x - srcMin) / (srcMax - srcMin)
	return dstMin + t*(dstMax-dstMin)
}

// C returns the expected depth in a random binary search tree over n keys
// (the harmonic expectation used to correct a leaf's path length for its
// un-split sample count). Values below FastCSamples are served from the
// cached pool; larger values are computed directly.
func (s *Source) C(n float64) float64 {
	if n < 0 {
		return 0
	}
	if n < FastCSamples {
		idx := int(n)
		if float64(idx) == n {
			return s.cvals[idx]
		}
	}
	return harmonicExpectation(n)
}

// harmonicExpectation computes c(k) = 2*(ln(k-1)+gamma) - 2*(k-1)/k for
// k >= 2, with c(0) = c(1) = 0 and the fixed-point c(2) = 1 (the expected
// depth in a 2-leaf binary tree), per REDESIGN FLAG / Open Question #2 in
// spec.md §9: later code generations return 1 for n=2, which is the
// mathematically correct value, not the 0 an earlier variant returned.
func harmonicExpectation(k float64) float64 {
	if k <= 1 {
		return 0
	}
	if k == 2 {
		return 1
	}
	return 2*(math.Log(k-1)+eulerGamma) - 2*(k-1)/k
}
