// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package cluster locates, for each non-filtered forest, up to
forest.ClusterMax sample cluster centers used for per-dimension outlier
attribution (SPEC_FULL.md §7 / spec.md §4.5).

Center discovery ranks samples by score exactly as the teacher's
classifier.Runtime.Performance ranks classification probabilities
(classifier/runtime.go): numerus.Floats64InplaceMergesort keeps an index
slice aligned with the sorted score slice so ranks can be read back as
forest sample indices, not just values.

A forest's category is one string shared by every sample in it, not a
per-sample label, so nothing here sorts a parallel []string slice; the
teacher's tekstus-based label reordering has no analogue in this
package.
*/
package cluster

import (
	"math"

	"github.com/shuLhan/numerus"

	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/vecmath"
	"github.com/TimoSavi/ceif/score"
)

// candidateFraction is the fraction of lowest-scoring samples considered
// cluster-center candidates, matching the 97.5% figure in spec.md §4.5.
const candidateFraction = 0.975

func effVec(f *forest.Forest, idx int) []float64 {
	if f.RefDim >= 0 {
		return f.Reservoir.X[idx].Scaled
	}
	return f.Reservoir.X[idx].X
}

// Find discovers f's cluster centers and records them, along with the
// cluster radius and coverage ratio, on f itself. It also assigns every
// sample's ClusterCenter to its nearest surviving center.
func Find(f *forest.Forest, sc *score.Scorer, relativeSize float64) {
	n := f.Reservoir.Len()
	if n == 0 {
		return
	}

	scores := make([]float64, n)
	ids := numerus.IntCreateSeq(0, n-1)
	for i := range f.Reservoir.X {
		scores[i] = sc.Raw(f, f.Reservoir.X[i].X)
	}
	numerus.Floats64InplaceMergesort(scores, ids, 0, n, true)

	candidateCount := int(math.Ceil(float64(n) * candidateFraction))
	if candidateCount > n {
		candidateCount = n
	}
	if candidateCount == 0 {
		return
	}
	candidates := ids[:candidateCount]

	diameterSq := candidateDiameterSq(f, candidates)
	radius := relativeSize * math.Sqrt(diameterSq)
	thresholdSq := relativeSize * relativeSize * diameterSq
	separationSq := (2 * radius) * (2 * radius)

	covered := make(map[int]bool, candidateCount)
	coveredCount := make(map[int]int)

	markCovered := func(centerIdx int) int {
		center := effVec(f, centerIdx)
		count := 0
		for _, idx := range candidates {
			if covered[idx] {
				continue
			}
			if vecmath.SqDist(center, effVec(f, idx)) <= thresholdSq {
				covered[idx] = true
				count++
			}
		}
		return count
	}

	var centers []int
	first := candidates[0]
	centers = append(centers, first)
	covered[first] = true
	coveredCount[first] = markCovered(first)

	for _, idx := range candidates {
		if len(centers) >= forest.ClusterMax {
			break
		}
		if covered[idx] {
			continue
		}
		qualifies := true
		cand := effVec(f, idx)
		for _, c := range centers {
			if vecmath.SqDist(cand, effVec(f, c)) <= separationSq {
				qualifies = false
				break
			}
		}
		if !qualifies {
			continue
		}
		centers = append(centers, idx)
		covered[idx] = true
		coveredCount[idx] = markCovered(idx)
	}

	// Drop clusters covering fewer than half the average per-cluster
	// coverage (spec.md §4.5).
	total := 0
	for _, c := range centers {
		total += coveredCount[c]
	}
	avg := float64(total) / float64(len(centers))

	var kept []int
	keptCovered := 0
	for _, c := range centers {
		if float64(coveredCount[c]) >= avg/2 {
			kept = append(kept, c)
			keptCovered += coveredCount[c]
		}
	}

	f.ClusterCenters = kept
	f.ClusterRadius = radius
	if n > 0 {
		f.ClusterCoverage = float64(keptCovered) / float64(n)
	}

	assignNearestCenter(f, kept)
}

func candidateDiameterSq(f *forest.Forest, candidates []int) float64 {
	d := len(f.Stats.Min)
	cmin := make([]float64, d)
	cmax := make([]float64, d)
	for j := 0; j < d; j++ {
		cmin[j] = math.Inf(1)
		cmax[j] = math.Inf(-1)
	}
	for _, idx := range candidates {
		v := effVec(f, idx)
		for j := 0; j < d; j++ {
			if v[j] < cmin[j] {
				cmin[j] = v[j]
			}
			if v[j] > cmax[j] {
				cmax[j] = v[j]
			}
		}
	}
	return vecmath.SqDist(cmin, cmax)
}

func assignNearestCenter(f *forest.Forest, centers []int) {
	if len(centers) == 0 {
		for i := range f.Reservoir.X {
			f.Reservoir.X[i].ClusterCenter = -1
		}
		return
	}
	for i := range f.Reservoir.X {
		v := effVec(f, i)
		best := centers[0]
		bestDist := vecmath.SqDist(v, effVec(f, centers[0]))
		for _, c := range centers[1:] {
			if d := vecmath.SqDist(v, effVec(f, c)); d < bestDist {
				bestDist = d
				best = c
			}
		}
		f.Reservoir.X[i].ClusterCenter = best
	}
}

// DimensionScore computes the per-dimension attribution score used for
// outlier reporting and (optionally) false-positive suppression: for
// dimension dim, replace that coordinate of every cluster center with
// x[dim] and score the result; the minimum across centers is the
// dimension-score of dim (spec.md §4.4 "Per-dimension attribution").
func DimensionScore(f *forest.Forest, sc *score.Scorer, x []float64, dim int) float64 {
	if len(f.ClusterCenters) == 0 {
		return sc.Raw(f, x)
	}
	best := math.Inf(1)
	for _, c := range f.ClusterCenters {
		v := vecmath.Dup(f.Reservoir.X[c].X)
		v[dim] = x[dim]
		if s := sc.Raw(f, v); s < best {
			best = s
		}
	}
	return best
}
