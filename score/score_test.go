// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package score

import (
	"testing"

	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/rng"
)

func buildTestForest(t *testing.T, autoscale bool) (*forest.Forest, *rng.Source) {
	t.Helper()
	rnd := rng.New(5)
	f := forest.New("A", 10, 16)

	// Samples clustered around {-1, 0, 1} replicated, matching
	// spec.md §8 scenario 1.
	base := []float64{-1, 0, 1}
	for i := 0; i < 40; i++ {
		f.Reservoir.Add([]float64{base[i%3]}, 0, false, rnd)
	}

	if err := f.Train(rnd, forest.TrainConfig{
		TreeCount:  10,
		SamplesMax: 16,
		Autoscale:  autoscale,
	}); err != nil {
		t.Fatal(err)
	}
	return f, rnd
}

func TestRawScoreOutlierHigherThanInlier(t *testing.T) {
	f, rnd := buildTestForest(t, false)
	sc := New(rnd, false)

	inlier := sc.Raw(f, []float64{0})
	outlier := sc.Raw(f, []float64{1000})

	if inlier <= 0 || inlier > 1 {
		t.Fatalf("inlier score %v out of (0,1]", inlier)
	}
	if outlier <= inlier {
		t.Errorf("outlier score %v should exceed inlier score %v", outlier, inlier)
	}
	if outlier <= 0.9 {
		t.Errorf("outlier score %v should be > 0.9", outlier)
	}
	if inlier >= 0.5 {
		t.Errorf("inlier score %v should be < 0.5", inlier)
	}
}

func TestScaledScoreBounds(t *testing.T) {
	f, rnd := buildTestForest(t, false)
	sc := New(rnd, false)

	lo := sc.Scaled(f, []float64{0})
	hi := sc.Scaled(f, []float64{1000})

	if lo < 0 || lo > 1 {
		t.Errorf("scaled inlier score %v out of [0,1]", lo)
	}
	if hi < 0 || hi > 1 {
		t.Errorf("scaled outlier score %v out of [0,1]", hi)
	}
	if hi <= lo {
		t.Errorf("scaled outlier %v should exceed scaled inlier %v", hi, lo)
	}
}

func TestPercentileThresholdCachedOnce(t *testing.T) {
	f, rnd := buildTestForest(t, false)
	sc := New(rnd, false)

	_, _ = sc.Percentile(f, 95, []float64{0})
	threshold1 := f.PercentileThreshold

	_, _ = sc.Percentile(f, 50, []float64{0})
	if f.PercentileThreshold != threshold1 {
		t.Error("percentile threshold should be cached after first computation, ignoring later percent args")
	}
}

func TestScoreAidsCachedOnce(t *testing.T) {
	f, rnd := buildTestForest(t, false)
	sc := New(rnd, false)

	sc.Scaled(f, []float64{0})
	min1, max1 := f.MinScore, f.MaxScore

	sc.Scaled(f, []float64{5})
	if f.MinScore != min1 || f.MaxScore != max1 {
		t.Error("score aids should not be recomputed on subsequent calls")
	}
}
