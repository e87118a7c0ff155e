// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cluster

import (
	"testing"

	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/score"
)

func buildTwoModeForest(t *testing.T) (*forest.Forest, *score.Scorer) {
	t.Helper()
	rnd := rng.New(9)
	f := forest.New("A", 10, 32)

	for i := 0; i < 30; i++ {
		f.Reservoir.Add([]float64{0, 0}, 0, false, rnd)
	}
	for i := 0; i < 30; i++ {
		f.Reservoir.Add([]float64{50, 50}, 0, false, rnd)
	}

	if err := f.Train(rnd, forest.TrainConfig{TreeCount: 10, SamplesMax: 32}); err != nil {
		t.Fatal(err)
	}
	return f, score.New(rnd, false)
}

func TestFindDiscoversAtLeastOneCenter(t *testing.T) {
	f, sc := buildTwoModeForest(t)

	Find(f, sc, 0.1)

	if len(f.ClusterCenters) == 0 {
		t.Fatal("expected at least one cluster center")
	}
	if f.ClusterRadius < 0 {
		t.Errorf("ClusterRadius = %v, want >= 0", f.ClusterRadius)
	}
	if f.ClusterCoverage <= 0 || f.ClusterCoverage > 1 {
		t.Errorf("ClusterCoverage = %v, want in (0,1]", f.ClusterCoverage)
	}
}

func TestEverySampleGetsAClusterAssignment(t *testing.T) {
	f, sc := buildTwoModeForest(t)
	Find(f, sc, 0.1)

	for i, s := range f.Reservoir.X {
		if len(f.ClusterCenters) > 0 && s.ClusterCenter < 0 {
			t.Errorf("sample %d has no cluster center assigned", i)
		}
	}
}

func TestDimensionScoreWithNoCentersFallsBackToRaw(t *testing.T) {
	f, sc := buildTwoModeForest(t)
	// Deliberately skip Find: no cluster centers recorded.
	got := DimensionScore(f, sc, []float64{0, 0}, 0)
	want := sc.Raw(f, []float64{0, 0})
	if got != want {
		t.Errorf("DimensionScore with no centers = %v, want raw score %v", got, want)
	}
}
