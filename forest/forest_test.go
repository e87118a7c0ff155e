// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package forest

import (
	"testing"

	"github.com/TimoSavi/ceif/internal/rng"
)

func fillReservoir(f *Forest, n int, rnd *rng.Source) {
	for i := 0; i < n; i++ {
		f.Reservoir.Add([]float64{float64(i % 3), float64(i % 5)}, 0, false, rnd)
	}
}

func TestTrainBelowSamplesMinFilters(t *testing.T) {
	f := New("A", 10, 16)
	rnd := rng.New(1)
	fillReservoir(f, SamplesMin-1, rnd)

	if err := f.Train(rnd, TrainConfig{TreeCount: 10, SamplesMax: 16}); err != nil {
		t.Fatal(err)
	}
	if !f.Filtered {
		t.Error("forest below SamplesMin must be filtered")
	}
	if f.Eligible() {
		t.Error("filtered forest must not be eligible")
	}
}

func TestTrainBuildsTrees(t *testing.T) {
	f := New("A", 10, 16)
	rnd := rng.New(1)
	fillReservoir(f, 40, rnd)

	if err := f.Train(rnd, TrainConfig{TreeCount: 10, SamplesMax: 16, CentroidThreshold: 0.45}); err != nil {
		t.Fatal(err)
	}
	if !f.Eligible() {
		t.Fatal("forest with 40 samples and 10 trees should be eligible")
	}
	if len(f.Trees) != 10 {
		t.Errorf("len(Trees) = %d, want 10", len(f.Trees))
	}
	if f.C <= 0 {
		t.Errorf("forest.C = %v, want > 0", f.C)
	}
}

func TestRetrainWithNoNewDataIsIdempotent(t *testing.T) {
	f := New("A", 10, 16)
	rnd := rng.New(1)
	fillReservoir(f, 40, rnd)

	if err := f.Train(rnd, TrainConfig{TreeCount: 10, SamplesMax: 16}); err != nil {
		t.Fatal(err)
	}
	c1, h1 := f.C, f.HeightLimit

	// A second Train call with an identical reservoir and the same
	// deterministic rng draws a fresh set of trees, but the forest-level
	// constants derived purely from the sample counts must match.
	if err := f.Train(rnd, TrainConfig{TreeCount: 10, SamplesMax: 16}); err != nil {
		t.Fatal(err)
	}
	if f.C != c1 || f.HeightLimit != h1 {
		t.Errorf("forest constants changed on retrain: c %v->%v, height %v->%v", c1, f.C, h1, f.HeightLimit)
	}
}

func TestAvgSampleDistPositiveForNonDegenerateForest(t *testing.T) {
	f := New("A", 10, 16)
	rnd := rng.New(1)
	fillReservoir(f, 40, rnd)

	if err := f.Train(rnd, TrainConfig{TreeCount: 10, SamplesMax: 16}); err != nil {
		t.Fatal(err)
	}
	if f.AvgSampleDist <= 0 {
		t.Errorf("AvgSampleDist = %v, want > 0", f.AvgSampleDist)
	}
}
