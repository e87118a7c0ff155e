// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sample

import (
	"testing"

	"github.com/TimoSavi/ceif/internal/rng"
)

func TestAddFillsUpToCap(t *testing.T) {
	r := New(4)
	rnd := rng.New(1)

	for i := 0; i < 4; i++ {
		stored, dup := r.Add([]float64{float64(i)}, 0, false, rnd)
		if !stored || dup {
			t.Fatalf("Add(%d) = (%v,%v), want (true,false)", i, stored, dup)
		}
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
}

func TestDuplicateRejection(t *testing.T) {
	r := New(10)
	rnd := rng.New(1)

	r.Add([]float64{1, 2}, 0, false, rnd)

	sawDup := false
	for i := 0; i < 200; i++ {
		_, dup := r.Add([]float64{1, 2}, 100, false, rnd)
		if dup {
			sawDup = true
			break
		}
	}
	if !sawDup {
		t.Fatal("expected duplicate rejection to eventually trigger at uniquePercent=100")
	}
}

func TestSavedModeDisablesDuplicateRejection(t *testing.T) {
	r := New(10)
	rnd := rng.New(1)

	r.Add([]float64{1, 2}, 0, false, rnd)

	for i := 0; i < 50; i++ {
		stored, dup := r.Add([]float64{1, 2}, 100, true, rnd)
		if dup {
			t.Fatal("saved mode must never report a duplicate")
		}
		_ = stored
	}
}

func TestDensityClampedWhenDimensionConstant(t *testing.T) {
	r := New(10)
	rnd := rng.New(1)

	for i := 0; i < 5; i++ {
		r.Add([]float64{3, float64(i)}, 0, false, rnd)
	}

	st := r.Recompute()
	if st.Min[0] != 3 || st.Max[0] != 3 {
		t.Fatalf("expected constant dimension 0 min=max=3, got min=%v max=%v", st.Min[0], st.Max[0])
	}
	want := 1.0 / 5.0
	if st.Density[0] != want {
		t.Errorf("Density[0] = %v, want %v", st.Density[0], want)
	}
	// dimension 1 is not constant, density should reflect range/n
	if want1 := (st.Max[1] - st.Min[1]) / 5; st.Density[1] != want1 {
		t.Errorf("Density[1] = %v, want %v", st.Density[1], want1)
	}
}

func TestAutoscaleMapsToWidestRange(t *testing.T) {
	samples := []Sample{
		{X: []float64{0, 0}},
		{X: []float64{10, 1}},
	}
	st := Stats{Min: []float64{0, 0}, Max: []float64{10, 1}}

	ref := Autoscale(samples, st)
	if ref != 0 {
		t.Fatalf("Autoscale ref = %d, want 0 (widest dimension)", ref)
	}
	// dimension 1 (narrow) must be rescaled into [0,10]
	if samples[0].Scaled[1] != 0 {
		t.Errorf("scaled[0][1] = %v, want 0", samples[0].Scaled[1])
	}
	if samples[1].Scaled[1] != 10 {
		t.Errorf("scaled[1][1] = %v, want 10", samples[1].Scaled[1])
	}
}

func TestAggregateAccumulates(t *testing.T) {
	r := New(10)
	r.Aggregate = true

	r.AddAggregate([]float64{1, 2})
	r.AddAggregate([]float64{3, 4})
	r.AddAggregate([]float64{5, 6})

	want := []float64{9, 12}
	for i := range want {
		if r.Summary[i] != want[i] {
			t.Errorf("Summary[%d] = %v, want %v", i, r.Summary[i], want[i])
		}
	}
}
