// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyze

import (
	"testing"

	"github.com/TimoSavi/ceif/category"
	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/score"
)

func buildForest(t *testing.T, rnd *rng.Source, category string, values []float64) *forest.Forest {
	t.Helper()
	f := forest.New(category, 10, 16)
	for i := 0; i < 40; i++ {
		v := values[i%len(values)]
		f.Reservoir.Add([]float64{v}, 0, false, rnd)
	}
	if err := f.Train(rnd, forest.TrainConfig{
		TreeCount:         10,
		SamplesMax:        16,
		CentroidThreshold: 0.45,
		RefinementEnabled: true,
		Autoscale:         true,
	}); err != nil {
		t.Fatalf("Train: %v", err)
	}
	return f
}

func newAnalyzer(t *testing.T) (*Analyzer, *rng.Source) {
	rnd := rng.New(1)
	router := category.New()
	f := buildForest(t, rnd, "A", []float64{-1, 0, 1})
	id, _ := router.Assign("A")
	forests := make([]*forest.Forest, id+1)
	forests[id] = f

	return &Analyzer{
		Router:    router,
		Forests:   forests,
		Scorer:    score.New(rnd, true),
		Mode:      ModeRaw,
		Threshold: 0.5,
		Rnd:       rnd,
	}, rnd
}

func TestAnalyzeUnknownCategory(t *testing.T) {
	a, _ := newAnalyzer(t)
	out := a.Analyze("nope", []float64{0})
	if out.Found {
		t.Error("expected Found=false for unknown category")
	}
}

func TestAnalyzeKnownCategoryScoresAndCounts(t *testing.T) {
	a, _ := newAnalyzer(t)
	out := a.Analyze("A", []float64{1000})
	if !out.Found || out.Forest == nil {
		t.Fatal("expected a resolved forest")
	}
	if out.Forest.TotalRows != 1 || out.Forest.AnalyzedRows != 1 {
		t.Errorf("TotalRows/AnalyzedRows = %d/%d, want 1/1", out.Forest.TotalRows, out.Forest.AnalyzedRows)
	}
	if !out.Outlier {
		t.Error("expected an extreme value to be flagged an outlier")
	}
}

func TestAnalyzeFilteredForestProducesNoScore(t *testing.T) {
	a, _ := newAnalyzer(t)
	a.Router.SetFilters([]category.Filter{mustFilter(t, "^A$")})
	out := a.Analyze("A", []float64{1000})
	if !out.Found || !out.Filtered {
		t.Errorf("Outcome = %+v, want Found && Filtered", out)
	}
}

func mustFilter(t *testing.T, expr string) category.Filter {
	t.Helper()
	f, err := category.NewFilter(expr)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCategorizePicksLowestScoringForest(t *testing.T) {
	rnd := rng.New(2)
	router := category.New()
	fa := buildForest(t, rnd, "A", []float64{1, 1})
	idA, _ := router.Assign("A")
	fb := buildForest(t, rnd, "B", []float64{10, 10})
	idB, _ := router.Assign("B")

	n := idA
	if idB > n {
		n = idB
	}
	forests := make([]*forest.Forest, n+1)
	forests[idA] = fa
	forests[idB] = fb

	a := &Analyzer{
		Router:    router,
		Forests:   forests,
		Scorer:    score.New(rnd, true),
		Mode:      ModeScaled,
		Threshold: 0.6,
		Rnd:       rnd,
	}

	best, _, ok := a.Categorize([]float64{1.1}, false)
	if !ok || best != fa {
		t.Errorf("Categorize([1.1]) picked %v, want forest A", best)
	}

	best, _, ok = a.Categorize([]float64{9.5}, false)
	if !ok || best != fb {
		t.Errorf("Categorize([9.5]) picked %v, want forest B", best)
	}
}

func TestAnalyzedSamplingEventuallySkipsRows(t *testing.T) {
	a, _ := newAnalyzer(t)
	a.AnalyzedSampling = 5

	sampledCount := int64(0)
	for i := 0; i < 50; i++ {
		out := a.Analyze("A", []float64{0})
		if out.Sampled {
			sampledCount++
		}
	}
	if sampledCount >= 50 {
		t.Error("expected analyzed-row sampling to skip some rows once TotalRows exceeds K")
	}
}

func TestAnalyzeAggregateScoresSummaryRow(t *testing.T) {
	rnd := rng.New(3)
	router := category.New()
	f := buildForest(t, rnd, "X", []float64{1, 2})
	id, _ := router.Assign("X")
	forests := make([]*forest.Forest, id+1)
	forests[id] = f

	f.Reservoir.AddAggregate([]float64{1})
	f.Reservoir.AddAggregate([]float64{3})
	f.Reservoir.AddAggregate([]float64{5})

	a := &Analyzer{
		Router:    router,
		Forests:   forests,
		Scorer:    score.New(rnd, true),
		Mode:      ModeRaw,
		Threshold: 0.5,
		Rnd:       rnd,
	}

	out := a.AnalyzeAggregate("X")
	if !out.Found || out.Forest == nil {
		t.Fatal("expected aggregate outcome to resolve the forest")
	}
}
