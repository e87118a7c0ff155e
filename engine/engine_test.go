// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"testing"

	"github.com/TimoSavi/ceif/config"
	"github.com/TimoSavi/ceif/persist"
)

func newTestEngine() *Engine {
	cfg := config.Default()
	cfg.TreeCount = 10
	cfg.SamplesMax = 16
	cfg.CategoryColumns = []int{0}

	e := New(cfg, 1)
	e.DimCols = []int{1, 2}
	return e
}

func TestObserveCreatesForestOnFirstSight(t *testing.T) {
	e := newTestEngine()
	fields, x := e.ParseRecord("A,1,1")
	e.Observe(fields, x)

	if e.Router.Count() != 1 {
		t.Fatalf("Router.Count() = %d, want 1", e.Router.Count())
	}
	id, ok := e.Router.Resolve("A")
	if !ok {
		t.Fatal("expected category A to resolve")
	}
	if e.Forests[id] == nil || e.Forests[id].Reservoir.Len() != 1 {
		t.Fatalf("forest A reservoir len = %v, want 1", e.Forests[id])
	}
}

func TestParseRecordPadsShortRows(t *testing.T) {
	e := newTestEngine()
	_, x := e.ParseRecord("A,1")
	if len(x) != 2 || x[1] != 0 {
		t.Errorf("ParseRecord short row = %v, want [1 0]", x)
	}
}

func TestTrainFiltersSmallForests(t *testing.T) {
	e := newTestEngine()
	fields, x := e.ParseRecord("A,1,1")
	e.Observe(fields, x)

	if err := e.Train(); err != nil {
		t.Fatalf("Train: %v", err)
	}
	id, _ := e.Router.Resolve("A")
	if !e.Forests[id].Filtered {
		t.Error("expected a single-sample forest to be filtered after training")
	}
}

func TestSaveLoadLineRoundTrip(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 40; i++ {
		v := []float64{-1, 0, 1}[i%3]
		fields, x := e.ParseRecord("A," + floatStr(v) + "," + floatStr(v))
		e.Observe(fields, x)
	}
	if err := e.Train(); err != nil {
		t.Fatalf("Train: %v", err)
	}

	var buf bytes.Buffer
	if err := e.Save(&buf, persist.LineCodec{Decimals: 6}, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}

	e2 := newTestEngine()
	if err := e2.Load(&buf, persist.LineCodec{Decimals: 6}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	id, ok := e2.Router.Resolve("A")
	if !ok {
		t.Fatal("expected reloaded router to resolve category A")
	}
	if e2.Forests[id].Reservoir.Len() != 40 {
		t.Errorf("reloaded reservoir len = %d, want 40", e2.Forests[id].Reservoir.Len())
	}
}

func floatStr(v float64) string {
	if v == -1 {
		return "-1"
	}
	if v == 0 {
		return "0"
	}
	return "1"
}
