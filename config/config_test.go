// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	c := Default()
	if c.TreeCount != 100 {
		t.Errorf("TreeCount = %d, want 100", c.TreeCount)
	}
	if c.Separator != ',' {
		t.Errorf("Separator = %q, want ','", c.Separator)
	}
}

func TestReadFileOverlays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ceif.conf")
	content := "# comment\ntrees 50\nthreshold 0.7\ncategory 0,2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.ReadFile(path); err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	cfg := b.Freeze()

	if cfg.TreeCount != 50 {
		t.Errorf("TreeCount = %d, want 50", cfg.TreeCount)
	}
	if cfg.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Threshold)
	}
	if len(cfg.CategoryColumns) != 2 || cfg.CategoryColumns[0] != 0 || cfg.CategoryColumns[1] != 2 {
		t.Errorf("CategoryColumns = %v, want [0 2]", cfg.CategoryColumns)
	}
	// Untouched defaults survive.
	if cfg.SamplesMax != 256 {
		t.Errorf("SamplesMax = %d, want 256 (untouched default)", cfg.SamplesMax)
	}
}

func TestReadFileUnknownName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.conf")
	if err := os.WriteFile(path, []byte("bogus value\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.ReadFile(path); err == nil {
		t.Fatal("expected error for unknown config name")
	}
}

func TestApplyFlagsOverridesDefault(t *testing.T) {
	b := NewBuilder()
	if err := b.ApplyFlags(FlagOverrides{TreeCount: 10}); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}
	cfg := b.Freeze()
	if cfg.TreeCount != 10 {
		t.Errorf("TreeCount = %d, want 10", cfg.TreeCount)
	}
}

func TestParseOutlierScoreModes(t *testing.T) {
	cases := []struct {
		raw      string
		value    float64
		mode     string
		wantErrs bool
	}{
		{raw: "0.5", value: 0.5, mode: "raw"},
		{raw: "0.5s", value: 0.5, mode: "scaled"},
		{raw: "95%", value: 95, mode: "percentile"},
		{raw: "1.5", wantErrs: true},
		{raw: "101%", wantErrs: true},
	}
	for _, c := range cases {
		v, mode, err := ParseOutlierScore(c.raw)
		if c.wantErrs {
			if err == nil {
				t.Errorf("ParseOutlierScore(%q): expected error, got none", c.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseOutlierScore(%q): %v", c.raw, err)
		}
		if v != c.value || mode != c.mode {
			t.Errorf("ParseOutlierScore(%q) = (%v,%q), want (%v,%q)", c.raw, v, mode, c.value, c.mode)
		}
	}
}

func TestSetOutlierScoreRoutesMode(t *testing.T) {
	b := NewBuilder()
	if err := b.SetOutlierScore("0.3"); err != nil {
		t.Fatalf("SetOutlierScore: %v", err)
	}
	cfg := b.Freeze()
	if !cfg.RawMode || cfg.PercentileMode {
		t.Errorf("plain outlier score should select raw mode, got RawMode=%v PercentileMode=%v", cfg.RawMode, cfg.PercentileMode)
	}
	if cfg.Threshold != 0.3 {
		t.Errorf("Threshold = %v, want 0.3", cfg.Threshold)
	}

	if err := b.SetOutlierScore("90%"); err != nil {
		t.Fatalf("SetOutlierScore: %v", err)
	}
	cfg = b.Freeze()
	if !cfg.PercentileMode || cfg.RawMode {
		t.Errorf("%% outlier score should select percentile mode, got RawMode=%v PercentileMode=%v", cfg.RawMode, cfg.PercentileMode)
	}
	if cfg.Percentile != 90 {
		t.Errorf("Percentile = %v, want 90", cfg.Percentile)
	}
}

func TestConfigFileRenamedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ceif.conf")
	content := "trees 20\nsamples 128\ncluster_size 0.2\nnearest false\nauto_scale false\noutlier_score 0.4s\ndecimals 3\nanalyze_sampling 500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.ReadFile(path); err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	cfg := b.Freeze()

	if cfg.TreeCount != 20 {
		t.Errorf("TreeCount = %d, want 20", cfg.TreeCount)
	}
	if cfg.SamplesMax != 128 {
		t.Errorf("SamplesMax = %d, want 128", cfg.SamplesMax)
	}
	if cfg.ClusterRelativeSize != 0.2 {
		t.Errorf("ClusterRelativeSize = %v, want 0.2", cfg.ClusterRelativeSize)
	}
	if cfg.RefinementEnabled {
		t.Error("RefinementEnabled should be false after nearest false")
	}
	if cfg.Autoscale {
		t.Error("Autoscale should be false after auto_scale false")
	}
	if cfg.Threshold != 0.4 || cfg.RawMode || cfg.PercentileMode {
		t.Errorf("outlier_score 0.4s should select scaled mode with Threshold=0.4, got Threshold=%v RawMode=%v PercentileMode=%v",
			cfg.Threshold, cfg.RawMode, cfg.PercentileMode)
	}
	if cfg.Decimals != 3 {
		t.Errorf("Decimals = %d, want 3", cfg.Decimals)
	}
	if cfg.AnalyzedSampling != 500 {
		t.Errorf("AnalyzedSampling = %d, want 500", cfg.AnalyzedSampling)
	}
}

func TestConfigFileMaxSamplesAlias(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ceif.conf")
	if err := os.WriteFile(path, []byte("max_samples 64\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder()
	if err := b.ReadFile(path); err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if cfg := b.Freeze(); cfg.SamplesMax != 64 {
		t.Errorf("SamplesMax = %d, want 64", cfg.SamplesMax)
	}
}

func TestFreezeDoesNotAliasCategoryColumns(t *testing.T) {
	b := NewBuilder()
	b.cfg.CategoryColumns = []int{1, 2}
	cfg := b.Freeze()
	cfg.CategoryColumns[0] = 99
	if b.cfg.CategoryColumns[0] == 99 {
		t.Fatal("Freeze aliased the builder's slice")
	}
}

func TestPercentileModeFlagZeroValueIsDistinguishable(t *testing.T) {
	b := NewBuilder()
	if err := b.ApplyFlags(FlagOverrides{PercentileModeSet: true, PercentileMode: true}); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}
	if !b.Freeze().PercentileMode {
		t.Error("PercentileMode should be true after explicit flag set")
	}
}

func TestApplyFlagsOutlierScoreOverride(t *testing.T) {
	b := NewBuilder()
	if err := b.ApplyFlags(FlagOverrides{OutlierScore: "75%"}); err != nil {
		t.Fatalf("ApplyFlags: %v", err)
	}
	cfg := b.Freeze()
	if !cfg.PercentileMode || cfg.Percentile != 75 {
		t.Errorf("OutlierScore flag override = PercentileMode=%v Percentile=%v, want true/75", cfg.PercentileMode, cfg.Percentile)
	}
}

func TestApplyFlagsBadOutlierScoreErrors(t *testing.T) {
	b := NewBuilder()
	if err := b.ApplyFlags(FlagOverrides{OutlierScore: "not-a-number"}); err == nil {
		t.Fatal("expected error for malformed -outlier-score")
	}
}
