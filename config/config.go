// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package config implements the three-layer configuration build named in
spec.md §6 / SPEC_FULL.md's ambient stack: compiled-in defaults, then a
whitespace-tolerant "NAME VALUE" config file, then command-line flag
overrides, each layer only overwriting fields the layer above actually
set. The result is frozen (copied) so later mutation of the builder
cannot reach a live engine.

The file format follows the teacher's cmd/randomforest convention of
reading overrides into a struct (there JSON via dsv's config reader,
here a flat NAME VALUE file matching the original C program's config
syntax, since CEIF is not a dataset-driven tool and has no dsv schema to
piggyback on).
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	Separator           byte
	TreeCount           int
	SamplesMax          int
	CentroidThreshold   float64
	RefinementEnabled   bool
	Autoscale           bool
	Threshold           float64
	PercentileMode      bool
	RawMode             bool
	Percentile          float64
	LearnFile           string
	SaveFile            string
	CategoryColumns     []int
	InvertFilter        bool
	FilterValue         string
	OutputFormat        string
	AggregateMode       bool
	UniquePercent       float64
	ClusterRelativeSize float64
	Decimals            int
	AnalyzedSampling    int64
}

// Default returns the compiled-in defaults, matching the original
// program's constants.
func Default() Config {
	return Config{
		Separator:           ',',
		TreeCount:           100,
		SamplesMax:          256,
		CentroidThreshold:   0.45,
		RefinementEnabled:   true,
		Autoscale:           true,
		Threshold:           0.6,
		PercentileMode:      false,
		Percentile:          99,
		OutputFormat:        "%c:%s\\n",
		ClusterRelativeSize: 0.125,
		Decimals:            6,
	}
}

// Builder accumulates layered overrides on top of Default, in order:
// ReadFile then ApplyFlags. Freeze produces the final Config.
type Builder struct {
	cfg Config
}

// NewBuilder starts a Builder from Default.
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

// ReadFile overlays NAME VALUE pairs from path onto the builder's
// current config. Blank lines and lines starting with '#' are ignored.
// Unknown names are an error, matching the teacher's "fail fast on bad
// config" posture (cmd/randomforest panics on a bad config file).
func (b *Builder) ReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		value := ""
		if len(fields) > 1 {
			value = strings.Join(fields[1:], " ")
		}

		if err := b.set(name, value); err != nil {
			return fmt.Errorf("config: %s:%d: %w", path, lineno, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func (b *Builder) set(name, value string) error {
	switch strings.ToLower(name) {
	case "separator":
		if len(value) != 1 {
			return fmt.Errorf("separator must be a single character, got %q", value)
		}
		b.cfg.Separator = value[0]
	case "trees":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		b.cfg.TreeCount = n
	case "samples", "max_samples":
		// spec.md §6 names these as two knobs (samples per tree vs.
		// the reservoir's hard cap); this implementation has one
		// reservoir bound, so both names overlay the same field (see
		// the Open Questions entry on set's key names in DESIGN.md).
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		b.cfg.SamplesMax = n
	case "centroidthreshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		b.cfg.CentroidThreshold = v
	case "nearest":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		b.cfg.RefinementEnabled = v
	case "auto_scale", "auto_weigth":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		b.cfg.Autoscale = v
	case "threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		b.cfg.Threshold = v
	case "percentilemode":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		b.cfg.PercentileMode = v
	case "percentile":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		b.cfg.Percentile = v
	case "outlier_score":
		return b.SetOutlierScore(value)
	case "decimals":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		b.cfg.Decimals = n
	case "analyze_sampling":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		b.cfg.AnalyzedSampling = n
	case "category":
		cols, err := parseColumns(value)
		if err != nil {
			return err
		}
		b.cfg.CategoryColumns = cols
	case "format":
		b.cfg.OutputFormat = value
	case "uniquepercent":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		b.cfg.UniquePercent = v
	case "cluster_size":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("cluster_size must be in [0,1], got %v", v)
		}
		b.cfg.ClusterRelativeSize = v
	case "aggregate":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		b.cfg.AggregateMode = v
	default:
		return fmt.Errorf("unknown config name %q", name)
	}
	return nil
}

// ParseOutlierScore parses an OUTLIER_SCORE value per spec.md §6 and
// original_source/ceif.c's parse_user_score: a bare float selects raw
// mode (range [0,1]), an 's' suffix selects scaled mode (range [0,1]),
// and a '%' suffix selects percentile mode (range [0,100]).
func ParseOutlierScore(raw string) (value float64, mode string, err error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasSuffix(s, "%"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, "", err
		}
		if v < 0 || v > 100 {
			return 0, "", fmt.Errorf("percentage outlier score must be in [0,100], got %v", v)
		}
		return v, "percentile", nil
	case strings.HasSuffix(s, "s"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		if err != nil {
			return 0, "", err
		}
		if v < 0 || v > 1 {
			return 0, "", fmt.Errorf("scaled outlier score must be in [0,1], got %v", v)
		}
		return v, "scaled", nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, "", err
		}
		if v < 0 || v > 1 {
			return 0, "", fmt.Errorf("raw outlier score must be in [0,1], got %v", v)
		}
		return v, "raw", nil
	}
}

// SetOutlierScore parses raw (spec.md §6 OUTLIER_SCORE) and applies the
// resulting mode and value to the builder, clearing the other two modes.
func (b *Builder) SetOutlierScore(raw string) error {
	v, mode, err := ParseOutlierScore(raw)
	if err != nil {
		return err
	}
	b.cfg.PercentileMode = false
	b.cfg.RawMode = false
	switch mode {
	case "percentile":
		b.cfg.PercentileMode = true
		b.cfg.Percentile = v
	case "scaled":
		b.cfg.Threshold = v
	default:
		b.cfg.RawMode = true
		b.cfg.Threshold = v
	}
	return nil
}

// FormatOutlierScore renders cfg's effective outlier-score mode back into
// the OUTLIER_SCORE text form, for round-tripping through persisted
// globals (spec.md §6, "outlier score with suffix s/%").
func FormatOutlierScore(cfg Config) string {
	switch {
	case cfg.PercentileMode:
		return strconv.FormatFloat(cfg.Percentile, 'g', -1, 64) + "%"
	case cfg.RawMode:
		return strconv.FormatFloat(cfg.Threshold, 'g', -1, 64)
	default:
		return strconv.FormatFloat(cfg.Threshold, 'g', -1, 64) + "s"
	}
}

func parseColumns(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	cols := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad column index %q: %w", p, err)
		}
		cols = append(cols, n)
	}
	return cols, nil
}

// FlagOverrides carries the subset of flags a CLI layer collected; zero
// values mean "not set" and leave the builder's current value alone,
// matching the teacher's "-1 means unset" convention in
// cmd/randomforest/main.go.
type FlagOverrides struct {
	TreeCount         int
	SamplesMax        int
	CentroidThreshold float64
	Threshold         float64
	Percentile        float64
	LearnFile         string
	SaveFile          string
	OutputFormat      string
	PercentileModeSet bool
	PercentileMode    bool
	AggregateModeSet  bool
	AggregateMode     bool
	InvertFilter      bool
	FilterValue       string

	// OutlierScore, when non-empty, is the raw -outlier-score flag
	// text (spec.md §6 OUTLIER_SCORE syntax) and wins over Threshold/
	// Percentile/PercentileMode above.
	OutlierScore string
}

// ApplyFlags overlays non-zero flag values onto the builder. It returns
// an error only if OutlierScore fails to parse.
func (b *Builder) ApplyFlags(f FlagOverrides) error {
	if f.TreeCount > 0 {
		b.cfg.TreeCount = f.TreeCount
	}
	if f.SamplesMax > 0 {
		b.cfg.SamplesMax = f.SamplesMax
	}
	if f.CentroidThreshold > 0 {
		b.cfg.CentroidThreshold = f.CentroidThreshold
	}
	if f.Threshold > 0 {
		b.cfg.Threshold = f.Threshold
	}
	if f.Percentile > 0 {
		b.cfg.Percentile = f.Percentile
	}
	if f.LearnFile != "" {
		b.cfg.LearnFile = f.LearnFile
	}
	if f.SaveFile != "" {
		b.cfg.SaveFile = f.SaveFile
	}
	if f.OutputFormat != "" {
		b.cfg.OutputFormat = f.OutputFormat
	}
	if f.PercentileModeSet {
		b.cfg.PercentileMode = f.PercentileMode
	}
	if f.AggregateModeSet {
		b.cfg.AggregateMode = f.AggregateMode
	}
	if f.InvertFilter {
		b.cfg.InvertFilter = true
	}
	if f.FilterValue != "" {
		b.cfg.FilterValue = f.FilterValue
	}
	if f.OutlierScore != "" {
		if err := b.SetOutlierScore(f.OutlierScore); err != nil {
			return fmt.Errorf("outlier score: %w", err)
		}
	}
	return nil
}

// Freeze returns a copy of the accumulated config, safe to hand to an
// engine without aliasing the builder's internal slice fields.
func (b *Builder) Freeze() Config {
	out := b.cfg
	out.CategoryColumns = append([]int(nil), b.cfg.CategoryColumns...)
	return out
}
