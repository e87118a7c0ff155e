// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package engine is the single driver value spec.md §9's design notes call
for: it owns the category router, the forest table, the RNG source, and
the frozen configuration that the reference implementation instead
scatters across process-wide globals (the forest table, the category
hash, the RNG-cache tables, and the scratch string buffer).

It plays the role the teacher's classifier.Runtime plays as the one
value a CLI command builds, trains, and then repeatedly calls into
(classifier/runtime.go): Engine.Observe plus Engine.Train is Runtime.Build generalized from
one supervised model to a per-category table of unsupervised forests.
*/
package engine

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/TimoSavi/ceif/analyze"
	"github.com/TimoSavi/ceif/category"
	"github.com/TimoSavi/ceif/cluster"
	"github.com/TimoSavi/ceif/config"
	"github.com/TimoSavi/ceif/exprval"
	"github.com/TimoSavi/ceif/forest"
	"github.com/TimoSavi/ceif/ingest"
	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/persist"
	"github.com/TimoSavi/ceif/score"
)

// Kind enumerates the error kinds of spec.md §7.
type Kind int

const (
	KindConfig Kind = iota
	KindIO
	KindRegex
	KindSnapshot
	KindExpression
)

// Error is the single diagnostic-line error type of spec.md §7:
// "<program>: <message>[: <info>][; <syserror>]".
type Error struct {
	Kind  Kind
	Msg   string
	Info  string
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Info != "" {
		b.WriteString(": ")
		b.WriteString(e.Info)
	}
	if e.Cause != nil {
		b.WriteString("; ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Engine ties the category router, the per-category forest table, the
// shared RNG source, and the frozen configuration together.
type Engine struct {
	Config    config.Config
	Router    *category.Router
	Forests   []*forest.Forest
	Rnd       *rng.Source
	Scorer    *score.Scorer
	Tokenizer ingest.Tokenizer
	Evaluator exprval.Evaluator
	Analyzer  *analyze.Analyzer

	// DimCols are the indices of fields[] that make up a sample vector,
	// in order; CategoryCols are excluded from it automatically.
	DimCols []int

	// Rewrites holds "$n = expr" column-rewrite rules applied before a
	// field is read as a dimension (spec.md §9, "Expression evaluator").
	Rewrites map[int]string
}

// New builds an Engine from a frozen config and a reproducible seed
// (spec.md §5, "The random source MUST be seedable for reproducibility
// in tests").
func New(cfg config.Config, seed int64) *Engine {
	rnd := rng.New(seed)
	sc := score.New(rnd, cfg.RefinementEnabled)

	e := &Engine{
		Config:    cfg,
		Router:    category.New(),
		Rnd:       rnd,
		Scorer:    sc,
		Tokenizer: ingest.NewTokenizer(cfg.Separator),
		Evaluator: exprval.Default{},
	}

	filters := make([]category.Filter, 0, 1)
	if cfg.FilterValue != "" {
		expr := cfg.FilterValue
		if cfg.InvertFilter {
			expr = "-v " + expr
		}
		if f, err := category.NewFilter(expr); err == nil {
			filters = append(filters, f)
		} else {
			glog.Fatalf("engine: bad filter expression %q: %v", cfg.FilterValue, err)
		}
	}
	e.Router.SetFilters(filters)

	e.Analyzer = &analyze.Analyzer{
		Router:           e.Router,
		Forests:          e.Forests,
		Scorer:           sc,
		Threshold:        cfg.Threshold,
		Mode:             scoreModeFor(cfg),
		Rnd:              rnd,
		AnalyzedSampling: cfg.AnalyzedSampling,
	}
	if cfg.PercentileMode {
		e.Analyzer.Percentile = cfg.Percentile
	}

	return e
}

// scoreModeFor picks the scoring mode from an OUTLIER_SCORE selection
// (spec.md §6): percentile and raw are both explicit opt-ins, scaled is
// the original program's scale_score=1 default when neither is set.
func scoreModeFor(cfg config.Config) analyze.Mode {
	switch {
	case cfg.PercentileMode:
		return analyze.ModePercentile
	case cfg.RawMode:
		return analyze.ModeRaw
	default:
		return analyze.ModeScaled
	}
}

// ParseRecord splits line into fields and extracts the sample vector at
// e.DimCols, padding missing trailing columns with zero (spec.md §7:
// "missing dimensions in a record" is normal control flow, not an
// error). Text (non-numeric) fields are also read, with a Warning
// logged and a zero substituted.
func (e *Engine) ParseRecord(line string) (fields []string, x []float64) {
	fields = e.Tokenizer.Split(line)
	x = make([]float64, len(e.DimCols))
	for i, col := range e.DimCols {
		if col >= len(fields) {
			continue
		}
		text := fields[col]
		if rewrite, ok := e.Rewrites[col]; ok {
			v, err := e.Evaluator.Eval(rewrite, fields)
			if err != nil {
				glog.Warningf("engine: expression %q failed on column %d: %v, using 0", rewrite, col, err)
				text = "0"
			} else {
				text = v
			}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			glog.Warningf("engine: column %d (%q) is not numeric, using 0", col, text)
			continue
		}
		x[i] = v
	}
	return fields, x
}

// CategoryKey builds the routing key for fields using the configured
// category columns.
func (e *Engine) CategoryKey(fields []string) string {
	sep := string(e.Config.Separator)
	return category.Key(fields, e.Config.CategoryColumns, sep)
}

// syncForests grows e.Forests/e.Analyzer.Forests to cover every forest
// id the router has handed out so far.
func (e *Engine) syncForests() {
	if n := e.Router.Count(); n > len(e.Forests) {
		grown := make([]*forest.Forest, n)
		copy(grown, e.Forests)
		e.Forests = grown
		e.Analyzer.Forests = grown
	}
}

// Observe ingests one training record: resolve or create its forest,
// touch it, and offer the sample vector to its reservoir (spec.md §4.1,
// §4.2).
func (e *Engine) Observe(fields []string, x []float64) {
	key := e.CategoryKey(fields)
	if e.Router.IsFiltered(key) {
		return
	}

	id, created := e.Router.Assign(key)
	e.syncForests()
	if created {
		e.Forests[id] = forest.New(key, e.Config.TreeCount, e.Config.SamplesMax)
	}
	f := e.Forests[id]
	f.Touch()

	if e.Config.AggregateMode {
		f.Reservoir.AddAggregate(x)
		return
	}
	f.Reservoir.Add(x, e.Config.UniquePercent, false, e.Rnd)
}

// Train builds trees for every forest observed so far (spec.md §4.3).
// The first per-forest error stops training and is returned; forests below
// SamplesMin are filtered, not errored (spec.md §3).
func (e *Engine) Train() error {
	cfg := forest.TrainConfig{
		TreeCount:         e.Config.TreeCount,
		SamplesMax:        e.Config.SamplesMax,
		CentroidThreshold: e.Config.CentroidThreshold,
		RefinementEnabled: e.Config.RefinementEnabled,
		Autoscale:         e.Config.Autoscale,
	}
	for _, f := range e.Forests {
		if f == nil {
			continue
		}
		if err := f.Train(e.Rnd, cfg); err != nil {
			return &Error{Kind: KindConfig, Msg: "training failed", Info: f.Category, Cause: err}
		}
		glog.V(1).Infof("engine: trained forest %q: %d samples, %d trees, filtered=%v",
			f.Category, f.Reservoir.Len(), f.TreeCount, f.Filtered)

		if !f.Filtered && e.Config.ClusterRelativeSize > 0 {
			cluster.Find(f, e.Scorer, e.Config.ClusterRelativeSize)
		}
	}
	return nil
}

// Save writes every forest to w using codec, skipping forests older than
// deleteOlderThan (zero value disables the filter), per spec.md §4.7's
// "delete-older-than" parameter.
func (e *Engine) Save(w io.Writer, codec interface {
	Write(io.Writer, persist.Snapshot) error
}, deleteOlderThan time.Duration) error {
	snap := persist.Snapshot{
		Globals: persist.Globals{
			Dimensions:    len(e.DimCols),
			TreeCount:     e.Config.TreeCount,
			SamplesMax:    e.Config.SamplesMax,
			CategoryDims:  e.Config.CategoryColumns,
			Separator:     string(e.Config.Separator),
			ForestCount:   len(e.Forests),
			Decimals:      e.Config.Decimals,
			PrintTemplate: e.Config.OutputFormat,
			Aggregate:     e.Config.AggregateMode,
			OutlierScore:  config.FormatOutlierScore(e.Config),
		},
	}

	cutoff := time.Time{}
	if deleteOlderThan > 0 {
		cutoff = time.Now().Add(-deleteOlderThan)
	}

	for _, f := range e.Forests {
		if f == nil {
			continue
		}
		if !cutoff.IsZero() && f.LastUpdated.Before(cutoff) {
			continue
		}
		samples := make([][]float64, f.Reservoir.Len())
		for i, s := range f.Reservoir.X {
			samples[i] = s.X
		}
		snap.Forests = append(snap.Forests, persist.ForestRecord{
			Category:    f.Category,
			C:           f.C,
			HeightLimit: f.HeightLimit,
			SampleCount: f.Reservoir.Len(),
			LastUpdated: f.LastUpdated,
			Samples:     samples,
		})
	}

	if err := codec.Write(w, snap); err != nil {
		return &Error{Kind: KindIO, Msg: "failed to write snapshot", Cause: err}
	}
	return nil
}

// Load replays a persisted snapshot into the engine: forests are
// recreated in file order ("saved" mode ingestion: no duplicate check,
// no reservoir bound reroll — ingestion is in training order up to the
// persisted count, per spec.md §4.7), and the router's hash index is
// rebuilt as each forest is replayed (spec.md §9).
func (e *Engine) Load(r io.Reader, codec interface {
	Read(io.Reader) (persist.Snapshot, error)
}) error {
	snap, err := codec.Read(r)
	if err != nil {
		return &Error{Kind: KindSnapshot, Msg: "failed to read snapshot", Cause: err}
	}

	e.Forests = make([]*forest.Forest, 0, len(snap.Forests))
	for id, fr := range snap.Forests {
		e.Router.Replay(fr.Category, id)
		// treeCount=1 so the reservoir is sized to exactly the persisted
		// sample count: reload must not reroll or resize the reservoir
		// bound (spec.md §4.7, "no reservoir bound override").
		f := forest.New(fr.Category, 1, len(fr.Samples))
		f.C = fr.C
		f.HeightLimit = fr.HeightLimit
		f.LastUpdated = fr.LastUpdated
		for _, s := range fr.Samples {
			f.Reservoir.Add(s, 0, true, e.Rnd)
		}
		e.Forests = append(e.Forests, f)
	}
	e.Analyzer.Forests = e.Forests

	if snap.Globals.CategoryDims != nil {
		e.Config.CategoryColumns = snap.Globals.CategoryDims
	}
	return nil
}

