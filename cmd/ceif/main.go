// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ceif trains, scores, and categorizes tabular records with a
// categorized extended isolation forest, per SPEC_FULL.md §11.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/TimoSavi/ceif/cluster"
	"github.com/TimoSavi/ceif/config"
	"github.com/TimoSavi/ceif/engine"
	"github.com/TimoSavi/ceif/format"
	"github.com/TimoSavi/ceif/persist"
)

var (
	// DEBUG level, settable from the environment, matching the
	// teacher's cmd/randomforest convention.
	DEBUG = 0

	flagLearn        = flag.String("learn", "", "train from the named file (- for stdin)")
	flagAnalyze      = flag.String("analyze", "", "analyze the named file (- for stdin)")
	flagCategorize   = flag.String("categorize", "", "categorize the named file (- for stdin)")
	flagTest         = flag.Bool("test", false, "synthesize a test grid over each category's sample space instead of reading input")
	flagTestExtend   = flag.Float64("test-extend", 0, "widen the grid's sampled range around each dimension's min/max by this factor")
	flagTestInterval = flag.Int("test-interval", 256, "number of grid steps taken across each dimension's range")

	flagConfig = flag.String("config", "", "configuration file path")
	flagSave   = flag.String("save", "", "write a snapshot to this path after learning")
	flagLoad   = flag.String("load", "", "load a snapshot from this path before analyzing/categorizing")
	flagFormat = flag.String("format", "", "output format template, overriding the config file")
	flagJSON   = flag.Bool("json", false, "use the JSON object snapshot format instead of the line format")

	flagSeparator    = flag.String("separator", "", "input field separator (single character)")
	flagCategory     = flag.String("category", "", "comma-separated category column indices")
	flagDims         = flag.String("dims", "", "comma-separated dimension column indices")
	flagTreeCount    = flag.Int("trees", -1, "trees per forest")
	flagSamples      = flag.Int("samples", -1, "samples per tree")
	flagThreshold    = flag.Float64("threshold", -1, "outlier score threshold")
	flagPercent      = flag.Float64("percentile", -1, "percentile threshold (enables percentile mode)")
	flagOutlierScore = flag.String("outlier-score", "", "outlier score: plain for raw, 's' suffix for scaled, '%' suffix for percentile")
	flagFilter       = flag.String("filter", "", "category-key filter regex")
	flagInvert       = flag.Bool("v", false, "invert the category-key filter")
	flagAggregate    = flag.Bool("aggregate", false, "accumulate one summary row per category instead of scoring every record")

	flagNewFormat = flag.String("newformat", "", "format used when a category has no trained forest")
)

var usage = func() {
	cmd := os.Args[0]
	fmt.Fprintf(os.Stderr, "Usage of %s:\n"+
		"  -learn FILE | -analyze FILE | -categorize FILE | -test\n", cmd)
	flag.PrintDefaults()
}

func init() {
	if v := os.Getenv("DEBUG"); v != "" {
		DEBUG, _ = strconv.Atoi(v)
	}
}

func trace(s string) (string, time.Time) {
	if DEBUG >= 1 {
		fmt.Fprintln(os.Stderr, "[START]", s)
	}
	return s, time.Now()
}

func un(s string, startTime time.Time) {
	if DEBUG >= 1 {
		fmt.Fprintln(os.Stderr, "[END]", s, "with elapsed time", time.Since(startTime))
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], fmt.Sprintf(format, args...))
	os.Exit(1)
}

func buildConfig() config.Config {
	b := config.NewBuilder()
	if *flagConfig != "" {
		if err := b.ReadFile(*flagConfig); err != nil {
			fatalf("bad configuration file: %v", err)
		}
	}

	overrides := config.FlagOverrides{
		TreeCount:    *flagTreeCount,
		SamplesMax:   *flagSamples,
		Threshold:    *flagThreshold,
		Percentile:   *flagPercent,
		LearnFile:    *flagLearn,
		SaveFile:     *flagSave,
		OutputFormat: *flagFormat,
		InvertFilter: *flagInvert,
		FilterValue:  *flagFilter,
		OutlierScore: *flagOutlierScore,
	}
	if *flagPercent > 0 {
		overrides.PercentileModeSet = true
		overrides.PercentileMode = true
	}
	if *flagAggregate {
		overrides.AggregateModeSet = true
		overrides.AggregateMode = true
	}
	if err := b.ApplyFlags(overrides); err != nil {
		fatalf("bad -outlier-score: %v", err)
	}

	cfg := b.Freeze()
	if *flagSeparator != "" {
		cfg.Separator = (*flagSeparator)[0]
	}
	if *flagCategory != "" {
		cfg.CategoryColumns = parseCols(*flagCategory)
	}
	return cfg
}

func parseCols(s string) []int {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			fatalf("bad column index %q: %v", p, err)
		}
		out = append(out, n)
	}
	return out
}

func openInput(path string) *os.File {
	if path == "-" || path == "" {
		return os.Stdin
	}
	f, err := os.Open(path)
	if err != nil {
		fatalf("cannot open %q: %v", path, err)
	}
	return f
}

func main() {
	defer glog.Flush()
	flag.Usage = usage
	flag.Parse()
	defer un(trace("ceif"))

	cfg := buildConfig()
	eng := engine.New(cfg, time.Now().UnixNano())
	eng.DimCols = parseCols(*flagDims)

	if *flagLoad != "" {
		f, err := os.Open(*flagLoad)
		if err != nil {
			fatalf("cannot open snapshot %q: %v", *flagLoad, err)
		}
		defer f.Close()
		if err := loadSnapshot(eng, f); err != nil {
			fatalf("cannot load snapshot: %v", err)
		}
	}

	switch {
	case *flagLearn != "":
		runLearn(eng, cfg)
	case *flagAnalyze != "":
		runAnalyze(eng, cfg)
	case *flagCategorize != "":
		runCategorize(eng, cfg)
	case *flagTest:
		runTest(eng, cfg)
	default:
		usage()
		os.Exit(1)
	}
}

func loadSnapshot(eng *engine.Engine, f *os.File) error {
	if *flagJSON {
		return eng.Load(f, persist.ObjectCodec{})
	}
	return eng.Load(f, persist.LineCodec{})
}

func runLearn(eng *engine.Engine, cfg config.Config) {
	in := openInput(*flagLearn)
	defer in.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields, x := eng.ParseRecord(scanner.Text())
		eng.Observe(fields, x)
	}
	if err := scanner.Err(); err != nil {
		fatalf("read error: %v", err)
	}

	if err := eng.Train(); err != nil {
		fatalf("%v", err)
	}

	if *flagSave != "" {
		out, err := os.Create(*flagSave)
		if err != nil {
			fatalf("cannot create snapshot %q: %v", *flagSave, err)
		}
		defer out.Close()
		if *flagJSON {
			err = eng.Save(out, persist.ObjectCodec{Decimals: cfg.Decimals}, 0)
		} else {
			err = eng.Save(out, persist.LineCodec{Decimals: cfg.Decimals}, 0)
		}
		if err != nil {
			fatalf("%v", err)
		}
	}
}

func runAnalyze(eng *engine.Engine, cfg config.Config) {
	in := openInput(*flagAnalyze)
	defer in.Close()

	tmpl := cfg.OutputFormat
	newTmpl := *flagNewFormat

	scanner := bufio.NewScanner(in)
	var line int64
	for scanner.Scan() {
		line++
		fields, x := eng.ParseRecord(scanner.Text())
		key := eng.CategoryKey(fields)

		if cfg.AggregateMode {
			out := eng.Analyzer.Accumulate(key, x)
			if !out.Found && newTmpl != "" {
				rec := format.Record{Line: line, Category: key, RawFields: fields, ListSeparator: ","}
				fmt.Print(format.Emit(newTmpl, rec, "rcv"))
			}
			continue
		}

		out := eng.Analyzer.Analyze(key, x)

		if !out.Found {
			if newTmpl != "" {
				rec := format.Record{Line: line, Category: key, RawFields: fields, ListSeparator: ","}
				fmt.Print(format.Emit(newTmpl, rec, "rcv"))
			}
			continue
		}
		if out.Filtered || !out.Sampled || !out.Outlier {
			continue
		}

		dimAttrib := make([]float64, len(x))
		for i := range x {
			dimAttrib[i] = cluster.DimensionScore(out.Forest, eng.Scorer, x, i)
		}

		rec := format.Record{
			Line:                   line,
			ForestTotalRows:        out.Forest.TotalRows,
			ForestAnalyzedRows:     out.Forest.AnalyzedRows,
			ForestHighAnalyzedRows: out.Forest.HighAnalyzedRows,
			Score:                  out.Score,
			Category:               out.Forest.Category,
			DimValues:              dimStrings(x),
			DimAvg:                 out.Forest.Stats.Avg,
			DimAttrib:              dimAttrib,
			RawFields:              fields,
			ListSeparator:          ",",
			LastUpdated:            out.Forest.LastUpdated,
			Decimals:               cfg.Decimals,
		}
		fmt.Print(format.Emit(tmpl, rec, "rnohsScdaelmvxtC"))
	}
	if err := scanner.Err(); err != nil {
		fatalf("read error: %v", err)
	}

	if cfg.AggregateMode {
		emitAggregateSummary(eng, cfg, tmpl)
	}
}

// emitAggregateSummary runs the end-of-stream half of the aggregate
// analyze path: one AnalyzeAggregate call per non-filtered forest, in
// forest-id order, emitting a line for every summary that scores as an
// outlier (spec.md §4.6 "Aggregate paths").
func emitAggregateSummary(eng *engine.Engine, cfg config.Config, tmpl string) {
	for _, f := range eng.Forests {
		if f == nil || f.Filtered {
			continue
		}
		out := eng.Analyzer.AnalyzeAggregate(f.Category)
		if !out.Sampled || !out.Outlier {
			continue
		}

		summary := out.Forest.Reservoir.Summary
		dimAttrib := make([]float64, len(summary))
		for i := range summary {
			dimAttrib[i] = cluster.DimensionScore(out.Forest, eng.Scorer, summary, i)
		}

		rec := format.Record{
			ForestTotalRows:        out.Forest.TotalRows,
			ForestAnalyzedRows:     out.Forest.AnalyzedRows,
			ForestHighAnalyzedRows: out.Forest.HighAnalyzedRows,
			Score:                  out.Score,
			Category:               out.Forest.Category,
			DimValues:              dimStrings(summary),
			DimAvg:                 out.Forest.Stats.Avg,
			DimAttrib:              dimAttrib,
			ListSeparator:          ",",
			LastUpdated:            out.Forest.LastUpdated,
			Decimals:               cfg.Decimals,
		}
		fmt.Print(format.Emit(tmpl, rec, "nohsScdaelmxtC"))
	}
}

func dimStrings(x []float64) []string {
	out := make([]string, len(x))
	for i, v := range x {
		out[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

// testSamplesCap bounds how many of a forest's own samples are printed
// alongside its grid (original_source's TEST_SAMPLES).
const testSamplesCap = 10240

// runTest synthesizes a grid over each trained forest's sample space and
// prints the points that score as outliers, followed by the forest's own
// samples at score 0 so the two populations can be told apart when
// plotted (spec.md §1, "synthesize test grids"; grounded in
// original_source's test2 in learn.c).
func runTest(eng *engine.Engine, cfg config.Config) {
	tmpl := cfg.OutputFormat

	for _, pt := range eng.Analyzer.Grid(*flagTestExtend, *flagTestInterval) {
		rec := format.Record{
			Score:     pt.Score,
			Category:  pt.Forest.Category,
			DimValues: dimStrings(pt.X),
			Decimals:  cfg.Decimals,
		}
		fmt.Print(format.Emit(tmpl, rec, "sdaxC"))
	}

	for _, f := range eng.Forests {
		if f == nil || f.Filtered {
			continue
		}
		n := f.Reservoir.Len()
		take := n
		if take > testSamplesCap {
			take = testSamplesCap
		}
		for i := 0; i < take; i++ {
			idx := i
			if n > testSamplesCap {
				idx = eng.Rnd.UniformInt(n)
			}
			rec := format.Record{
				Score:     0,
				Category:  f.Category,
				DimValues: dimStrings(f.Reservoir.X[idx].X),
				Decimals:  cfg.Decimals,
			}
			fmt.Print(format.Emit(tmpl, rec, "sdaxC"))
		}
	}
}

func runCategorize(eng *engine.Engine, cfg config.Config) {
	in := openInput(*flagCategorize)
	defer in.Close()

	scanner := bufio.NewScanner(in)
	var line int64
	for scanner.Scan() {
		line++
		fields, x := eng.ParseRecord(scanner.Text())

		if cfg.AggregateMode {
			key := eng.CategoryKey(fields)
			eng.Analyzer.AccumulateAny(key, x)
			continue
		}

		best, sc, ok := eng.Analyzer.Categorize(x, cfg.Threshold > 0)
		if !ok {
			continue
		}
		rec := format.Record{
			Line:          line,
			Score:         sc,
			Category:      best.Category,
			RawFields:     fields,
			ListSeparator: ",",
			Decimals:      cfg.Decimals,
		}
		fmt.Print(format.Emit(cfg.OutputFormat, rec, "rscv"))
	}
	if err := scanner.Err(); err != nil {
		fatalf("read error: %v", err)
	}

	if cfg.AggregateMode {
		emitCategorizeAggregateSummary(eng, cfg)
	}
}

// emitCategorizeAggregateSummary runs the end-of-stream half of the
// aggregate categorize path: for every forest with an accumulated
// summary, find the best-scoring match across all non-filtered forests,
// exactly as Categorize does for a single record (spec.md §4.6
// "Aggregate paths").
func emitCategorizeAggregateSummary(eng *engine.Engine, cfg config.Config) {
	for _, f := range eng.Forests {
		if f == nil || f.Reservoir.Summary == nil {
			continue
		}
		best, sc, ok := eng.Analyzer.Categorize(f.Reservoir.Summary, cfg.Threshold > 0)
		if !ok {
			continue
		}
		rec := format.Record{
			Score:         sc,
			Category:      best.Category,
			ListSeparator: ",",
			Decimals:      cfg.Decimals,
		}
		fmt.Print(format.Emit(cfg.OutputFormat, rec, "sc"))
	}
}

