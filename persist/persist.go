// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package persist implements the two on-disk snapshot formats of
SPEC_FULL.md §9 / spec.md §4.7 and §6: a tagged line format (G/F/S,
`;`-separated, `"`-quoted) and a structured JSON object format. Both are
required to round-trip a trained forest table: write then read must
reproduce an identical forest state modulo deterministic reinitialization
of caches (spec.md §8).

The line format's per-record tagging mirrors the teacher's classifier
Runtime serialization idiom of writing a small header record followed
by repeated data records (see classifier/cart/runtime.go's JSON
tree-node encoding, generalized here to a flat tagged line format
because CEIF's snapshot is not a single tree but a whole forest table).
*/
package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrSnapshotMalformed is returned when a snapshot section is missing or
// has the wrong field count (spec.md §7).
var ErrSnapshotMalformed = errors.New("persist: malformed snapshot")

// Globals carries the snapshot-wide configuration fields named in
// spec.md §6 ("Line format" / "G" record).
type Globals struct {
	Dimensions        int
	LabelDims         []int
	PrintTemplate     string
	TreeCount         int
	SamplesMax        int
	CategoryDims      []int
	Separator         string
	HasHeader         bool
	OutlierScore      string // numeric text, optionally suffixed 's' (scaled) or '%' (percentile)
	ScoreFactor       float64
	IgnoreList        []string
	IncludeList       []string
	ForestCount       int
	FilterRegexes     []string
	Decimals          int
	UniquePercent     float64
	ListSeparator     string
	NVectorAdjust     bool
	Aggregate         bool
	TextDims          []int
	ScoreDims         []int
}

// ForestRecord is one forest's persisted header plus its raw samples
// ("F" + "S" records in the line format, or one `forests[]` element in
// the object format).
type ForestRecord struct {
	Category    string
	C           float64
	HeightLimit int
	SampleCount int
	LastUpdated time.Time
	Samples     [][]float64
}

// Snapshot is the full persisted state: globals plus every forest,
// in the order they must be replayed (spec.md §9, "deterministic
// ordering... reload MUST rebuild the hash index as forests are
// replayed").
type Snapshot struct {
	Globals Globals
	Forests []ForestRecord
}

// ---- Line codec ----

// LineCodec implements the tagged line format of spec.md §6.
type LineCodec struct {
	Decimals int
}

const lineFieldSep = ";"

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func joinStrings(vals []string) string {
	return strings.Join(vals, ",")
}

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Write serializes snap to w in the tagged line format.
func (c LineCodec) Write(w io.Writer, snap Snapshot) error {
	bw := bufio.NewWriter(w)
	g := snap.Globals

	gFields := []string{
		strconv.Itoa(g.Dimensions),
		joinInts(g.LabelDims),
		g.PrintTemplate,
		strconv.Itoa(g.TreeCount),
		strconv.Itoa(g.SamplesMax),
		joinInts(g.CategoryDims),
		g.Separator,
		strconv.FormatBool(g.HasHeader),
		g.OutlierScore,
		strconv.FormatFloat(g.ScoreFactor, 'f', -1, 64),
		joinStrings(g.IgnoreList),
		joinStrings(g.IncludeList),
		strconv.Itoa(g.ForestCount),
		joinStrings(g.FilterRegexes),
		strconv.Itoa(g.Decimals),
		strconv.FormatFloat(g.UniquePercent, 'f', -1, 64),
		g.ListSeparator,
		strconv.FormatBool(g.NVectorAdjust),
		strconv.FormatBool(g.Aggregate),
		joinInts(g.TextDims),
		joinInts(g.ScoreDims),
	}
	if err := writeLine(bw, "G", gFields); err != nil {
		return err
	}

	for _, f := range snap.Forests {
		fFields := []string{
			f.Category,
			strconv.FormatFloat(f.C, 'f', -1, 64),
			strconv.Itoa(f.HeightLimit),
			strconv.Itoa(f.SampleCount),
			f.LastUpdated.UTC().Format(time.RFC3339),
		}
		if err := writeLine(bw, "F", fFields); err != nil {
			return err
		}
		for _, s := range f.Samples {
			parts := make([]string, len(s))
			for i, v := range s {
				parts[i] = strconv.FormatFloat(v, 'f', c.Decimals, 64)
			}
			if err := writeLine(bw, "S", []string{strings.Join(parts, "|")}); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

func writeLine(w *bufio.Writer, tag string, fields []string) error {
	if _, err := w.WriteString(tag); err != nil {
		return err
	}
	for _, f := range fields {
		if _, err := w.WriteString(lineFieldSep); err != nil {
			return err
		}
		if _, err := w.WriteString(quote(f)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

// Read parses the tagged line format from r.
func (c LineCodec) Read(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	scanner := bufio.NewScanner(r)
	lineno := 0

	var current *ForestRecord

	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		tag := line[0]
		rest := line[1:]
		fields := splitQuotedLine(rest)

		switch tag {
		case 'G':
			g, err := parseGlobals(fields)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrSnapshotMalformed, lineno, err)
			}
			snap.Globals = g
		case 'F':
			if current != nil {
				snap.Forests = append(snap.Forests, *current)
			}
			fr, err := parseForestHeader(fields)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrSnapshotMalformed, lineno, err)
			}
			current = &fr
		case 'S':
			if current == nil || len(fields) != 1 {
				return Snapshot{}, fmt.Errorf("%w: line %d: sample record without forest header", ErrSnapshotMalformed, lineno)
			}
			parts := strings.Split(fields[0], "|")
			vec := make([]float64, len(parts))
			for i, p := range parts {
				v, err := strconv.ParseFloat(p, 64)
				if err != nil {
					return Snapshot{}, fmt.Errorf("%w: line %d: %v", ErrSnapshotMalformed, lineno, err)
				}
				vec[i] = v
			}
			current.Samples = append(current.Samples, vec)
		default:
			return Snapshot{}, fmt.Errorf("%w: line %d: unknown tag %q", ErrSnapshotMalformed, lineno, tag)
		}
	}
	if current != nil {
		snap.Forests = append(snap.Forests, *current)
	}
	if err := scanner.Err(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func splitQuotedLine(s string) []string {
	var fields []string
	for len(s) > 0 {
		if s[0] != lineFieldSep[0] {
			break
		}
		s = s[1:]
		if len(s) == 0 || s[0] != '"' {
			fields = append(fields, "")
			continue
		}
		i := 1
		var b strings.Builder
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if s[i] == '"' {
				i++
				break
			}
			b.WriteByte(s[i])
			i++
		}
		fields = append(fields, b.String())
		s = s[i:]
	}
	return fields
}

func parseGlobals(f []string) (Globals, error) {
	if len(f) != 21 {
		return Globals{}, fmt.Errorf("expected 21 globals fields, got %d", len(f))
	}
	labelDims, err := splitInts(f[1])
	if err != nil {
		return Globals{}, err
	}
	categoryDims, err := splitInts(f[5])
	if err != nil {
		return Globals{}, err
	}
	textDims, err := splitInts(f[19])
	if err != nil {
		return Globals{}, err
	}
	scoreDims, err := splitInts(f[20])
	if err != nil {
		return Globals{}, err
	}
	dims, err := strconv.Atoi(f[0])
	if err != nil {
		return Globals{}, err
	}
	treeCount, err := strconv.Atoi(f[3])
	if err != nil {
		return Globals{}, err
	}
	samplesMax, err := strconv.Atoi(f[4])
	if err != nil {
		return Globals{}, err
	}
	hasHeader, err := strconv.ParseBool(f[7])
	if err != nil {
		return Globals{}, err
	}
	scoreFactor, err := strconv.ParseFloat(f[9], 64)
	if err != nil {
		return Globals{}, err
	}
	forestCount, err := strconv.Atoi(f[12])
	if err != nil {
		return Globals{}, err
	}
	decimals, err := strconv.Atoi(f[14])
	if err != nil {
		return Globals{}, err
	}
	uniquePercent, err := strconv.ParseFloat(f[15], 64)
	if err != nil {
		return Globals{}, err
	}
	nVectorAdjust, err := strconv.ParseBool(f[17])
	if err != nil {
		return Globals{}, err
	}
	aggregate, err := strconv.ParseBool(f[18])
	if err != nil {
		return Globals{}, err
	}

	return Globals{
		Dimensions:    dims,
		LabelDims:     labelDims,
		PrintTemplate: f[2],
		TreeCount:     treeCount,
		SamplesMax:    samplesMax,
		CategoryDims:  categoryDims,
		Separator:     f[6],
		HasHeader:     hasHeader,
		OutlierScore:  f[8],
		ScoreFactor:   scoreFactor,
		IgnoreList:    splitStrings(f[10]),
		IncludeList:   splitStrings(f[11]),
		ForestCount:   forestCount,
		FilterRegexes: splitStrings(f[13]),
		Decimals:      decimals,
		UniquePercent: uniquePercent,
		ListSeparator: f[16],
		NVectorAdjust: nVectorAdjust,
		Aggregate:     aggregate,
		TextDims:      textDims,
		ScoreDims:     scoreDims,
	}, nil
}

func parseForestHeader(f []string) (ForestRecord, error) {
	if len(f) != 5 {
		return ForestRecord{}, fmt.Errorf("expected 5 forest-header fields, got %d", len(f))
	}
	c, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return ForestRecord{}, err
	}
	heightLimit, err := strconv.Atoi(f[2])
	if err != nil {
		return ForestRecord{}, err
	}
	sampleCount, err := strconv.Atoi(f[3])
	if err != nil {
		return ForestRecord{}, err
	}
	lastUpdated, err := time.Parse(time.RFC3339, f[4])
	if err != nil {
		return ForestRecord{}, err
	}
	return ForestRecord{
		Category:    f[0],
		C:           c,
		HeightLimit: heightLimit,
		SampleCount: sampleCount,
		LastUpdated: lastUpdated,
	}, nil
}

// ---- Object (JSON) codec ----

// ObjectCodec implements the structured JSON object format of
// spec.md §6, with keys matching exactly: globals, forests[].{category,
// sampleCount, lastUpdated, samples}.
type ObjectCodec struct {
	Decimals int
}

type jsonGlobals struct {
	Dimensions    int       `json:"dimensions"`
	LabelDims     []int     `json:"labelDims"`
	PrintTemplate string    `json:"printTemplate"`
	TreeCount     int       `json:"treeCount"`
	SamplesMax    int       `json:"samplesMax"`
	CategoryDims  []int     `json:"categoryDims"`
	Separator     string    `json:"separator"`
	HasHeader     bool      `json:"hasHeader"`
	OutlierScore  string    `json:"outlierScore"`
	ScoreFactor   float64   `json:"scoreFactor"`
	IgnoreList    []string  `json:"ignoreList"`
	IncludeList   []string  `json:"includeList"`
	ForestCount   int       `json:"forestCount"`
	FilterRegexes []string  `json:"filterRegexes"`
	Decimals      int       `json:"decimals"`
	UniquePercent float64   `json:"uniquePercent"`
	ListSeparator string    `json:"listSeparator"`
	NVectorAdjust bool      `json:"nVectorAdjust"`
	Aggregate     bool      `json:"aggregate"`
	TextDims      []int     `json:"textDims"`
	ScoreDims     []int     `json:"scoreDims"`
}

type jsonForest struct {
	Category    string      `json:"category"`
	C           float64     `json:"c"`
	HeightLimit int         `json:"heightLimit"`
	SampleCount int         `json:"sampleCount"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Samples     [][]float64 `json:"samples"`
}

type jsonSnapshot struct {
	Globals jsonGlobals  `json:"globals"`
	Forests []jsonForest `json:"forests"`
}

// Write serializes snap to w as JSON, with every sample coordinate
// rounded to c.Decimals places (spec.md §6, "doubles are serialized with
// decimals precision").
func (c ObjectCodec) Write(w io.Writer, snap Snapshot) error {
	js := jsonSnapshot{
		Globals: jsonGlobals{
			Dimensions:    snap.Globals.Dimensions,
			LabelDims:     snap.Globals.LabelDims,
			PrintTemplate: snap.Globals.PrintTemplate,
			TreeCount:     snap.Globals.TreeCount,
			SamplesMax:    snap.Globals.SamplesMax,
			CategoryDims:  snap.Globals.CategoryDims,
			Separator:     snap.Globals.Separator,
			HasHeader:     snap.Globals.HasHeader,
			OutlierScore:  snap.Globals.OutlierScore,
			ScoreFactor:   snap.Globals.ScoreFactor,
			IgnoreList:    snap.Globals.IgnoreList,
			IncludeList:   snap.Globals.IncludeList,
			ForestCount:   snap.Globals.ForestCount,
			FilterRegexes: snap.Globals.FilterRegexes,
			Decimals:      snap.Globals.Decimals,
			UniquePercent: snap.Globals.UniquePercent,
			ListSeparator: snap.Globals.ListSeparator,
			NVectorAdjust: snap.Globals.NVectorAdjust,
			Aggregate:     snap.Globals.Aggregate,
			TextDims:      snap.Globals.TextDims,
			ScoreDims:     snap.Globals.ScoreDims,
		},
	}
	for _, f := range snap.Forests {
		samples := make([][]float64, len(f.Samples))
		for i, s := range f.Samples {
			row := make([]float64, len(s))
			for j, v := range s {
				row[j] = roundTo(v, c.Decimals)
			}
			samples[i] = row
		}
		js.Forests = append(js.Forests, jsonForest{
			Category:    f.Category,
			C:           roundTo(f.C, c.Decimals),
			HeightLimit: f.HeightLimit,
			SampleCount: f.SampleCount,
			LastUpdated: f.LastUpdated.UTC(),
			Samples:     samples,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(js)
}

// Read parses a JSON snapshot from r.
func (c ObjectCodec) Read(r io.Reader) (Snapshot, error) {
	var js jsonSnapshot
	if err := json.NewDecoder(r).Decode(&js); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotMalformed, err)
	}

	snap := Snapshot{
		Globals: Globals{
			Dimensions:    js.Globals.Dimensions,
			LabelDims:     js.Globals.LabelDims,
			PrintTemplate: js.Globals.PrintTemplate,
			TreeCount:     js.Globals.TreeCount,
			SamplesMax:    js.Globals.SamplesMax,
			CategoryDims:  js.Globals.CategoryDims,
			Separator:     js.Globals.Separator,
			HasHeader:     js.Globals.HasHeader,
			OutlierScore:  js.Globals.OutlierScore,
			ScoreFactor:   js.Globals.ScoreFactor,
			IgnoreList:    js.Globals.IgnoreList,
			IncludeList:   js.Globals.IncludeList,
			ForestCount:   js.Globals.ForestCount,
			FilterRegexes: js.Globals.FilterRegexes,
			Decimals:      js.Globals.Decimals,
			UniquePercent: js.Globals.UniquePercent,
			ListSeparator: js.Globals.ListSeparator,
			NVectorAdjust: js.Globals.NVectorAdjust,
			Aggregate:     js.Globals.Aggregate,
			TextDims:      js.Globals.TextDims,
			ScoreDims:     js.Globals.ScoreDims,
		},
	}
	for _, f := range js.Forests {
		snap.Forests = append(snap.Forests, ForestRecord{
			Category:    f.Category,
			C:           f.C,
			HeightLimit: f.HeightLimit,
			SampleCount: f.SampleCount,
			LastUpdated: f.LastUpdated,
			Samples:     f.Samples,
		})
	}
	return snap, nil
}

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	p := 1.0
	for i := 0; i < decimals; i++ {
		p *= 10
	}
	return float64(int64(v*p+sign(v)*0.5)) / p
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
