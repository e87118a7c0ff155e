// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package format implements the printf-like report template engine of
SPEC_FULL.md §10 / spec.md §6: a small state machine over a template
string, one %-directive at a time, honoring a per-call-site whitelist so
that calls made where some data isn't available (e.g. aggregate mode has
no per-record fields) silently emit nothing for disallowed directives
(spec.md §9, "Variadic formatting").
*/
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record carries every value a directive might need. Not every field is
// populated for every call; the Allowed whitelist passed to Emit is what
// actually gates which directives fire.
type Record struct {
	Line int64 // %r

	ForestTotalRows        int64   // %n
	ForestAnalyzedRows     int64   // %o
	ForestHighAnalyzedRows int64   // %h
	Score                  float64 // %s
	ForestTestAvgScore     float64 // %S
	Category               string  // %c, %C
	Label                  string  // %l

	// DimValues holds one string per dimension for %d: the original
	// input text for text (non-numeric) dimensions, or a formatted
	// number otherwise.
	DimValues []string
	DimAvg    []float64 // %a
	DimAttrib []float64 // %e, used inside %m too

	RawFields []string // %v

	LastUpdated time.Time // %t

	CategorySeparator string // %:
	LabelSeparator    string // %.
	ListSeparator     string // joins %d/%a/%e/%v/%m entries

	Decimals int // precision for %s/%S/%a/%e/%m when no custom printf format applies
}

// Allowed is a per-call-site directive whitelist: only letters present in
// this string (plus the always-available ':' '.' '%' and escapes) fire.
type Allowed string

func (a Allowed) has(directive byte) bool {
	return strings.IndexByte(string(a), directive) >= 0
}

// Emit renders template against rec, honoring allowed.
func Emit(template string, rec Record, allowed Allowed) string {
	var b strings.Builder
	emit(&b, template, rec, allowed)
	return b.String()
}

func emit(b *strings.Builder, template string, rec Record, allowed Allowed) {
	i := 0
	for i < len(template) {
		c := template[i]
		switch {
		case c == '%' && i+1 < len(template):
			d := template[i+1]
			writeDirective(b, d, rec, allowed)
			i += 2
		case c == '\\' && i+1 < len(template):
			writeEscape(b, template[i+1])
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
}

func writeEscape(b *strings.Builder, c byte) {
	switch c {
	case 't':
		b.WriteByte('\t')
	case 'n':
		b.WriteByte('\n')
	case '\\':
		b.WriteByte('\\')
	case '"':
		b.WriteByte('"')
	case '\'':
		b.WriteByte('\'')
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
}

func writeDirective(b *strings.Builder, d byte, rec Record, allowed Allowed) {
	// ':' '.' '%' are always available; everything else is gated by the
	// whitelist.
	switch d {
	case ':':
		b.WriteString(rec.CategorySeparator)
		return
	case '.':
		b.WriteString(rec.LabelSeparator)
		return
	case '%':
		b.WriteByte('%')
		return
	}

	if !allowed.has(d) {
		return
	}

	switch d {
	case 'r':
		b.WriteString(strconv.FormatInt(rec.Line, 10))
	case 'n':
		b.WriteString(strconv.FormatInt(rec.ForestTotalRows, 10))
	case 'o':
		b.WriteString(strconv.FormatInt(rec.ForestAnalyzedRows, 10))
	case 'h':
		b.WriteString(strconv.FormatInt(rec.ForestHighAnalyzedRows, 10))
	case 's':
		b.WriteString(formatFloat(rec.Score, rec.Decimals))
	case 'S':
		b.WriteString(formatFloat(rec.ForestTestAvgScore, rec.Decimals))
	case 'c', 'C':
		b.WriteString(rec.Category)
	case 'l':
		b.WriteString(rec.Label)
	case 'd':
		joinDim(b, rec.DimValues, rec.ListSeparator)
	case 'a':
		joinFloats(b, rec.DimAvg, rec.Decimals, rec.ListSeparator)
	case 'e':
		joinFloats(b, rec.DimAttrib, rec.Decimals, rec.ListSeparator)
	case 'm':
		emitDimensionLines(b, rec)
	case 'v':
		joinDim(b, rec.RawFields, rec.ListSeparator)
	case 'x':
		b.WriteString(ScoreHexColor(rec.Score))
	case 't':
		if !rec.LastUpdated.IsZero() {
			b.WriteString(rec.LastUpdated.Format("Mon Jan  2 15:04:05 2006"))
		}
	}
}

func joinDim(b *strings.Builder, values []string, sep string) {
	for i, v := range values {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(v)
	}
}

func joinFloats(b *strings.Builder, values []float64, decimals int, sep string) {
	for i, v := range values {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(formatFloat(v, decimals))
	}
}

// emitDimensionLines implements %m, the per-dimension combined line: for
// each dimension the sub-template "%d %a %e %i" is resolved against that
// single dimension's values, joined by the list separator (spec.md §6).
func emitDimensionLines(b *strings.Builder, rec Record) {
	n := len(rec.DimValues)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(rec.ListSeparator)
		}
		if i < len(rec.DimValues) {
			b.WriteString(rec.DimValues[i])
		}
		b.WriteByte(' ')
		if i < len(rec.DimAvg) {
			b.WriteString(formatFloat(rec.DimAvg[i], rec.Decimals))
		}
		b.WriteByte(' ')
		if i < len(rec.DimAttrib) {
			b.WriteString(formatFloat(rec.DimAttrib[i], rec.Decimals))
		}
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(i + 1))
	}
}

func formatFloat(v float64, decimals int) string {
	if decimals < 0 {
		decimals = 6
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// ScoreHexColor maps score to a 6-hex RGB string: blue at 0, green at
// 0.5, red at 1, with score == 0 mapped to pure black, matching
// score_to_rgb in the original C source exactly.
func ScoreHexColor(score float64) string {
	if score == 0 {
		return "000000"
	}

	var red, green, blue uint8
	if score < 0.5 {
		green = uint8(2 * 255 * score)
		blue = uint8(2 * 255 * (0.5 - score))
	} else {
		green = uint8(255 * 2 * (1 - score))
		red = uint8(2 * 255 * (score - 0.5))
	}

	return fmt.Sprintf("%02X%02X%02X", red, green, blue)
}
