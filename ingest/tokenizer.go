// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package ingest implements the thin, line-oriented CSV tokenizer named as
an external collaborator in spec.md §1/§6: split a line by a configured
byte separator into up to DimMax fields, honoring double-quote and
backslash escaping of the separator.

This is a deliberately small rewrite of the quoting convention the
teacher's dataset.Reader inherits from dsv.Reader (dataset/reader.go):
CEIF's records are raw float vectors, not tabula's typed columns, so the
column-metadata machinery dsv.Reader carries is dropped and only the
escaping contract survives.
*/
package ingest

// DimMax is the maximum number of fields read from one line, matching
// DIM_MAX in the original C source.
const DimMax = 1024

// Tokenizer splits input lines on Sep, honoring double-quote and
// backslash escaping of the separator within a field.
type Tokenizer struct {
	Sep byte
}

// NewTokenizer creates a Tokenizer splitting on sep.
func NewTokenizer(sep byte) Tokenizer {
	return Tokenizer{Sep: sep}
}

// Split tokenizes one line into at most DimMax fields. A double-quoted
// span may contain the separator verbatim; a backslash immediately before
// the separator also escapes it (the backslash itself is dropped).
func (t Tokenizer) Split(line string) []string {
	var fields []string
	var cur []byte
	inQuotes := false

	flush := func() {
		fields = append(fields, string(cur))
		cur = cur[:0]
	}

	for i := 0; i < len(line); i++ {
		c := line[i]

		if inQuotes {
			if c == '"' {
				inQuotes = false
			} else {
				cur = append(cur, c)
			}
			continue
		}

		switch {
		case c == '"':
			inQuotes = true
		case c == '\\' && i+1 < len(line) && line[i+1] == t.Sep:
			cur = append(cur, t.Sep)
			i++
		case c == t.Sep:
			if len(fields) >= DimMax-1 {
				cur = append(cur, c)
				continue
			}
			flush()
		default:
			cur = append(cur, c)
		}
	}
	flush()

	return fields
}
