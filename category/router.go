// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package category builds a deterministic category key from a record's
selected columns and maintains a bucketed hash index from key to forest id.

The hash is a DJB2-like string hash modulo HashMax, exactly as described in
SPEC_FULL.md §4.1 / spec.md §4.1: collisions are resolved by a linear scan
within the bucket comparing full keys, so the hash only needs to be cheap
and reasonably well distributed, not perfect.
*/
package category

import (
	"regexp"
	"strings"
)

// HashMax is the modulus of the bucket hash, matching HASH_MAX in the
// original C source.
const HashMax = 32771

// Key builds the category key by joining the selected column values with
// sep. Fields holds the full tokenized record; cols holds the indices (into
// fields) of the configured category columns, in order.
func Key(fields []string, cols []int, sep string) string {
	if len(cols) == 0 {
		return ""
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c >= 0 && c < len(fields) {
			parts[i] = fields[c]
		}
	}
	return strings.Join(parts, sep)
}

// Split reverses Key for a previously-joined value, returning the original
// column subset. It is the Category-key round-trip property of
// spec.md §8: joining with sep and then re-splitting by it yields back the
// original slice of values.
func Split(key, sep string) []string {
	if sep == "" {
		return []string{key}
	}
	return strings.Split(key, sep)
}

type entry struct {
	key      string
	forestID int
}

// Filter is a compiled category-key filter rule: Invert true means the
// rule is "-v RE" (match everything that does NOT match RE).
type Filter struct {
	re     *regexp.Regexp
	Invert bool
}

// NewFilter compiles expr (optionally prefixed by "-v ") into a Filter.
func NewFilter(expr string) (Filter, error) {
	invert := false
	if strings.HasPrefix(expr, "-v ") {
		invert = true
		expr = strings.TrimPrefix(expr, "-v ")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Filter{}, err
	}
	return Filter{re: re, Invert: invert}, nil
}

// Match reports whether key is excluded by this filter.
func (f Filter) Match(key string) bool {
	m := f.re.MatchString(key)
	if f.Invert {
		return !m
	}
	return m
}

// Router maps category keys to forest ids via a bucketed hash index, and
// holds the compiled category filters used to mark forests as excluded
// from training/scoring/categorization (spec.md §4.1).
type Router struct {
	buckets [HashMax][]entry
	filters []Filter
	nextID  int
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// SetFilters replaces the configured filter rules.
func (r *Router) SetFilters(filters []Filter) {
	r.filters = filters
}

// IsFiltered reports whether key is excluded by any configured filter.
// Filtered forests are still persisted but skipped by training, scoring,
// and categorization.
func (r *Router) IsFiltered(key string) bool {
	for _, f := range r.filters {
		if f.Match(key) {
			return true
		}
	}
	return false
}

func hash(key string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(key); i++ {
		h = h*33 + uint32(key[i])
	}
	return h % HashMax
}

// Resolve returns the forest id for key, or (-1, false) if key has not been
// seen.
func (r *Router) Resolve(key string) (int, bool) {
	b := hash(key)
	for _, e := range r.buckets[b] {
		if e.key == key {
			return e.forestID, true
		}
	}
	return -1, false
}

// Assign returns the forest id for key, allocating a new, sequentially
// increasing id (and recording created=true) if key has not been seen
// before. Forest ids are handed out in first-seen order, matching the
// deterministic forest creation order required by spec.md §9.
func (r *Router) Assign(key string) (id int, created bool) {
	if id, ok := r.Resolve(key); ok {
		return id, false
	}
	id = r.nextID
	r.nextID++
	b := hash(key)
	r.buckets[b] = append(r.buckets[b], entry{key: key, forestID: id})
	return id, true
}

// Replay registers a (key, id) pair read back from a persisted snapshot,
// rebuilding the hash index in the order forests are replayed, per
// spec.md §9 ("reload MUST rebuild the hash index as forests are
// replayed"). The id sequence is not checked: the next id handed out by
// Assign becomes one past the highest id replayed so far.
func (r *Router) Replay(key string, id int) {
	b := hash(key)
	r.buckets[b] = append(r.buckets[b], entry{key: key, forestID: id})
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

// Count returns the number of distinct keys registered so far.
func (r *Router) Count() int {
	return r.nextID
}
