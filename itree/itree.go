// Copyright 2016 Mhd Sulhan <ms@kilabit.info>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package itree implements the extended-isolation-tree builder: a recursive
binary-space partition using a random normal split vector and an (optional
jitter- or centroid-derived) split point.

Unlike the teacher's tree/binary package (a pointer-linked BTNode tree,
exercised by tree/binary/binary_test.go), itree nodes live in a single
arena slice addressed by int32 index, with -1 standing in for an absent
child. That is the data model spec.md §3 and §9 call for: it avoids
back-references, and walking a tree is a plain slice walk instead of a
pointer graph traversal. Package persist does not store trees.
*/
package itree

import (
	"math"

	"github.com/TimoSavi/ceif/internal/rng"
	"github.com/TimoSavi/ceif/internal/vecmath"
)

// NodeMinSample is the minimum reaching-sample count for a node to be
// split further, matching NODE_MIN_SAMPLE in the original C source.
const NodeMinSample = 3

// DefaultCentroidThreshold is the fraction of remaining tree height above
// which the split point is a jittered random sample rather than a
// centroid, matching CENTROID_TRESSHOLD (0.45) in the original C source.
const DefaultCentroidThreshold = 0.45

// noChild marks an absent child.
const noChild = int32(-1)

// Node is one arena-addressed tree node.
type Node struct {
	SampleCount int
	N           []float64 // split normal vector, length D
	PDotN       float64   // dot(p, n)
	Left        int32     // noChild if absent
	Right       int32     // noChild if absent

	// LeafSamples holds the original sample-array indices that reached
	// this node, but only when it is a leaf (Left == Right == noChild)
	// and nearest-distance refinement was enabled at build time.
	LeafSamples []int
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == noChild && n.Right == noChild
}

// Tree is an arena of nodes; Root is the index of the root node, or
// noChild if the tree could not be built at all (degenerate input).
type Tree struct {
	Nodes []Node
	Root  int32
}

// HeightLimit computes the per-tree height cap H = ceil(log2(n)) + 1 used
// to stop splitting, for a tree receiving n samples (spec.md §4.3).
func HeightLimit(n int) int {
	if n < 2 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(n)))) + 1
}

// BuildParams configures one tree build.
type BuildParams struct {
	// HeightLimit is H, the per-tree height cap (see HeightLimit).
	HeightLimit int
	// CentroidThreshold selects jitter-sample vs. centroid split points;
	// see Build.
	CentroidThreshold float64
	// RefinementEnabled turns on leaf-sample capture for the scorer's
	// nearest-distance refinement.
	RefinementEnabled bool
	// AvgSampleDist is the forest's average nearest-sample distance;
	// leaf-sample capture additionally requires this to be positive.
	AvgSampleDist float64
	// RawMin, RawMax are the forest's per-dimension sample ranges in raw
	// (unscaled) space, used to size the upper-tree jitter vector.
	RawMin, RawMax []float64
	// ScaleP maps a raw-space split point into scaled space. Leave nil
	// when autoscale is inactive.
	ScaleP func(p []float64) []float64
}

// Build constructs one extended isolation tree.
//
// raw holds each reaching sample's raw (unscaled) coordinates, used only to
// construct candidate split points (a raw sample plus jitter, or the raw
// centroid of every-other sample). eff holds the vectors actually routed
// through dot(x,n) < pdotn (the autoscaled coordinates when autoscale is
// active, otherwise identical to raw). indices holds the original
// sample-array index of each entry, parallel to raw/eff, used only for
// leaf-sample capture. rnd supplies the cached standard-normal draws used
// for both the split vector and the upper-tree jitter.
func Build(raw, eff [][]float64, indices []int, rnd *rng.Source, p BuildParams) *Tree {
	t := &Tree{}
	t.Root = buildNode(t, raw, eff, indices, 0, rnd, p)
	return t
}

func buildNode(t *Tree, raw, eff [][]float64, indices []int, h int, rnd *rng.Source, p BuildParams) int32 {
	if h >= p.HeightLimit || len(eff) < NodeMinSample {
		return noChild
	}

	d := len(eff[0])
	node := Node{SampleCount: len(eff), N: rnd.NextNormalVector(d)}

	frac := 1 - float64(h)/float64(p.HeightLimit)
	var splitPoint []float64
	if frac >= p.CentroidThreshold {
		pick := rnd.UniformInt(len(raw))
		splitPoint = vecmath.Dup(raw[pick])
		jitter := rnd.NextNormalVector(d)
		for i := range splitPoint {
			splitPoint[i] += jitter[i] * (p.RawMax[i] - p.RawMin[i]) / 2 * frac
		}
	} else {
		splitPoint = centroidEveryOther(raw, d)
	}

	effSplit := splitPoint
	if p.ScaleP != nil {
		effSplit = p.ScaleP(splitPoint)
	}
	node.PDotN = vecmath.Dot(effSplit, node.N)

	var leftRaw, rightRaw, leftEff, rightEff [][]float64
	var leftIdx, rightIdx []int
	for i, x := range eff {
		if vecmath.Dot(x, node.N) < node.PDotN {
			leftRaw = append(leftRaw, raw[i])
			leftEff = append(leftEff, x)
			leftIdx = append(leftIdx, indices[i])
		} else {
			rightRaw = append(rightRaw, raw[i])
			rightEff = append(rightEff, x)
			rightIdx = append(rightIdx, indices[i])
		}
	}

	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, node)

	left := noChild
	if len(leftEff) > 0 {
		left = buildNode(t, leftRaw, leftEff, leftIdx, h+1, rnd, p)
	}
	right := noChild
	if len(rightEff) > 0 {
		right = buildNode(t, rightRaw, rightEff, rightIdx, h+1, rnd, p)
	}

	t.Nodes[idx].Left = left
	t.Nodes[idx].Right = right

	if left == noChild && right == noChild && p.RefinementEnabled && p.AvgSampleDist > 0 {
		t.Nodes[idx].LeafSamples = append([]int(nil), indices...)
	}

	return idx
}

// centroidEveryOther returns the mean of every other sample in raw
// (indices 0, 2, 4, ...), matching spec.md §4.3's lower-tree split rule.
func centroidEveryOther(raw [][]float64, d int) []float64 {
	sum := make([]float64, d)
	count := 0
	for i := 0; i < len(raw); i += 2 {
		for j := 0; j < d; j++ {
			sum[j] += raw[i][j]
		}
		count++
	}
	if count == 0 {
		count = 1
	}
	for j := range sum {
		sum[j] /= float64(count)
	}
	return sum
}

// NoChild is the exported sentinel for an absent child index.
const NoChild = noChild
