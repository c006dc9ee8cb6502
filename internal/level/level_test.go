package level

import (
	"testing"

	"github.com/nainya/lsmtree/internal/segment"
)

func TestStateStableVsMerging(t *testing.T) {
	l := Level{Lhs: segment.Segment{SizePages: 5}}
	if l.State() != Stable {
		t.Fatalf("State() with empty Rhs = %v, want Stable", l.State())
	}
	l.Rhs = []segment.Segment{{SizePages: 3}}
	if l.State() != Merging {
		t.Fatalf("State() with non-empty Rhs = %v, want Merging", l.State())
	}
}

func TestEligibleForMergeRequiresStable(t *testing.T) {
	this := &Level{Lhs: segment.Segment{SizePages: 100}, Rhs: []segment.Segment{{SizePages: 1}}}
	next := &Level{Lhs: segment.Segment{SizePages: 1}}
	if EligibleForMerge(this, next, 2) {
		t.Fatal("a MERGING level should never be eligible as a merge source")
	}
}

func TestEligibleForMergeEmptyLhs(t *testing.T) {
	this := &Level{}
	next := &Level{}
	if EligibleForMerge(this, next, 2) {
		t.Fatal("a level with an empty Lhs should never be eligible")
	}
}

func TestEligibleForMergeIntoEmptyNext(t *testing.T) {
	this := &Level{Lhs: segment.Segment{SizePages: 1}}
	next := &Level{}
	if !EligibleForMerge(this, next, 100) {
		t.Fatal("any non-empty stable level should be eligible to merge into an empty next level")
	}
}

func TestEligibleForMergeRatio(t *testing.T) {
	this := &Level{Lhs: segment.Segment{SizePages: 20}}
	next := &Level{Lhs: segment.Segment{SizePages: 10}}

	if EligibleForMerge(this, next, 3) {
		t.Fatal("20 <= 3*10: should not be eligible at ratio 3")
	}
	if !EligibleForMerge(this, next, 1) {
		t.Fatal("20 > 1*10: should be eligible at ratio 1")
	}
}

func TestEligibleForMergeExactRatioBoundaryIsNotEligible(t *testing.T) {
	this := &Level{Lhs: segment.Segment{SizePages: 20}}
	next := &Level{Lhs: segment.Segment{SizePages: 10}}
	// this.Lhs.SizePages == ratio * next.Lhs.SizePages exactly: strict >, so not eligible.
	if EligibleForMerge(this, next, 2) {
		t.Fatal("exact ratio boundary should use strict greater-than, not >=")
	}
}
