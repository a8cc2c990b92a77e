// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package readpref

import (
	"testing"
	"time"

	"github.com/coredb/mongocore/x/mongo/driver/description"
)

func TestNew_PrimaryRejectsTags(t *testing.T) {
	_, err := New(PrimaryMode, WithTags(description.Tags{"dc": "east"}))
	if err != ErrInvalidTagSets {
		t.Fatalf("expected ErrInvalidTagSets, got %v", err)
	}
}

func TestNew_PrimaryRejectsMaxStaleness(t *testing.T) {
	_, err := New(PrimaryMode, WithMaxStaleness(90*time.Second))
	if err != ErrInvalidTagSets {
		t.Fatalf("expected ErrInvalidTagSets, got %v", err)
	}
}

func TestSecondaryWithTags(t *testing.T) {
	rp := Secondary(WithTags(description.Tags{"ordinal": "two"}))
	if rp.Mode() != SecondaryMode {
		t.Fatalf("expected SecondaryMode, got %v", rp.Mode())
	}
	if len(rp.TagSets()) != 1 || rp.TagSets()[0]["ordinal"] != "two" {
		t.Fatalf("expected tag set to round-trip, got %v", rp.TagSets())
	}
}

func TestAppendBSON(t *testing.T) {
	rp := SecondaryPreferred(WithTags(description.Tags{"region": "us"}))
	doc := rp.AppendBSON(nil)
	if len(doc) == 0 {
		t.Fatalf("expected non-empty BSON document")
	}
}

func TestIsPrimaryOnly(t *testing.T) {
	if !Primary().IsPrimaryOnly() {
		t.Fatalf("expected Primary() to be primary-only")
	}
	if Nearest().IsPrimaryOnly() {
		t.Fatalf("expected Nearest() not to be primary-only")
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{
		PrimaryMode:            "primary",
		PrimaryPreferredMode:   "primaryPreferred",
		SecondaryMode:          "secondary",
		SecondaryPreferredMode: "secondaryPreferred",
		NearestMode:            "nearest",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("mode %d: expected %q, got %q", mode, want, got)
		}
	}
}
