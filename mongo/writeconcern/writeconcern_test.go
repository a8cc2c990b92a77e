// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package writeconcern

import (
	"testing"
	"time"
)

func TestAcknowledged(t *testing.T) {
	if !New().Acknowledged() {
		t.Fatalf("default write concern should be acknowledged")
	}
	if New(W(0)).Acknowledged() {
		t.Fatalf("w:0 must not be acknowledged (fire-and-forget, spec.md §4.B)")
	}
	if !New(WMajority()).Acknowledged() {
		t.Fatalf("w:majority should be acknowledged")
	}
	var nilWC *WriteConcern
	if !nilWC.Acknowledged() {
		t.Fatalf("a nil write concern defaults to acknowledged")
	}
}

func TestValidate(t *testing.T) {
	if err := New(W(-1)).Validate(); err != ErrNegativeW {
		t.Fatalf("expected ErrNegativeW, got %v", err)
	}
	if err := New(WTimeout(-time.Second)).Validate(); err != ErrNegativeWTimeout {
		t.Fatalf("expected ErrNegativeWTimeout, got %v", err)
	}
	if err := New(W(1), J(true)).Validate(); err != nil {
		t.Fatalf("expected valid write concern, got %v", err)
	}
}

func TestAppendBSON_MajorityWithJournal(t *testing.T) {
	wc := New(WMajority(), J(true), WTimeout(5*time.Second))
	doc := wc.AppendBSON(nil)
	if len(doc) == 0 {
		t.Fatalf("expected non-empty document")
	}
}
