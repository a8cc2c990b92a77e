// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package readconcern

import "testing"

func TestLevels(t *testing.T) {
	cases := []struct {
		rc   *ReadConcern
		want string
	}{
		{Local(), "local"},
		{Majority(), "majority"},
		{Linearizable(), "linearizable"},
		{Available(), "available"},
		{Snapshot(), "snapshot"},
	}
	for _, c := range cases {
		if got := c.rc.Level(); got != c.want {
			t.Fatalf("expected level %q, got %q", c.want, got)
		}
	}
}

func TestNilReadConcern(t *testing.T) {
	var rc *ReadConcern
	if rc.Level() != "" {
		t.Fatalf("expected empty level for nil ReadConcern")
	}
	doc := rc.AppendBSON(nil)
	if len(doc) == 0 {
		t.Fatalf("expected a valid empty document for nil ReadConcern")
	}
}
