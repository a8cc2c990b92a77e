// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"

	"github.com/coredb/mongocore/bson/primitive"
)

type person struct {
	Name    string `bson:"name"`
	Age     int32  `bson:"age"`
	Hidden  string `bson:"-"`
	Missing string `bson:"nickname,omitempty"`
}

func TestMarshalStructRoundTrip(t *testing.T) {
	in := person{Name: "Ada", Age: 36, Hidden: "shouldnotappear"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out person
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	out.Hidden = in.Hidden // bson:"-" fields never round-trip

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalOmitempty(t *testing.T) {
	data, err := Marshal(person{Name: "Bob", Age: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	raw := Raw(data)
	if v := raw.Lookup("nickname"); v.Type() != 0x00 {
		t.Fatalf("expected nickname to be omitted, got type %x", v.Type())
	}
}

func TestMarshalDRoundTrip(t *testing.T) {
	in := primitive.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: "two"}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out primitive.D
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("D round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalPrimitives(t *testing.T) {
	oid := primitive.NewObjectID()
	in := primitive.M{
		"oid":  oid,
		"ts":   primitive.Timestamp{T: 1, I: 2},
		"date": primitive.DateTime(time.Now().UnixMilli()),
		"bin":  primitive.Binary{Subtype: 0x00, Data: []byte{1, 2, 3}},
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out primitive.M
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	gotOID, ok := out["oid"].(primitive.ObjectID)
	if !ok || gotOID != oid {
		t.Fatalf("oid mismatch: got %#v", out["oid"])
	}
}

func TestMarshalNestedDocument(t *testing.T) {
	type inner struct {
		X int32 `bson:"x"`
	}
	type outer struct {
		Inner inner    `bson:"inner"`
		Tags  []string `bson:"tags"`
	}
	in := outer{Inner: inner{X: 7}, Tags: []string{"a", "b", "c"}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out outer
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("nested round trip mismatch (-want +got):\n%s\nwant: %s\ngot: %s",
			diff, spew.Sdump(in), spew.Sdump(out))
	}
}
