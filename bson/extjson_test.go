// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"strings"
	"testing"

	"github.com/coredb/mongocore/bson/primitive"
)

func TestMarshalExtJSONCanonical(t *testing.T) {
	oid := primitive.NewObjectID()
	in := primitive.D{
		{Key: "_id", Value: oid},
		{Key: "count", Value: int32(5)},
		{Key: "big", Value: int64(9000000000)},
	}
	out, err := MarshalExtJSON(in, true, true)
	if err != nil {
		t.Fatalf("MarshalExtJSON: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"$oid":"`+oid.Hex()+`"`) {
		t.Fatalf("missing canonical $oid wrapper: %s", s)
	}
	if !strings.Contains(s, `"$numberInt":"5"`) {
		t.Fatalf("missing canonical $numberInt wrapper: %s", s)
	}
	if !strings.Contains(s, `"$numberLong":"9000000000"`) {
		t.Fatalf("missing canonical $numberLong wrapper: %s", s)
	}
}

func TestMarshalExtJSONRelaxed(t *testing.T) {
	in := primitive.D{{Key: "count", Value: int32(5)}}
	out, err := MarshalExtJSON(in, false, true)
	if err != nil {
		t.Fatalf("MarshalExtJSON: %v", err)
	}
	if strings.Contains(string(out), "$numberInt") {
		t.Fatalf("relaxed mode should not wrap plain int32s: %s", out)
	}
}

func TestUnmarshalExtJSONWrappers(t *testing.T) {
	oid := primitive.NewObjectID()
	doc := `{"_id":{"$oid":"` + oid.Hex() + `"},"n":{"$numberLong":"42"},"d":{"$numberDecimal":"1.5"}}`

	var out struct {
		ID primitive.ObjectID  `bson:"_id"`
		N  int64               `bson:"n"`
		D  primitive.Decimal128 `bson:"d"`
	}
	if err := UnmarshalExtJSON([]byte(doc), true, &out); err != nil {
		t.Fatalf("UnmarshalExtJSON: %v", err)
	}
	if out.ID != oid {
		t.Fatalf("oid mismatch: got %s want %s", out.ID.Hex(), oid.Hex())
	}
	if out.N != 42 {
		t.Fatalf("numberLong mismatch: got %d", out.N)
	}
	if out.D.String() != "1.5" {
		t.Fatalf("numberDecimal mismatch: got %s", out.D.String())
	}
}

func TestExtJSONRoundTrip(t *testing.T) {
	in := primitive.D{
		{Key: "name", Value: "widget"},
		{Key: "qty", Value: int32(3)},
		{Key: "tags", Value: primitive.A{"a", "b"}},
	}
	data, err := MarshalExtJSON(in, true, true)
	if err != nil {
		t.Fatalf("MarshalExtJSON: %v", err)
	}

	var out primitive.D
	if err := UnmarshalExtJSON(data, true, &out); err != nil {
		t.Fatalf("UnmarshalExtJSON: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip length mismatch: got %d want %d", len(out), len(in))
	}
}
