// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bsoncore

import (
	"testing"

	"github.com/coredb/mongocore/bson/bsontype"
)

func buildDoc(t *testing.T) Document {
	t.Helper()
	idx, dst := AppendDocumentStart(nil)
	dst = AppendStringElement(dst, "name", "widget")
	dst = AppendInt32Element(dst, "qty", 12)
	dst = AppendBooleanElement(dst, "active", true)
	dst, err := AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}
	return Document(dst)
}

func TestDocumentValidateRoundTrip(t *testing.T) {
	doc := buildDoc(t)
	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	v := doc.Lookup("name")
	s, ok := v.StringValueOK()
	if !ok || s != "widget" {
		t.Fatalf("Lookup(name) = %v, %v", s, ok)
	}

	qty, ok := doc.Lookup("qty").Int32OK()
	if !ok || qty != 12 {
		t.Fatalf("Lookup(qty) = %v, %v", qty, ok)
	}
}

func TestDocumentValidateTruncated(t *testing.T) {
	doc := buildDoc(t)
	truncated := Document(doc[:len(doc)-3])
	if err := truncated.Validate(); err == nil {
		t.Fatalf("expected Validate to fail on truncated document")
	}
}

func TestNestedDocumentLookup(t *testing.T) {
	innerIdx, inner := AppendDocumentStart(nil)
	inner = AppendInt32Element(inner, "x", 9)
	inner, err := AppendDocumentEnd(inner, innerIdx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}

	idx, dst := AppendDocumentStart(nil)
	dst = AppendDocumentElement(dst, "child", inner)
	dst, err = AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}

	doc := Document(dst)
	if err := doc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	x, ok := doc.Lookup("child", "x").Int32OK()
	if !ok || x != 9 {
		t.Fatalf("nested lookup = %v, %v", x, ok)
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	idx, dst := AppendDocumentStart(nil)
	dst = AppendDoubleElement(dst, "pi", 3.14159)
	dst, err := AppendDocumentEnd(dst, idx)
	if err != nil {
		t.Fatalf("AppendDocumentEnd: %v", err)
	}

	doc := Document(dst)
	f, ok := doc.Lookup("pi").DoubleOK()
	if !ok {
		t.Fatalf("expected double lookup to succeed")
	}
	if f != 3.14159 {
		t.Fatalf("double mismatch: got %v", f)
	}
}

func TestValueEqual(t *testing.T) {
	a := Value{Type: bsontype.Int32, Data: AppendInt32(nil, 5)}
	b := Value{Type: bsontype.Int32, Data: AppendInt32(nil, 5)}
	c := Value{Type: bsontype.Int32, Data: AppendInt32(nil, 6)}
	if !a.Equal(b) {
		t.Fatalf("expected equal values")
	}
	if a.Equal(c) {
		t.Fatalf("expected unequal values")
	}
}
