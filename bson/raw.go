// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package bson implements the BSON document model described in spec.md §3:
// a reflective Marshal/Unmarshal pair built on top of the byte-pushing
// x/bsonx/bsoncore codec, plus canonical/relaxed extended-JSON conversion.
package bson

import (
	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// Re-export the order-preserving document containers so callers only ever
// need to import the bson package.
type (
	D = primitive.D
	E = primitive.E
	M = primitive.M
	A = primitive.A
)

// Raw is a raw, uninterpreted BSON document. Field lookups on a Raw are
// lazy; call Validate to perform the full structural scan described in the
// codec contract.
type Raw bsoncore.Document

// Validate performs a full validation pass over the document.
func (r Raw) Validate() error { return bsoncore.Document(r).Validate() }

// Lookup looks up a key path given as one key per nesting level (keys are
// not split on dots), returning a zero RawValue if absent.
func (r Raw) Lookup(key ...string) RawValue {
	return RawValue(bsoncore.Document(r).Lookup(key...))
}

// LookupErr behaves like Lookup but reports an error when the key path is
// not present.
func (r Raw) LookupErr(key ...string) (RawValue, error) {
	v, err := bsoncore.Document(r).LookupErr(key...)
	return RawValue(v), err
}

// Elements returns the document's top-level elements.
func (r Raw) Elements() ([]RawElement, error) {
	elems, err := bsoncore.Document(r).Elements()
	if err != nil {
		return nil, err
	}
	out := make([]RawElement, len(elems))
	for i, e := range elems {
		out[i] = RawElement(e)
	}
	return out, nil
}

// RawValue wraps a bsoncore.Value with the type-specific accessors callers
// need (type, document, array, string, ...).
type RawValue bsoncore.Value

// Type returns the BSON type tag of the value.
func (rv RawValue) Type() byte { return byte(bsoncore.Value(rv).Type) }

// DocumentOK returns the value as a Raw document, if it is one.
func (rv RawValue) DocumentOK() (Raw, bool) {
	d, ok := bsoncore.Value(rv).DocumentOK()
	return Raw(d), ok
}

// StringValueOK returns the value as a string, if it is one.
func (rv RawValue) StringValueOK() (string, bool) { return bsoncore.Value(rv).StringValueOK() }

// Int32OK returns the value as an int32, if it is one.
func (rv RawValue) Int32OK() (int32, bool) { return bsoncore.Value(rv).Int32OK() }

// Int64OK returns the value as an int64, if it is one.
func (rv RawValue) Int64OK() (int64, bool) { return bsoncore.Value(rv).Int64OK() }

// Timestamp returns the value's (T, I) pair, if it is a Timestamp.
func (rv RawValue) Timestamp() (t, i uint32) { return bsoncore.Value(rv).Timestamp() }

// RawElement is a single raw (key, RawValue) pair within a Raw document.
type RawElement bsoncore.Element

// Key returns the element's field name.
func (re RawElement) Key() string { return bsoncore.Element(re).Key() }

// Value returns the element's value.
func (re RawElement) Value() RawValue { return RawValue(bsoncore.Element(re).Value()) }
