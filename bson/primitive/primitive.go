// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package primitive holds types for BSON values that have no natural Go
// counterpart: ObjectID, Decimal128, the Timestamp/DateTime/MinKey/MaxKey
// singletons, and the order-preserving document containers D/E/M/A.
package primitive

import "fmt"

// Binary represents a BSON binary value.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Equal compares bp to bp2 and returns true if they are equal.
func (bp Binary) Equal(bp2 Binary) bool {
	if bp.Subtype != bp2.Subtype {
		return false
	}
	return string(bp.Data) == string(bp2.Data)
}

// IsZero returns if b is the empty Binary.
func (bp Binary) IsZero() bool {
	return bp.Subtype == 0 && len(bp.Data) == 0
}

// Undefined represents the BSON undefined value type.
type Undefined struct{}

// DateTime represents the BSON datetime value, milliseconds since the Unix
// epoch. Negative values represent times before the epoch.
type DateTime int64

// MinKey represents the BSON minkey value.
type MinKey struct{}

// MaxKey represents the BSON maxkey value.
type MaxKey struct{}

// Null represents the BSON null value.
type Null struct{}

// Regex represents a BSON regex value.
type Regex struct {
	Pattern string
	Options string
}

func (rp Regex) String() string {
	return fmt.Sprintf(`{"pattern": "%s", "options": "%s"}`, rp.Pattern, rp.Options)
}

// Equal compares rp to rp2 and returns true if they are equal.
func (rp Regex) Equal(rp2 Regex) bool {
	return rp.Pattern == rp2.Pattern && rp.Options == rp2.Options
}

// DBPointer represents a BSON dbpointer value (deprecated by the BSON spec,
// kept for wire compatibility with legacy documents).
type DBPointer struct {
	DB      string
	Pointer ObjectID
}

func (d DBPointer) String() string {
	return fmt.Sprintf(`{"db": "%s", "pointer": "%s"}`, d.DB, d.Pointer.Hex())
}

// JavaScript represents a BSON JavaScript code value.
type JavaScript string

// Symbol represents a BSON symbol value (deprecated by the BSON spec).
type Symbol string

// CodeWithScope represents a BSON JavaScript code with scope value.
type CodeWithScope struct {
	Code  JavaScript
	Scope interface{}
}

func (cws CodeWithScope) String() string {
	return fmt.Sprintf(`{"code": "%s", "scope": %v}`, cws.Code, cws.Scope)
}

// Timestamp represents a BSON timestamp value: an opaque server-generated
// logical time, a monotonic seconds-since-epoch plus an increment, used
// internally for oplog entries and $clusterTime signatures.
type Timestamp struct {
	T uint32
	I uint32
}

// CompareTimestamp compares t1 to t2 and returns -1, 0, or 1.
func CompareTimestamp(t1, t2 Timestamp) int {
	switch {
	case t1.T > t2.T:
		return 1
	case t1.T < t2.T:
		return -1
	case t1.I > t2.I:
		return 1
	case t1.I < t2.I:
		return -1
	default:
		return 0
	}
}

// E represents a BSON element for a D. It is usually used inside a D.
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered representation of a BSON document: a slice of key/value
// pairs that preserves field order on round-trip, unlike M.
type D []E

// Map creates a map from the elements of the D.
func (d D) Map() M {
	m := make(M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

// M is an unordered representation of a BSON document: a shorthand for
// map[string]interface{} when field order does not matter.
type M map[string]interface{}

// A is a BSON array.
type A []interface{}
