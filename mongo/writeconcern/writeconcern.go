// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package writeconcern defines the w/j/wtimeout write concern a command's
// writeConcern document carries.
package writeconcern

import (
	"errors"
	"time"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// ErrNegativeW is returned by New when a negative w value is supplied.
var ErrNegativeW = errors.New("write concern `w` field cannot be negative")

// ErrNegativeWTimeout is returned by New when a negative wtimeout is supplied.
var ErrNegativeWTimeout = errors.New("write concern `wtimeout` field cannot be negative")

// WriteConcern describes the durability a write must achieve before the
// server acknowledges it.
type WriteConcern struct {
	w        interface{} // nil, int, or string ("majority", a tag set name)
	journal  *bool
	wtimeout time.Duration
}

// Option configures a WriteConcern at construction time.
type Option func(*WriteConcern)

// W requests acknowledgment from w nodes.
func W(w int) Option { return func(wc *WriteConcern) { wc.w = w } }

// WMajority requests acknowledgment from a majority of voting nodes.
func WMajority() Option { return func(wc *WriteConcern) { wc.w = "majority" } }

// WTagSet requests acknowledgment from nodes matching a custom write
// concern tag set name configured on the replica set.
func WTagSet(tag string) Option { return func(wc *WriteConcern) { wc.w = tag } }

// J requests (or disables) acknowledgment of a journal commit.
func J(j bool) Option { return func(wc *WriteConcern) { wc.journal = &j } }

// WTimeout sets the server-side timeout for satisfying this write concern.
func WTimeout(d time.Duration) Option { return func(wc *WriteConcern) { wc.wtimeout = d } }

// New builds a WriteConcern from the given options.
func New(opts ...Option) *WriteConcern {
	wc := &WriteConcern{}
	for _, opt := range opts {
		opt(wc)
	}
	return wc
}

// Acknowledged reports whether this write concern requires any
// acknowledgment at all; {w: 0} is the fire-and-forget case spec.md §4.B
// names explicitly.
func (wc *WriteConcern) Acknowledged() bool {
	if wc == nil {
		return true
	}
	if i, ok := wc.w.(int); ok {
		return i != 0
	}
	return true
}

// Validate checks that the configured values are legal.
func (wc *WriteConcern) Validate() error {
	if wc == nil {
		return nil
	}
	if i, ok := wc.w.(int); ok && i < 0 {
		return ErrNegativeW
	}
	if wc.wtimeout < 0 {
		return ErrNegativeWTimeout
	}
	return nil
}

// AppendBSON appends this write concern's document: {w, j, wtimeout}.
func (wc *WriteConcern) AppendBSON(dst []byte) []byte {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	if wc != nil {
		switch w := wc.w.(type) {
		case int:
			dst = bsoncore.AppendInt32Element(dst, "w", int32(w))
		case string:
			dst = bsoncore.AppendStringElement(dst, "w", w)
		}
		if wc.journal != nil {
			dst = bsoncore.AppendBooleanElement(dst, "j", *wc.journal)
		}
		if wc.wtimeout > 0 {
			dst = bsoncore.AppendInt64Element(dst, "wtimeout", int64(wc.wtimeout/time.Millisecond))
		}
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}
