// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref defines the five read preference modes and the
// ReadPref type used to build a description.ServerSelector and to encode
// the $readPreference field of an outgoing command.
package readpref

import (
	"errors"
	"time"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/description"
)

// Mode is a read preference mode.
type Mode uint8

// The read preference modes, in the order the wire protocol names them.
const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

func (mode Mode) String() string {
	switch mode {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	default:
		return "unknown"
	}
}

// ErrInvalidTagSets is returned when tags or a max staleness are supplied
// alongside PrimaryMode, which spec.md §4.H forbids.
var ErrInvalidTagSets = errors.New("primary read preference cannot be combined with tags")

// ReadPref represents a read preference: a mode plus the tag sets and
// max-staleness that refine it.
type ReadPref struct {
	mode           Mode
	tagSets        []description.Tags
	maxStaleness   time.Duration
	maxStalenessSet bool
}

// New constructs a ReadPref, validating that neither tags nor a max
// staleness are combined with PrimaryMode.
func New(mode Mode, opts ...Option) (*ReadPref, error) {
	rp := &ReadPref{mode: mode}
	for _, opt := range opts {
		opt(rp)
	}
	if rp.mode == PrimaryMode && (len(rp.tagSets) > 0 || rp.maxStalenessSet) {
		return nil, ErrInvalidTagSets
	}
	return rp, nil
}

// Primary is shorthand for New(PrimaryMode).
func Primary() *ReadPref { rp, _ := New(PrimaryMode); return rp }

// PrimaryPreferred is shorthand for New(PrimaryPreferredMode, opts...).
func PrimaryPreferred(opts ...Option) *ReadPref { rp, _ := New(PrimaryPreferredMode, opts...); return rp }

// Secondary is shorthand for New(SecondaryMode, opts...).
func Secondary(opts ...Option) *ReadPref { rp, _ := New(SecondaryMode, opts...); return rp }

// SecondaryPreferred is shorthand for New(SecondaryPreferredMode, opts...).
func SecondaryPreferred(opts ...Option) *ReadPref { rp, _ := New(SecondaryPreferredMode, opts...); return rp }

// Nearest is shorthand for New(NearestMode, opts...).
func Nearest(opts ...Option) *ReadPref { rp, _ := New(NearestMode, opts...); return rp }

// Option configures a ReadPref at construction time.
type Option func(*ReadPref)

// WithTags appends a tag set, evaluated in order during selection.
func WithTags(tags description.Tags) Option {
	return func(rp *ReadPref) { rp.tagSets = append(rp.tagSets, tags) }
}

// WithMaxStaleness sets the maximum acceptable secondary staleness.
func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) {
		rp.maxStaleness = d
		rp.maxStalenessSet = true
	}
}

// Mode returns the read preference mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// TagSets returns the configured tag sets.
func (rp *ReadPref) TagSets() []description.Tags { return rp.tagSets }

// MaxStaleness returns the configured max staleness and whether one was set.
func (rp *ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStaleness, rp.maxStalenessSet }

// Selector converts rp into the description.ReadPrefSelector that server
// selection filters the topology's candidate servers through.
func (rp *ReadPref) Selector(heartbeatFreq, localThreshold time.Duration) description.ServerSelector {
	return description.ReadPrefSelector{
		Mode:           description.ReadPrefMode(rp.mode),
		TagSets:        rp.tagSets,
		MaxStaleness:   rp.maxStaleness,
		HeartbeatFreq:  heartbeatFreq,
		LocalThreshold: localThreshold,
	}
}

// IsPrimaryOnly reports whether this preference requires the primary only,
// used by the executor to decide whether $readPreference needs to be sent
// at all against a sharded topology (it is omitted for a bare primary
// preference, per the legacy wire contract).
func (rp *ReadPref) IsPrimaryOnly() bool { return rp.mode == PrimaryMode }

// AppendBSON appends the $readPreference document used when sending a
// non-primary read to a mongos, e.g. {mode: "secondary", tags: [...]}.
func (rp *ReadPref) AppendBSON(dst []byte) []byte {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	dst = bsoncore.AppendStringElement(dst, "mode", rp.mode.String())
	if len(rp.tagSets) > 0 {
		aidx, adst := bsoncore.AppendArrayStart(dst)
		for i, ts := range rp.tagSets {
			tidx, tdoc := bsoncore.AppendDocumentStart(nil)
			for k, v := range ts {
				tdoc = bsoncore.AppendStringElement(tdoc, k, v)
			}
			tdoc, _ = bsoncore.AppendDocumentEnd(tdoc, tidx)
			adst = bsoncore.AppendDocumentElement(adst, itoa(i), tdoc)
		}
		dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
	}
	if rp.maxStalenessSet {
		dst = bsoncore.AppendInt32Element(dst, "maxStalenessSeconds", int32(rp.maxStaleness/time.Second))
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
