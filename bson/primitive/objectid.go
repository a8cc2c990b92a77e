// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package primitive

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is the BSON ObjectID type: a 4-byte timestamp, a 5-byte random
// value shared by a process, and a 3-byte counter, starting with a random
// value.
type ObjectID [12]byte

// NilObjectID is the zero-value ObjectID.
var NilObjectID ObjectID

var objectIDCounter = newObjectIDCounter()
var processUnique = processUniqueBytes()

// NewObjectID generates a new ObjectID.
func NewObjectID() ObjectID {
	return NewObjectIDFromTimestamp(time.Now())
}

// NewObjectIDFromTimestamp generates a new ObjectID based on the given time.
func NewObjectIDFromTimestamp(timestamp time.Time) ObjectID {
	var b [12]byte

	binary.BigEndian.PutUint32(b[0:4], uint32(timestamp.Unix()))
	copy(b[4:9], processUnique[:])

	i := atomic.AddUint32(&objectIDCounter, 1)
	putUint24(b[9:12], i)

	return b
}

func processUniqueBytes() [5]byte {
	var b [5]byte
	_, err := rand.Read(b[:])
	if err != nil {
		panic(fmt.Errorf("cannot initialize ObjectID package: %w", err))
	}
	return b
}

func newObjectIDCounter() uint32 {
	var b [3]byte
	_, err := rand.Read(b[:])
	if err != nil {
		panic(fmt.Errorf("cannot initialize ObjectID package: %w", err))
	}
	return readUint24(b[:])
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Timestamp extracts the time part of the ObjectID.
func (id ObjectID) Timestamp() time.Time {
	unixSecs := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(unixSecs), 0).UTC()
}

// Hex returns the hex encoding of the ObjectID as a string.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if id is the empty ObjectID.
func (id ObjectID) IsZero() bool {
	return id == NilObjectID
}

// String returns a human-readable version of the ObjectID.
func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

// ObjectIDFromHex creates a new ObjectID from a hex string. It returns an
// error if the hex string is not a valid ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	if len(s) != 24 {
		return NilObjectID, errors.New("the provided hex string is not a valid ObjectID")
	}

	var oid [12]byte
	_, err := hex.Decode(oid[:], []byte(s))
	if err != nil {
		return NilObjectID, err
	}

	return oid, nil
}

// IsValidObjectID returns true if s is a valid hex-encoded ObjectID.
func IsValidObjectID(s string) bool {
	_, err := ObjectIDFromHex(s)
	return err == nil
}

// MarshalText returns the ObjectID as UTF-8-encoded text, for encoding/json.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText populates id with the given text.
func (id *ObjectID) UnmarshalText(b []byte) error {
	oid, err := ObjectIDFromHex(string(b))
	if err != nil {
		return err
	}
	*id = oid
	return nil
}

// MarshalJSON renders the ObjectID as an extended-JSON-compatible string.
func (id ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}
