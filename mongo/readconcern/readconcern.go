// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readconcern defines the readConcern levels a command's
// readConcern document may carry.
package readconcern

import "github.com/coredb/mongocore/x/bsonx/bsoncore"

// ReadConcern represents a MongoDB read concern level. It does not hold an
// afterClusterTime; causally consistent sessions add that field when the
// command is built.
type ReadConcern struct {
	level string
}

// Level returns the configured level string, or "" if none was set.
func (rc *ReadConcern) Level() string {
	if rc == nil {
		return ""
	}
	return rc.level
}

func new_(level string) *ReadConcern { return &ReadConcern{level: level} }

// Local requests acknowledgment that the data has been written to one
// replica set member.
func Local() *ReadConcern { return new_("local") }

// Majority requests acknowledgment that the data has been written to a
// majority of replica set members.
func Majority() *ReadConcern { return new_("majority") }

// Linearizable requests that reads reflect all successful majority-acknowledged
// writes that completed before the read began.
func Linearizable() *ReadConcern { return new_("linearizable") }

// Available returns the instance's most recent data without guaranteeing
// it has been written to a majority of replica set members.
func Available() *ReadConcern { return new_("available") }

// Snapshot requests data from a snapshot of majority-committed data,
// used in multi-document transactions.
func Snapshot() *ReadConcern { return new_("snapshot") }

// AppendBSON appends this read concern's {level: ...} document, with
// afterClusterTime appended by the caller (the session, not this type,
// owns that value).
func (rc *ReadConcern) AppendBSON(dst []byte) []byte {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	if rc != nil && rc.level != "" {
		dst = bsoncore.AppendStringElement(dst, "level", rc.level)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}
