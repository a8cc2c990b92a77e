// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation builds and executes the individual CRUD and admin
// commands atop driver.Operation, one type per command the way the
// teacher's core/command package grouped per-command Encode/Decode/
// RoundTrip logic.
package operation

import (
	"context"

	"github.com/coredb/mongocore/mongo/writeconcern"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// reservedCommandBufferBytes is the headroom the teacher's batch splitter
// reserved for command overhead beyond the raw document bytes.
const reservedCommandBufferBytes = 16 * 10 * 10 * 10

// Insert represents the insert command: inserting a batch of documents,
// automatically split across multiple commands of at most 100000 documents
// and 16 MiB (less reservedCommandBufferBytes) each. The limits the server
// reports in its hello reply are not consulted.
type Insert struct {
	Namespace       driver.Namespace
	Documents       []bsoncore.Document
	Ordered         *bool
	WriteConcern    *writeconcern.WriteConcern
	Session         *session.Client
	Clock           *session.ClusterClock
	Deployment      *topology.Topology

	result InsertResult
}

// InsertResult is the decoded reply of an insert command.
type InsertResult struct {
	N                 int32
	WriteErrors       []driver.WriteError
	WriteConcernError *driver.WriteConcernError
}

// Result returns the accumulated result of Execute.
func (op *Insert) Result() InsertResult { return op.result }

// Execute runs the insert command, batching Documents as needed.
func (op *Insert) Execute(ctx context.Context) error {
	batches := splitInsertBatches(op.Documents, 100000, 1024*1024*16)

	for _, batch := range batches {
		o := &driver.Operation{
			Database:     op.Namespace.DB,
			Deployment:   op.Deployment,
			WriteConcern: op.WriteConcern,
			Client:       op.Session,
			Clock:        op.Clock,
			Type:         driver.Write,
			CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
				dst = bsoncore.AppendStringElement(dst, "insert", op.Namespace.Collection)
				aidx, adst := bsoncore.AppendArrayElementStart(dst, "documents")
				for i, doc := range batch {
					adst = bsoncore.AppendDocumentElement(adst, itoa(i), doc)
				}
				dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
				if op.Ordered != nil {
					dst = bsoncore.AppendBooleanElement(dst, "ordered", *op.Ordered)
				}
				return dst, nil
			},
		}

		reply, err := o.Execute(ctx)
		if err != nil {
			if wcErr, ok := err.(driver.WriteCommandError); ok {
				op.result.WriteErrors = append(op.result.WriteErrors, wcErr.WriteErrors...)
				if wcErr.WriteConcernError != nil {
					op.result.WriteConcernError = wcErr.WriteConcernError
				}
				continue
			}
			return err
		}
		if n, ok := reply.Lookup("n").AsInt64OK(); ok {
			op.result.N += int32(n)
		}
	}
	return nil
}

// splitInsertBatches groups docs into batches bounded by maxCount
// documents and targetBytes total size, the same greedy packing the
// teacher's Insert.split used.
func splitInsertBatches(docs []bsoncore.Document, maxCount int, targetBytes int) [][]bsoncore.Document {
	if targetBytes > reservedCommandBufferBytes {
		targetBytes -= reservedCommandBufferBytes
	}
	if maxCount <= 0 {
		maxCount = 1
	}

	var batches [][]bsoncore.Document
	start := 0
	for start < len(docs) {
		size := 0
		var batch []bsoncore.Document
		for start < len(docs) {
			doc := docs[start]
			if size+len(doc) > targetBytes && len(batch) > 0 {
				break
			}
			size += len(doc)
			batch = append(batch, doc)
			start++
			if len(batch) == maxCount {
				break
			}
		}
		batches = append(batches, batch)
	}
	return batches
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
