// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"time"

	"github.com/coredb/mongocore/mongo/readconcern"
	"github.com/coredb/mongocore/mongo/readpref"
	"github.com/coredb/mongocore/mongo/writeconcern"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// Namespace identifies a database and collection together.
type Namespace struct {
	DB         string
	Collection string
}

// RetryMode controls whether and how Operation.Execute retries a failed
// attempt, spec.md §4.J's retry matrix.
type RetryMode uint8

// The retry modes an Operation may request.
const (
	RetryNone RetryMode = iota
	RetryOnce
	RetryContext
)

// CommandFn builds the command document for one attempt. desc is the
// server the command will run against so builders can branch on wire
// version or server kind (e.g. a getMore needing the cursor's pinned
// server).
type CommandFn func(dst []byte, desc description.Server) ([]byte, error)

// ProcessResponseFn lets an Operation observe and transform a successful
// raw reply, e.g. accumulating cursor batches across a multi-command
// insert/update/delete.
type ProcessResponseFn func(reply bsoncore.Document, desc description.Server) error

// Operation is the single reusable unit every command in this module
// executes through: it owns server selection, connection checkout,
// session/cluster-time/read-concern/write-concern decoration, compression,
// the round trip, and retry, generalizing the per-command Encode/Decode/
// RoundTrip shape of the teacher's command types into one executor.
type Operation struct {
	CommandFn         CommandFn
	ProcessResponseFn ProcessResponseFn
	Database          string
	Deployment        *topology.Topology
	ReadPreference    *readpref.ReadPref
	ReadConcern       *readconcern.ReadConcern
	WriteConcern      *writeconcern.WriteConcern
	Client            *session.Client
	Clock             *session.ClusterClock
	RetryMode         RetryMode
	Type              OperationType
	MinimumWriteConcernWireVersion int32

	// SelectedServer is set to the server the most recent attempt ran
	// against, so a cursor-producing command can pin its BatchCursor to
	// the same server getMore must target.
	SelectedServer *topology.Server
}

// OperationType distinguishes read and write operations for the purposes of
// selector choice; retry eligibility is governed by RetryMode instead.
type OperationType uint8

// The operation type classes Execute's selector logic branches on.
const (
	Read OperationType = iota
	Write
)

// Execute runs the operation to completion: select a server, check out a
// connection, build and send the command, decode the reply, and retry once
// on a retryable error if RetryMode allows it (spec.md §4.J).
func (op *Operation) Execute(ctx context.Context) (bsoncore.Document, error) {
	selector := op.selector()

	var lastErr error
	attempts := 1
	if op.RetryMode != RetryNone {
		attempts = 2
	}

	for attempt := 0; attempt < attempts; attempt++ {
		reply, err := op.executeOnce(ctx, selector)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if attempt == attempts-1 || !op.retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (op *Operation) retryable(err error) bool {
	switch e := err.(type) {
	case Error:
		return e.Retryable()
	case WriteCommandError:
		return e.Retryable()
	default:
		return false
	}
}

func (op *Operation) selector() description.ServerSelector {
	if op.Type == Write {
		return description.WriteSelector
	}
	rp := op.ReadPreference
	if rp == nil {
		rp = readpref.Primary()
	}
	return rp.Selector(10*time.Second, 15*time.Millisecond)
}

func (op *Operation) executeOnce(ctx context.Context, selector description.ServerSelector) (bsoncore.Document, error) {
	srv, err := op.Deployment.SelectServer(ctx, selector)
	if err != nil {
		return nil, err
	}
	op.SelectedServer = srv

	conn, err := srv.Connection(ctx)
	if err != nil {
		return nil, err
	}
	defer srv.CheckIn(conn)

	desc := srv.Description()

	cmd, err := op.buildCommand(desc)
	if err != nil {
		return nil, err
	}

	fireAndForget := op.WriteConcern != nil && !op.WriteConcern.Acknowledged()

	cmdName := commandNameOf(cmd)
	reply, err := conn.RoundTrip(ctx, op.Database, cmdName, cmd, fireAndForget)
	if err != nil {
		wrapped := Error{Message: err.Error(), Labels: []string{NetworkError, RetryableWriteError}, Wrapped: err}
		srv.ProcessError(wrapped, conn)
		return nil, wrapped
	}
	if fireAndForget {
		return nil, nil
	}

	op.updateClusterTimes(reply)
	op.updateOperationTime(reply)

	if cmdErr := extractError(reply); cmdErr != nil {
		if e, ok := cmdErr.(Error); ok && (e.NotMaster() || e.NodeIsRecovering()) {
			srv.ProcessError(e, conn)
		}
		return reply, cmdErr
	}

	if op.ProcessResponseFn != nil {
		if err := op.ProcessResponseFn(reply, desc); err != nil {
			return reply, err
		}
	}

	return reply, nil
}

func (op *Operation) buildCommand(desc description.Server) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	dst, err := op.CommandFn(dst, desc)
	if err != nil {
		return nil, err
	}

	dst, err = op.addReadConcern(dst, desc)
	if err != nil {
		return nil, err
	}
	dst, err = op.addWriteConcern(dst)
	if err != nil {
		return nil, err
	}
	dst, err = op.addSession(dst, desc)
	if err != nil {
		return nil, err
	}
	dst = op.addClusterTime(dst, desc)

	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst, nil
}

func (op *Operation) addReadConcern(dst []byte, desc description.Server) ([]byte, error) {
	rc := op.ReadConcern
	if rc == nil && op.Client != nil && op.Client.IsTransactionStarting() {
		rc = readconcern.Local()
	}

	afterClusterTime := op.Client != nil && op.Client.CausalConsistency() && desc.SessionsSupported()
	if rc == nil && !afterClusterTime {
		return dst, nil
	}

	ridx, rcDoc := bsoncore.AppendDocumentStart(nil)
	if rc != nil && rc.Level() != "" {
		rcDoc = bsoncore.AppendStringElement(rcDoc, "level", rc.Level())
	}
	if afterClusterTime {
		rcDoc = op.Client.AppendAfterClusterTime(rcDoc)
	}
	rcDoc, _ = bsoncore.AppendDocumentEnd(rcDoc, ridx)
	return bsoncore.AppendDocumentElement(dst, "readConcern", rcDoc), nil
}

func (op *Operation) addWriteConcern(dst []byte) ([]byte, error) {
	if op.WriteConcern == nil {
		return dst, nil
	}
	if err := op.WriteConcern.Validate(); err != nil {
		return dst, err
	}
	return bsoncore.AppendDocumentElement(dst, "writeConcern", op.WriteConcern.AppendBSON(nil)), nil
}

func (op *Operation) addSession(dst []byte, desc description.Server) ([]byte, error) {
	if op.Client == nil || !desc.SessionsSupported() {
		return dst, nil
	}
	dst = bsoncore.AppendDocumentElement(dst, "lsid", op.Client.SessionID.AppendBSON(nil))

	if op.Client.IsTransactionInProgress() || op.Client.IsTransactionStarting() {
		dst = bsoncore.AppendInt64Element(dst, "txnNumber", op.Client.TxnNumber())
		if op.Client.IsTransactionStarting() {
			dst = bsoncore.AppendBooleanElement(dst, "startTransaction", true)
		}
		dst = bsoncore.AppendBooleanElement(dst, "autocommit", false)
	}

	op.Client.ApplyCommand()
	return dst, nil
}

func (op *Operation) addClusterTime(dst []byte, desc description.Server) []byte {
	if !desc.SessionsSupported() {
		return dst
	}
	if op.Clock != nil {
		dst = op.Clock.AppendBSON(dst)
	} else if op.Client != nil {
		ct := op.Client.ClusterClock.ClusterTime()
		if ct.Raw != nil {
			dst = bsoncore.AppendDocumentElement(dst, "$clusterTime", ct.Raw)
		}
	}
	return dst
}

func (op *Operation) updateClusterTimes(reply bsoncore.Document) {
	v := reply.Lookup("$clusterTime")
	if len(v.Data) == 0 {
		return
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return
	}
	ct := session.ParseClusterTime(doc)
	if op.Clock != nil {
		op.Clock.AdvanceClusterTime(ct)
	}
	if op.Client != nil {
		op.Client.ClusterClock.AdvanceClusterTime(ct)
	}
}

func (op *Operation) updateOperationTime(reply bsoncore.Document) {
	if op.Client == nil {
		return
	}
	v := reply.Lookup("operationTime")
	t, i, ok := v.TimestampOK()
	if !ok {
		return
	}
	op.Client.AdvanceOperationTime(description.ClusterTime{ClusterTime: t, Increment: i})
}

func commandNameOf(cmd bsoncore.Document) string {
	elems, err := cmd.Elements()
	if err != nil || len(elems) == 0 {
		return ""
	}
	return elems[0].Key()
}
