// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

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

// DeleteModel is one element of a delete command's deletes array.
type DeleteModel struct {
	Filter    bsoncore.Document
	Limit     int32 // 0 = delete all matching, 1 = delete one
	Collation bsoncore.Document
}

// Delete represents the delete command.
type Delete struct {
	Namespace    driver.Namespace
	Deletes      []DeleteModel
	Ordered      *bool
	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
	Clock        *session.ClusterClock
	Deployment   *topology.Topology

	result DeleteResult
}

// DeleteResult is the decoded reply of a delete command.
type DeleteResult struct {
	N                 int32
	WriteErrors       []driver.WriteError
	WriteConcernError *driver.WriteConcernError
}

// Result returns the accumulated result of Execute.
func (op *Delete) Result() DeleteResult { return op.result }

// Execute runs the delete command.
func (op *Delete) Execute(ctx context.Context) error {
	o := &driver.Operation{
		Database:     op.Namespace.DB,
		Deployment:   op.Deployment,
		WriteConcern: op.WriteConcern,
		Client:       op.Session,
		Clock:        op.Clock,
		Type:         driver.Write,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "delete", op.Namespace.Collection)
			aidx, adst := bsoncore.AppendArrayElementStart(dst, "deletes")
			for i, d := range op.Deletes {
				didx, ddst := bsoncore.AppendDocumentStart(nil)
				ddst = bsoncore.AppendDocumentElement(ddst, "q", d.Filter)
				ddst = bsoncore.AppendInt32Element(ddst, "limit", d.Limit)
				if d.Collation != nil {
					ddst = bsoncore.AppendDocumentElement(ddst, "collation", d.Collation)
				}
				ddst, _ = bsoncore.AppendDocumentEnd(ddst, didx)
				adst = bsoncore.AppendDocumentElement(adst, itoa(i), ddst)
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
			op.result.WriteErrors = wcErr.WriteErrors
			op.result.WriteConcernError = wcErr.WriteConcernError
			return nil
		}
		return err
	}

	if n, ok := reply.Lookup("n").AsInt64OK(); ok {
		op.result.N = int32(n)
	}
	return nil
}
