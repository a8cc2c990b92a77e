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

// UpdateModel is one element of an update command's updates array.
type UpdateModel struct {
	Filter      bsoncore.Document
	Update      bsoncore.Document
	Multi       bool
	Upsert      bool
	Collation   bsoncore.Document
	ArrayFilters []bsoncore.Document
}

// Update represents the update command.
type Update struct {
	Namespace    driver.Namespace
	Updates      []UpdateModel
	Ordered      *bool
	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
	Clock        *session.ClusterClock
	Deployment   *topology.Topology

	result UpdateResult
}

// UpdateResult is the decoded reply of an update command.
type UpdateResult struct {
	N                 int32
	NModified         int32
	Upserted          []bsoncore.Document
	WriteErrors       []driver.WriteError
	WriteConcernError *driver.WriteConcernError
}

// Result returns the accumulated result of Execute.
func (op *Update) Result() UpdateResult { return op.result }

// Execute runs the update command.
func (op *Update) Execute(ctx context.Context) error {
	o := &driver.Operation{
		Database:     op.Namespace.DB,
		Deployment:   op.Deployment,
		WriteConcern: op.WriteConcern,
		Client:       op.Session,
		Clock:        op.Clock,
		Type:         driver.Write,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "update", op.Namespace.Collection)
			aidx, adst := bsoncore.AppendArrayElementStart(dst, "updates")
			for i, u := range op.Updates {
				uidx, udst := bsoncore.AppendDocumentStart(nil)
				udst = bsoncore.AppendDocumentElement(udst, "q", u.Filter)
				udst = bsoncore.AppendDocumentElement(udst, "u", u.Update)
				udst = bsoncore.AppendBooleanElement(udst, "multi", u.Multi)
				udst = bsoncore.AppendBooleanElement(udst, "upsert", u.Upsert)
				if u.Collation != nil {
					udst = bsoncore.AppendDocumentElement(udst, "collation", u.Collation)
				}
				if len(u.ArrayFilters) > 0 {
					faidx, fadst := bsoncore.AppendArrayElementStart(udst, "arrayFilters")
					for j, f := range u.ArrayFilters {
						fadst = bsoncore.AppendDocumentElement(fadst, itoa(j), f)
					}
					udst, _ = bsoncore.AppendArrayEnd(fadst, faidx)
				}
				udst, _ = bsoncore.AppendDocumentEnd(udst, uidx)
				adst = bsoncore.AppendDocumentElement(adst, itoa(i), udst)
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
	if nm, ok := reply.Lookup("nModified").AsInt64OK(); ok {
		op.result.NModified = int32(nm)
	}
	if arr, ok := reply.Lookup("upserted").ArrayOK(); ok {
		vals, _ := arr.Values()
		for _, v := range vals {
			if doc, ok := v.DocumentOK(); ok {
				op.result.Upserted = append(op.result.Upserted, doc)
			}
		}
	}
	return nil
}
