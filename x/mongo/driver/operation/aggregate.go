// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/coredb/mongocore/mongo/readconcern"
	"github.com/coredb/mongocore/mongo/readpref"
	"github.com/coredb/mongocore/mongo/writeconcern"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// Aggregate represents the aggregate command.
type Aggregate struct {
	Namespace    driver.Namespace
	Pipeline     bsoncore.Array
	Collation    bsoncore.Document
	BatchSize    *int32
	MaxTimeMS    *int64
	Let          bsoncore.Document
	AllowDiskUse *bool

	ReadConcern    *readconcern.ReadConcern
	WriteConcern   *writeconcern.WriteConcern
	ReadPreference *readpref.ReadPref
	Session        *session.Client
	Clock          *session.ClusterClock
	Deployment     *topology.Topology
}

// Execute runs the aggregate command and returns a cursor over the result
// documents. An aggregate with a $out/$merge stage acknowledges the command
// with a write concern; every other aggregate reads, so WriteConcern is
// only honored when set explicitly by the caller.
func (op *Aggregate) Execute(ctx context.Context) (*driver.BatchCursor, error) {
	opType := driver.Read
	if op.WriteConcern != nil {
		opType = driver.Write
	}

	o := &driver.Operation{
		Database:       op.Namespace.DB,
		Deployment:     op.Deployment,
		ReadConcern:    op.ReadConcern,
		WriteConcern:   op.WriteConcern,
		ReadPreference: op.ReadPreference,
		Client:         op.Session,
		Clock:          op.Clock,
		Type:           opType,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "aggregate", op.Namespace.Collection)
			dst = bsoncore.AppendArrayElement(dst, "pipeline", op.Pipeline)

			cursorIdx, cursorDst := bsoncore.AppendDocumentStart(nil)
			if op.BatchSize != nil {
				cursorDst = bsoncore.AppendInt32Element(cursorDst, "batchSize", *op.BatchSize)
			}
			cursorDst, _ = bsoncore.AppendDocumentEnd(cursorDst, cursorIdx)
			dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDst)

			if op.Collation != nil {
				dst = bsoncore.AppendDocumentElement(dst, "collation", op.Collation)
			}
			if op.MaxTimeMS != nil {
				dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxTimeMS)
			}
			if op.Let != nil {
				dst = bsoncore.AppendDocumentElement(dst, "let", op.Let)
			}
			if op.AllowDiskUse != nil {
				dst = bsoncore.AppendBooleanElement(dst, "allowDiskUse", *op.AllowDiskUse)
			}
			return dst, nil
		},
	}

	reply, err := o.Execute(ctx)
	if err != nil {
		return nil, err
	}

	cursorDoc, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return nil, errors.New("aggregate reply missing cursor document")
	}

	return driver.NewBatchCursorFromReply(cursorDoc, "firstBatch", op.Namespace.DB, op.Namespace.Collection, o.SelectedServer), nil
}
