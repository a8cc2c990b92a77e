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
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// Find represents the find command.
type Find struct {
	Namespace      driver.Namespace
	Filter         bsoncore.Document
	Sort           bsoncore.Document
	Projection     bsoncore.Document
	Skip           *int64
	Limit          *int64
	BatchSize      *int32
	Collation      bsoncore.Document
	ReadConcern    *readconcern.ReadConcern
	ReadPreference *readpref.ReadPref
	Session        *session.Client
	Clock          *session.ClusterClock
	Deployment     *topology.Topology
}

// Execute runs the find command and returns a cursor over the matching
// documents.
func (op *Find) Execute(ctx context.Context) (*driver.BatchCursor, error) {
	o := &driver.Operation{
		Database:       op.Namespace.DB,
		Deployment:     op.Deployment,
		ReadConcern:    op.ReadConcern,
		ReadPreference: op.ReadPreference,
		Client:         op.Session,
		Clock:          op.Clock,
		Type:           driver.Read,
		ProcessResponseFn: func(reply bsoncore.Document, desc description.Server) error {
			return nil
		},
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "find", op.Namespace.Collection)
			if op.Filter != nil {
				dst = bsoncore.AppendDocumentElement(dst, "filter", op.Filter)
			}
			if op.Sort != nil {
				dst = bsoncore.AppendDocumentElement(dst, "sort", op.Sort)
			}
			if op.Projection != nil {
				dst = bsoncore.AppendDocumentElement(dst, "projection", op.Projection)
			}
			if op.Skip != nil {
				dst = bsoncore.AppendInt64Element(dst, "skip", *op.Skip)
			}
			if op.Limit != nil {
				dst = bsoncore.AppendInt64Element(dst, "limit", *op.Limit)
			}
			if op.BatchSize != nil {
				dst = bsoncore.AppendInt32Element(dst, "batchSize", *op.BatchSize)
			}
			if op.Collation != nil {
				dst = bsoncore.AppendDocumentElement(dst, "collation", op.Collation)
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
		return nil, errors.New("find reply missing cursor document")
	}

	return driver.NewBatchCursorFromReply(cursorDoc, "firstBatch", op.Namespace.DB, op.Namespace.Collection, o.SelectedServer), nil
}
