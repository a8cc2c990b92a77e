// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"
	"errors"

	"github.com/coredb/mongocore/mongo/readpref"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// ListIndexes represents the listIndexes command: it lists the indexes on
// a single collection.
type ListIndexes struct {
	Namespace      driver.Namespace
	BatchSize      *int32
	ReadPreference *readpref.ReadPref
	Session        *session.Client
	Clock          *session.ClusterClock
	Deployment     *topology.Topology
}

// Execute runs the listIndexes command and returns a cursor over the
// matching index specifications.
func (op *ListIndexes) Execute(ctx context.Context) (*driver.BatchCursor, error) {
	o := &driver.Operation{
		Database:       op.Namespace.DB,
		Deployment:     op.Deployment,
		ReadPreference: op.ReadPreference,
		Client:         op.Session,
		Clock:          op.Clock,
		Type:           driver.Read,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendStringElement(dst, "listIndexes", op.Namespace.Collection)
			cursorIdx, cursorDst := bsoncore.AppendDocumentStart(nil)
			if op.BatchSize != nil {
				cursorDst = bsoncore.AppendInt32Element(cursorDst, "batchSize", *op.BatchSize)
			}
			cursorDst, _ = bsoncore.AppendDocumentEnd(cursorDst, cursorIdx)
			dst = bsoncore.AppendDocumentElement(dst, "cursor", cursorDst)
			return dst, nil
		},
	}

	reply, err := o.Execute(ctx)
	if err != nil {
		return nil, err
	}

	cursorDoc, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return nil, errors.New("listIndexes reply missing cursor document")
	}

	return driver.NewBatchCursorFromReply(cursorDoc, "firstBatch", op.Namespace.DB, op.Namespace.Collection, o.SelectedServer), nil
}
