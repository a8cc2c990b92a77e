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

// ListCollections represents the listCollections command: it lists the
// collections (and views) in a database.
type ListCollections struct {
	DB             string
	Filter         bsoncore.Document
	NameOnly       *bool
	ReadPreference *readpref.ReadPref
	Session        *session.Client
	Clock          *session.ClusterClock
	Deployment     *topology.Topology
}

// Execute runs the listCollections command and returns a cursor over the
// matching collection specifications.
func (op *ListCollections) Execute(ctx context.Context) (*driver.BatchCursor, error) {
	o := &driver.Operation{
		Database:       op.DB,
		Deployment:     op.Deployment,
		ReadPreference: op.ReadPreference,
		Client:         op.Session,
		Clock:          op.Clock,
		Type:           driver.Read,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendInt32Element(dst, "listCollections", 1)
			if op.Filter != nil {
				dst = bsoncore.AppendDocumentElement(dst, "filter", op.Filter)
			}
			if op.NameOnly != nil {
				dst = bsoncore.AppendBooleanElement(dst, "nameOnly", *op.NameOnly)
			}
			cursorIdx, cursorDst := bsoncore.AppendDocumentStart(nil)
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
		return nil, errors.New("listCollections reply missing cursor document")
	}

	return driver.NewBatchCursorFromReply(cursorDoc, "firstBatch", op.DB, "$cmd.listCollections", o.SelectedServer), nil
}
