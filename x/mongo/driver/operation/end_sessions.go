// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// EndSessions represents the endSessions admin command, issued once at
// client close to tell the server it may reclaim every session id the
// pool handed out.
type EndSessions struct {
	SessionIDs []session.ID
	Deployment *topology.Topology
}

// Execute runs endSessions, batching at most 10000 ids per command the way
// the server requires.
func (op *EndSessions) Execute(ctx context.Context) error {
	const maxBatch = 10000

	for start := 0; start < len(op.SessionIDs); start += maxBatch {
		end := start + maxBatch
		if end > len(op.SessionIDs) {
			end = len(op.SessionIDs)
		}
		batch := op.SessionIDs[start:end]

		o := &driver.Operation{
			Database:   "admin",
			Deployment: op.Deployment,
			Type:       driver.Read,
			CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
				aidx, adst := bsoncore.AppendArrayElementStart(dst, "endSessions")
				for i, id := range batch {
					adst = bsoncore.AppendDocumentElement(adst, itoa(i), id.AppendBSON(nil))
				}
				dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
				return dst, nil
			},
		}

		if _, err := o.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}
