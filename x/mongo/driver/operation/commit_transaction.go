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

// CommitTransaction represents the commitTransaction admin command. The
// server is chosen by the write selector; the session's pinned address is
// not consulted. WriteConcern is sent as given, so an unacknowledged write
// concern makes the commit fire-and-forget.
type CommitTransaction struct {
	MaxTimeMS    *int64
	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
	Clock        *session.ClusterClock
	Deployment   *topology.Topology
}

// Execute runs commitTransaction and advances the session's transaction
// state on success.
func (op *CommitTransaction) Execute(ctx context.Context) error {
	o := &driver.Operation{
		Database:     "admin",
		Deployment:   op.Deployment,
		WriteConcern: op.WriteConcern,
		Client:       op.Session,
		Clock:        op.Clock,
		RetryMode:    driver.RetryOnce,
		Type:         driver.Write,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			dst = bsoncore.AppendInt32Element(dst, "commitTransaction", 1)
			if op.MaxTimeMS != nil {
				dst = bsoncore.AppendInt64Element(dst, "maxTimeMS", *op.MaxTimeMS)
			}
			return dst, nil
		},
	}

	_, err := o.Execute(ctx)
	if err != nil {
		return err
	}
	if op.Session != nil {
		return op.Session.CommitTransaction()
	}
	return nil
}
