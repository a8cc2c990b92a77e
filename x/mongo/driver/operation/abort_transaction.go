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

// AbortTransaction represents the abortTransaction admin command. Unlike
// commit, the driver ignores most errors from abort: the transaction is
// considered over as soon as the caller asks to abort it.
type AbortTransaction struct {
	WriteConcern *writeconcern.WriteConcern
	Session      *session.Client
	Clock        *session.ClusterClock
	Deployment   *topology.Topology
}

// Execute runs abortTransaction best-effort and always clears the
// session's transaction state, even if the command itself fails.
func (op *AbortTransaction) Execute(ctx context.Context) error {
	o := &driver.Operation{
		Database:     "admin",
		Deployment:   op.Deployment,
		WriteConcern: op.WriteConcern,
		Client:       op.Session,
		Clock:        op.Clock,
		RetryMode:    driver.RetryOnce,
		Type:         driver.Write,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			return bsoncore.AppendInt32Element(dst, "abortTransaction", 1), nil
		},
	}

	_, _ = o.Execute(ctx)
	if op.Session != nil {
		return op.Session.AbortTransaction()
	}
	return nil
}
