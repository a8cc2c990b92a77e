// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package operation

import (
	"context"

	"github.com/coredb/mongocore/mongo/readpref"
	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/session"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// Hello represents an application-issued hello command, distinct from the
// hello the topology package sends internally during SDAM handshakes and
// monitor checks: this one runs through the normal Operation executor so it
// selects a server and decorates the command with session/cluster-time like
// any other read.
type Hello struct {
	ReadPreference *readpref.ReadPref
	Session        *session.Client
	Clock          *session.ClusterClock
	Deployment     *topology.Topology

	result bsoncore.Document
}

// Result returns the raw hello reply document from the most recent Execute.
func (op *Hello) Result() bsoncore.Document { return op.result }

// Execute runs the hello command against the selected server.
func (op *Hello) Execute(ctx context.Context) error {
	o := &driver.Operation{
		Database:       "admin",
		Deployment:     op.Deployment,
		ReadPreference: op.ReadPreference,
		Client:         op.Session,
		Clock:          op.Clock,
		Type:           driver.Read,
		CommandFn: func(dst []byte, desc description.Server) ([]byte, error) {
			return bsoncore.AppendInt32Element(dst, "hello", 1), nil
		},
	}

	reply, err := o.Execute(ctx)
	if err != nil {
		return err
	}
	op.result = reply
	return nil
}
