// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// MongoDBX509 is the mechanism name for client-certificate authentication;
// the certificate itself is presented during the TLS handshake, out of
// scope per spec.md §1 — this mechanism only sends the authenticate
// command naming the certificate's subject.
const MongoDBX509 = "MONGODB-X509"

func newMongoDBX509Authenticator(cred *Cred) (Authenticator, error) {
	return &MongoDBX509Authenticator{User: cred.Username}, nil
}

// MongoDBX509Authenticator authenticates a connection whose TLS handshake
// already presented a client certificate.
type MongoDBX509Authenticator struct {
	User string
}

// Mechanism implements Authenticator.
func (a *MongoDBX509Authenticator) Mechanism() string { return MongoDBX509 }

// Auth implements Authenticator.
func (a *MongoDBX509Authenticator) Auth(ctx context.Context, _ *HandshakeInfo, rw Speaker) error {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "authenticate", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", MongoDBX509)
	if a.User != "" {
		dst = bsoncore.AppendStringElement(dst, "user", a.User)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	if err := rw.WriteCommand(ctx, "$external", dst); err != nil {
		return &Error{Message: "x509 write", Inner: err}
	}
	reply, err := rw.ReadCommand(ctx)
	if err != nil {
		return &Error{Message: "x509 read", Inner: err}
	}
	if !commandOK(bsoncore.Document(reply)) {
		errmsg, _ := bsoncore.Document(reply).Lookup("errmsg").StringValueOK()
		return &Error{Message: errmsg}
	}
	return nil
}
