// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import "context"

// GSSAPI is the mechanism name for Kerberos authentication.
const GSSAPI = "GSSAPI"

func newGSSAPIAuthenticator(cred *Cred) (Authenticator, error) {
	if cred.Source != "" && cred.Source != "$external" {
		return nil, &Error{Message: "GSSAPI source must be empty or $external"}
	}
	return &GSSAPIAuthenticator{Username: cred.Username, Props: cred.Props}, nil
}

// GSSAPIAuthenticator authenticates using Kerberos over SASL. The actual
// GSSAPI negotiation is platform-specific cgo (SSPI on Windows, MIT/Heimdal
// Kerberos elsewhere) the way the teacher's core/auth/gssapi.go gates it
// behind a gssapi build tag; this module carries the mechanism's wire
// shape and authenticator registration without the cgo dependency.
type GSSAPIAuthenticator struct {
	Username string
	Props    map[string]string
}

// Mechanism implements Authenticator.
func (a *GSSAPIAuthenticator) Mechanism() string { return GSSAPI }

// Auth implements Authenticator.
func (a *GSSAPIAuthenticator) Auth(ctx context.Context, _ *HandshakeInfo, rw Speaker) error {
	return &Error{Message: "GSSAPI authentication requires a platform-specific build"}
}
