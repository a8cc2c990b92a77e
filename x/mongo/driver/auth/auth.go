// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the SASL mechanisms a connection's handshake may
// run after hello: SCRAM-SHA-1/256, MONGODB-X509, MONGODB-AWS, and GSSAPI.
// None of these touch the TLS handshake itself (out of scope per spec.md
// §1); they only exchange SASL payloads over an already-open connection.
package auth

import (
	"context"
	"fmt"
)

// Cred holds the credentials and mechanism properties parsed from a URI,
// the typed input this package's Authenticators are built from.
type Cred struct {
	Source      string
	Username    string
	Password    string
	PasswordSet bool
	Props       map[string]string
}

// Error wraps an authentication failure, always surfaced as a non-retryable
// AuthenticationError per spec.md §7.
type Error struct {
	Message string
	Inner   error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Message, e.Inner)
	}
	return fmt.Sprintf("auth error: %s", e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *Error) Unwrap() error { return e.Inner }

// Speaker is the minimal wire round-trip a SASL mechanism needs: write a
// command document, read the reply. The topology package's Connection
// satisfies this without auth needing to import topology (which itself
// depends on auth to build the handshake authenticator).
type Speaker interface {
	WriteCommand(ctx context.Context, dbName string, cmd []byte) error
	ReadCommand(ctx context.Context) ([]byte, error)
}

// Authenticator authenticates a connection using a SASL or X.509 exchange.
type Authenticator interface {
	// Auth runs the authentication conversation over rw. Mechanism is
	// available via Mechanism() for logging/errors.
	Auth(ctx context.Context, cfg *HandshakeInfo, rw Speaker) error
	Mechanism() string
}

// HandshakeInfo carries the bits of the hello reply an authenticator may
// need: the negotiated SASL mechanisms and the server's address, used by
// GSSAPI for service-principal derivation.
type HandshakeInfo struct {
	Address            string
	SaslSupportedMechs []string
}

// CreateAuthenticator builds the Authenticator named by mechanism,
// mirroring the teacher's core/auth mechanism registry (gssapi.go
// registers "GSSAPI" the same way).
func CreateAuthenticator(mechanism string, cred *Cred) (Authenticator, error) {
	switch mechanism {
	case "", ScramSHA256:
		return newScramSHA256Authenticator(cred)
	case ScramSHA1:
		return newScramSHA1Authenticator(cred)
	case MongoDBX509:
		return newMongoDBX509Authenticator(cred)
	case MongoDBAWS:
		return newMongoDBAWSAuthenticator(cred)
	case GSSAPI:
		return newGSSAPIAuthenticator(cred)
	default:
		return nil, &Error{Message: "unknown auth mechanism " + mechanism}
	}
}
