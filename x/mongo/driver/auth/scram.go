// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"context"

	"github.com/xdg-go/scram"
	"github.com/xdg-go/stringprep"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// The two SCRAM mechanism names the server advertises in
// saslSupportedMechs.
const (
	ScramSHA1   = "SCRAM-SHA-1"
	ScramSHA256 = "SCRAM-SHA-256"
)

func newScramSHA1Authenticator(cred *Cred) (Authenticator, error) {
	return newScramAuthenticator(cred, scram.SHA1, ScramSHA1)
}

func newScramSHA256Authenticator(cred *Cred) (Authenticator, error) {
	return newScramAuthenticator(cred, scram.SHA256, ScramSHA256)
}

func newScramAuthenticator(cred *Cred, hg scram.HashGeneratorFcn, mechanism string) (Authenticator, error) {
	passprep := cred.Password
	if mechanism == ScramSHA256 {
		var err error
		passprep, err = stringprep.SASLprep.Prepare(cred.Password)
		if err != nil {
			return nil, &Error{Message: "SASLprep", Inner: err}
		}
	}
	client, err := hg.NewClient(cred.Username, passprep, "")
	if err != nil {
		return nil, &Error{Message: "scram client", Inner: err}
	}
	return &ScramAuthenticator{
		mechanism: mechanism,
		source:    authSource(cred),
		client:    client,
	}, nil
}

// ScramAuthenticator drives a SCRAM-SHA-1/256 SASL conversation via
// xdg-go/scram, used by default when no mechanism is configured (spec.md
// §6 `authMechanism`).
type ScramAuthenticator struct {
	mechanism string
	source    string
	client    *scram.Client
}

// Mechanism implements Authenticator.
func (a *ScramAuthenticator) Mechanism() string { return a.mechanism }

// Auth implements Authenticator by running saslStart/saslContinue commands
// until the conversation reports done.
func (a *ScramAuthenticator) Auth(ctx context.Context, _ *HandshakeInfo, rw Speaker) error {
	conv := a.client.NewConversation()
	payload, err := conv.Step("")
	if err != nil {
		return &Error{Message: "scram step", Inner: err}
	}

	cmd := buildSaslStart(a.mechanism, []byte(payload))
	reply, conversationID, err := sendSasl(ctx, rw, a.source, cmd)
	if err != nil {
		return err
	}

	for !conv.Done() {
		serverPayload, done, err := parseSaslReply(reply)
		if err != nil {
			return err
		}
		if done {
			break
		}
		payload, err = conv.Step(string(serverPayload))
		if err != nil {
			return &Error{Message: "scram step", Inner: err}
		}
		cmd = buildSaslContinue(conversationID, []byte(payload))
		reply, conversationID, err = sendSasl(ctx, rw, a.source, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func authSource(cred *Cred) string {
	if cred.Source != "" {
		return cred.Source
	}
	return "admin"
}

func buildSaslStart(mechanism string, payload []byte) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslStart", 1)
	dst = bsoncore.AppendStringElement(dst, "mechanism", mechanism)
	dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
	dst = bsoncore.AppendBooleanElement(dst, "autoAuthorize", true)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func buildSaslContinue(conversationID int32, payload []byte) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "saslContinue", 1)
	dst = bsoncore.AppendInt32Element(dst, "conversationId", conversationID)
	dst = bsoncore.AppendBinaryElement(dst, "payload", 0x00, payload)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func sendSasl(ctx context.Context, rw Speaker, dbName string, cmd bsoncore.Document) (bsoncore.Document, int32, error) {
	if err := rw.WriteCommand(ctx, dbName, cmd); err != nil {
		return nil, 0, &Error{Message: "sasl write", Inner: err}
	}
	reply, err := rw.ReadCommand(ctx)
	if err != nil {
		return nil, 0, &Error{Message: "sasl read", Inner: err}
	}
	doc := bsoncore.Document(reply)
	if !commandOK(doc) {
		errmsg, _ := doc.Lookup("errmsg").StringValueOK()
		return nil, 0, &Error{Message: errmsg}
	}
	convID, _ := doc.Lookup("conversationId").Int32OK()
	return doc, convID, nil
}

func parseSaslReply(doc bsoncore.Document) (payload []byte, done bool, err error) {
	done, _ = doc.Lookup("done").BooleanOK()
	return doc.Lookup("payload").Data, done, nil
}
