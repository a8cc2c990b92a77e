// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"testing"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

func buildOKReply() bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ok", 1)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func buildCommandErrorReply(code int32, name, errmsg string, labels ...string) bsoncore.Document {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ok", 0)
	dst = bsoncore.AppendInt32Element(dst, "code", code)
	dst = bsoncore.AppendStringElement(dst, "codeName", name)
	dst = bsoncore.AppendStringElement(dst, "errmsg", errmsg)
	if len(labels) > 0 {
		aidx, adst := bsoncore.AppendArrayElementStart(dst, "errorLabels")
		for i, l := range labels {
			adst = bsoncore.AppendStringElement(adst, itoa(i), l)
		}
		dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

func TestExtractError_OKReply(t *testing.T) {
	if err := extractError(buildOKReply()); err != nil {
		t.Fatalf("expected nil error for ok:1 reply, got %v", err)
	}
}

// S3: primary step-down (code 10107) carrying RetryableWriteError is
// retryable.
func TestExtractError_PrimaryStepDown(t *testing.T) {
	reply := buildCommandErrorReply(10107, "NotWritablePrimary", "not master", RetryableWriteError)
	err := extractError(reply)
	cmdErr, ok := err.(Error)
	if !ok {
		t.Fatalf("expected Error, got %T: %v", err, err)
	}
	if !cmdErr.Retryable() {
		t.Fatalf("expected code 10107 to be retryable")
	}
	if !cmdErr.NotMaster() {
		t.Fatalf("expected code 10107 to classify as NotMaster")
	}
}

func TestExtractError_NodeIsRecovering(t *testing.T) {
	reply := buildCommandErrorReply(91, "ShutdownInProgress", "shutting down")
	err := extractError(reply)
	cmdErr := err.(Error)
	if !cmdErr.NodeIsRecovering() {
		t.Fatalf("expected code 91 to classify as NodeIsRecovering")
	}
	if !cmdErr.Retryable() {
		t.Fatalf("expected code 91 to be in the fixed retryable set")
	}
}

func TestExtractError_NonRetryableCommandError(t *testing.T) {
	reply := buildCommandErrorReply(11000, "DuplicateKey", "duplicate key error")
	err := extractError(reply)
	cmdErr := err.(Error)
	if cmdErr.Retryable() {
		t.Fatalf("duplicate key errors must not be retryable")
	}
}

func TestExtractError_WriteConcernErrorRequiresLabel(t *testing.T) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ok", 1)
	widx, wdst := bsoncore.AppendDocumentElementStart(dst, "writeConcernError")
	wdst = bsoncore.AppendInt64Element(wdst, "code", 64)
	wdst = bsoncore.AppendStringElement(wdst, "errmsg", "waiting for replication timed out")
	wdst, _ = bsoncore.AppendDocumentEnd(wdst, widx)
	dst, _ = bsoncore.AppendDocumentEnd(wdst, idx)

	err := extractError(dst)
	wce, ok := err.(WriteCommandError)
	if !ok {
		t.Fatalf("expected WriteCommandError, got %T: %v", err, err)
	}
	// No RetryableWriteError label was attached: per spec.md §4.J step 5
	// the write-concern-error code alone is not enough.
	if wce.Retryable() {
		t.Fatalf("writeConcernError without RetryableWriteError label must not be retryable")
	}
}

func TestExtractError_WriteConcernErrorWithLabelIsRetryable(t *testing.T) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt32Element(dst, "ok", 1)
	widx, wdst := bsoncore.AppendDocumentElementStart(dst, "writeConcernError")
	wdst = bsoncore.AppendInt64Element(wdst, "code", 64)
	wdst = bsoncore.AppendStringElement(wdst, "errmsg", "waiting for replication timed out")
	wdst, _ = bsoncore.AppendDocumentEnd(wdst, widx)
	dst = wdst
	aidx, adst := bsoncore.AppendArrayElementStart(dst, "errorLabels")
	adst = bsoncore.AppendStringElement(adst, "0", RetryableWriteError)
	dst, _ = bsoncore.AppendArrayEnd(adst, aidx)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	err := extractError(dst)
	wce, ok := err.(WriteCommandError)
	if !ok {
		t.Fatalf("expected WriteCommandError, got %T: %v", err, err)
	}
	if !wce.Retryable() {
		t.Fatalf("expected writeConcernError code 64 with RetryableWriteError label to be retryable")
	}
}

func TestHasErrorLabel(t *testing.T) {
	e := Error{Labels: []string{TransientTransactionError}}
	if !e.HasErrorLabel(TransientTransactionError) {
		t.Fatalf("expected label present")
	}
	if e.HasErrorLabel(RetryableWriteError) {
		t.Fatalf("expected label absent")
	}
}
