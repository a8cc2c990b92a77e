// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver implements the operation execution algorithm of spec.md
// §4.J: server selection, connection checkout, command construction,
// round trip, and the retry/error-label handling every CRUD and admin
// command shares.
package driver

import (
	"errors"
	"fmt"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// Error labels spec.md §4.J attaches to retryable failures so session and
// transaction code can decide whether to retry without re-deriving the
// classification from raw error codes.
const (
	NetworkError              = "NetworkError"
	RetryableWriteError       = "RetryableWriteError"
	TransientTransactionError = "TransientTransactionError"
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
)

// retryableCodes is the fixed set of server error codes spec.md §4.J
// treats as retryable regardless of error label, grounded on the
// documented retryable-writes/reads code list.
var retryableCodes = map[int32]bool{
	6:     true, // HostUnreachable
	7:     true, // HostNotFound
	89:    true, // NetworkTimeout
	91:    true, // ShutdownInProgress
	189:   true, // PrimarySteppedDown
	262:   true, // ExceededTimeLimit
	9001:  true, // SocketException
	10107: true, // NotMaster
	11600: true, // InterruptedAtShutdown
	11602: true, // InterruptedDueToReplStateChange
	13435: true, // NotMasterNoSlaveOk
	13436: true, // NotMasterOrSecondary
}

// notMasterCodes and nodeIsRecoveringCodes drive the SDAM error-handling
// reaction (mark server Unknown, clear the pool) independent of whether
// the operation itself retries.
var notMasterCodes = map[int32]bool{10107: true, 13435: true}
var nodeIsRecoveringCodes = map[int32]bool{11600: true, 11602: true, 13436: true, 189: true, 91: true}

// writeConcernRetryableCodes is the distinct code set spec.md §4.J step 5
// names for a writeConcernError specifically, separate from the general
// retryableCodes set a top-level command error is classified against.
var writeConcernRetryableCodes = map[int64]bool{
	64:    true, // WriteConcernFailed
	75:    true, // WriteConcernLegacyOK
	79:    true, // UnknownReplWriteConcern
	91:    true, // ShutdownInProgress
	100:   true, // CannotSatisfyWriteConcern
	189:   true, // PrimarySteppedDown
	11602: true, // InterruptedDueToReplStateChange
}

// ErrNoDocCommandResponse is returned when a command reply carried zero
// documents.
var ErrNoDocCommandResponse = errors.New("command returned no documents")

// ErrDocumentTooLarge describes a single document that exceeds the server's
// maxBsonObjectSize. Insert does not return it: a document larger than the
// batch byte limit is sent in a batch of its own.
var ErrDocumentTooLarge = errors.New("an inserted document is too large")

// Error is a server-returned command error: {ok:0, code, codeName, errmsg,
// errorLabels}.
type Error struct {
	Code    int32
	Name    string
	Message string
	Labels  []string
	Wrapped error
}

// Error implements error.
func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%s) %s", e.Name, e.Message)
	}
	return e.Message
}

// Unwrap supports errors.Is/As against a wrapped network error.
func (e Error) Unwrap() error { return e.Wrapped }

// HasErrorLabel reports whether label is present among the error's
// errorLabels.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Retryable reports whether this error's code is in the fixed retryable
// set, or it carries a RetryableWriteError/NetworkError label.
func (e Error) Retryable() bool {
	if retryableCodes[e.Code] {
		return true
	}
	return e.HasErrorLabel(RetryableWriteError) || e.HasErrorLabel(NetworkError)
}

// NotMaster reports whether this error indicates the target server
// stepped down from primary.
func (e Error) NotMaster() bool { return notMasterCodes[e.Code] }

// NodeIsRecovering reports whether this error indicates the target server
// is transitioning state (initial sync, rollback, stepdown in progress).
func (e Error) NodeIsRecovering() bool { return nodeIsRecoveringCodes[e.Code] }

// WriteError is one element of a writeErrors array in a write command
// reply.
type WriteError struct {
	Index   int64
	Code    int64
	Message string
}

// Error implements error.
func (we WriteError) Error() string { return we.Message }

// WriteConcernError is the writeConcernError subdocument of a write
// command reply.
type WriteConcernError struct {
	Code    int64
	Name    string
	Message string
	Details bsoncore.Document
}

// Error implements error.
func (wce WriteConcernError) Error() string { return wce.Message }

// WriteCommandError aggregates the per-document write errors and/or write
// concern error of one write command reply.
type WriteCommandError struct {
	WriteErrors       []WriteError
	WriteConcernError *WriteConcernError
	Labels            []string
}

// Error implements error.
func (wce WriteCommandError) Error() string {
	if wce.WriteConcernError != nil {
		return wce.WriteConcernError.Message
	}
	if len(wce.WriteErrors) > 0 {
		return wce.WriteErrors[0].Message
	}
	return "write command error"
}

// HasErrorLabel reports whether label is present among the error's labels.
func (wce WriteCommandError) HasErrorLabel(label string) bool {
	for _, l := range wce.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Retryable reports whether the write concern error's code is retryable.
// Per spec.md §4.J step 5, a writeConcernError only makes the overall write
// retryable when its code is in the dedicated writeConcernRetryableCodes
// set AND the reply also carried the RetryableWriteError label.
func (wce WriteCommandError) Retryable() bool {
	if !wce.HasErrorLabel(RetryableWriteError) {
		return false
	}
	if wce.WriteConcernError != nil && writeConcernRetryableCodes[wce.WriteConcernError.Code] {
		return true
	}
	return false
}

// extractError classifies a raw command reply as either nil (ok:1, no
// write errors), an Error (command-level failure), or a
// WriteCommandError (ok:1 but writeErrors/writeConcernError present),
// following the same element scan the teacher's response decoder used.
func extractError(reply bsoncore.Document) error {
	var ok bool
	var code int32
	var name, errmsg string
	var labels []string
	var wcErr WriteCommandError

	elems, err := reply.Elements()
	if err != nil {
		return fmt.Errorf("malformed command reply: %w", err)
	}

	for _, elem := range elems {
		switch elem.Key() {
		case "ok":
			if n, okay := elem.Value().AsInt64OK(); okay && n == 1 {
				ok = true
			}
		case "code":
			if c, okay := elem.Value().Int32OK(); okay {
				code = c
			}
		case "codeName":
			if s, okay := elem.Value().StringValueOK(); okay {
				name = s
			}
		case "errmsg":
			if s, okay := elem.Value().StringValueOK(); okay {
				errmsg = s
			}
		case "errorLabels":
			if arr, okay := elem.Value().ArrayOK(); okay {
				vals, _ := arr.Values()
				for _, v := range vals {
					if s, okay := v.StringValueOK(); okay {
						labels = append(labels, s)
					}
				}
			}
		case "writeErrors":
			if arr, okay := elem.Value().ArrayOK(); okay {
				vals, _ := arr.Values()
				for _, v := range vals {
					doc, okay := v.DocumentOK()
					if !okay {
						continue
					}
					var we WriteError
					if idx, okay := doc.Lookup("index").AsInt64OK(); okay {
						we.Index = idx
					}
					if c, okay := doc.Lookup("code").AsInt64OK(); okay {
						we.Code = c
					}
					if m, okay := doc.Lookup("errmsg").StringValueOK(); okay {
						we.Message = m
					}
					wcErr.WriteErrors = append(wcErr.WriteErrors, we)
				}
			}
		case "writeConcernError":
			if doc, okay := elem.Value().DocumentOK(); okay {
				wce := &WriteConcernError{}
				if c, okay := doc.Lookup("code").AsInt64OK(); okay {
					wce.Code = c
				}
				if m, okay := doc.Lookup("errmsg").StringValueOK(); okay {
					wce.Message = m
				}
				if n, okay := doc.Lookup("codeName").StringValueOK(); okay {
					wce.Name = n
				}
				wcErr.WriteConcernError = wce
			}
		}
	}

	if !ok {
		if errmsg == "" {
			errmsg = "command failed"
		}
		return Error{Code: code, Name: name, Message: errmsg, Labels: labels}
	}

	if len(wcErr.WriteErrors) > 0 || wcErr.WriteConcernError != nil {
		wcErr.Labels = labels
		return wcErr
	}

	return nil
}
