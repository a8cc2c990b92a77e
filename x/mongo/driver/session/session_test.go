// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"testing"
	"time"

	"github.com/coredb/mongocore/x/mongo/driver/description"
)

func TestTransactionStateMachine(t *testing.T) {
	pool := NewPool()
	clock := &ClusterClock{}
	c := NewClient(pool, clock, 30, Options{})

	if c.TxnState() != None {
		t.Fatalf("expected initial state None, got %v", c.TxnState())
	}

	if err := c.StartTransaction(); err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if c.TxnState() != Starting {
		t.Fatalf("expected Starting, got %v", c.TxnState())
	}
	firstTxnNumber := c.TxnNumber()
	if firstTxnNumber != 1 {
		t.Fatalf("expected txnNumber 1, got %d", firstTxnNumber)
	}

	c.ApplyCommand()
	if c.TxnState() != InProgress {
		t.Fatalf("expected InProgress after first command, got %v", c.TxnState())
	}

	// S6: commit retried after a TransientTransactionError-style failure
	// must succeed without changing txnNumber, and commit is idempotent.
	if err := c.CommitTransaction(); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if c.TxnState() != Committed {
		t.Fatalf("expected Committed, got %v", c.TxnState())
	}
	if err := c.CommitTransaction(); err != nil {
		t.Fatalf("retried commit should succeed: %v", err)
	}
	if c.TxnNumber() != firstTxnNumber {
		t.Fatalf("txnNumber must not change across a retried commit, got %d want %d", c.TxnNumber(), firstTxnNumber)
	}

	// A new transaction on the same session bumps txnNumber.
	if err := c.StartTransaction(); err != nil {
		t.Fatalf("StartTransaction after commit: %v", err)
	}
	if c.TxnNumber() != firstTxnNumber+1 {
		t.Fatalf("expected txnNumber to increment monotonically, got %d", c.TxnNumber())
	}
}

func TestTransactionAbort(t *testing.T) {
	c := NewClient(NewPool(), &ClusterClock{}, 30, Options{})
	if err := c.StartTransaction(); err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := c.AbortTransaction(); err != nil {
		t.Fatalf("AbortTransaction: %v", err)
	}
	if c.TxnState() != Aborted {
		t.Fatalf("expected Aborted, got %v", c.TxnState())
	}
	if err := c.AbortTransaction(); err == nil {
		t.Fatalf("aborting an already-aborted transaction should fail")
	}
}

func TestStartTransactionRejectsDoubleStart(t *testing.T) {
	c := NewClient(NewPool(), &ClusterClock{}, 30, Options{})
	if err := c.StartTransaction(); err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := c.StartTransaction(); err != ErrTransactInProgress {
		t.Fatalf("expected ErrTransactInProgress, got %v", err)
	}
}

func TestPinning(t *testing.T) {
	c := NewClient(NewPool(), &ClusterClock{}, 30, Options{})
	if _, ok := c.PinnedAddress(); ok {
		t.Fatalf("expected no pin initially")
	}
	c.Pin("mongos1:27017")
	addr, ok := c.PinnedAddress()
	if !ok || addr != "mongos1:27017" {
		t.Fatalf("expected pin to mongos1:27017, got %v %v", addr, ok)
	}
	c.Unpin()
	if _, ok := c.PinnedAddress(); ok {
		t.Fatalf("expected pin to be cleared")
	}
}

// S5: cluster-time gossip is monotonic.
func TestClusterClockGossipMonotonic(t *testing.T) {
	clock := &ClusterClock{}
	older := description.ClusterTime{ClusterTime: 10, Increment: 1, Raw: []byte{1}}
	newer := description.ClusterTime{ClusterTime: 20, Increment: 1, Raw: []byte{2}}

	clock.AdvanceClusterTime(newer)
	clock.AdvanceClusterTime(older)
	if got := clock.ClusterTime(); got.ClusterTime != 20 {
		t.Fatalf("expected clock to stay at the newer value, got %+v", got)
	}

	evenNewer := description.ClusterTime{ClusterTime: 30, Increment: 0, Raw: []byte{3}}
	clock.AdvanceClusterTime(evenNewer)
	if got := clock.ClusterTime(); got.ClusterTime != 30 {
		t.Fatalf("expected clock to advance to the strictly newer value, got %+v", got)
	}
}

func TestSessionPool_ReuseAndExpiry(t *testing.T) {
	pool := NewPool()
	id := pool.GetSession(30)
	pool.ReturnSession(id)

	reused := pool.GetSession(30)
	if reused != id {
		t.Fatalf("expected the freshly-returned session id to be reused")
	}
	pool.ReturnSession(reused)

	// Force the already-returned id's lastUse to predate the cutoff and
	// confirm the pool does not hand it back.
	id.lastUse = time.Now().Add(-31 * time.Minute)
	fresh := pool.GetSession(30)
	if fresh == id {
		t.Fatalf("expired session id should not be reused")
	}
}
