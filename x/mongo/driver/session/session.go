// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/description"
)

// TxnState enumerates the transaction state machine of spec.md §4.I.
type TxnState uint8

// The five transaction states.
const (
	None TxnState = iota
	Starting
	InProgress
	Committed
	Aborted
)

// ErrNoTransactStarted is returned by CommitTransaction and
// AbortTransaction when the session is in a state they cannot transition
// from (None, for example).
var ErrNoTransactStarted = errors.New("no transaction started")

// ErrTransactInProgress is returned by StartTransaction when one is
// already running.
var ErrTransactInProgress = errors.New("transaction already in progress")

// Client is a causally-consistent, optionally-transactional session. A
// Session in spec.md terms; named Client here to avoid colliding with the
// package name when embedded by callers.
type Client struct {
	SessionID *ID
	ClusterClock *ClusterClock

	mu              sync.Mutex
	operationTime   description.ClusterTime
	txnNumber       int64
	txnState        TxnState
	pinnedAddr      address.Address
	pinned          bool
	implicit        bool
	causallyConsist bool
	snapshot        bool

	pool *Pool
}

// Options configure a new Client at creation.
type Options struct {
	CausalConsistency bool
	Snapshot          bool
	Implicit          bool
}

// NewClient allocates (or reuses) a session id from pool and returns a new
// session client.
func NewClient(pool *Pool, clock *ClusterClock, timeoutMinutes int64, opts Options) *Client {
	return &Client{
		SessionID:       pool.GetSession(timeoutMinutes),
		ClusterClock:    clock,
		implicit:        opts.Implicit,
		causallyConsist: opts.CausalConsistency,
		snapshot:        opts.Snapshot,
		pool:            pool,
	}
}

// EndSession returns the session id to the pool. No further operations may
// use this Client afterward.
func (c *Client) EndSession() {
	c.pool.ReturnSession(c.SessionID)
}

// TxnState returns the current transaction state.
func (c *Client) TxnState() TxnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnState
}

// TxnNumber returns the current transaction/retryable-write number.
func (c *Client) TxnNumber() int64 {
	return atomic.LoadInt64(&c.txnNumber)
}

// IncrementTxnNumber bumps and returns the new txnNumber, called once per
// retryable write or StartTransaction.
func (c *Client) IncrementTxnNumber() int64 {
	return atomic.AddInt64(&c.txnNumber, 1)
}

// StartTransaction transitions None/Committed/Aborted -> Starting and bumps
// txnNumber, per the diagram in spec.md §4.I.
func (c *Client) StartTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState == Starting || c.txnState == InProgress {
		return ErrTransactInProgress
	}
	c.txnState = Starting
	atomic.AddInt64(&c.txnNumber, 1)
	return nil
}

// ApplyCommand transitions Starting -> InProgress on the first real command
// of a transaction; a no-op outside Starting.
func (c *Client) ApplyCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState == Starting {
		c.txnState = InProgress
	}
}

// CommitTransaction transitions InProgress/Committed -> Committed. Calling
// it again after Committed is legal (idempotent commit retry).
func (c *Client) CommitTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState != InProgress && c.txnState != Committed {
		return ErrNoTransactStarted
	}
	c.txnState = Committed
	return nil
}

// AbortTransaction transitions Starting/InProgress -> Aborted.
func (c *Client) AbortTransaction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txnState != Starting && c.txnState != InProgress {
		return ErrNoTransactStarted
	}
	c.txnState = Aborted
	return nil
}

// IsTransactionInProgress reports whether a command should carry
// autocommit:false.
func (c *Client) IsTransactionInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnState == Starting || c.txnState == InProgress
}

// IsTransactionStarting reports whether the next command must carry
// startTransaction:true.
func (c *Client) IsTransactionStarting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnState == Starting
}

// PinnedAddress returns the mongos a sharded transaction is pinned to.
func (c *Client) PinnedAddress() (address.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinnedAddr, c.pinned
}

// Pin records the mongos address a sharded transaction selected.
func (c *Client) Pin(addr address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedAddr = addr
	c.pinned = true
}

// Unpin clears a transaction pin. CommitTransaction and AbortTransaction do
// not call it.
func (c *Client) Unpin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = false
}

// AdvanceOperationTime records the freshest operationTime observed in a
// reply, used to build afterClusterTime for the next command when causal
// consistency is enabled.
func (c *Client) AdvanceOperationTime(ct description.ClusterTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operationTime = description.MaxClusterTime(c.operationTime, ct)
}

// OperationTime returns the latest observed operation time.
func (c *Client) OperationTime() description.ClusterTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operationTime
}

// CausalConsistency reports whether this session requires
// afterClusterTime on every command.
func (c *Client) CausalConsistency() bool {
	return c.causallyConsist
}

// AppendAfterClusterTime appends {afterClusterTime: <timestamp>} when
// causal consistency is enabled and an operation time has been observed.
func (c *Client) AppendAfterClusterTime(dst []byte) []byte {
	if !c.causallyConsist {
		return dst
	}
	ot := c.OperationTime()
	if ot.Raw == nil {
		return dst
	}
	return bsoncore.AppendTimestampElement(dst, "afterClusterTime", ot.ClusterTime, ot.Increment)
}
