// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the driver's monitoring hooks: command events
// (started/succeeded/failed), connection pool events, and server heartbeat
// events, each delivered through a user-supplied listener struct of
// optional callback fields.
package event

import "time"

// CommandStartedEvent is published before a command is written to the wire.
type CommandStartedEvent struct {
	Command      []byte
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
	ServerConnectionID *int64
}

// CommandFinishedEvent carries the fields common to both success and
// failure completion events.
type CommandFinishedEvent struct {
	CommandName        string
	RequestID           int64
	ConnectionID        string
	ServerConnectionID  *int64
	Duration            time.Duration
}

// CommandSucceededEvent is published once a command's reply has decoded
// without a server-reported error.
type CommandSucceededEvent struct {
	CommandFinishedEvent
	Reply []byte
}

// CommandFailedEvent is published when a command round trip fails, whether
// from a network error or a server-reported command error.
type CommandFailedEvent struct {
	CommandFinishedEvent
	Failure error
}

// CommandMonitor holds the optional callbacks a caller registers to observe
// command execution. Any subset of the fields may be nil.
type CommandMonitor struct {
	Started   func(CommandStartedEvent)
	Succeeded func(CommandSucceededEvent)
	Failed    func(CommandFailedEvent)
}

// PoolEventType identifies the kind of connection pool event that occurred.
type PoolEventType string

// Connection pool event types.
const (
	PoolCreated             PoolEventType = "ConnectionPoolCreated"
	PoolReady               PoolEventType = "ConnectionPoolReady"
	PoolCleared             PoolEventType = "ConnectionPoolCleared"
	PoolClosed              PoolEventType = "ConnectionPoolClosed"
	ConnectionCreated       PoolEventType = "ConnectionCreated"
	ConnectionReady         PoolEventType = "ConnectionReady"
	ConnectionClosed        PoolEventType = "ConnectionClosed"
	ConnectionCheckOutStarted   PoolEventType = "ConnectionCheckOutStarted"
	ConnectionCheckedOut        PoolEventType = "ConnectionCheckedOut"
	ConnectionCheckOutFailed    PoolEventType = "ConnectionCheckOutFailed"
	ConnectionCheckedIn         PoolEventType = "ConnectionCheckedIn"
)

// ConnectionClosedReason explains why ConnectionClosed fired.
type ConnectionClosedReason string

// Reasons a pooled connection is closed.
const (
	ReasonIdle         ConnectionClosedReason = "idle"
	ReasonPoolClosed   ConnectionClosedReason = "poolClosed"
	ReasonStale        ConnectionClosedReason = "stale"
	ReasonError        ConnectionClosedReason = "error"
)

// ReasonConnectionErrored explains a checkout failure.
const ReasonConnectionErrored = "connectionError"

// PoolEvent is published for every connection pool lifecycle transition.
type PoolEvent struct {
	Type         PoolEventType
	Address      string
	ConnectionID int64
	ServiceID    *string // set under load-balanced deployments
	Reason       string
	Error        error
}

// PoolMonitor observes connection pool events via a single callback; the
// caller switches on Event.Type.
type PoolMonitor struct {
	Event func(*PoolEvent)
}

// ServerHeartbeatStartedEvent is published before a monitor sends hello.
type ServerHeartbeatStartedEvent struct {
	ConnectionID string
	Awaited      bool
}

// ServerHeartbeatSucceededEvent is published after a successful hello reply.
type ServerHeartbeatSucceededEvent struct {
	ConnectionID string
	Duration     time.Duration
	Reply        []byte
	Awaited      bool
}

// ServerHeartbeatFailedEvent is published when a heartbeat round trip
// fails.
type ServerHeartbeatFailedEvent struct {
	ConnectionID string
	Duration     time.Duration
	Failure      error
	Awaited      bool
}

// ServerMonitor observes SDAM heartbeat events.
type ServerMonitor struct {
	ServerHeartbeatStarted   func(*ServerHeartbeatStartedEvent)
	ServerHeartbeatSucceeded func(*ServerHeartbeatSucceededEvent)
	ServerHeartbeatFailed    func(*ServerHeartbeatFailedEvent)
}
