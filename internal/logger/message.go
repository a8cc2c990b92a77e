// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

// ComponentMessage is a structured log message belonging to a Component. It
// flattens to a key/value slice the same way logr messages do.
type ComponentMessage interface {
	Component() Component
	Message() string
	Serialize() []interface{}
}

// CommandMessageDropped is emitted when the job channel is full and a
// message had to be discarded rather than block the caller.
type CommandMessageDropped struct {
	CommandName string
}

func (CommandMessageDropped) Component() Component { return ComponentCommand }
func (CommandMessageDropped) Message() string       { return "Command message dropped" }
func (m CommandMessageDropped) Serialize() []interface{} {
	return []interface{}{"commandName", m.CommandName}
}

// CommandStartedMessage is logged when a driver operation places a command
// on the wire.
type CommandStartedMessage struct {
	RequestID    int64
	DriverConnectionID int64
	ServerHost   string
	ServerPort   int32
	CommandName  string
	DatabaseName string
	Command      string
}

func (CommandStartedMessage) Component() Component { return ComponentCommand }
func (CommandStartedMessage) Message() string       { return "Command started" }
func (m CommandStartedMessage) Serialize() []interface{} {
	return []interface{}{
		"requestId", m.RequestID,
		"driverConnectionId", m.DriverConnectionID,
		"serverHost", m.ServerHost,
		"serverPort", m.ServerPort,
		"commandName", m.CommandName,
		"databaseName", m.DatabaseName,
		"command", m.Command,
	}
}

// CommandSucceededMessage is logged when a command reply is decoded
// successfully.
type CommandSucceededMessage struct {
	RequestID    int64
	CommandName  string
	DurationMS   int64
	Reply        string
}

func (CommandSucceededMessage) Component() Component { return ComponentCommand }
func (CommandSucceededMessage) Message() string       { return "Command succeeded" }
func (m CommandSucceededMessage) Serialize() []interface{} {
	return []interface{}{
		"requestId", m.RequestID,
		"commandName", m.CommandName,
		"durationMS", m.DurationMS,
		"reply", m.Reply,
	}
}

// CommandFailedMessage is logged when a command returns a server error or
// the round trip itself fails.
type CommandFailedMessage struct {
	RequestID   int64
	CommandName string
	DurationMS  int64
	Failure     string
}

func (CommandFailedMessage) Component() Component { return ComponentCommand }
func (CommandFailedMessage) Message() string       { return "Command failed" }
func (m CommandFailedMessage) Serialize() []interface{} {
	return []interface{}{
		"requestId", m.RequestID,
		"commandName", m.CommandName,
		"durationMS", m.DurationMS,
		"failure", m.Failure,
	}
}

// TopologyDescriptionChangedMessage is logged every time SDAM produces a new
// TopologyDescription.
type TopologyDescriptionChangedMessage struct {
	TopologyID  string
	Previous    string
	New         string
}

func (TopologyDescriptionChangedMessage) Component() Component { return ComponentTopology }
func (TopologyDescriptionChangedMessage) Message() string       { return "Topology description changed" }
func (m TopologyDescriptionChangedMessage) Serialize() []interface{} {
	return []interface{}{"topologyId", m.TopologyID, "previousDescription", m.Previous, "newDescription", m.New}
}

// ServerSelectionSucceededMessage is logged when a selector picks a server.
type ServerSelectionSucceededMessage struct {
	SelectionDurationMS int64
	ServerHost          string
	ServerPort          int32
	Operation           string
}

func (ServerSelectionSucceededMessage) Component() Component { return ComponentServerSelection }
func (ServerSelectionSucceededMessage) Message() string       { return "Server selection succeeded" }
func (m ServerSelectionSucceededMessage) Serialize() []interface{} {
	return []interface{}{
		"selectionDurationMS", m.SelectionDurationMS,
		"serverHost", m.ServerHost,
		"serverPort", m.ServerPort,
		"operation", m.Operation,
	}
}

// ConnectionPoolClearedMessage is logged when a pool is cleared, optionally
// for a specific service ID under load balancing.
type ConnectionPoolClearedMessage struct {
	ServerHost string
	ServerPort int32
	ServiceID  string
	Reason     string
}

func (ConnectionPoolClearedMessage) Component() Component { return ComponentConnection }
func (ConnectionPoolClearedMessage) Message() string       { return "Connection pool cleared" }
func (m ConnectionPoolClearedMessage) Serialize() []interface{} {
	return []interface{}{
		"serverHost", m.ServerHost,
		"serverPort", m.ServerPort,
		"serviceId", m.ServiceID,
		"reason", m.Reason,
	}
}
