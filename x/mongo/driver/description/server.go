// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description holds the server and topology description types SDAM
// uses to represent what is currently known about a deployment, plus the
// topology-state-transition and selector logic that operate on them.
package description

import (
	"fmt"
	"time"

	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/mongo/driver/address"
)

// ServerKind represents the role a single mongod/mongos process plays.
type ServerKind uint32

// The possible server kinds, matching the hello reply fields the monitor
// inspects.
const (
	Unknown ServerKind = iota
	Standalone
	Mongos
	PossiblePrimary
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	LoadBalancer
)

func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case Mongos:
		return "Mongos"
	case PossiblePrimary:
		return "PossiblePrimary"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// DataBearing reports whether a server of this kind can hold user data and
// therefore participates in logical-session-timeout and staleness math.
func (kind ServerKind) DataBearing() bool {
	switch kind {
	case Standalone, RSPrimary, RSSecondary, Mongos, LoadBalancer:
		return true
	default:
		return false
	}
}

// VersionRange is an inclusive [Min, Max] range of wire protocol versions,
// the same shape the teacher tests against with Range.Includes.
type VersionRange struct {
	Min int32
	Max int32
}

// NewVersionRange creates a new VersionRange given a min and a max.
func NewVersionRange(min, max int32) VersionRange {
	return VersionRange{Min: min, Max: max}
}

// Includes reports whether the given version is within this range,
// inclusive of both endpoints.
func (vr VersionRange) Includes(version int32) bool {
	return version >= vr.Min && version <= vr.Max
}

// TopologyVersion tracks the monotonic (processID, counter) pair a server
// reports so the monitor can tell a stale reply from a fresher one.
type TopologyVersion struct {
	ProcessID string
	Counter   int64
}

// Compare orders tv against other: -1 when other is newer (a different
// process id counts as newer), 1 when tv is newer, 0 when they are equal. A
// nil receiver or argument always loses the comparison to a non-nil one.
func (tv *TopologyVersion) Compare(other *TopologyVersion) int {
	switch {
	case tv == nil && other == nil:
		return 0
	case tv == nil:
		return -1
	case other == nil:
		return 1
	case tv.ProcessID != other.ProcessID:
		return -1
	case tv.Counter < other.Counter:
		return -1
	case tv.Counter > other.Counter:
		return 1
	default:
		return 0
	}
}

// Server contains everything SDAM knows about one remote process: its
// self-reported hello fields, RTT, and the monitor's last error (if any).
type Server struct {
	Addr address.Address

	AverageRTT          time.Duration
	AverageRTTSet       bool
	Compression         []string
	CanonicalAddr       address.Address
	ElectionID          primitive.ObjectID
	IsCryptd            bool
	HeartbeatInterval   time.Duration
	HelloOK             bool
	LastError           error
	LastUpdateTime      time.Time
	LastWriteTime       time.Time
	MaxBatchCount       uint32
	MaxDocumentSize     uint32
	MaxMessageSize      uint32
	Members             []address.Address
	Kind                ServerKind
	SessionTimeoutMinutes int64
	SetName             string
	SetVersion          uint32
	Tags                Tags
	TopologyVersion     *TopologyVersion
	WireVersion         *VersionRange
	SaslSupportedMechs  []string
	ServiceID           *primitive.ObjectID // load-balanced / streaming service routing
}

// NewDefaultServer returns an Unknown server description for addr, the
// starting state before any hello reply has been observed.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown, LastUpdateTime: time.Now()}
}

// NewServerError returns an Unknown server description carrying err, used
// when the monitor's hello attempt fails.
func NewServerError(addr address.Address, err error) Server {
	return Server{Addr: addr, Kind: Unknown, LastError: err, LastUpdateTime: time.Now()}
}

// Tags is an unordered set of key/value pairs a replica-set member advertises
// for tag-set matching during server selection.
type Tags map[string]string

// ContainsAll reports whether t has every key/value pair in other.
func (t Tags) ContainsAll(other Tags) bool {
	for k, v := range other {
		if t[k] != v {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer for log lines.
func (s Server) String() string {
	return fmt.Sprintf("Addr: %s, Type: %s, RTT: %s", s.Addr, s.Kind, s.AverageRTT)
}

// SessionsSupported reports whether a server at this wire version range
// supports logical sessions (wire version >= 6, server 3.6+).
func (s Server) SessionsSupported() bool {
	return s.WireVersion != nil && s.WireVersion.Max >= 6
}
