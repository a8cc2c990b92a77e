// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/mongo/driver/address"
)

// TopologyKind classifies the aggregate shape of a deployment.
type TopologyKind uint32

// The possible topology kinds.
const (
	TopologyUnknown TopologyKind = iota
	TopologySingle
	TopologySharded
	TopologyReplicaSet
	TopologyReplicaSetNoPrimary
	TopologyReplicaSetWithPrimary
	TopologyLoadBalanced
)

func (kind TopologyKind) String() string {
	switch kind {
	case TopologySingle:
		return "Single"
	case TopologySharded:
		return "Sharded"
	case TopologyReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case TopologyReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case TopologyLoadBalanced:
		return "LoadBalanced"
	default:
		return "Unknown"
	}
}

// ClusterTime is the signed $clusterTime document gossiped between the
// driver and the deployment. Signature bytes are kept opaque; only
// ClusterTime/Increment participate in the "larger wins" comparison.
type ClusterTime struct {
	ClusterTime uint32
	Increment   uint32
	Raw         []byte // the original BSON document, re-sent verbatim
}

// After reports whether ct is strictly newer than other by the
// (ClusterTime, Increment) tuple ordering.
func (ct ClusterTime) After(other ClusterTime) bool {
	if ct.ClusterTime != other.ClusterTime {
		return ct.ClusterTime > other.ClusterTime
	}
	return ct.Increment > other.Increment
}

// MaxClusterTime returns whichever of a, b is newer, preferring a on a tie
// so that a zero-value b never clobbers an established a.
func MaxClusterTime(a, b ClusterTime) ClusterTime {
	if b.After(a) {
		return b
	}
	return a
}

// Topology is the aggregate, immutable-once-built snapshot of everything
// SDAM currently believes about a deployment. A new Topology value is
// produced on every applied Server update; nothing in this type is mutated
// in place, so a reader that snapshots a *Topology is safe to evaluate
// against without holding any lock.
type Topology struct {
	Servers               map[address.Address]Server
	SetName               string
	Kind                  TopologyKind
	SessionTimeoutMinutes int64
	SessionTimeoutMinutesSet bool
	MaxSetVersion         uint32
	MaxElectionID         primitive.ObjectID
	CompatibilityErr      error
	ClusterTime           ClusterTime
}

// ServerList returns the known servers as a slice in no particular order.
func (t Topology) ServerList() []Server {
	servers := make([]Server, 0, len(t.Servers))
	for _, s := range t.Servers {
		servers = append(servers, s)
	}
	return servers
}

// Primary returns the current RSPrimary, if any.
func (t Topology) Primary() (Server, bool) {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

// TopologyDiff reports the servers added to / removed from a topology by an
// update, the same shape cluster.Diff reported to drive monitor
// subscription/teardown.
type TopologyDiff struct {
	Added   []address.Address
	Removed []address.Address
}

// DiffTopology computes the added/removed server addresses between two
// topology snapshots.
func DiffTopology(old, new Topology) TopologyDiff {
	var diff TopologyDiff
	for addr := range new.Servers {
		if _, ok := old.Servers[addr]; !ok {
			diff.Added = append(diff.Added, addr)
		}
	}
	for addr := range old.Servers {
		if _, ok := new.Servers[addr]; !ok {
			diff.Removed = append(diff.Removed, addr)
		}
	}
	return diff
}
