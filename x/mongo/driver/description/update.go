// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"github.com/coredb/mongocore/x/mongo/driver/address"
)

// UpdateTopology applies a single server description to a topology
// snapshot and returns the new snapshot, following the state-transition
// table of spec.md §4.G. It never mutates old.
func UpdateTopology(old Topology, srv Server) Topology {
	if old.Kind == TopologyLoadBalanced {
		// Load-balanced mode is fixed at configuration time; SDAM state
		// transitions are disabled.
		return old
	}

	servers := make(map[address.Address]Server, len(old.Servers))
	for addr, s := range old.Servers {
		servers[addr] = s
	}

	if srv.Kind != Unknown && srv.CanonicalAddr != "" && srv.CanonicalAddr != srv.Addr {
		// "me" disagrees with the address we dialed; drop it per the
		// invariant in spec.md §3.
		delete(servers, srv.Addr)
		next := old
		next.Servers = servers
		return next
	}

	servers[srv.Addr] = srv

	next := Topology{
		Servers:     servers,
		SetName:     old.SetName,
		Kind:        old.Kind,
		MaxSetVersion: old.MaxSetVersion,
		MaxElectionID: old.MaxElectionID,
		ClusterTime: old.ClusterTime,
	}

	switch next.Kind {
	case TopologyUnknown:
		updateUnknownWithServer(&next, srv)
	case TopologySharded:
		updateSharded(&next, srv)
	case TopologyReplicaSetNoPrimary:
		updateRSNoPrimary(&next, srv)
	case TopologyReplicaSetWithPrimary:
		updateRSWithPrimary(&next, srv)
	case TopologySingle:
		// A Single topology never changes kind once seeded.
	}

	next.SessionTimeoutMinutes, next.SessionTimeoutMinutesSet = minSessionTimeout(next.Servers)
	return next
}

func updateUnknownWithServer(t *Topology, srv Server) {
	switch srv.Kind {
	case Unknown:
		return
	case Standalone:
		if len(t.Servers) == 1 {
			t.Kind = TopologySingle
		} else {
			// A standalone reply among multiple seeds is not part of a
			// single-server deployment; drop it.
			delete(t.Servers, srv.Addr)
		}
	case Mongos:
		t.Kind = TopologySharded
	case RSPrimary:
		t.SetName = srv.SetName
		t.Kind = TopologyReplicaSetWithPrimary
		updatePrimaryBookkeeping(t, srv)
		removeServersNotInHostList(t, srv)
	case RSSecondary, RSArbiter, RSOther:
		t.SetName = srv.SetName
		t.Kind = TopologyReplicaSetNoPrimary
		addHostsToKnownSet(t, srv)
	case RSGhost:
		// Stays Unknown; a ghost carries no membership information.
	}
}

func updateSharded(t *Topology, srv Server) {
	if srv.Kind != Mongos && srv.Kind != Unknown {
		// A seed in a sharded deployment that reports a non-mongos type
		// is removed. No warning is logged for the removal.
		delete(t.Servers, srv.Addr)
	}
}

func updateRSNoPrimary(t *Topology, srv Server) {
	switch srv.Kind {
	case Unknown, RSGhost:
		return
	case Mongos, Standalone:
		delete(t.Servers, srv.Addr)
		return
	case RSPrimary:
		t.Kind = TopologyReplicaSetWithPrimary
		updatePrimaryBookkeeping(t, srv)
		removeServersNotInHostList(t, srv)
	case RSSecondary, RSArbiter, RSOther:
		if t.SetName == "" {
			t.SetName = srv.SetName
		} else if t.SetName != srv.SetName {
			delete(t.Servers, srv.Addr)
			return
		}
		addHostsToKnownSet(t, srv)
	}
}

func updateRSWithPrimary(t *Topology, srv Server) {
	switch srv.Kind {
	case Unknown, RSGhost:
		if _, ok := t.Primary(); !ok {
			t.Kind = TopologyReplicaSetNoPrimary
		}
	case Mongos, Standalone:
		delete(t.Servers, srv.Addr)
		checkIfNoMorePrimary(t)
	case RSPrimary:
		if srv.SetName != t.SetName {
			delete(t.Servers, srv.Addr)
			checkIfNoMorePrimary(t)
			return
		}
		if !acceptNewPrimary(t, srv) {
			// Stale primary: keep our existing belief, mark the reply
			// Unknown instead of installing it.
			t.Servers[srv.Addr] = NewDefaultServer(srv.Addr)
			return
		}
		updatePrimaryBookkeeping(t, srv)
		removeServersNotInHostList(t, srv)
	case RSSecondary, RSArbiter, RSOther:
		addHostsToKnownSet(t, srv)
		checkIfNoMorePrimary(t)
	}
}

// acceptNewPrimary implements the (set-version, election-id) tuple
// ordering from spec.md §3: a newer primary beats an older one; on tie,
// set-version then election-id decide.
func acceptNewPrimary(t *Topology, srv Server) bool {
	if srv.SetVersion == 0 && srv.ElectionID.IsZero() {
		return true
	}
	if srv.SetVersion < t.MaxSetVersion {
		return false
	}
	if srv.SetVersion == t.MaxSetVersion && compareObjectIDs(srv.ElectionID[:], t.MaxElectionID[:]) < 0 {
		return false
	}
	return true
}

func updatePrimaryBookkeeping(t *Topology, srv Server) {
	for addr, s := range t.Servers {
		if s.Kind == RSPrimary && addr != srv.Addr {
			t.Servers[addr] = NewDefaultServer(addr)
		}
	}
	if srv.SetVersion > t.MaxSetVersion {
		t.MaxSetVersion = srv.SetVersion
	}
	if cmp := compareObjectIDs(srv.ElectionID[:], t.MaxElectionID[:]); cmp > 0 {
		t.MaxElectionID = srv.ElectionID
	}
}

func compareObjectIDs(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func checkIfNoMorePrimary(t *Topology) {
	if _, ok := t.Primary(); !ok {
		t.Kind = TopologyReplicaSetNoPrimary
	}
}

func removeServersNotInHostList(t *Topology, primary Server) {
	known := make(map[address.Address]bool, len(primary.Members))
	for _, m := range primary.Members {
		known[m] = true
	}
	for addr := range t.Servers {
		if !known[addr] {
			delete(t.Servers, addr)
		}
	}
	addHostsToKnownSet(t, primary)
}

func addHostsToKnownSet(t *Topology, srv Server) {
	for _, m := range srv.Members {
		if _, ok := t.Servers[m]; !ok {
			t.Servers[m] = NewDefaultServer(m)
		}
	}
}

func minSessionTimeout(servers map[address.Address]Server) (int64, bool) {
	var min int64
	set := false
	for _, s := range servers {
		if !s.Kind.DataBearing() {
			continue
		}
		if s.SessionTimeoutMinutes <= 0 {
			return 0, false
		}
		if !set || s.SessionTimeoutMinutes < min {
			min = s.SessionTimeoutMinutes
			set = true
		}
	}
	return min, set
}
