// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"

	"github.com/coredb/mongocore/bson/primitive"
	"github.com/coredb/mongocore/x/mongo/driver/address"
)

func emptyTopology() Topology {
	return Topology{Servers: map[address.Address]Server{}, Kind: TopologyUnknown}
}

func TestUpdateTopology_StandaloneSingleSeed(t *testing.T) {
	addr := address.Address("a:27017")
	topo := emptyTopology()
	topo.Servers[addr] = NewDefaultServer(addr)

	srv := Server{Addr: addr, Kind: Standalone}
	topo = UpdateTopology(topo, srv)
	if topo.Kind != TopologySingle {
		t.Fatalf("expected Single, got %v", topo.Kind)
	}
}

func TestUpdateTopology_MongosGoesSharded(t *testing.T) {
	addr := address.Address("a:27017")
	topo := emptyTopology()
	topo.Servers[addr] = NewDefaultServer(addr)

	topo = UpdateTopology(topo, Server{Addr: addr, Kind: Mongos})
	if topo.Kind != TopologySharded {
		t.Fatalf("expected Sharded, got %v", topo.Kind)
	}

	// A non-mongos reply in a sharded deployment is removed.
	addr2 := address.Address("b:27017")
	topo.Servers[addr2] = NewDefaultServer(addr2)
	topo = UpdateTopology(topo, Server{Addr: addr2, Kind: Standalone})
	if _, ok := topo.Servers[addr2]; ok {
		t.Fatalf("expected non-mongos seed to be removed from sharded topology")
	}
}

func TestUpdateTopology_PrimaryElected(t *testing.T) {
	a := address.Address("a:27017")
	b := address.Address("b:27017")
	topo := emptyTopology()
	topo.Servers[a] = NewDefaultServer(a)
	topo.Servers[b] = NewDefaultServer(b)

	topo = UpdateTopology(topo, Server{
		Addr: a, Kind: RSPrimary, SetName: "rs0",
		Members: []address.Address{a, b},
	})
	if topo.Kind != TopologyReplicaSetWithPrimary {
		t.Fatalf("expected ReplicaSetWithPrimary, got %v", topo.Kind)
	}
	if p, ok := topo.Primary(); !ok || p.Addr != a {
		t.Fatalf("expected %v as primary", a)
	}
}

func TestUpdateTopology_StalerPrimaryRejected(t *testing.T) {
	a := address.Address("a:27017")
	b := address.Address("b:27017")
	topo := emptyTopology()
	topo.Servers[a] = NewDefaultServer(a)
	topo.Servers[b] = NewDefaultServer(b)

	newElection := primitive.ObjectID{1}
	oldElection := primitive.ObjectID{}

	topo = UpdateTopology(topo, Server{
		Addr: a, Kind: RSPrimary, SetName: "rs0", SetVersion: 2, ElectionID: newElection,
		Members: []address.Address{a, b},
	})
	if p, ok := topo.Primary(); !ok || p.Addr != a {
		t.Fatalf("expected a as primary after first election")
	}

	// b claims primary with an older (setVersion, electionID) tuple; must
	// be rejected, and a must remain primary.
	topo = UpdateTopology(topo, Server{
		Addr: b, Kind: RSPrimary, SetName: "rs0", SetVersion: 1, ElectionID: oldElection,
		Members: []address.Address{a, b},
	})
	if p, ok := topo.Primary(); !ok || p.Addr != a {
		t.Fatalf("stale primary should have been rejected, primary=%v ok=%v", p.Addr, ok)
	}
	if topo.Servers[b].Kind != Unknown {
		t.Fatalf("rejected primary reply should mark server Unknown, got %v", topo.Servers[b].Kind)
	}
}

func TestUpdateTopology_MeMismatchDropsServer(t *testing.T) {
	a := address.Address("a:27017")
	topo := emptyTopology()
	topo.Servers[a] = NewDefaultServer(a)

	topo = UpdateTopology(topo, Server{Addr: a, Kind: RSSecondary, CanonicalAddr: "other:27017", SetName: "rs0"})
	if _, ok := topo.Servers[a]; ok {
		t.Fatalf("server whose me disagrees with dialed address should be removed")
	}
}

func TestUpdateTopology_PrimaryStepDownNoMorePrimary(t *testing.T) {
	a := address.Address("a:27017")
	b := address.Address("b:27017")
	topo := emptyTopology()
	topo = UpdateTopology(topo, Server{Addr: a, Kind: RSPrimary, SetName: "rs0", Members: []address.Address{a, b}})
	if topo.Kind != TopologyReplicaSetWithPrimary {
		t.Fatalf("setup: expected ReplicaSetWithPrimary, got %v", topo.Kind)
	}

	topo = UpdateTopology(topo, Server{Addr: a, Kind: Unknown})
	if topo.Kind != TopologyReplicaSetNoPrimary {
		t.Fatalf("expected ReplicaSetNoPrimary after primary step-down, got %v", topo.Kind)
	}
}

func TestUpdateTopology_LoadBalancedNeverTransitions(t *testing.T) {
	topo := Topology{Kind: TopologyLoadBalanced, Servers: map[address.Address]Server{}}
	updated := UpdateTopology(topo, Server{Addr: "a:27017", Kind: RSPrimary})
	if updated.Kind != TopologyLoadBalanced {
		t.Fatalf("load-balanced topology must not transition, got %v", updated.Kind)
	}
}

func TestMinSessionTimeout(t *testing.T) {
	servers := map[address.Address]Server{
		"a:27017": {Kind: RSPrimary, SessionTimeoutMinutes: 30},
		"b:27017": {Kind: RSSecondary, SessionTimeoutMinutes: 20},
		"c:27017": {Kind: RSArbiter, SessionTimeoutMinutes: 0}, // non-data-bearing, ignored
	}
	min, ok := minSessionTimeout(servers)
	if !ok || min != 20 {
		t.Fatalf("expected min session timeout 20, got %d (ok=%v)", min, ok)
	}
}
