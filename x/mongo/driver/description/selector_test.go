// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"testing"
	"time"

	"github.com/coredb/mongocore/x/mongo/driver/address"
)

func rsTopology(servers ...Server) Topology {
	m := make(map[address.Address]Server, len(servers))
	for _, s := range servers {
		m[s.Addr] = s
	}
	return Topology{Servers: m, Kind: TopologyReplicaSetWithPrimary, SetName: "rs0"}
}

// S4: three-node replica set, secondary read preference with tag sets.
func TestReadPrefSelector_TagSets(t *testing.T) {
	primary := Server{Addr: "a:27017", Kind: RSPrimary, Tags: Tags{"ordinal": "one"}}
	secondaryTwo := Server{Addr: "b:27017", Kind: RSSecondary, Tags: Tags{"ordinal": "two"}}
	secondaryPlain := Server{Addr: "c:27017", Kind: RSSecondary, Tags: Tags{}}
	topo := rsTopology(primary, secondaryTwo, secondaryPlain)
	candidates := topo.ServerList()

	sel := ReadPrefSelector{Mode: SecondaryMode, TagSets: []Tags{{"ordinal": "two"}}}
	got, err := sel.SelectServer(topo, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Addr != secondaryTwo.Addr {
		t.Fatalf("expected only %v, got %v", secondaryTwo.Addr, got)
	}

	sel = ReadPrefSelector{Mode: SecondaryMode, TagSets: []Tags{{"ordinal": "three"}}}
	got, err = sel.SelectServer(topo, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match for ordinal:three, got %v", got)
	}
}

func TestReadPrefSelector_PrimaryModeIgnoresTags(t *testing.T) {
	primary := Server{Addr: "a:27017", Kind: RSPrimary}
	secondary := Server{Addr: "b:27017", Kind: RSSecondary}
	topo := rsTopology(primary, secondary)

	sel := ReadPrefSelector{Mode: PrimaryMode}
	got, err := sel.SelectServer(topo, topo.ServerList())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Kind != RSPrimary {
		t.Fatalf("expected only the primary, got %v", got)
	}
}

func TestReadPrefSelector_LocalThreshold(t *testing.T) {
	near := Server{Addr: "a:27017", Kind: RSSecondary, AverageRTT: 5 * time.Millisecond}
	mid := Server{Addr: "b:27017", Kind: RSSecondary, AverageRTT: 15 * time.Millisecond}
	far := Server{Addr: "c:27017", Kind: RSSecondary, AverageRTT: 50 * time.Millisecond}
	topo := rsTopology(near, mid, far)

	sel := ReadPrefSelector{Mode: SecondaryMode, LocalThreshold: 15 * time.Millisecond}
	got, err := sel.SelectServer(topo, topo.ServerList())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected near+mid within threshold, got %d: %v", len(got), got)
	}
	for _, s := range got {
		if s.Addr == far.Addr {
			t.Fatalf("far server should have been excluded by local threshold: %v", got)
		}
	}
}

func TestReadPrefSelector_InvalidMaxStaleness(t *testing.T) {
	sel := ReadPrefSelector{
		Mode:          SecondaryMode,
		MaxStaleness:  time.Second,
		HeartbeatFreq: 10 * time.Second,
	}
	topo := rsTopology(Server{Addr: "a:27017", Kind: RSPrimary})
	_, err := sel.SelectServer(topo, topo.ServerList())
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestWriteSelector_Single(t *testing.T) {
	s := Server{Addr: "a:27017", Kind: Standalone}
	topo := Topology{Kind: TopologySingle, Servers: map[address.Address]Server{s.Addr: s}}
	got, err := WriteSelector.SelectServer(topo, topo.ServerList())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the single server to be selected, got %v", got)
	}
}

func TestWriteSelector_ReplicaSet(t *testing.T) {
	primary := Server{Addr: "a:27017", Kind: RSPrimary}
	secondary := Server{Addr: "b:27017", Kind: RSSecondary}
	topo := rsTopology(primary, secondary)
	got, err := WriteSelector.SelectServer(topo, topo.ServerList())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Kind != RSPrimary {
		t.Fatalf("expected only the primary to be write-eligible, got %v", got)
	}
}
