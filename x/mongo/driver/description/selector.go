// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package description

import (
	"errors"
	"time"
)

// ErrInvalidArgument is returned when a selector's own options are
// internally inconsistent, e.g. a maxStalenessSeconds too small relative to
// the deployment's heartbeat frequency.
var ErrInvalidArgument = errors.New("invalid server selector argument")

// ServerSelector picks the subset of candidate servers a read/write
// preference finds eligible out of a topology snapshot. It is the single
// seam the operation executor drives server selection through; read
// preference and "select the primary" both implement it.
type ServerSelector interface {
	SelectServer(Topology, []Server) ([]Server, error)
}

// ServerSelectorFunc adapts a plain function to a ServerSelector.
type ServerSelectorFunc func(Topology, []Server) ([]Server, error)

// SelectServer implements ServerSelector.
func (f ServerSelectorFunc) SelectServer(t Topology, svrs []Server) ([]Server, error) {
	return f(t, svrs)
}

// WriteSelector selects the servers legal to receive a write: the single
// server of a Single topology, the primary of a replica set, or any mongos
// of a sharded cluster.
var WriteSelector = ServerSelectorFunc(func(t Topology, candidates []Server) ([]Server, error) {
	if t.Kind == TopologySingle {
		return candidates, nil
	}
	var eligible []Server
	for _, s := range candidates {
		switch s.Kind {
		case RSPrimary, Mongos, Standalone, LoadBalancer:
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
})

// ReadPrefMode mirrors mongo/readpref.Mode without importing it, avoiding a
// cycle between description and the user-facing readpref package; readpref
// builds a ServerSelector in terms of these constants.
type ReadPrefMode uint8

// The five read preference modes.
const (
	PrimaryMode ReadPrefMode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

// ReadPrefSelector selects eligible servers for a read with the given mode,
// tag sets, and max staleness, applying spec.md §4.H steps 1-4 in order.
type ReadPrefSelector struct {
	Mode              ReadPrefMode
	TagSets           []Tags
	MaxStaleness      time.Duration
	HeartbeatFreq     time.Duration
	LocalThreshold    time.Duration
}

// SelectServer implements ServerSelector.
func (rp ReadPrefSelector) SelectServer(t Topology, candidates []Server) ([]Server, error) {
	if rp.MaxStaleness > 0 {
		min := rp.HeartbeatFreq + 10*time.Second // idleWritePeriodMS default
		if rp.MaxStaleness < min {
			return nil, ErrInvalidArgument
		}
	}

	if t.Kind == TopologySingle || t.Kind == TopologyLoadBalanced {
		return candidates, nil
	}

	var byKind []Server
	for _, s := range candidates {
		if serverMatchesMode(s, rp.Mode, t.Kind) {
			byKind = append(byKind, s)
		}
	}

	byKind = filterByTagSets(byKind, rp.TagSets, rp.Mode)
	byKind = filterByStaleness(t, byKind, rp.Mode, rp.MaxStaleness)
	return applyLocalThreshold(byKind, rp.LocalThreshold), nil
}

func serverMatchesMode(s Server, mode ReadPrefMode, kind TopologyKind) bool {
	if kind == TopologySharded {
		return s.Kind == Mongos
	}
	switch mode {
	case PrimaryMode:
		return s.Kind == RSPrimary
	case PrimaryPreferredMode, SecondaryPreferredMode, NearestMode:
		return s.Kind == RSPrimary || s.Kind == RSSecondary
	case SecondaryMode:
		return s.Kind == RSSecondary
	default:
		return false
	}
}

func filterByStaleness(t Topology, candidates []Server, mode ReadPrefMode, maxStaleness time.Duration) []Server {
	if maxStaleness <= 0 {
		return candidates
	}
	primary, hasPrimary := t.Primary()
	out := candidates[:0:0]
	for _, s := range candidates {
		if s.Kind == RSPrimary {
			out = append(out, s)
			continue
		}
		staleness := estimateStaleness(t, s, primary, hasPrimary)
		if staleness <= maxStaleness {
			out = append(out, s)
		}
	}
	return out
}

func estimateStaleness(t Topology, s Server, primary Server, hasPrimary bool) time.Duration {
	if hasPrimary {
		return s.LastUpdateTime.Sub(s.LastWriteTime) - primary.LastUpdateTime.Sub(primary.LastWriteTime) + s.HeartbeatInterval
	}
	// No primary known: compare against the freshest secondary.
	var freshest time.Time
	for _, c := range t.Servers {
		if c.Kind == RSSecondary && c.LastWriteTime.After(freshest) {
			freshest = c.LastWriteTime
		}
	}
	return freshest.Sub(s.LastWriteTime) + s.HeartbeatInterval
}

func filterByTagSets(candidates []Server, tagSets []Tags, mode ReadPrefMode) []Server {
	if mode == PrimaryMode || len(tagSets) == 0 {
		return candidates
	}
	for _, ts := range tagSets {
		if len(ts) == 0 {
			return candidates
		}
		var matched []Server
		for _, s := range candidates {
			if s.Kind == RSPrimary {
				matched = append(matched, s)
				continue
			}
			if s.Tags.ContainsAll(ts) {
				matched = append(matched, s)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

func applyLocalThreshold(candidates []Server, threshold time.Duration) []Server {
	if len(candidates) == 0 {
		return candidates
	}
	min := candidates[0].AverageRTT
	for _, s := range candidates[1:] {
		if s.AverageRTT < min {
			min = s.AverageRTT
		}
	}
	var out []Server
	for _, s := range candidates {
		if s.AverageRTT <= min+threshold {
			out = append(out, s)
		}
	}
	return out
}
