// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/description"
)

// ErrServerSelectionTimeout is returned by SelectServer when no suitable
// server is found before the selection timeout elapses.
var ErrServerSelectionTimeout = errors.New("server selection timed out")

// Config configures a Topology.
type Config struct {
	Mode                   description.TopologyKind
	SetName                string
	Seeds                  []address.Address
	ServerSelectionTimeout time.Duration
	LocalThreshold         time.Duration
	ServerConfig           func(addr address.Address) ServerConfig
}

// Topology owns the SDAM state machine spec.md §4.G describes: one Server
// per known deployment member, the aggregate Topology description produced
// by folding every member's latest Server description through
// description.UpdateTopology, and the wait-and-scan SelectServer loop of
// spec.md §4.H.
type Topology struct {
	cfg Config

	mu      sync.Mutex
	desc    description.Topology
	servers map[address.Address]*Server

	waiters      map[int64]chan struct{}
	lastWaiterID int64
	waiterMu     sync.Mutex

	rnd *rand.Rand

	closed bool
}

// New constructs a Topology in its initial Unknown state and starts
// monitoring every seed.
func New(cfg Config) *Topology {
	if cfg.ServerSelectionTimeout == 0 {
		cfg.ServerSelectionTimeout = 30 * time.Second
	}
	if cfg.LocalThreshold == 0 {
		cfg.LocalThreshold = 15 * time.Millisecond
	}

	t := &Topology{
		cfg:     cfg,
		servers: make(map[address.Address]*Server),
		waiters: make(map[int64]chan struct{}),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	t.desc = description.Topology{
		Kind:    cfg.Mode,
		SetName: cfg.SetName,
		Servers: make(map[address.Address]description.Server),
	}

	for _, addr := range cfg.Seeds {
		t.addServer(addr)
	}
	return t
}

func (t *Topology) addServer(addr address.Address) *Server {
	t.mu.Lock()
	if s, ok := t.servers[addr]; ok {
		t.mu.Unlock()
		return s
	}
	scfg := t.cfg.ServerConfig(addr)
	scfg.Address = addr
	t.mu.Unlock()

	srv := NewServer(scfg)
	srv.Subscribe(func(d description.Server) { t.apply(d) })

	t.mu.Lock()
	t.servers[addr] = srv
	t.mu.Unlock()
	return srv
}

func (t *Topology) apply(d description.Server) {
	t.mu.Lock()
	newTopo := description.UpdateTopology(t.desc, d)
	diff := description.DiffTopology(t.desc, newTopo)
	t.desc = newTopo
	t.mu.Unlock()

	for _, addr := range diff.Added {
		t.addServer(addr)
	}
	for _, addr := range diff.Removed {
		t.mu.Lock()
		srv, ok := t.servers[addr]
		delete(t.servers, addr)
		t.mu.Unlock()
		if ok {
			srv.Close()
		}
	}

	t.waiterMu.Lock()
	for _, ch := range t.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	t.waiterMu.Unlock()
}

// Description returns the current aggregate topology description.
func (t *Topology) Description() description.Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

// SelectServer implements spec.md §4.H: it repeatedly evaluates selector
// against the latest topology description, returning as soon as a matching
// server is found, and blocks (re-requesting heartbeats) otherwise until
// the selection timeout expires.
func (t *Topology) SelectServer(ctx context.Context, selector description.ServerSelector) (*Server, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ServerSelectionTimeout)
	defer cancel()

	ch, id := t.subscribeWaiter()
	defer t.removeWaiter(id)

	for {
		desc := t.Description()
		candidates, err := selector.SelectServer(desc, desc.ServerList())
		if err != nil {
			return nil, err
		}

		if len(candidates) > 0 {
			srv, ok := t.pickServer(candidates)
			if ok {
				return srv, nil
			}
			continue
		}

		t.mu.Lock()
		for _, srv := range t.servers {
			srv.monitor.RequestImmediateCheck()
		}
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ErrServerSelectionTimeout
		case <-ch:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// pickServer implements spec.md §4.H step 5: with a single eligible
// candidate, return it directly; with more than one, choose two uniformly
// at random and return the one with fewer outstanding operations
// (power-of-two-choices load balancing).
func (t *Topology) pickServer(candidates []description.Server) (*Server, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(candidates) == 1 {
		srv, ok := t.servers[candidates[0].Addr]
		return srv, ok
	}

	i := t.rnd.Intn(len(candidates))
	j := t.rnd.Intn(len(candidates) - 1)
	if j >= i {
		j++
	}

	first, ok1 := t.servers[candidates[i].Addr]
	second, ok2 := t.servers[candidates[j].Addr]
	switch {
	case ok1 && ok2:
		if second.OperationCount() < first.OperationCount() {
			return second, true
		}
		return first, true
	case ok1:
		return first, true
	case ok2:
		return second, true
	default:
		return nil, false
	}
}

func (t *Topology) subscribeWaiter() (chan struct{}, int64) {
	id := atomic.AddInt64(&t.lastWaiterID, 1)
	ch := make(chan struct{}, 1)
	t.waiterMu.Lock()
	t.waiters[id] = ch
	t.waiterMu.Unlock()
	return ch, id
}

func (t *Topology) removeWaiter(id int64) {
	t.waiterMu.Lock()
	delete(t.waiters, id)
	t.waiterMu.Unlock()
}

// Close stops every server's heartbeat loop and closes its pool. Each
// server's monitor goroutine is stopped concurrently via errgroup rather
// than one at a time, so Close doesn't block on the slowest monitor's
// in-flight hello round trip once for every other server in the deployment.
func (t *Topology) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	servers := make([]*Server, 0, len(t.servers))
	for _, s := range t.servers {
		servers = append(servers, s)
	}
	t.mu.Unlock()

	var g errgroup.Group
	for _, s := range servers {
		s := s
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	_ = g.Wait()
}
