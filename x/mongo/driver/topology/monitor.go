// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync"
	"time"

	"github.com/coredb/mongocore/event"
	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/description"
)

const minHeartbeatFrequency = 500 * time.Millisecond

// rttAlpha is the exponential weighting spec.md §4.F.2 specifies for the
// rolling average round-trip-time estimate.
const rttAlpha = 0.2

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Address           address.Address
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	Metadata          ClientMetadata
	ServerMonitor     *event.ServerMonitor
	Dialer            Dialer
}

// Monitor runs the single-threaded background hello loop spec.md §4.F
// describes: one connection dedicated to heartbeats, separate from the
// pool used for application operations.
type Monitor struct {
	cfg  MonitorConfig
	desc description.Server

	mu        sync.Mutex
	updates   []func(description.Server)
	rttMu     sync.Mutex
	avgRTT    time.Duration
	rttSet    bool

	conn       *Connection
	streaming  bool
	topologyVersion *description.TopologyVersion

	checkNow chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewMonitor constructs a Monitor for addr. Call Start to begin heartbeats.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		desc:     description.NewDefaultServer(cfg.Address),
		checkNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a callback invoked with every new server description.
func (m *Monitor) Subscribe(fn func(description.Server)) {
	m.mu.Lock()
	m.updates = append(m.updates, fn)
	m.mu.Unlock()
}

// Description returns the most recently observed server description.
func (m *Monitor) Description() description.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desc
}

// Start begins the background heartbeat loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends the heartbeat loop and closes the dedicated connection.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		c := m.conn
		m.mu.Unlock()
		if c != nil {
			c.Close()
		}
	})
}

// RequestImmediateCheck wakes the loop for an out-of-band heartbeat, used
// after a pooled connection observes a network error (spec.md §4.F step 3).
func (m *Monitor) RequestImmediateCheck() {
	select {
	case m.checkNow <- struct{}{}:
	default:
	}
}

func (m *Monitor) run() {
	for {
		desc, rtt, err := m.checkOnce()
		m.mu.Lock()
		m.desc = desc
		subs := append([]func(description.Server){}, m.updates...)
		m.mu.Unlock()

		if err == nil {
			m.recordRTT(rtt)
		}

		for _, fn := range subs {
			fn(desc)
		}

		wait := m.cfg.HeartbeatInterval
		if err != nil {
			wait = minHeartbeatFrequency
		}

		select {
		case <-m.done:
			return
		case <-m.checkNow:
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) checkOnce() (description.Server, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout+30*time.Second)
	defer cancel()

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || !conn.Alive() {
		var opts []ConnectionOption
		if m.cfg.Dialer != nil {
			opts = append(opts, WithDialer(m.cfg.Dialer))
		}
		opts = append(opts, WithConnectTimeout(m.cfg.ConnectTimeout))
		newConn, err := Dial(ctx, m.cfg.Address, opts...)
		if err != nil {
			m.publishFailed(err, false)
			return description.NewServerError(m.cfg.Address, err), 0, err
		}
		conn = newConn
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
	}

	m.publishStarted(m.streaming)
	start := time.Now()

	hcfg := HandshakeConfig{
		Metadata:                m.cfg.Metadata,
		PreviousTopologyVersion: m.topologyVersion,
		SupportsStreaming:       m.streaming,
	}
	desc, err := Handshake(ctx, conn, hcfg, m.cfg.HeartbeatInterval)
	dur := time.Since(start)

	if err != nil {
		m.publishFailed(err, m.streaming)
		conn.Close()
		m.mu.Lock()
		m.conn = nil
		m.streaming = false
		m.mu.Unlock()
		return description.NewServerError(m.cfg.Address, err), 0, err
	}

	m.publishSucceeded(dur, m.streaming)
	m.mu.Lock()
	m.topologyVersion = desc.TopologyVersion
	m.streaming = desc.TopologyVersion != nil
	m.mu.Unlock()

	desc.AverageRTT = m.blendedRTT(dur)
	desc.AverageRTTSet = true
	return desc, dur, nil
}

func (m *Monitor) recordRTT(d time.Duration) {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()
	if !m.rttSet {
		m.avgRTT = d
		m.rttSet = true
		return
	}
	m.avgRTT = time.Duration(rttAlpha*float64(d) + (1-rttAlpha)*float64(m.avgRTT))
}

func (m *Monitor) blendedRTT(latest time.Duration) time.Duration {
	m.rttMu.Lock()
	defer m.rttMu.Unlock()
	if !m.rttSet {
		return latest
	}
	return time.Duration(rttAlpha*float64(latest) + (1-rttAlpha)*float64(m.avgRTT))
}

func (m *Monitor) publishStarted(awaited bool) {
	if m.cfg.ServerMonitor == nil || m.cfg.ServerMonitor.ServerHeartbeatStarted == nil {
		return
	}
	m.cfg.ServerMonitor.ServerHeartbeatStarted(&event.ServerHeartbeatStartedEvent{
		ConnectionID: string(m.cfg.Address),
		Awaited:      awaited,
	})
}

func (m *Monitor) publishSucceeded(d time.Duration, awaited bool) {
	if m.cfg.ServerMonitor == nil || m.cfg.ServerMonitor.ServerHeartbeatSucceeded == nil {
		return
	}
	m.cfg.ServerMonitor.ServerHeartbeatSucceeded(&event.ServerHeartbeatSucceededEvent{
		ConnectionID: string(m.cfg.Address),
		Duration:     d,
		Awaited:      awaited,
	})
}

func (m *Monitor) publishFailed(err error, awaited bool) {
	if m.cfg.ServerMonitor == nil || m.cfg.ServerMonitor.ServerHeartbeatFailed == nil {
		return
	}
	m.cfg.ServerMonitor.ServerHeartbeatFailed(&event.ServerHeartbeatFailedEvent{
		ConnectionID: string(m.cfg.Address),
		Failure:      err,
		Awaited:      awaited,
	})
}
