// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coredb/mongocore/event"
	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/auth"
	"github.com/coredb/mongocore/x/mongo/driver/description"
	"github.com/coredb/mongocore/x/mongo/driver/wiremessage"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Address           address.Address
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	MinPoolSize       uint64
	MaxPoolSize       uint64
	MaxConnecting     uint64
	MaxIdleTime       time.Duration
	Metadata          ClientMetadata
	Compressors       []string
	ZlibLevel         int
	Authenticator     auth.Authenticator
	Cred              *auth.Cred
	PoolMonitor       *event.PoolMonitor
	ServerMonitor     *event.ServerMonitor
	CommandMonitor    *event.CommandMonitor
	Dialer            Dialer
}

// Server pairs one deployment member's heartbeat Monitor with the
// connection Pool application operations check connections out of,
// spec.md §4 component E/F's per-server unit.
type Server struct {
	cfg     ServerConfig
	pool    *Pool
	monitor *Monitor

	// opCount tracks outstanding checked-out connections so SelectServer's
	// power-of-two-choices step (spec.md §4.H step 5) can prefer the less
	// loaded of two random candidates.
	opCount int64
}

// NewServer constructs and starts a Server: its Monitor begins heartbeating
// immediately and its Pool begins Paused, the way spec.md §4.E requires a
// pool to start before any server description is known.
func NewServer(cfg ServerConfig) *Server {
	connOpts := []ConnectionOption{
		WithConnectTimeout(cfg.ConnectTimeout),
		WithCommandMonitor(cfg.CommandMonitor),
	}
	if cfg.Dialer != nil {
		connOpts = append(connOpts, WithDialer(cfg.Dialer))
	}
	var compressors []wiremessage.Compressor
	for _, name := range cfg.Compressors {
		if c := wiremessage.CompressorByName(name, cfg.ZlibLevel); c != nil {
			compressors = append(compressors, c)
		}
	}
	if len(compressors) > 0 {
		connOpts = append(connOpts, WithCompressors(compressors...))
	}

	pool := NewPool(PoolConfig{
		Address:        cfg.Address,
		MinPoolSize:    cfg.MinPoolSize,
		MaxPoolSize:    cfg.MaxPoolSize,
		MaxConnecting:  cfg.MaxConnecting,
		MaxIdleTime:    cfg.MaxIdleTime,
		PoolMonitor:    cfg.PoolMonitor,
		ConnectionOpts: connOpts,
		Handshaker: func(ctx context.Context, conn *Connection) error {
			_, err := Handshake(ctx, conn, HandshakeConfig{
				Metadata:      cfg.Metadata,
				Compressors:   compressors,
				Authenticator: cfg.Authenticator,
				Cred:          cfg.Cred,
			}, cfg.HeartbeatInterval)
			return err
		},
	})

	monitor := NewMonitor(MonitorConfig{
		Address:           cfg.Address,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectTimeout:    cfg.ConnectTimeout,
		Metadata:          cfg.Metadata,
		ServerMonitor:     cfg.ServerMonitor,
		Dialer:            cfg.Dialer,
	})

	s := &Server{cfg: cfg, pool: pool, monitor: monitor}

	monitor.Subscribe(func(desc description.Server) {
		if desc.Kind == description.Unknown {
			pool.Clear(false, nil)
		} else {
			pool.Ready()
		}
	})

	monitor.Start()
	return s
}

// Description returns the server's most recently observed description.
func (s *Server) Description() description.Server { return s.monitor.Description() }

// Subscribe registers fn to be called on every new description.
func (s *Server) Subscribe(fn func(description.Server)) { s.monitor.Subscribe(fn) }

// Connection checks out a connection from the pool, handshaking and
// authenticating it first if it was just dialed.
func (s *Server) Connection(ctx context.Context) (*Connection, error) {
	conn, err := s.pool.CheckOut(ctx)
	if err != nil {
		if err == ErrPoolCleared {
			s.monitor.RequestImmediateCheck()
		}
		return nil, err
	}
	atomic.AddInt64(&s.opCount, 1)
	return conn, nil
}

// CheckIn returns a connection obtained from Connection back to the pool.
func (s *Server) CheckIn(conn *Connection) {
	atomic.AddInt64(&s.opCount, -1)
	s.pool.CheckIn(conn)
}

// OperationCount returns the number of connections currently checked out of
// this server's pool, used as the estimated-outstanding-operations signal
// for power-of-two-choices selection.
func (s *Server) OperationCount() int64 { return atomic.LoadInt64(&s.opCount) }

// ProcessError interprets an operation error against this server, clearing
// the pool and requesting an immediate heartbeat when the error indicates
// the server state may have changed (spec.md §4.F step 3 / SDAM error
// handling for "not primary"/"node is recovering").
func (s *Server) ProcessError(err error, conn *Connection) {
	if err == nil {
		return
	}
	// Under load-balanced mode a network error identifies a single upstream
	// mongos by its service-id; only that service's generation is bumped,
	// per spec.md §4.E clear(interrupt_in_use, service_id?), and no
	// immediate heartbeat is requested from the monitor.
	if conn != nil && conn.ServiceID != nil {
		s.pool.Clear(false, conn.ServiceID)
		return
	}
	s.pool.Clear(false, nil)
	s.monitor.RequestImmediateCheck()
}

// RTTMonitor exposes the rolling average heartbeat round-trip time.
func (s *Server) RTTMonitor() time.Duration { return s.monitor.Description().AverageRTT }

// Stats returns the pool's current size counters.
func (s *Server) Stats() Stats { return s.pool.Stats() }

// Close stops the heartbeat loop and closes all pooled connections.
func (s *Server) Close() {
	s.monitor.Stop()
	s.pool.Close()
}
