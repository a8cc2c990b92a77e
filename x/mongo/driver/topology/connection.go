// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package topology implements component D (Connection), E (Connection
// pool), F (Monitor), and G (Topology, the SDAM aggregate) of spec.md §4.
package topology

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/mongocore/event"
	"github.com/coredb/mongocore/x/mongo/driver/address"
	"github.com/coredb/mongocore/x/mongo/driver/wiremessage"
)

// ErrConnectionClosed describes a connection that has been closed. Nothing
// in this package returns it: a write or read on a closed Connection reports
// the transport's own error.
var ErrConnectionClosed = errors.New("connection is closed")

// redactedCommand stands in for a sensitive command's document in a
// CommandStartedEvent.
var redactedCommand = []byte{5, 0, 0, 0, 0}

var globalConnectionID uint64

func nextConnectionID() uint64 { return atomic.AddUint64(&globalConnectionID, 1) }

// Dialer opens the byte-level transport component C assumes already
// exists; this is the seam a caller supplies TLS or a plain net.Dialer
// through.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// DefaultDialer is used when no Dialer option is supplied.
var DefaultDialer Dialer = &net.Dialer{}

// Connection owns one transport and speaks one pipelined request/reply
// channel at a time, matching the exclusive-ownership rule of spec.md §5.
type Connection struct {
	ID         string
	Addr       address.Address
	Generation uint64
	ServiceID  *string // load-balanced routing, spec.md §3

	nc   net.Conn
	cfg  *connectionConfig

	createdAt  time.Time
	lastUsed   time.Time
	idleDeadline time.Time

	pinnedTxn    bool
	pinnedCursor bool

	mu     sync.Mutex
	closed bool

	compressor wiremessage.Compressor

	nextRequestID int32
}

type connectionConfig struct {
	dialer          Dialer
	tlsConfig       *tls.Config
	connectTimeout  time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	maxLifetime     time.Duration
	compressors     []wiremessage.Compressor
	monitor         *event.CommandMonitor
	generation      uint64
}

// ConnectionOption configures connection dial behavior.
type ConnectionOption func(*connectionConfig)

// WithDialer overrides the net.Conn dialer (e.g. to inject TLS).
func WithDialer(d Dialer) ConnectionOption {
	return func(c *connectionConfig) { c.dialer = d }
}

// WithConnectTimeout bounds the initial TCP/TLS dial.
func WithConnectTimeout(d time.Duration) ConnectionOption {
	return func(c *connectionConfig) { c.connectTimeout = d }
}

// WithSocketTimeout bounds every subsequent read and write.
func WithSocketTimeout(d time.Duration) ConnectionOption {
	return func(c *connectionConfig) { c.readTimeout = d; c.writeTimeout = d }
}

// WithMaxIdleTime bounds how long a connection may sit idle in the pool.
func WithMaxIdleTime(d time.Duration) ConnectionOption {
	return func(c *connectionConfig) { c.idleTimeout = d }
}

// WithCompressors sets the negotiable compressor set, in preference order.
func WithCompressors(cs ...wiremessage.Compressor) ConnectionOption {
	return func(c *connectionConfig) { c.compressors = cs }
}

// WithCommandMonitor attaches command-started/succeeded/failed callbacks.
func WithCommandMonitor(m *event.CommandMonitor) ConnectionOption {
	return func(c *connectionConfig) { c.monitor = m }
}

// WithGeneration stamps the pool generation this connection was created
// under, used by check-in to discard stale-generation connections.
func WithGeneration(gen uint64) ConnectionOption {
	return func(c *connectionConfig) { c.generation = gen }
}

func newConnectionConfig(opts ...ConnectionOption) *connectionConfig {
	cfg := &connectionConfig{dialer: DefaultDialer}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Dial opens a new Connection to addr. It does not run the hello handshake;
// callers (the topology's Server) run Handshake separately so the monitor's
// dedicated connections and the pool's pooled connections share this dial
// path without sharing a handshake policy.
func Dial(ctx context.Context, addr address.Address, opts ...ConnectionOption) (*Connection, error) {
	cfg := newConnectionConfig(opts...)

	dialCtx := ctx
	var cancel context.CancelFunc
	if cfg.connectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, cfg.connectTimeout)
		defer cancel()
	}

	nc, err := cfg.dialer.DialContext(dialCtx, addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if cfg.tlsConfig != nil {
		tconn := tls.Client(nc, cfg.tlsConfig.Clone())
		if err := tconn.HandshakeContext(dialCtx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		nc = tconn
	}

	now := time.Now()
	c := &Connection{
		ID:         fmt.Sprintf("%s[-%d]", addr, nextConnectionID()),
		Addr:       addr,
		Generation: cfg.generation,
		nc:         nc,
		cfg:        cfg,
		createdAt:  now,
		lastUsed:   now,
	}
	c.bumpIdleDeadline()
	return c, nil
}

func (c *Connection) bumpIdleDeadline() {
	if c.cfg.idleTimeout > 0 {
		c.idleDeadline = time.Now().Add(c.cfg.idleTimeout)
	}
}

// SetCompressor records the compressor negotiated during the handshake.
func (c *Connection) SetCompressor(comp wiremessage.Compressor) { c.compressor = comp }

// Alive reports whether this connection has not been explicitly closed.
func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Expired reports whether this connection has exceeded its idle or
// lifetime deadline, the reap condition spec.md §4.E names.
func (c *Connection) Expired() bool {
	now := time.Now()
	if !c.idleDeadline.IsZero() && now.After(c.idleDeadline) {
		return true
	}
	if c.cfg.maxLifetime > 0 && now.Sub(c.createdAt) > c.cfg.maxLifetime {
		return true
	}
	return !c.Alive()
}

// Close tears down the underlying transport. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}

// nextRequest returns a fresh requestID, unique on this connection for as
// long as a reply might still be outstanding (spec.md §4.B: "Identical
// requestIDs must never be outstanding on the same connection").
func (c *Connection) nextRequest() int32 {
	return atomic.AddInt32(&c.nextRequestID, 1)
}

// WriteCommand writes cmd (a single Kind-0 OP_MSG section) addressed at
// dbName's "$cmd" namespace implicitly via the command document's own
// fields, matching the Speaker interface auth.Authenticator drives.
func (c *Connection) WriteCommand(ctx context.Context, dbName string, cmd []byte) error {
	_, err := c.WriteCommandRequestID(ctx, cmd, false)
	return err
}

// WriteCommandRequestID writes cmd and returns the requestID used, needed
// by the executor to match a fire-and-forget {w:0} write's lack of reply.
func (c *Connection) WriteCommandRequestID(ctx context.Context, cmd []byte, moreToCome bool) (int32, error) {
	reqID := c.nextRequest()
	var flags wiremessage.MsgFlag
	if moreToCome {
		flags |= wiremessage.MoreToCome
	}

	buf, err := wiremessage.AppendMsg(nil, reqID, 0, flags, []wiremessage.Section{
		{Kind: wiremessage.SectionKindBody, Documents: [][]byte{cmd}},
	})
	if err != nil {
		return 0, err
	}

	if c.compressor != nil && wiremessage.CanCompress(commandName(cmd)) {
		buf, err = c.compressWireMessage(buf, reqID)
		if err != nil {
			return 0, err
		}
	}

	if err := c.setWriteDeadline(); err != nil {
		return 0, err
	}
	if _, err := c.nc.Write(buf); err != nil {
		c.Close()
		return 0, fmt.Errorf("write: %w", err)
	}
	return reqID, nil
}

func (c *Connection) compressWireMessage(buf []byte, requestID int32) ([]byte, error) {
	body := buf[16:]
	compressed, err := c.compressor.Compress(body)
	if err != nil {
		return nil, err
	}
	return wiremessage.AppendCompressed(nil, requestID, 0, wiremessage.OpMsg, int32(len(body)), c.compressor.ID(), compressed), nil
}

// ReadCommand reads one complete wire message and returns its single Kind-0
// command document, decompressing an OP_COMPRESSED envelope transparently.
func (c *Connection) ReadCommand(ctx context.Context) ([]byte, error) {
	msg, err := c.readMsg(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range msg.Sections {
		if s.Kind == wiremessage.SectionKindBody {
			return s.Documents[0], nil
		}
	}
	return nil, errors.New("topology: reply carried no command document")
}

// RoundTrip writes cmd and, unless fireAndForget is set (write concern
// {w:0}), reads and returns the reply, publishing command-started/
// succeeded/failed events around the attempt as spec.md §4.D requires.
func (c *Connection) RoundTrip(ctx context.Context, dbName, cmdName string, cmd []byte, fireAndForget bool) ([]byte, error) {
	start := time.Now()
	if m := c.cfg.monitor; m != nil && m.Started != nil {
		reported := cmd
		if !wiremessage.CanCompress(cmdName) {
			// Sensitive commands (auth, saslStart/Continue, ...) are
			// redacted from monitoring output per spec.md §4.D.
			reported = redactedCommand
		}
		m.Started(event.CommandStartedEvent{
			Command:      reported,
			DatabaseName: dbName,
			CommandName:  cmdName,
			ConnectionID: c.ID,
		})
	}

	reqID, err := c.WriteCommandRequestID(ctx, cmd, fireAndForget)
	if err != nil {
		c.fireFailed(cmdName, start, err)
		return nil, err
	}
	if fireAndForget {
		return nil, nil
	}

	reply, err := c.ReadCommand(ctx)
	if err != nil {
		c.fireFailed(cmdName, start, err)
		return nil, err
	}
	_ = reqID

	if m := c.cfg.monitor; m != nil && m.Succeeded != nil {
		m.Succeeded(event.CommandSucceededEvent{
			CommandFinishedEvent: event.CommandFinishedEvent{
				CommandName:  cmdName,
				ConnectionID: c.ID,
				Duration:     time.Since(start),
			},
			Reply: reply,
		})
	}
	return reply, nil
}

func (c *Connection) fireFailed(cmdName string, start time.Time, err error) {
	if m := c.cfg.monitor; m != nil && m.Failed != nil {
		m.Failed(event.CommandFailedEvent{
			CommandFinishedEvent: event.CommandFinishedEvent{
				CommandName:  cmdName,
				ConnectionID: c.ID,
				Duration:     time.Since(start),
			},
			Failure: err,
		})
	}
}

func (c *Connection) readMsg(ctx context.Context) (wiremessage.Msg, error) {
	if err := c.setReadDeadline(); err != nil {
		return wiremessage.Msg{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.nc, lenBuf[:]); err != nil {
		c.Close()
		return wiremessage.Msg{}, fmt.Errorf("read length: %w", err)
	}
	msgLen := int32(lenBuf[0]) | int32(lenBuf[1])<<8 | int32(lenBuf[2])<<16 | int32(lenBuf[3])<<24
	if msgLen < 16 {
		return wiremessage.Msg{}, wiremessage.WireError{Kind: wiremessage.ErrLengthMismatch}
	}

	rest := make([]byte, msgLen-4)
	if _, err := io.ReadFull(c.nc, rest); err != nil {
		c.Close()
		return wiremessage.Msg{}, fmt.Errorf("read body: %w", err)
	}

	full := append(lenBuf[:], rest...)

	opcode := wiremessage.OpCode(int32(full[12]) | int32(full[13])<<8 | int32(full[14])<<16 | int32(full[15])<<24)
	if opcode == wiremessage.OpCompressed {
		compressed, err := wiremessage.ReadCompressed(full)
		if err != nil {
			return wiremessage.Msg{}, err
		}
		comp := compressorByID(compressed.CompressorID)
		if comp == nil {
			return wiremessage.Msg{}, wiremessage.WireError{Kind: wiremessage.ErrUnknownCompressor}
		}
		body := make([]byte, compressed.UncompressedSize)
		if err := comp.Decompress(body, compressed.CompressedMessage); err != nil {
			return wiremessage.Msg{}, err
		}
		full = append(wiremessage.AppendHeader(nil, wiremessage.Header{RequestID: compressed.Header.RequestID, ResponseTo: compressed.Header.ResponseTo, OpCode: wiremessage.OpMsg}), body...)
		full = wiremessage.UpdateMessageLength(full)
	}

	return wiremessage.ReadMsg(full)
}

func compressorByID(id wiremessage.CompressorID) wiremessage.Compressor {
	switch id {
	case wiremessage.CompressorSnappy:
		return wiremessage.SnappyCompressor{}
	case wiremessage.CompressorZLib:
		return wiremessage.ZLibCompressor{}
	case wiremessage.CompressorZstd:
		return wiremessage.ZstdCompressor{}
	default:
		return nil
	}
}

func (c *Connection) setReadDeadline() error {
	if c.cfg.readTimeout <= 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.cfg.readTimeout))
}

func (c *Connection) setWriteDeadline() error {
	if c.cfg.writeTimeout <= 0 {
		return c.nc.SetWriteDeadline(time.Time{})
	}
	return c.nc.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
}

// commandName returns a command document's first element key, which by
// convention is the command name ("find", "hello", "saslStart", ...).
// Layout: 4-byte length, 1-byte type tag, NUL-terminated key.
func commandName(cmd []byte) string {
	if len(cmd) < 6 {
		return ""
	}
	keyStart := 5
	j := keyStart
	for j < len(cmd) && cmd[j] != 0x00 {
		j++
	}
	if j >= len(cmd) {
		return ""
	}
	return string(cmd[keyStart:j])
}
