// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coredb/mongocore/x/mongo/driver/address"
)

var fakeConnCounter int64

func newFakeConn() *Connection {
	client, server := net.Pipe()
	go func() {
		// Drain and discard anything written so Close doesn't block on
		// an unread pipe; the pool tests never exercise the wire.
		buf := make([]byte, 256)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()
	id := atomic.AddInt64(&fakeConnCounter, 1)
	return &Connection{
		ID:        string(rune('a' + id)),
		Addr:      address.Address("fake:27017"),
		nc:        client,
		cfg:       &connectionConfig{},
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
}

func fakeDial(calls *int32) func(ctx context.Context, opts ...ConnectionOption) (*Connection, error) {
	return func(ctx context.Context, opts ...ConnectionOption) (*Connection, error) {
		atomic.AddInt32(calls, 1)
		return newFakeConn(), nil
	}
}

func TestPool_CheckOutCheckInReusesIdleConnection(t *testing.T) {
	var dialCalls int32
	p := NewPool(PoolConfig{Address: "fake:27017", MaxPoolSize: 2, Dial: fakeDial(&dialCalls)})
	p.Ready()
	defer p.Close()

	ctx := context.Background()
	conn, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	p.CheckIn(conn)

	conn2, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if conn2 != conn {
		t.Fatalf("expected the idle connection to be reused")
	}
	if atomic.LoadInt32(&dialCalls) != 1 {
		t.Fatalf("expected exactly one dial, got %d", dialCalls)
	}
	p.CheckIn(conn2)
}

// Testable property 2: in_use + idle + pending <= max_pool_size at all
// times.
func TestPool_RespectsMaxPoolSize(t *testing.T) {
	var dialCalls int32
	p := NewPool(PoolConfig{Address: "fake:27017", MaxPoolSize: 2, Dial: fakeDial(&dialCalls)})
	p.Ready()
	defer p.Close()

	ctx := context.Background()
	c1, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut 1: %v", err)
	}
	c2, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut 2: %v", err)
	}

	stats := p.Stats()
	if stats.InUse+stats.Idle+stats.Pending > 2 {
		t.Fatalf("pool counters exceeded max pool size: %+v", stats)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.CheckOut(timeoutCtx); err != ErrWaitQueueTimeout {
		t.Fatalf("expected ErrWaitQueueTimeout when pool is saturated, got %v", err)
	}

	p.CheckIn(c1)
	p.CheckIn(c2)
}

// S2: pool pause on server-unknown makes a fresh checkout fail fast with
// ErrPoolCleared, and generation-mismatched connections are discarded
// rather than reused.
func TestPool_ClearPausesAndDiscardsStaleGeneration(t *testing.T) {
	var dialCalls int32
	p := NewPool(PoolConfig{Address: "fake:27017", MaxPoolSize: 3, Dial: fakeDial(&dialCalls)})
	p.Ready()
	defer p.Close()

	ctx := context.Background()
	c1, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	c2, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	p.Clear(false, nil)

	if _, err := p.CheckOut(ctx); err != ErrPoolCleared {
		t.Fatalf("expected ErrPoolCleared while paused, got %v", err)
	}

	// The two previously checked-out connections carry the old
	// generation; checking them in must discard rather than reuse them.
	p.CheckIn(c1)
	p.CheckIn(c2)
	if !c1.closed || !c2.closed {
		t.Fatalf("expected stale-generation connections to be closed on check-in")
	}

	p.Ready()
	fresh, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut after Ready: %v", err)
	}
	if fresh == c1 || fresh == c2 {
		t.Fatalf("expected a freshly dialed connection, not a stale one")
	}
	p.CheckIn(fresh)
}

func TestPool_ClosedRejectsCheckOut(t *testing.T) {
	p := NewPool(PoolConfig{Address: "fake:27017", MaxPoolSize: 1, Dial: fakeDial(new(int32))})
	p.Ready()
	p.Close()

	if _, err := p.CheckOut(context.Background()); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_CheckOutFIFOWaiterServedOnCheckIn(t *testing.T) {
	var dialCalls int32
	p := NewPool(PoolConfig{Address: "fake:27017", MaxPoolSize: 1, Dial: fakeDial(&dialCalls)})
	p.Ready()
	defer p.Close()

	ctx := context.Background()
	conn, err := p.CheckOut(ctx)
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}

	result := make(chan *Connection, 1)
	go func() {
		waited, err := p.CheckOut(context.Background())
		if err != nil {
			t.Errorf("waiter CheckOut: %v", err)
			return
		}
		result <- waited
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine enqueue as a waiter
	p.CheckIn(conn)

	select {
	case waited := <-result:
		if waited != conn {
			t.Fatalf("expected the waiter to receive the checked-in connection")
		}
		p.CheckIn(waited)
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter was never served")
	}
}
