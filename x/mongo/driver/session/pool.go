// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
)

// ID is a session identifier: a v4 UUID wrapped in the {id: <binary>}
// document shape the server expects in a command's `lsid` field.
type ID struct {
	UUID    uuid.UUID
	lastUse time.Time
}

// AppendBSON appends {id: <binary subtype 4>}.
func (id ID) AppendBSON(dst []byte) []byte {
	idx, dst := bsoncore.AppendDocumentStart(dst)
	b, _ := id.UUID.MarshalBinary()
	dst = bsoncore.AppendBinaryElement(dst, "id", 0x04, b)
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)
	return dst
}

// Pool is a free-list of reusable session ids, draining ids whose lastUse
// predates (logical-session-timeout - 1 minute) as spec.md §3 requires.
type Pool struct {
	mu   sync.Mutex
	free *list.List // of *ID, most-recently-released at the front
}

// NewPool constructs an empty session-id pool.
func NewPool() *Pool {
	return &Pool{free: list.New()}
}

// GetSession returns a reusable session id if one is young enough,
// otherwise allocates a fresh v4 UUID.
func (p *Pool) GetSession(timeoutMinutes int64) *ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Duration(timeoutMinutes)*time.Minute - time.Minute
	for e := p.free.Front(); e != nil; e = e.Next() {
		id := e.Value.(*ID)
		if timeoutMinutes <= 0 || time.Since(id.lastUse) < cutoff {
			p.free.Remove(e)
			return id
		}
		p.free.Remove(e)
	}
	return &ID{UUID: uuid.New(), lastUse: time.Now()}
}

// ReturnSession puts id back on the free list, front-most, so the
// most-recently-used ids are reused first.
func (p *Pool) ReturnSession(id *ID) {
	if id == nil {
		return
	}
	id.lastUse = time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.PushFront(id)
}

// IDs returns every id still held by the pool, used by endSessions on
// client Close.
func (p *Pool) IDs() []*ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ID, 0, p.free.Len())
	for e := p.free.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*ID))
	}
	return out
}
