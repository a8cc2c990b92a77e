// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/topology"
)

// BatchCursor drives the getMore/killCursors lifecycle of a server-side
// cursor: it holds the current in-memory batch plus the id and pinned
// server needed to fetch the next one, spec.md §4 cursor component.
type BatchCursor struct {
	id          int64
	server      *topology.Server
	database    string
	collection  string
	batch       []bsoncore.Document
	batchSize   int32
	limit       int32
	numReturned int32

	closed bool
}

// NewBatchCursor constructs a cursor from a command reply's {cursor:
// {id, firstBatch, ns}} subdocument.
func NewBatchCursor(id int64, db, coll string, firstBatch []bsoncore.Document, server *topology.Server) *BatchCursor {
	return &BatchCursor{
		id:         id,
		server:     server,
		database:   db,
		collection: coll,
		batch:      firstBatch,
	}
}

// NewBatchCursorFromReply builds a BatchCursor from a command's {cursor:
// {id, <batchKey>, ns}} reply subdocument.
func NewBatchCursorFromReply(cursorDoc bsoncore.Document, batchKey, db, coll string, server *topology.Server) *BatchCursor {
	batch, id := parseCursorResponse(cursorDoc, batchKey)
	return NewBatchCursor(id, db, coll, batch, server)
}

// ID returns the server-side cursor id. Zero means exhausted.
func (bc *BatchCursor) ID() int64 { return bc.id }

// SetBatchSize overrides the getMore batch size requested on each Next.
func (bc *BatchCursor) SetBatchSize(size int32) { bc.batchSize = size }

// SetLimit sets the total document limit across the cursor's lifetime
// (0 means unlimited), used to shrink later getMore batch sizes so the
// cursor never returns more than limit documents total.
func (bc *BatchCursor) SetLimit(limit int32) { bc.limit = limit }

// calcGetMoreBatchSize derives the batchSize to request on the next
// getMore: if a limit is set, shrink the request so numReturned never
// exceeds it; ok is false if the limit has already been reached.
func calcGetMoreBatchSize(bc BatchCursor) (int32, bool) {
	if bc.limit == 0 {
		return bc.batchSize, true
	}
	remaining := bc.limit - bc.numReturned
	if remaining <= 0 {
		return 0, false
	}
	if bc.batchSize != 0 && bc.batchSize < remaining {
		return bc.batchSize, true
	}
	return remaining, true
}

// Batch returns the current in-memory batch without advancing the cursor.
func (bc *BatchCursor) Batch() []bsoncore.Document { return bc.batch }

// Next fetches the next batch via getMore if the current one is
// exhausted and the cursor id is nonzero.
func (bc *BatchCursor) Next(ctx context.Context) ([]bsoncore.Document, error) {
	if len(bc.batch) > 0 {
		batch := bc.batch
		bc.batch = nil
		return batch, nil
	}
	if bc.id == 0 || bc.closed {
		return nil, nil
	}

	size, ok := calcGetMoreBatchSize(*bc)
	if !ok {
		bc.id = 0
		return nil, nil
	}

	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return nil, err
	}
	defer bc.server.CheckIn(conn)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	dst = bsoncore.AppendInt64Element(dst, "getMore", bc.id)
	dst = bsoncore.AppendStringElement(dst, "collection", bc.collection)
	if size > 0 {
		dst = bsoncore.AppendInt32Element(dst, "batchSize", size)
	}
	dst, _ = bsoncore.AppendDocumentEnd(dst, idx)

	reply, err := conn.RoundTrip(ctx, bc.database, "getMore", dst, false)
	if err != nil {
		return nil, err
	}
	if cmdErr := extractError(reply); cmdErr != nil {
		return nil, cmdErr
	}

	cursorDoc, ok := reply.Lookup("cursor").DocumentOK()
	if !ok {
		return nil, errors.New("getMore reply missing cursor document")
	}
	nextBatch, id := parseCursorResponse(cursorDoc, "nextBatch")
	bc.id = id
	bc.numReturned += int32(len(nextBatch))
	return nextBatch, nil
}

// Close kills the server-side cursor if it has not already been
// exhausted.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if bc.closed {
		return nil
	}
	bc.closed = true
	if bc.id == 0 {
		return nil
	}

	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return err
	}
	defer bc.server.CheckIn(conn)

	idx, kc := bsoncore.AppendDocumentStart(nil)
	kc = bsoncore.AppendStringElement(kc, "killCursors", bc.collection)
	aidx, akc := bsoncore.AppendArrayElementStart(kc, "cursors")
	akc = bsoncore.AppendInt64Element(akc, "0", bc.id)
	kc, _ = bsoncore.AppendArrayEnd(akc, aidx)
	kc, _ = bsoncore.AppendDocumentEnd(kc, idx)

	_, err = conn.RoundTrip(ctx, bc.database, "killCursors", kc, false)
	bc.id = 0
	return err
}

// CloseBatch kills every still-open cursor in cursors with a single
// killCursors command per distinct (server, database, collection), instead
// of one round trip per cursor. Cursors already exhausted or closed are
// skipped. Errors from individual killCursors commands are collected but do
// not stop the remaining batches from being attempted, matching the
// best-effort nature of a single cursor's Close.
func CloseBatch(ctx context.Context, cursors []*BatchCursor) error {
	type batchKey struct {
		server     *topology.Server
		database   string
		collection string
	}
	groups := make(map[batchKey][]*BatchCursor)
	var order []batchKey

	for _, bc := range cursors {
		if bc == nil || bc.closed || bc.id == 0 {
			if bc != nil {
				bc.closed = true
			}
			continue
		}
		key := batchKey{bc.server, bc.database, bc.collection}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], bc)
	}

	var firstErr error
	for _, key := range order {
		group := groups[key]
		conn, err := key.server.Connection(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		idx, kc := bsoncore.AppendDocumentStart(nil)
		kc = bsoncore.AppendStringElement(kc, "killCursors", key.collection)
		aidx, akc := bsoncore.AppendArrayElementStart(kc, "cursors")
		for i, bc := range group {
			akc = bsoncore.AppendInt64Element(akc, itoa(i), bc.id)
		}
		kc, _ = bsoncore.AppendArrayEnd(akc, aidx)
		kc, _ = bsoncore.AppendDocumentEnd(kc, idx)

		_, err = conn.RoundTrip(ctx, key.database, "killCursors", kc, false)
		key.server.CheckIn(conn)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		for _, bc := range group {
			bc.id = 0
			bc.closed = true
		}
	}
	return firstErr
}

// itoa renders small non-negative ints as array-index keys without the
// overhead of strconv, mirroring the operation package's helper.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// parseCursorResponse extracts the next batch and cursor id from a
// {id, <batchKey>, ns} cursor subdocument, shared by the initial command
// reply and every subsequent getMore reply.
func parseCursorResponse(cursorDoc bsoncore.Document, batchKey string) ([]bsoncore.Document, int64) {
	var id int64
	if v, ok := cursorDoc.Lookup("id").AsInt64OK(); ok {
		id = v
	}
	var batch []bsoncore.Document
	if arr, ok := cursorDoc.Lookup(batchKey).ArrayOK(); ok {
		vals, _ := arr.Values()
		for _, v := range vals {
			if doc, ok := v.DocumentOK(); ok {
				batch = append(batch, doc)
			}
		}
	}
	return batch, id
}
