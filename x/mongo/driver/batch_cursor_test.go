// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"testing"
)

func TestBatchCursorSetBatchSize(t *testing.T) {
	var size int32
	bc := &BatchCursor{batchSize: size}
	if bc.batchSize != size {
		t.Fatalf("expected batchSize %v, got %v", size, bc.batchSize)
	}

	size = 4
	bc.SetBatchSize(size)
	if bc.batchSize != size {
		t.Fatalf("expected batchSize %v, got %v", size, bc.batchSize)
	}
}

func TestCalcGetMoreBatchSize(t *testing.T) {
	cases := []struct {
		name                            string
		size, limit, numReturned        int32
		expectedSize                    int32
		expectedOK                      bool
	}{
		{name: "no limit, no batch size", expectedSize: 0, expectedOK: true},
		{name: "batch size only", size: 4, expectedSize: 4, expectedOK: true},
		{name: "limit only", limit: 4, expectedSize: 4, expectedOK: true},
		{name: "limit smaller than batch size", size: 10, limit: 4, expectedSize: 4, expectedOK: true},
		{name: "limit already reached", numReturned: 4, limit: 4, expectedSize: 0, expectedOK: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bc := BatchCursor{
				batchSize:   tc.size,
				limit:       tc.limit,
				numReturned: tc.numReturned,
			}
			size, ok := calcGetMoreBatchSize(bc)
			if size != tc.expectedSize || ok != tc.expectedOK {
				t.Fatalf("calcGetMoreBatchSize() = (%v, %v), want (%v, %v)", size, ok, tc.expectedSize, tc.expectedOK)
			}
		})
	}
}

// TestCloseBatchSkipsFinishedCursors exercises CloseBatch's filtering of
// cursors that need no killCursors command at all (nil, already closed, or
// already exhausted), the path that needs no server connection.
func TestCloseBatchSkipsFinishedCursors(t *testing.T) {
	exhausted := &BatchCursor{id: 0}
	alreadyClosed := &BatchCursor{id: 42, closed: true}

	err := CloseBatch(context.Background(), []*BatchCursor{nil, exhausted, alreadyClosed})
	if err != nil {
		t.Fatalf("CloseBatch() = %v, want nil", err)
	}
	if !exhausted.closed {
		t.Fatalf("expected exhausted cursor to be marked closed")
	}
	if alreadyClosed.id != 42 {
		t.Fatalf("expected already-closed cursor's id to be left untouched, got %v", alreadyClosed.id)
	}
}
