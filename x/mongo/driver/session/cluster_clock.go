// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements session-id allocation, the cluster-time
// gossip clock, and the transaction state machine described in spec.md
// §4.I.
package session

import (
	"sync"

	"github.com/coredb/mongocore/x/bsonx/bsoncore"
	"github.com/coredb/mongocore/x/mongo/driver/description"
)

// ClusterClock holds the highest $clusterTime this client has observed.
// Updates take a mutex and keep the larger (timestamp, increment) tuple, as
// spec.md §5 requires.
type ClusterClock struct {
	mu  sync.Mutex
	max description.ClusterTime
}

// AdvanceClusterTime applies ct if it is newer than the current value.
// Testable property S5 in spec.md §8: after any reply containing
// $clusterTime = T, the observed clock is >= T.
func (cc *ClusterClock) AdvanceClusterTime(ct description.ClusterTime) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.max = description.MaxClusterTime(cc.max, ct)
}

// ClusterTime returns the current maximum observed cluster time.
func (cc *ClusterClock) ClusterTime() description.ClusterTime {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.max
}

// AppendBSON appends {$clusterTime: <raw>} if a cluster time has been
// observed, matching the wire field name the server expects.
func (cc *ClusterClock) AppendBSON(dst []byte) []byte {
	ct := cc.ClusterTime()
	if ct.Raw == nil {
		return dst
	}
	return bsoncore.AppendDocumentElement(dst, "$clusterTime", ct.Raw)
}

// ParseClusterTime extracts a description.ClusterTime from a raw
// $clusterTime subdocument of the shape {clusterTime: Timestamp, signature: {...}}.
func ParseClusterTime(raw bsoncore.Document) description.ClusterTime {
	ct := description.ClusterTime{Raw: raw}
	if v := raw.Lookup("clusterTime"); len(v.Data) > 0 {
		if t, i, ok := v.TimestampOK(); ok {
			ct.ClusterTime = t
			ct.Increment = i
		}
	}
	return ct
}
