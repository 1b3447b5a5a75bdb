// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package server

import (
	"sync/atomic"

	"github.com/marko-gacesa/udprate/stats"
)

// admissionSet is the set of peers the server serves. It only grows and never
// holds more than capacity members.
//
// It is owned by the receive worker: there is exactly one per Server and only
// that goroutine calls admit. Running several receive workers on one instance
// would require a sharded or single-writer replacement.
type admissionSet struct {
	capacity int
	members  map[stats.ClientKey]uint64

	// size mirrors len(members) for readers outside the worker
	size atomic.Int64
}

func newAdmissionSet(capacity int) *admissionSet {
	return &admissionSet{
		capacity: capacity,
		members:  make(map[stats.ClientKey]uint64),
	}
}

// admit returns true if the peer is a member, or it was just added because there was room left.
func (a *admissionSet) admit(key stats.ClientKey) bool {
	if _, ok := a.members[key]; ok {
		a.members[key]++
		return true
	}

	if len(a.members) >= a.capacity {
		return false
	}

	a.members[key] = 1
	a.size.Store(int64(len(a.members)))

	return true
}

func (a *admissionSet) len() int {
	return int(a.size.Load())
}
