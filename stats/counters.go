// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var _ = interface {
	IncSent(n uint64)
	IncRecv(n uint64)
	AddRxBytes(n uint64)
	AddTxBytes(n uint64)
	NoteClient(key ClientKey)
	UniqueClients() int
	Sent() uint64
	Recv() uint64
	RxBytes() uint64
	TxBytes() uint64
	Snapshot() Snapshot
	String() string
}((*Counters)(nil))

// Counters holds packet and byte totals and tracks the distinct clients seen.
//
// The packet and byte counters are lock-free and may be updated and read from
// any goroutine. Reads of different counters are independent, so a summary may
// mix values taken at slightly different instants.
//
// The client map is guarded by a mutex. It has no capacity limit of its own;
// the caller decides which clients get noted.
type Counters struct {
	sent    atomic.Uint64
	recv    atomic.Uint64
	rxBytes atomic.Uint64
	txBytes atomic.Uint64

	mx      sync.Mutex
	clients map[ClientKey]uint64
}

func NewCounters() *Counters {
	return &Counters{
		clients: make(map[ClientKey]uint64),
	}
}

func (c *Counters) IncSent(n uint64)    { c.sent.Add(n) }
func (c *Counters) IncRecv(n uint64)    { c.recv.Add(n) }
func (c *Counters) AddRxBytes(n uint64) { c.rxBytes.Add(n) }
func (c *Counters) AddTxBytes(n uint64) { c.txBytes.Add(n) }

func (c *Counters) Sent() uint64    { return c.sent.Load() }
func (c *Counters) Recv() uint64    { return c.recv.Load() }
func (c *Counters) RxBytes() uint64 { return c.rxBytes.Load() }
func (c *Counters) TxBytes() uint64 { return c.txBytes.Load() }

// NoteClient records one more hit for the client, inserting it if it's new.
func (c *Counters) NoteClient(key ClientKey) {
	c.mx.Lock()
	if c.clients == nil {
		c.clients = make(map[ClientKey]uint64)
	}
	c.clients[key]++
	c.mx.Unlock()
}

// UniqueClients returns the number of distinct clients noted so far.
func (c *Counters) UniqueClients() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.clients)
}

// ClientHits returns how many times the client has been noted.
func (c *Counters) ClientHits(key ClientKey) uint64 {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.clients[key]
}

// Snapshot is a plain-value copy of Counters.
type Snapshot struct {
	Sent          uint64
	Recv          uint64
	RxBytes       uint64
	TxBytes       uint64
	UniqueClients int
}

// Snapshot copies all counters. Like String, it is not transactional.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Sent:          c.Sent(),
		Recv:          c.Recv(),
		RxBytes:       c.RxBytes(),
		TxBytes:       c.TxBytes(),
		UniqueClients: c.UniqueClients(),
	}
}

func (c *Counters) String() string {
	return fmt.Sprintf("recv=%d sent=%d unique_clients=%d rx_bytes=%d tx_bytes=%d",
		c.Recv(), c.Sent(), c.UniqueClients(), c.RxBytes(), c.TxBytes())
}
