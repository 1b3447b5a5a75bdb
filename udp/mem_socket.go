// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"time"
)

var _ Socket = (*MemSocket)(nil)

const memPollTimeoutDefault = time.Millisecond

// MemSocket is an in-memory Socket without any network I/O.
// Incoming datagrams are preloaded, outgoing ones are recorded.
// It is safe to preload and inspect it while an engine uses it.
type MemSocket struct {
	mx     sync.Mutex
	notify chan struct{}

	rx []memDatagram
	tx []Message

	port      int
	peer      *net.UDPAddr
	bound     bool
	connected bool
	closed    bool

	pollTimeout time.Duration
	sendLimit   int
	reflect     bool
	setupErr    error
	recvErr     error
	sendErr     error
}

type memDatagram struct {
	data []byte
	addr *net.UDPAddr
}

func NewMemSocket() *MemSocket {
	return &MemSocket{
		notify:      make(chan struct{}, 1),
		pollTimeout: memPollTimeoutDefault,
		sendLimit:   -1,
	}
}

// Preload queues a datagram for RecvBatch. Its source remains unknown to the receiver.
func (s *MemSocket) Preload(data []byte) {
	s.push(memDatagram{data: bytes.Clone(data)})
}

// PreloadFrom queues a datagram for RecvBatch that appears to come from addr.
func (s *MemSocket) PreloadFrom(data []byte, addr *net.UDPAddr) {
	s.push(memDatagram{data: bytes.Clone(data), addr: cloneAddr(addr)})
}

func (s *MemSocket) push(d memDatagram) {
	s.mx.Lock()
	s.rx = append(s.rx, d)
	s.mx.Unlock()

	s.wake()
}

func (s *MemSocket) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of preloaded datagrams not received yet.
func (s *MemSocket) Pending() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.rx)
}

// Sent returns copies of all datagrams recorded by SendBatch, with their destinations.
func (s *MemSocket) Sent() []Message {
	s.mx.Lock()
	defer s.mx.Unlock()

	sent := make([]Message, len(s.tx))
	for i, msg := range s.tx {
		sent[i] = Message{
			Buf:  bytes.Clone(msg.Buf),
			N:    msg.N,
			Addr: cloneAddr(msg.Addr),
		}
	}

	return sent
}

func (s *MemSocket) SentCount() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.tx)
}

// SetSendLimit caps the number of datagrams a single SendBatch accepts. Negative means no limit.
func (s *MemSocket) SetSendLimit(n int) {
	s.mx.Lock()
	s.sendLimit = n
	s.mx.Unlock()
}

// SetReflect makes every sent datagram come back through RecvBatch, as from an echo server.
func (s *MemSocket) SetReflect(reflect bool) {
	s.mx.Lock()
	s.reflect = reflect
	s.mx.Unlock()
}

// SetSetupError makes Bind and Connect fail with err.
func (s *MemSocket) SetSetupError(err error) {
	s.mx.Lock()
	s.setupErr = err
	s.mx.Unlock()
}

// SetRecvError makes RecvBatch fail with err, until cleared with nil.
func (s *MemSocket) SetRecvError(err error) {
	s.mx.Lock()
	s.recvErr = err
	s.mx.Unlock()
}

// SetSendError makes SendBatch fail with err, until cleared with nil.
func (s *MemSocket) SetSendError(err error) {
	s.mx.Lock()
	s.sendErr = err
	s.mx.Unlock()
}

// SetPollTimeout sets how long an empty RecvBatch waits for data.
func (s *MemSocket) SetPollTimeout(d time.Duration) {
	s.mx.Lock()
	s.pollTimeout = d
	s.mx.Unlock()
}

// Port returns the port given to Bind.
func (s *MemSocket) Port() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.port
}

// Peer returns the address given to Connect.
func (s *MemSocket) Peer() *net.UDPAddr {
	s.mx.Lock()
	defer s.mx.Unlock()
	return cloneAddr(s.peer)
}

func (s *MemSocket) Bind(port int, reuse bool) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.setupErr != nil {
		return &SetupError{Op: "bind", Err: s.setupErr}
	}

	if s.bound {
		return &SetupError{Op: "bind", Err: ErrAlreadyOpen}
	}

	s.port = port
	s.bound = true

	return nil
}

func (s *MemSocket) Connect(host string, port int) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.setupErr != nil {
		return &SetupError{Op: "connect", Err: s.setupErr}
	}

	ip := net.ParseIP(host)
	if ip == nil && host != "" {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return &SetupError{Op: "resolve", Err: &net.AddrError{Err: "unknown host", Addr: net.JoinHostPort(host, strconv.Itoa(port))}}
		}
		ip = addrs[0]
	}

	s.peer = &net.UDPAddr{IP: ip, Port: port}
	s.connected = true

	return nil
}

func (s *MemSocket) RecvBatch(msgs []Message) (int, error) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return 0, ErrClosed
	}
	if s.recvErr != nil {
		err := s.recvErr
		s.mx.Unlock()
		return 0, err
	}
	empty := len(s.rx) == 0
	pollTimeout := s.pollTimeout
	s.mx.Unlock()

	if empty && pollTimeout > 0 {
		t := time.NewTimer(pollTimeout)
		select {
		case <-s.notify:
		case <-t.C:
		}
		t.Stop()
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	n := 0
	for ; n < len(msgs) && n < len(s.rx); n++ {
		d := s.rx[n]
		msgs[n].N = copy(msgs[n].Buf, d.data)
		msgs[n].Addr = cloneAddr(d.addr)
	}

	s.rx = s.rx[n:]
	if len(s.rx) > 0 {
		s.wake()
	}

	return n, nil
}

func (s *MemSocket) SendBatch(msgs []Message, dst *net.UDPAddr) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.sendErr != nil {
		return 0, s.sendErr
	}

	n := len(msgs)
	if s.sendLimit >= 0 && n > s.sendLimit {
		n = s.sendLimit
	}

	for i := 0; i < n; i++ {
		addr := msgs[i].Addr
		if addr == nil {
			addr = dst
		}
		if addr == nil && s.connected {
			addr = s.peer
		}
		if addr == nil {
			return i, ErrNoDestination
		}

		data := bytes.Clone(msgs[i].Payload())

		s.tx = append(s.tx, Message{
			Buf:  data,
			N:    len(data),
			Addr: cloneAddr(addr),
		})

		if s.reflect {
			s.rx = append(s.rx, memDatagram{data: data, addr: cloneAddr(addr)})
		}
	}

	if s.reflect && n > 0 {
		s.wake()
	}

	return n, nil
}

func (s *MemSocket) SetRecvBufferSize(int) error { return nil }
func (s *MemSocket) SetSendBufferSize(int) error { return nil }

func (s *MemSocket) Descriptor() int { return NoDescriptor }

func (s *MemSocket) Close() error {
	s.mx.Lock()
	s.closed = true
	s.mx.Unlock()

	s.wake()

	return nil
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil {
		return nil
	}
	return &net.UDPAddr{
		IP:   bytes.Clone(addr.IP),
		Port: addr.Port,
		Zone: addr.Zone,
	}
}
