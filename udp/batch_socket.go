// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

var _ Socket = (*BatchSocket)(nil)

const (
	pollTimeoutDefault = 100 * time.Millisecond
	batchHintDefault   = 64
)

// BatchSocket is an IPv4 UDP socket that moves datagrams in batches.
// On Linux a batch is a single recvmmsg or sendmmsg call.
type BatchSocket struct {
	mx     sync.Mutex
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	peer   *net.UDPAddr
	dialed bool

	pollTimeout time.Duration
	rcvBuf      int
	sndBuf      int

	recvMsgs []ipv4.Message
	sendMsgs []ipv4.Message
}

func NewBatchSocket(opts ...func(*BatchSocket)) *BatchSocket {
	s := &BatchSocket{
		pollTimeout: pollTimeoutDefault,
	}

	WithBatchHint(batchHintDefault)(s)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithPollTimeout sets how long RecvBatch waits for the first datagram.
func WithPollTimeout(d time.Duration) func(*BatchSocket) {
	return func(s *BatchSocket) {
		if d <= 0 {
			d = pollTimeoutDefault
		}
		s.pollTimeout = d
	}
}

// WithBatchHint preallocates the batch structures for the given batch size.
func WithBatchHint(n int) func(*BatchSocket) {
	return func(s *BatchSocket) {
		if n <= 0 {
			n = batchHintDefault
		}
		s.recvMsgs = newBatch(n)
		s.sendMsgs = newBatch(n)
	}
}

func newBatch(n int) []ipv4.Message {
	batch := make([]ipv4.Message, n)
	for i := range batch {
		batch[i].Buffers = make([][]byte, 1)
	}
	return batch
}

func growBatch(batch []ipv4.Message, n int) []ipv4.Message {
	if len(batch) >= n {
		return batch[:n]
	}
	return append(batch, newBatch(n-len(batch))...)
}

func (s *BatchSocket) Bind(port int, reuse bool) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.conn != nil {
		return &SetupError{Op: "bind", Err: ErrAlreadyOpen}
	}

	lc := net.ListenConfig{Control: control(reuse)}

	conn, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return &SetupError{Op: "bind", Err: err}
	}

	s.open(conn.(*net.UDPConn), false)

	return nil
}

// Connect dials the peer. On a socket that is already bound the peer only
// becomes the default destination of SendBatch.
func (s *BatchSocket) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return &SetupError{Op: "resolve", Err: err}
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.conn != nil {
		s.peer = addr
		return nil
	}

	d := net.Dialer{Control: control(false)}

	conn, err := d.Dial("udp4", addr.String())
	if err != nil {
		return &SetupError{Op: "connect", Err: err}
	}

	s.peer = addr
	s.open(conn.(*net.UDPConn), true)

	return nil
}

func (s *BatchSocket) open(conn *net.UDPConn, dialed bool) {
	s.conn = conn
	s.pc = ipv4.NewPacketConn(conn)
	s.dialed = dialed

	// apply the hints given before the socket existed; failures are not fatal
	if s.rcvBuf > 0 {
		_ = conn.SetReadBuffer(s.rcvBuf)
	}
	if s.sndBuf > 0 {
		_ = conn.SetWriteBuffer(s.sndBuf)
	}
}

func (s *BatchSocket) RecvBatch(msgs []Message) (int, error) {
	s.mx.Lock()
	pc := s.pc
	s.mx.Unlock()

	if pc == nil {
		return 0, ErrNotBound
	}

	if len(msgs) == 0 {
		return 0, nil
	}

	s.recvMsgs = growBatch(s.recvMsgs, len(msgs))
	batch := s.recvMsgs
	for i := range batch {
		batch[i].Buffers[0] = msgs[i].Buf
		batch[i].N = 0
		batch[i].Addr = nil
	}

	if err := pc.SetReadDeadline(time.Now().Add(s.pollTimeout)); err != nil {
		return 0, fmt.Errorf("udp socket: failed to set read deadline: %w", err)
	}

	n, err := pc.ReadBatch(batch, 0)
	if err != nil {
		if isTransient(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("udp socket: failed to receive: %w", err)
	}

	for i := 0; i < n; i++ {
		msgs[i].N = min(batch[i].N, len(msgs[i].Buf))
		msgs[i].Addr, _ = batch[i].Addr.(*net.UDPAddr)
	}

	return n, nil
}

func (s *BatchSocket) SendBatch(msgs []Message, dst *net.UDPAddr) (int, error) {
	s.mx.Lock()
	pc := s.pc
	peer := s.peer
	dialed := s.dialed
	s.mx.Unlock()

	if pc == nil {
		return 0, ErrNotBound
	}

	if len(msgs) == 0 {
		return 0, nil
	}

	s.sendMsgs = growBatch(s.sendMsgs, len(msgs))
	batch := s.sendMsgs
	for i := range batch {
		batch[i].Buffers[0] = msgs[i].Payload()
		batch[i].Addr = nil

		if dialed {
			// a connected socket rejects an explicit destination
			continue
		}

		addr := msgs[i].Addr
		if addr == nil {
			addr = dst
		}
		if addr == nil {
			addr = peer
		}
		if addr == nil {
			return 0, ErrNoDestination
		}

		batch[i].Addr = addr
	}

	n, err := pc.WriteBatch(batch, 0)
	if err != nil {
		if isTransient(err) {
			return n, nil
		}
		if n > 0 {
			return n, nil
		}
		return 0, fmt.Errorf("udp socket: failed to send: %w", err)
	}

	return n, nil
}

func (s *BatchSocket) SetRecvBufferSize(bytes int) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.rcvBuf = bytes
	if s.conn == nil {
		return nil
	}

	if err := s.conn.SetReadBuffer(bytes); err != nil {
		return fmt.Errorf("udp socket: failed to set receive buffer: %w", err)
	}

	return nil
}

func (s *BatchSocket) SetSendBufferSize(bytes int) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.sndBuf = bytes
	if s.conn == nil {
		return nil
	}

	if err := s.conn.SetWriteBuffer(bytes); err != nil {
		return fmt.Errorf("udp socket: failed to set send buffer: %w", err)
	}

	return nil
}

func (s *BatchSocket) Descriptor() int {
	s.mx.Lock()
	conn := s.conn
	s.mx.Unlock()

	if conn == nil {
		return NoDescriptor
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return NoDescriptor
	}

	fd := NoDescriptor
	if err := raw.Control(func(h uintptr) { fd = int(h) }); err != nil {
		return NoDescriptor
	}

	return fd
}

// LocalAddr returns the bound address, or nil if the socket isn't open.
func (s *BatchSocket) LocalAddr() *net.UDPAddr {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.conn == nil {
		return nil
	}

	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (s *BatchSocket) Close() error {
	s.mx.Lock()
	conn := s.conn
	s.conn = nil
	s.pc = nil
	s.mx.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("udp socket: failed to close: %w", err)
	}

	return nil
}
