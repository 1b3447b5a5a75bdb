// Copyright (c) 2025, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// NoDescriptor is returned by Socket.Descriptor when there's no OS handle behind the socket.
const NoDescriptor = -1

var (
	ErrNoDestination = errors.New("no destination address")
	ErrNotBound      = errors.New("socket not bound or connected")
	ErrAlreadyOpen   = errors.New("socket already open")
	ErrClosed        = errors.New("socket closed")
)

// Message is one datagram slot of a batch.
type Message struct {
	// Buf is the datagram buffer. For receiving its length is the capacity of the slot.
	Buf []byte

	// N is the number of bytes of Buf in use.
	N int

	// Addr is the source address after a receive (nil when the socket can't tell)
	// or the destination before a send (nil means the default destination).
	Addr *net.UDPAddr
}

// Payload returns the used part of the buffer.
func (m *Message) Payload() []byte {
	return m.Buf[:m.N]
}

// NewMessages allocates count messages, each with a buffer of the given size.
func NewMessages(count, size int) []Message {
	msgs := make([]Message, count)
	for i := range msgs {
		msgs[i].Buf = make([]byte, size)
	}
	return msgs
}

// Socket abstracts batched UDP I/O.
//
// RecvBatch and SendBatch may be called concurrently with each other,
// but neither may be called concurrently with itself.
type Socket interface {
	// Bind claims a local UDP port. Returns a *SetupError on failure.
	Bind(port int, reuse bool) error

	// Connect fixes the remote peer so that sends need no destination.
	// Returns a *SetupError on failure.
	Connect(host string, port int) error

	// RecvBatch fills up to len(msgs) messages with one datagram each and returns the count.
	// It waits no longer than the socket's poll window; no data is reported as (0, nil).
	// Datagrams larger than a message buffer are truncated.
	RecvBatch(msgs []Message) (int, error)

	// SendBatch transmits one datagram per message and returns the number accepted by the OS.
	// The destination is the message's Addr, then dst, then the connected peer.
	SendBatch(msgs []Message, dst *net.UDPAddr) (int, error)

	// SetRecvBufferSize and SetSendBufferSize are hints; failures are not fatal.
	SetRecvBufferSize(bytes int) error
	SetSendBufferSize(bytes int) error

	// Descriptor returns the OS handle of the socket or NoDescriptor.
	Descriptor() int

	Close() error
}

// SetupError is returned when a socket can't be created, bound or connected.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string { return "udp socket: failed to " + e.Op + ": " + e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// isTransient reports whether err only means that no datagram was ready.
func isTransient(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) {
		return true
	}

	if errTimeout, ok := err.(net.Error); ok && errTimeout.Timeout() {
		return true
	}

	return false
}
