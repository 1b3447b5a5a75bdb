// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package wire

import "fmt"

// Magic must be present in every conforming header.
const Magic uint32 = 0xC0DEF00D

// HeaderSize is the exact, unpadded size of an encoded Header.
// Payload bytes, if any, follow at this offset.
const HeaderSize = 8 + 8 + 4

// Header is prepended to every datagram sent by the client.
//
//	offset 0  size 8  Seq
//	offset 8  size 8  SendTime
//	offset 16 size 4  Magic
type Header struct {
	// Seq is assigned by the sender and increases by one per datagram.
	Seq uint64

	// SendTime is taken from a monotonic clock, in nanoseconds (see Now).
	// It is meaningful only for interval math, never as a wall-clock time.
	SendTime uint64

	Magic uint32
}

// NewHeader returns a header with the given sequence number, stamped with the current time.
func NewHeader(seq uint64) Header {
	return Header{
		Seq:      seq,
		SendTime: Now(),
		Magic:    Magic,
	}
}

func (h *Header) Size() int { return HeaderSize }

// Put encodes the header into buf. The buffer must be at least HeaderSize bytes long.
func (h *Header) Put(buf []byte) int {
	s := NewSerializer(buf)
	s.Put64(h.Seq)
	s.Put64(h.SendTime)
	s.Put32(h.Magic)
	return s.Len()
}

// Get decodes the header from buf. Returns 0 if buf is too short to hold a header.
func (h *Header) Get(buf []byte) int {
	if len(buf) < HeaderSize {
		return 0
	}

	s := NewDeserializer(buf)
	s.Get64(&h.Seq)
	s.Get64(&h.SendTime)
	s.Get32(&h.Magic)
	return s.Len()
}

// Valid reports whether the header carries the expected magic value.
func (h Header) Valid() bool {
	return h.Magic == Magic
}

func (h Header) String() string {
	return fmt.Sprintf("[seq=%d ts=%d magic=%#08x]", h.Seq, h.SendTime, h.Magic)
}

// Parse decodes a header from the beginning of buf.
// The boolean result is false when buf is too short or the magic doesn't match.
func Parse(buf []byte) (Header, bool) {
	var h Header
	if h.Get(buf) == 0 {
		return h, false
	}
	return h, h.Valid()
}

// Stamp writes a fresh header with the given sequence number at the start of buf.
func Stamp(buf []byte, seq uint64) int {
	h := NewHeader(seq)
	return h.Put(buf)
}
