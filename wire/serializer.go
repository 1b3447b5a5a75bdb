// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package wire

import "encoding/binary"

// order is the byte order of every multi-byte field on the wire.
// Host order is part of the contract: peers on a machine with different
// endianness will not agree on the values.
var order = binary.NativeEndian

type Serializer struct {
	buf     []byte
	origLen int
}

func NewSerializer(buf []byte) Serializer {
	return Serializer{buf: buf, origLen: len(buf)}
}

func (s *Serializer) Len() int {
	return s.origLen - len(s.buf)
}

func (s *Serializer) Put32(v uint32) {
	order.PutUint32(s.buf[:4], v)
	s.buf = s.buf[4:]
}

func (s *Serializer) Put64(v uint64) {
	order.PutUint64(s.buf[:8], v)
	s.buf = s.buf[8:]
}

type Deserializer struct {
	buf     []byte
	origLen int
}

func NewDeserializer(buf []byte) Deserializer {
	return Deserializer{buf: buf, origLen: len(buf)}
}

func (s *Deserializer) Len() int {
	return s.origLen - len(s.buf)
}

func (s *Deserializer) Get32(v *uint32) {
	*v = order.Uint32(s.buf[:4])
	s.buf = s.buf[4:]
}

func (s *Deserializer) Get64(v *uint64) {
	*v = order.Uint64(s.buf[:8])
	s.buf = s.buf[8:]
}
