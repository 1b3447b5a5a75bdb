// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package stats

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ClientKey identifies a UDP peer. Both fields are in host order.
type ClientKey struct {
	Addr uint32
	Port uint16
}

// KeyFromUDPAddr returns the key of an IPv4 (or IPv4-mapped IPv6) address.
func KeyFromUDPAddr(addr *net.UDPAddr) (ClientKey, bool) {
	if addr == nil {
		return ClientKey{}, false
	}

	ip4 := addr.IP.To4()
	if ip4 == nil {
		return ClientKey{}, false
	}

	return ClientKey{
		Addr: binary.BigEndian.Uint32(ip4),
		Port: uint16(addr.Port),
	}, true
}

func (k ClientKey) IP() net.IP {
	return net.IPv4(byte(k.Addr>>24), byte(k.Addr>>16), byte(k.Addr>>8), byte(k.Addr))
}

func (k ClientKey) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: k.IP(), Port: int(k.Port)}
}

func (k ClientKey) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", byte(k.Addr>>24), byte(k.Addr>>16), byte(k.Addr>>8), byte(k.Addr), k.Port)
}
