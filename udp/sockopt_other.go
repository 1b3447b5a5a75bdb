// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package udp

import "syscall"

// control is a no-op here: port reuse is not available on this platform and the request is ignored.
func control(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
