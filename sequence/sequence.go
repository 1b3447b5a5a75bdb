// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package sequence

// Sequence is the per-sender datagram counter carried in the wire header.
type Sequence uint64

const (
	SequenceNone Sequence = iota
	SequenceFirst
)
