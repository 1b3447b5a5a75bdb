// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package sequence

import "fmt"

// Range is a run of consecutive sequence numbers.
type Range struct {
	seq    Sequence
	length int
}

func RangeInclusive(seqFrom, seqTo Sequence) Range {
	if seqFrom <= 0 {
		panic("range: seqFrom zero is disallowed")
	}
	if seqTo < seqFrom {
		panic("range: seqFrom must not be greater than seqTo")
	}
	return Range{
		seq:    seqFrom,
		length: int(seqTo-seqFrom) + 1,
	}
}

func (r Range) From() Sequence {
	return r.seq
}

func (r Range) To() Sequence {
	return r.seq + Sequence(r.length) - 1
}

func (r Range) String() string {
	if r.length <= 0 {
		return fmt.Sprintf("[seq=%d:invalid]", r.seq)
	} else if r.length == 1 {
		return fmt.Sprintf("[%d]", r.seq)
	} else if r.length == 2 {
		return fmt.Sprintf("[%d,%d]", r.seq, r.seq+1)
	} else if r.length == 3 {
		return fmt.Sprintf("[%d,%d,%d]", r.seq, r.seq+1, r.seq+2)
	} else {
		return fmt.Sprintf("[%d..%d]", r.From(), r.To())
	}
}
