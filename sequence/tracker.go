// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package sequence

import "fmt"

// Result classifies a sequence number passed to Tracker.Add.
type Result byte

const (
	// New is the highest sequence number seen so far.
	New Result = iota
	// Reordered arrived after a higher sequence number, for the first time.
	Reordered
	// Duplicate was already seen.
	Duplicate
	// Stale is too far behind the highest sequence number to be classified.
	Stale
)

func (r Result) String() string {
	switch r {
	case New:
		return "new"
	case Reordered:
		return "reordered"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

const windowDefault = 1024

// Tracker classifies incoming sequence numbers of a single sender and
// estimates loss. It remembers only the most recent window of sequence
// numbers below the highest one. Not safe for concurrent use.
type Tracker struct {
	bits   []uint64
	window Sequence

	started bool
	first   Sequence
	highest Sequence

	stats Stats
}

// Stats summarizes what a Tracker has seen.
type Stats struct {
	Received   uint64
	Unique     uint64
	Duplicates uint64
	Reordered  uint64
	Stale      uint64
}

// Lost is the number of sequence numbers between the first and the highest seen that never arrived.
func (s Stats) Lost(first, highest Sequence) uint64 {
	if highest < first {
		return 0
	}
	expected := uint64(highest-first) + 1
	if s.Unique >= expected {
		return 0
	}
	return expected - s.Unique
}

func (s Stats) String() string {
	return fmt.Sprintf("received=%d unique=%d duplicates=%d reordered=%d stale=%d",
		s.Received, s.Unique, s.Duplicates, s.Reordered, s.Stale)
}

func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = windowDefault
	}

	words := (window + 63) / 64

	return &Tracker{
		bits:   make([]uint64, words),
		window: Sequence(words * 64),
	}
}

func (t *Tracker) Add(seq Sequence) Result {
	t.stats.Received++

	if !t.started {
		t.started = true
		t.first = seq
		t.highest = seq
		t.set(seq)
		t.stats.Unique++
		return New
	}

	if seq > t.highest {
		t.clear(t.highest+1, seq)
		t.highest = seq
		t.set(seq)
		t.stats.Unique++
		return New
	}

	if t.highest-seq >= t.window {
		t.stats.Stale++
		return Stale
	}

	if t.isSet(seq) {
		t.stats.Duplicates++
		return Duplicate
	}

	if seq < t.first {
		t.first = seq
	}

	t.set(seq)
	t.stats.Unique++
	t.stats.Reordered++

	return Reordered
}

func (t *Tracker) Stats() Stats {
	return t.stats
}

// Highest returns the highest sequence number seen, or SequenceNone.
func (t *Tracker) Highest() Sequence {
	if !t.started {
		return SequenceNone
	}
	return t.highest
}

// Lost returns the estimated number of lost sequence numbers.
func (t *Tracker) Lost() uint64 {
	if !t.started {
		return 0
	}
	return t.stats.Lost(t.first, t.highest)
}

// Missing returns the gaps inside the remembered window, lowest first.
func (t *Tracker) Missing() []Range {
	if !t.started {
		return nil
	}

	from := t.first
	if t.highest-from >= t.window {
		from = t.highest - t.window + 1
	}

	var ranges []Range
	var gapStart Sequence

	for seq := from; seq <= t.highest; seq++ {
		if !t.isSet(seq) {
			if gapStart == SequenceNone {
				gapStart = seq
			}
			continue
		}

		if gapStart != SequenceNone {
			ranges = append(ranges, RangeInclusive(gapStart, seq-1))
			gapStart = SequenceNone
		}
	}

	return ranges
}

func (t *Tracker) set(seq Sequence) {
	i := seq % t.window
	t.bits[i/64] |= 1 << (i % 64)
}

func (t *Tracker) unset(seq Sequence) {
	i := seq % t.window
	t.bits[i/64] &^= 1 << (i % 64)
}

func (t *Tracker) isSet(seq Sequence) bool {
	i := seq % t.window
	return t.bits[i/64]&(1<<(i%64)) != 0
}

// clear forgets the bits of [from, to].
func (t *Tracker) clear(from, to Sequence) {
	if to-from+1 >= t.window {
		clear(t.bits)
		return
	}
	for seq := from; seq <= to; seq++ {
		t.unset(seq)
	}
}
