// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/marko-gacesa/udprate/sequence"
	"github.com/marko-gacesa/udprate/stats"
	"github.com/marko-gacesa/udprate/udp"
	"github.com/marko-gacesa/udprate/wire"
)

// echoGrace is how long the collector keeps receiving after the last datagram was sent.
const echoGrace = 200 * time.Millisecond

// EchoStats describes the datagrams that came back from an echoing server.
type EchoStats struct {
	// Received is the number of datagrams received, including invalid ones.
	Received uint64

	// Invalid is the number of datagrams without a valid header.
	Invalid uint64

	Sequence sequence.Stats
	Lost     uint64

	// Highest is the highest sequence number echoed back.
	Highest sequence.Sequence

	// Missing lists the gaps below Highest, within the tracker's window.
	Missing []sequence.Range

	RTTMin time.Duration
	RTTMax time.Duration
	RTTAvg time.Duration
}

// missingShown limits the gaps listed by EchoStats.String.
const missingShown = 8

func (s EchoStats) String() string {
	sb := strings.Builder{}

	fmt.Fprintf(&sb, "received=%d invalid=%d lost=%d highest=%d %s rtt_min=%s rtt_avg=%s rtt_max=%s",
		s.Received, s.Invalid, s.Lost, s.Highest, s.Sequence.String(), s.RTTMin, s.RTTAvg, s.RTTMax)

	if len(s.Missing) > 0 {
		sb.WriteString(" missing=")
		for i, r := range s.Missing {
			if i == missingShown {
				fmt.Fprintf(&sb, "...(+%d)", len(s.Missing)-missingShown)
				break
			}
			sb.WriteString(r.String())
		}
	}

	return sb.String()
}

type echoCollector struct {
	sock     udp.Socket
	counters *stats.Counters
	handler  func([]byte)
	msgs     []udp.Message

	tracker *sequence.Tracker // owned by the collector goroutine

	mx       sync.Mutex
	current  EchoStats
	rttTotal time.Duration
	rttCount uint64
}

func newEchoCollector(sock udp.Socket, counters *stats.Counters, handler func([]byte), batch, size int) *echoCollector {
	return &echoCollector{
		sock:     sock,
		counters: counters,
		handler:  handler,
		msgs:     udp.NewMessages(batch, size),
		tracker:  sequence.NewTracker(0),
	}
}

// collect receives echoes until the context is done, or until the grace period
// after the sender has finished expires.
func (e *echoCollector) collect(ctx context.Context, clk clock.Clock, senderDone <-chan struct{}, log *slog.Logger) {
	var grace <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if grace == nil {
			select {
			case <-senderDone:
				grace = clk.After(echoGrace)
			default:
			}
		} else {
			select {
			case <-grace:
				return
			default:
			}
		}

		n, err := e.sock.RecvBatch(e.msgs)
		if err != nil {
			log.Debug("failed to receive echo", "err", err)
			continue
		}

		if n > 0 {
			e.process(e.msgs[:n])
		}
	}
}

func (e *echoCollector) process(msgs []udp.Message) {
	var invalid uint64
	var rttMin, rttMax, rttTotal time.Duration
	var rttCount uint64

	for i := range msgs {
		payload := msgs[i].Payload()

		e.counters.IncRecv(1)
		e.counters.AddRxBytes(uint64(len(payload)))

		if e.handler != nil {
			e.handler(bytes.Clone(payload))
		}

		h, ok := wire.Parse(payload)
		if !ok {
			invalid++
			continue
		}

		e.tracker.Add(sequence.Sequence(h.Seq))

		rtt := wire.Since(h.SendTime)

		if rttCount == 0 || rtt < rttMin {
			rttMin = rtt
		}
		if rtt > rttMax {
			rttMax = rtt
		}
		rttTotal += rtt
		rttCount++
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	e.current.Received += uint64(len(msgs))
	e.current.Invalid += invalid
	e.current.Sequence = e.tracker.Stats()
	e.current.Lost = e.tracker.Lost()
	e.current.Highest = e.tracker.Highest()
	e.current.Missing = e.tracker.Missing()

	if rttCount > 0 {
		if e.rttCount == 0 || rttMin < e.current.RTTMin {
			e.current.RTTMin = rttMin
		}
		if rttMax > e.current.RTTMax {
			e.current.RTTMax = rttMax
		}
		e.rttTotal += rttTotal
		e.rttCount += rttCount
		e.current.RTTAvg = e.rttTotal / time.Duration(e.rttCount)
	}
}

func (e *echoCollector) stats() EchoStats {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.current
}
