// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/marko-gacesa/udprate/stats"
	"github.com/marko-gacesa/udprate/udp"
	"github.com/marko-gacesa/udprate/util"
	"github.com/marko-gacesa/udprate/wire"
)

var _ = interface {
	Start()
	Stop()
	Join()
	State() State
	ID() string
	Stats() *stats.Counters
	EchoStats() EchoStats
}((*Client)(nil))

// Client sends datagrams to a single destination at a target rate.
type Client struct {
	cfg      Config
	sock     udp.Socket
	counters *stats.Counters

	log         *slog.Logger
	clock       clock.Clock
	echoHandler func([]byte)

	mainCtx context.Context

	mx     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	seq uint64 // owned by the pacer

	echo *echoCollector
}

var WithLogger = func(log *slog.Logger) func(*Client) {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces the clock used for pacing.
var WithClock = func(clk clock.Clock) func(*Client) {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithEchoHandler sets a function that receives a copy of every echoed datagram.
// It's called from the echo collector goroutine and should return quickly.
var WithEchoHandler = func(fn func([]byte)) func(*Client) {
	return func(c *Client) {
		c.echoHandler = fn
	}
}

// New connects the socket to the destination and prepares the client.
// Nothing is sent until Start. Canceling mainCtx stops the client, the same as Stop.
func New(mainCtx context.Context, sock udp.Socket, cfg Config, opts ...func(*Client)) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	c := &Client{
		cfg:      cfg,
		sock:     sock,
		counters: stats.NewCounters(),
		log:      slog.Default(),
		clock:    clock.New(),
		mainCtx:  mainCtx,
		state:    StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With("client", cfg.ID)

	if err := sock.Connect(cfg.Address, cfg.Port); err != nil {
		return nil, err
	}

	if err := sock.SetSendBufferSize(cfg.SocketBuffer); err != nil {
		c.log.Warn("failed to set send buffer size", "size", cfg.SocketBuffer, "err", err)
	}

	if cfg.Echo {
		if err := sock.SetRecvBufferSize(cfg.SocketBuffer); err != nil {
			c.log.Warn("failed to set receive buffer size", "size", cfg.SocketBuffer, "err", err)
		}

		c.echo = newEchoCollector(sock, c.counters, c.echoHandler, cfg.Batch, cfg.Payload)
	}

	return c, nil
}

// Start launches the sender. It does nothing unless the client is idle.
func (c *Client) Start() {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.state != StateIdle {
		return
	}

	ctx, cancel := context.WithCancel(c.mainCtx)
	done := make(chan struct{})

	c.cancel = cancel
	c.done = done
	c.state = StateRunning

	go func() {
		defer close(done)
		defer cancel()
		defer c.markStopped()
		defer util.Recover(c.log)

		c.run(ctx)
	}()

	c.log.Info("client started",
		"addr", fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.Port),
		"pps", c.cfg.PPS,
		"duration", c.cfg.Duration,
		"payload", c.cfg.Payload,
		"batch", c.cfg.Batch,
		"echo", c.cfg.Echo)
}

// Stop interrupts the client and waits until it's done. It does nothing on an idle client.
func (c *Client) Stop() {
	c.mx.Lock()
	cancel := c.cancel
	done := c.done
	if c.state == StateRunning {
		c.state = StateStopped
	}
	c.mx.Unlock()

	if done == nil {
		return
	}

	cancel()
	<-done
}

// markStopped is called when the sender finishes, for whatever reason.
func (c *Client) markStopped() {
	c.mx.Lock()
	c.state = StateStopped
	c.mx.Unlock()
}

// Join waits for the client to finish on its own, when the duration elapses.
// It returns immediately if the client was never started.
func (c *Client) Join() {
	c.mx.Lock()
	done := c.done
	c.mx.Unlock()

	if done == nil {
		return
	}

	<-done
}

func (c *Client) State() State {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

func (c *Client) ID() string {
	return c.cfg.ID
}

func (c *Client) Stats() *stats.Counters {
	return c.counters
}

// EchoStats returns what the echo collector has seen so far. It's empty if echo is off.
func (c *Client) EchoStats() EchoStats {
	if c.echo == nil {
		return EchoStats{}
	}
	return c.echo.stats()
}

func (c *Client) run(ctx context.Context) {
	var g errgroup.Group

	pacerDone := make(chan struct{})

	g.Go(func() error {
		defer close(pacerDone)
		defer util.Recover(c.log)
		c.pace(ctx)
		return nil
	})

	if c.echo != nil {
		g.Go(func() error {
			defer util.Recover(c.log)
			c.echo.collect(ctx, c.clock, pacerDone, c.log)
			return nil
		})
	}

	_ = g.Wait()

	c.log.Info("client finished", "stats", c.counters.String())
}

func (c *Client) pace(ctx context.Context) {
	batch := c.cfg.Batch
	size := c.cfg.Payload
	interval := c.cfg.interval()

	msgs := udp.NewMessages(batch, size)
	for i := range msgs {
		msgs[i].N = size
		for j := wire.HeaderSize; j < size; j++ {
			msgs[i].Buf[j] = byte(j)
		}
	}

	batchBytes := uint64(batch * size)

	progress := rate.Sometimes{Interval: time.Second}

	start := c.clock.Now()
	end := start.Add(c.cfg.Duration)
	next := start

	for ctx.Err() == nil {
		now := c.clock.Now()
		if c.cfg.Duration > 0 && !now.Before(end) {
			return
		}

		for i := range msgs {
			c.seq++
			wire.Stamp(msgs[i].Buf, c.seq)
		}

		n, err := c.sock.SendBatch(msgs, nil)
		if err != nil {
			c.log.Debug("failed to send", "err", err)
		} else if n > 0 {
			c.counters.IncSent(uint64(n))
			c.counters.AddTxBytes(batchBytes)
		}

		if c.cfg.Verbose {
			progress.Do(func() {
				elapsed := c.clock.Since(start).Seconds()
				var pps float64
				if elapsed > 0 {
					pps = float64(c.counters.Sent()) / elapsed
				}
				c.log.Info("client",
					"stats", c.counters.String(),
					"rate", stats.HumanRate(pps),
					"sent", stats.HumanBytes(c.counters.TxBytes()))
			})
		}

		next = next.Add(interval * time.Duration(batch))

		now = c.clock.Now()
		if !next.After(now) {
			// behind schedule, don't try to catch up with a burst
			next = now
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(next.Sub(now)):
		}
	}
}
