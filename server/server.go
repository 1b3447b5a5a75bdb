// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/marko-gacesa/udprate/metrics"
	"github.com/marko-gacesa/udprate/stats"
	"github.com/marko-gacesa/udprate/udp"
	"github.com/marko-gacesa/udprate/util"
)

var _ = interface {
	Start() error
	Stop()
	Close() error
	State() State
	Stats() *stats.Counters
	LastRate() float64
	Admitted() int
	MaxClients() int
	Exporter() *metrics.Exporter
}((*Server)(nil))

const (
	ratePeriod          = time.Second
	exporterStopTimeout = time.Second
)

// Server receives datagrams in batches from a single worker goroutine,
// serves a bounded number of distinct peers and optionally echoes what it receives.
type Server struct {
	cfg      Config
	sock     udp.Socket
	counters *stats.Counters
	exporter *metrics.Exporter
	admitted *admissionSet

	log   *slog.Logger
	clock clock.Clock

	mainCtx context.Context

	mx     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	rate atomic.Uint64
}

var WithLogger = func(log *slog.Logger) func(*Server) {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces the clock that drives the rate sampler.
var WithClock = func(c clock.Clock) func(*Server) {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// New binds the socket and prepares the server. The server doesn't receive anything until Start.
// Canceling mainCtx stops the worker, the same as Stop.
func New(mainCtx context.Context, sock udp.Socket, cfg Config, opts ...func(*Server)) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		sock:     sock,
		counters: stats.NewCounters(),
		admitted: newAdmissionSet(cfg.MaxClients),
		log:      slog.Default(),
		clock:    clock.New(),
		mainCtx:  mainCtx,
		state:    StateIdle,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := sock.Bind(cfg.Port, cfg.ReusePort); err != nil {
		return nil, err
	}

	if err := sock.SetRecvBufferSize(cfg.SocketBuffer); err != nil {
		s.log.Warn("failed to set receive buffer size", "size", cfg.SocketBuffer, "err", err)
	}

	if cfg.Echo {
		if err := sock.SetSendBufferSize(cfg.SocketBuffer); err != nil {
			s.log.Warn("failed to set send buffer size", "size", cfg.SocketBuffer, "err", err)
		}
	}

	s.exporter = metrics.NewExporter(s.counters, cfg.MetricsPort, metrics.WithLogger(s.log))

	return s, nil
}

// Start launches the worker and the metrics endpoint. It does nothing unless the server is idle.
func (s *Server) Start() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.state != StateIdle {
		return nil
	}

	if err := s.exporter.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.mainCtx)
	done := make(chan struct{})

	s.cancel = cancel
	s.done = done
	s.state = StateRunning

	go func() {
		defer close(done)
		defer s.markStopped()
		defer util.Recover(s.log)
		s.run(ctx)
	}()

	s.log.Info("server started",
		"port", s.cfg.Port,
		"batch", s.cfg.Batch,
		"echo", s.cfg.Echo,
		"max_clients", s.cfg.MaxClients,
		"descriptor", s.sock.Descriptor())

	return nil
}

// Stop ends the worker and waits for it. It does nothing on an idle server.
// A stopped server can't be started again.
func (s *Server) Stop() {
	s.mx.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	if s.state == StateRunning {
		s.state = StateStopped
	}
	s.mx.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	ctx, cancelStop := context.WithTimeout(context.Background(), exporterStopTimeout)
	defer cancelStop()

	if err := s.exporter.Stop(ctx); err != nil {
		s.log.Warn("failed to stop metrics endpoint", "err", err)
	}

	s.log.Info("server stopped", "stats", s.counters.String())
}

// Close stops the server and releases the socket.
func (s *Server) Close() error {
	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), exporterStopTimeout)
	defer cancel()

	return multierr.Combine(
		s.exporter.Stop(ctx),
		s.sock.Close(),
	)
}

// markStopped is called by the worker when it exits, also when mainCtx is canceled.
func (s *Server) markStopped() {
	s.mx.Lock()
	s.state = StateStopped
	s.mx.Unlock()
}

func (s *Server) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

func (s *Server) Stats() *stats.Counters {
	return s.counters
}

// LastRate returns the receive rate, in packets per second, measured over the last full second.
func (s *Server) LastRate() float64 {
	return math.Float64frombits(s.rate.Load())
}

// Admitted returns the number of peers in the admission set.
func (s *Server) Admitted() int {
	return s.admitted.len()
}

func (s *Server) MaxClients() int {
	return s.cfg.MaxClients
}

func (s *Server) Exporter() *metrics.Exporter {
	return s.exporter
}

func (s *Server) run(ctx context.Context) {
	msgs := udp.NewMessages(s.cfg.Batch, s.cfg.BufferSize)
	echo := make([]udp.Message, 0, s.cfg.Batch)

	lastTime := s.clock.Now()
	lastRecv := s.counters.Recv()

	for ctx.Err() == nil {
		n, err := s.sock.RecvBatch(msgs)
		if err != nil {
			s.log.Debug("failed to receive", "err", err)
		} else if n > 0 {
			echo = s.serve(msgs[:n], echo[:0])
			s.echo(echo)
		}

		if now := s.clock.Now(); now.Sub(lastTime) >= ratePeriod {
			lastRecv = s.sample(now.Sub(lastTime), lastRecv)
			lastTime = now
		}
	}
}

// serve applies admission control and counts the served datagrams.
// Returns the datagrams that should be echoed.
func (s *Server) serve(msgs []udp.Message, echo []udp.Message) []udp.Message {
	for i := range msgs {
		msg := &msgs[i]

		key, known := stats.KeyFromUDPAddr(msg.Addr)
		if known {
			if !s.admitted.admit(key) {
				continue
			}
			s.counters.NoteClient(key)
		}

		s.counters.IncRecv(1)
		s.counters.AddRxBytes(uint64(msg.N))

		if s.cfg.Echo && known {
			echo = append(echo, *msg)
		}
	}

	return echo
}

func (s *Server) echo(msgs []udp.Message) {
	if len(msgs) == 0 {
		return
	}

	w, err := s.sock.SendBatch(msgs, nil)
	if err != nil {
		s.log.Debug("failed to echo", "count", len(msgs), "err", err)
	}
	if w <= 0 {
		return
	}

	var size uint64
	for i := 0; i < w; i++ {
		size += uint64(msgs[i].N)
	}

	s.counters.IncSent(uint64(w))
	s.counters.AddTxBytes(size)
}

func (s *Server) sample(elapsed time.Duration, lastRecv uint64) uint64 {
	recv := s.counters.Recv()
	rate := float64(recv-lastRecv) / elapsed.Seconds()

	s.rate.Store(math.Float64bits(rate))

	if s.cfg.Verbose {
		s.log.Info("server",
			"stats", s.counters.String(),
			"rate", stats.HumanRate(rate),
			"admitted", s.admitted.len(),
			"cap", s.cfg.MaxClients)
	}

	return recv
}
