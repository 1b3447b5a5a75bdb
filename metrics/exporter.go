// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	hostDefault       = "127.0.0.1"
	readHeaderTimeout = 5 * time.Second
)

// Exporter publishes a Source in the Prometheus text format, on demand
// through Render and over HTTP when a port is configured.
type Exporter struct {
	registry  *prometheus.Registry
	collector *Collector
	host     string
	port     int
	log      *slog.Logger

	mx       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewExporter(src Source, port int, opts ...func(*Exporter)) *Exporter {
	collector := NewCollector(src)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	e := &Exporter{
		registry:  registry,
		collector: collector,
		host:      hostDefault,
		port:      port,
		log:       slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

var WithLogger = func(log *slog.Logger) func(*Exporter) {
	return func(e *Exporter) {
		if log != nil {
			e.log = log
		}
	}
}

// Render returns the current values in the Prometheus text exposition format:
// received packets, sent packets, unique clients, received bytes, sent bytes.
// Sample values are exact integers, also past the range a float64 holds exactly.
func (e *Exporter) Render() (string, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: failed to gather: %w", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	values := e.collector.values()

	sb := strings.Builder{}
	buf := strings.Builder{}
	for i, name := range names {
		mf, ok := byName[name]
		if !ok {
			continue
		}

		buf.Reset()
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("metrics: failed to render %s: %w", name, err)
		}

		writeExact(&sb, buf.String(), name, values[i])
	}

	return sb.String(), nil
}

// writeExact copies a rendered family, replacing the float formatted value
// of its sample line with the integer value.
func writeExact(sb *strings.Builder, text, name string, value uint64) {
	prefix := name + " "
	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			sb.WriteString(prefix)
			sb.WriteString(strconv.FormatUint(value, 10))
			sb.WriteByte('\n')
			continue
		}
		sb.WriteString(line)
	}
}

// Handler returns the HTTP routes of the exporter.
func (e *Exporter) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(e.log.Handler(), slog.LevelError),
	})).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	return r
}

// Start begins serving HTTP in the background. Port zero disables the endpoint.
// Calling Start on a running exporter does nothing.
func (e *Exporter) Start() error {
	if e.port == 0 {
		return nil
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	if e.server != nil {
		return nil
	}

	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		err := server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics endpoint stopped", "addr", addr, "err", err)
		}
	}()

	e.server = server
	e.listener = ln
	e.done = done

	e.log.Info("metrics endpoint listening", "addr", ln.Addr().String())

	return nil
}

// Addr returns the address of the HTTP endpoint, or nil if it isn't running.
func (e *Exporter) Addr() net.Addr {
	e.mx.Lock()
	defer e.mx.Unlock()

	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the HTTP endpoint down and waits for the serving goroutine.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mx.Lock()
	server := e.server
	done := e.done
	e.server = nil
	e.listener = nil
	e.done = nil
	e.mx.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err != nil {
		return fmt.Errorf("metrics: failed to shut down: %w", err)
	}

	return nil
}
