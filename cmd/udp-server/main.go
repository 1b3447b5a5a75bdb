// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marko-gacesa/udprate/config"
	"github.com/marko-gacesa/udprate/server"
	"github.com/marko-gacesa/udprate/udp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "udp-server: %s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	defaults := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", defaults.Port, "UDP listen port")
	batch := flag.Int("batch", defaults.Batch, "datagrams per receive/send call")
	echo := flag.Bool("echo", defaults.Echo, "echo datagrams back to their senders")
	reusePort := flag.Bool("reuseport", defaults.ReusePort, "set SO_REUSEPORT so several processes can share the port")
	verbose := flag.Bool("verbose", defaults.Verbose, "log counters and rate every second")
	quiet := flag.Bool("quiet", false, "same as -verbose=false")
	metricsPort := flag.Int("metrics-port", defaults.MetricsPort, "loopback HTTP port for /metrics, 0 disables")
	maxClients := flag.Int("max-clients", defaults.MaxClients, "maximum number of distinct clients served")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	// explicit flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "batch":
			cfg.Server.Batch = *batch
		case "echo":
			cfg.Server.Echo = *echo
		case "reuseport":
			cfg.Server.ReusePort = *reusePort
		case "verbose":
			cfg.Server.Verbose = *verbose
		case "quiet":
			cfg.Server.Verbose = !*quiet
		case "metrics-port":
			cfg.Server.MetricsPort = *metricsPort
		case "max-clients":
			cfg.Server.MaxClients = *maxClients
		}
	})

	log := config.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(log)

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	go func() {
		signalStop := make(chan os.Signal, 1)
		signal.Notify(signalStop, syscall.SIGINT, syscall.SIGTERM)

		defer func() {
			signal.Stop(signalStop)
			cancelFn()
		}()

		select {
		case <-signalStop:
			log.Info("signal received, stopping...")
		case <-ctx.Done():
		}
	}()

	sock := udp.NewBatchSocket(udp.WithBatchHint(cfg.Server.Batch))

	srv, err := server.New(ctx, sock, cfg.Server, server.WithLogger(log))
	if err != nil {
		_ = sock.Close()
		return err
	}

	if err := srv.Start(); err != nil {
		_ = srv.Close()
		return err
	}

	<-ctx.Done()

	if err := srv.Close(); err != nil {
		log.Warn("failed to close server", "err", err)
	}

	counters := srv.Stats()
	log.Info("final",
		"stats", counters.String(),
		"rx", counters.RxBytes(),
		"tx", counters.TxBytes(),
		"admitted", srv.Admitted())

	return nil
}
