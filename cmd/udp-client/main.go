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
	"time"

	"github.com/marko-gacesa/udprate/client"
	"github.com/marko-gacesa/udprate/config"
	"github.com/marko-gacesa/udprate/stats"
	"github.com/marko-gacesa/udprate/udp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "udp-client: %s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	defaults := client.DefaultConfig()

	configPath := flag.String("config", "", "YAML configuration file")
	address := flag.String("server", defaults.Address, "destination IPv4 address or host name")
	port := flag.Int("port", defaults.Port, "destination UDP port")
	pps := flag.Uint64("pps", defaults.PPS, "target packets per second")
	seconds := flag.Int("seconds", int(defaults.Duration/time.Second), "run duration in seconds, 0 runs until interrupted")
	payload := flag.Int("payload", defaults.Payload, "datagram size in bytes, at least the header size")
	batch := flag.Int("batch", defaults.Batch, "datagrams per send call")
	id := flag.String("id", "", "client identifier for logs, random when empty")
	verbose := flag.Bool("verbose", defaults.Verbose, "log progress every second")
	echo := flag.Bool("echo", defaults.Echo, "collect echoed datagrams and report loss and RTT")
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
		case "server":
			cfg.Client.Address = *address
		case "port":
			cfg.Client.Port = *port
		case "pps":
			cfg.Client.PPS = *pps
		case "seconds":
			cfg.Client.Duration = time.Duration(*seconds) * time.Second
		case "payload":
			cfg.Client.Payload = *payload
		case "batch":
			cfg.Client.Batch = *batch
		case "id":
			cfg.Client.ID = *id
		case "verbose":
			cfg.Client.Verbose = *verbose
		case "echo":
			cfg.Client.Echo = *echo
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

	sock := udp.NewBatchSocket(udp.WithBatchHint(cfg.Client.Batch))
	defer sock.Close()

	c, err := client.New(ctx, sock, cfg.Client, client.WithLogger(log))
	if err != nil {
		return err
	}

	start := time.Now()

	c.Start()
	c.Join()

	elapsed := time.Since(start)
	counters := c.Stats()

	var rate float64
	if elapsed > 0 {
		rate = float64(counters.Sent()) / elapsed.Seconds()
	}

	log.Info("final",
		"client", c.ID(),
		"stats", counters.String(),
		"rate", stats.HumanRate(rate),
		"tx", stats.HumanBytes(counters.TxBytes()),
		"elapsed", elapsed.Round(time.Millisecond))

	if cfg.Client.Echo {
		log.Info("echo", "client", c.ID(), "stats", c.EchoStats().String())
	}

	return nil
}
