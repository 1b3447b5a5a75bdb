// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package server

import (
	"errors"
	"fmt"

	"github.com/marko-gacesa/udprate/wire"
)

const (
	PortDefault         = 9000
	MetricsPortDefault  = 9100
	BatchDefault        = 64
	MaxClientsDefault   = 1024
	BufferSizeDefault   = 2048
	SocketBufferDefault = 1 << 20

	maxPort = 65535
)

// Config of a Server. Zero values of the sizing fields are replaced with defaults.
type Config struct {
	Port      int  `yaml:"port"`
	Batch     int  `yaml:"batch"`
	Echo      bool `yaml:"echo"`
	ReusePort bool `yaml:"reuse_port"`
	Verbose   bool `yaml:"verbose"`

	// MetricsPort is the loopback port of the /metrics endpoint. Zero disables it.
	MetricsPort int `yaml:"metrics_port"`

	// MaxClients caps the number of distinct peers the server serves.
	MaxClients int `yaml:"max_clients"`

	// BufferSize is the capacity of a single datagram slot. Longer datagrams are truncated.
	BufferSize int `yaml:"buffer_size"`

	// SocketBuffer is the requested kernel buffer size, in bytes.
	SocketBuffer int `yaml:"socket_buffer"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Port:         PortDefault,
		Batch:        BatchDefault,
		Verbose:      true,
		MetricsPort:  MetricsPortDefault,
		MaxClients:   MaxClientsDefault,
		BufferSize:   BufferSizeDefault,
		SocketBuffer: SocketBufferDefault,
	}
}

// WithDefaults returns a copy of the config with the unset sizing fields filled in.
// Port and MetricsPort are left alone because zero is meaningful for both.
func (c Config) WithDefaults() Config {
	if c.Batch == 0 {
		c.Batch = BatchDefault
	}
	if c.MaxClients == 0 {
		c.MaxClients = MaxClientsDefault
	}
	if c.BufferSize == 0 {
		c.BufferSize = BufferSizeDefault
	}
	if c.SocketBuffer == 0 {
		c.SocketBuffer = SocketBufferDefault
	}
	return c
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > maxPort {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.MetricsPort < 0 || c.MetricsPort > maxPort {
		return fmt.Errorf("invalid metrics port %d", c.MetricsPort)
	}

	if c.Batch < 1 {
		return errors.New("batch must be positive")
	}

	if c.MaxClients < 1 {
		return errors.New("max clients must be positive")
	}

	if c.BufferSize < wire.HeaderSize {
		return fmt.Errorf("buffer size must be at least %d bytes", wire.HeaderSize)
	}

	if c.SocketBuffer < 0 {
		return errors.New("socket buffer can't be negative")
	}

	return nil
}
