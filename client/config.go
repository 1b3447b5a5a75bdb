// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/marko-gacesa/udprate/wire"
)

const (
	AddressDefault      = "127.0.0.1"
	PortDefault         = 9000
	PPSDefault          = 1000
	DurationDefault     = 5 * time.Second
	PayloadDefault      = 64
	BatchDefault        = 64
	SocketBufferDefault = 1 << 20

	// PayloadMax is the largest UDP payload over IPv4.
	PayloadMax = 65507

	maxPort = 65535
)

// Config of a Client.
type Config struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// PPS is the target rate in packets per second.
	PPS uint64 `yaml:"pps"`

	// Duration of the run. Zero means until stopped.
	Duration time.Duration `yaml:"duration"`

	// Payload is the full datagram size, header included.
	Payload int `yaml:"payload"`

	Batch int `yaml:"batch"`

	// ID only appears in logs. A random one is generated when empty.
	ID string `yaml:"id"`

	Verbose bool `yaml:"verbose"`

	// Echo enables collecting the datagrams an echoing server returns.
	Echo bool `yaml:"echo"`

	SocketBuffer int `yaml:"socket_buffer"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Address:      AddressDefault,
		Port:         PortDefault,
		PPS:          PPSDefault,
		Duration:     DurationDefault,
		Payload:      PayloadDefault,
		Batch:        BatchDefault,
		SocketBuffer: SocketBufferDefault,
	}
}

// WithDefaults returns a copy of the config with the unset fields filled in.
// A payload smaller than the header is raised to the header size.
func (c Config) WithDefaults() Config {
	if c.Address == "" {
		c.Address = AddressDefault
	}
	if c.Port == 0 {
		c.Port = PortDefault
	}
	if c.PPS == 0 {
		c.PPS = PPSDefault
	}
	if c.Payload == 0 {
		c.Payload = PayloadDefault
	}
	if c.Payload < wire.HeaderSize {
		c.Payload = wire.HeaderSize
	}
	if c.Batch == 0 {
		c.Batch = BatchDefault
	}
	if c.SocketBuffer == 0 {
		c.SocketBuffer = SocketBufferDefault
	}
	return c
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is missing")
	}

	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.PPS == 0 {
		return errors.New("pps must be positive")
	}

	if c.Duration < 0 {
		return errors.New("duration can't be negative")
	}

	if c.Payload < wire.HeaderSize || c.Payload > PayloadMax {
		return fmt.Errorf("payload must be between %d and %d bytes", wire.HeaderSize, PayloadMax)
	}

	if c.Batch < 1 {
		return errors.New("batch must be positive")
	}

	if c.SocketBuffer < 0 {
		return errors.New("socket buffer can't be negative")
	}

	return nil
}

// interval returns the time between two consecutive datagrams.
func (c Config) interval() time.Duration {
	return time.Duration(uint64(time.Second) / c.PPS)
}
