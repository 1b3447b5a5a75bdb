// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/marko-gacesa/udprate/client"
	"github.com/marko-gacesa/udprate/server"
)

// Config is the content of a configuration file. Sections and fields that are
// missing from the file keep their default values.
type Config struct {
	Server  server.Config `yaml:"server"`
	Client  client.Config `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when there's no file.
func Default() *Config {
	return &Config{
		Server:  server.DefaultConfig(),
		Client:  client.DefaultConfig(),
		Logging: LoggingConfig{Level: LevelInfo, Format: FormatText},
	}
}

// Load reads, decodes and validates a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes a configuration from YAML. Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	cfg.Server = cfg.Server.WithDefaults()
	cfg.Client = cfg.Client.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}
