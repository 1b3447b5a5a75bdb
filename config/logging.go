// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	FormatText = "text"
	FormatJSON = "json"
)

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c LoggingConfig) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}

	switch strings.ToLower(c.Format) {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.Format)
	}

	return nil
}

func (c LoggingConfig) level() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case "", LevelInfo:
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", c.Level)
	}
}

// NewLogger returns a logger writing to w. An invalid config falls back to text at info level.
func NewLogger(c LoggingConfig, w io.Writer) *slog.Logger {
	level, _ := c.level()

	opts := &slog.HandlerOptions{Level: level}

	if strings.ToLower(c.Format) == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
