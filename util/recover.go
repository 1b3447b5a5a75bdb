// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package util

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover logs a panic of the calling goroutine, with its stack, instead of crashing the process.
// Must be called directly with defer.
func Recover(log *slog.Logger) {
	if r := recover(); r != nil {
		message := fmt.Sprintf("panic:\n[%T] %v\n%s\n", r, r, debug.Stack())
		log.Error(message)
	}
}
