// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package wire

import "time"

// epoch carries a monotonic clock reading; durations measured from it are not
// affected by wall-clock adjustments.
var epoch = time.Now()

// Now returns monotonic nanoseconds since an unspecified process-wide epoch.
// Only differences between two values are meaningful.
func Now() uint64 {
	return uint64(time.Since(epoch))
}

// Since returns the time elapsed since the monotonic timestamp ts.
func Since(ts uint64) time.Duration {
	now := Now()
	if ts > now {
		return 0
	}
	return time.Duration(now - ts)
}
