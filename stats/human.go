// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package stats

import "github.com/dustin/go-humanize"

// HumanRate formats a packet rate for logs, e.g. "12.34 kpps". Not meant for parsing.
func HumanRate(pps float64) string {
	return humanize.SIWithDigits(pps, 2, "pps")
}

// HumanBytes formats a byte count for logs, e.g. "1.2 MB".
func HumanBytes(n uint64) string {
	return humanize.Bytes(n)
}
