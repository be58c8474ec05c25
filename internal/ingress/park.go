// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package ingress

import "time"

// ParkNanos blocks the calling goroutine for approximately d, using
// the most precise sleep primitive available on the running GOOS. It
// is not interruptible by context cancellation or an ingress arrival,
// so callers must only use it for waits short enough that missing an
// interruption for d is immaterial — the scheduler's wall-clock wait
// uses it for its final sub-millisecond sliver only, falling back to a
// cancellable timer for anything longer.
func ParkNanos(d time.Duration) { parkNanos(d) }
