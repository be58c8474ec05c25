// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package ingress

import (
	"time"

	"golang.org/x/sys/unix"
)

// parkNanos blocks the calling goroutine for d using a raw
// unix.Nanosleep rather than a Go runtime timer. The scheduler reaches
// for this only for the last, sub-millisecond sliver of a wall-clock
// wait (see ParkNanos), where a runtime timer's scheduling jitter can
// exceed the remaining wait itself.
func parkNanos(d time.Duration) {
	if d <= 0 {
		return
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	for {
		rem := unix.Timespec{}
		err := unix.Nanosleep(&ts, &rem)
		if err == nil {
			return
		}
		if err == unix.EINTR {
			ts = rem
			continue
		}
		return
	}
}
