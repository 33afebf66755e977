// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timing provides the sub-microsecond busy-wait and critical-section
// primitives the bus handlers (iecbus, ieee488, fastload) build their bit
// timing on.
//
// Everything here is expressed in periph.io/x/conn/v3/physic.Duration, the
// same way periph-host's ftdi and sysfs packages express clock rates and
// pulse widths, rather than as bare integer microsecond counts.
package timing

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/physic"
)

// Clock is a free-running monotonic microsecond counter. Bus handlers keep
// their timeout fields against a Clock rather than time.Time so that
// comparisons stay cheap modular subtraction, safe up to roughly 35
// minutes of wraparound.
type Clock struct {
	epoch time.Time
}

// NewClock returns a Clock whose Now starts near zero.
func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// Now returns microseconds elapsed since the clock was created, wrapping
// silently at 2^32 the way a free-running hardware counter would.
func (c *Clock) Now() uint32 {
	return uint32(time.Since(c.epoch).Microseconds())
}

// Elapsed returns how long has passed since a timestamp taken from Now,
// correct under 32-bit wraparound.
func Elapsed(since, now uint32) uint32 {
	return now - since
}

// BusyWait blocks for approximately d, using a tight spin loop. It is only
// appropriate for short waits (the bit-level inner loops of iecbus/ieee488/
// fastload, all well under a millisecond); see Delay for longer waits that
// should yield the CPU.
func BusyWait(d physic.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(time.Duration(d))
	for time.Now().Before(deadline) {
		// Busy-wait: on a bare-metal target this would be a cycle-counted
		// NOP loop; on a Linux host runtime.Gosched would surrender the
		// whole timeslice, which is too coarse for sub-70us bit windows,
		// so we spin instead.
	}
}

// BusyWaitUntil blocks until the wall-clock deadline passes. Fast-loader
// engines use this instead of successive BusyWait(delta) calls so that
// each bit-pair's sample offset is measured from one fixed reference edge
// rather than accumulating drift across several relative waits, matching
// offsets-from-a-single-edge timing tables (e.g. JiffyDOS's
// "5 pairs of 2 bits at t=0,14,27,38,51us").
func BusyWaitUntil(deadline time.Time) {
	for time.Now().Before(deadline) {
	}
}

// busyWaitThreshold is the point below which spinning is cheaper and more
// precise than asking the OS scheduler for a nanosleep.
const busyWaitThreshold = 200 * physic.Microsecond

// Delay waits for approximately d. For waits shorter than
// busyWaitThreshold it spins like BusyWait; for longer waits (the ATN
// 1000us acknowledge budget, FC3's 20ms fastload timeout, inter-byte
// pacing) it calls into unix.Nanosleep the way gpioioctl's syscall layer
// talks to the kernel directly, rather than time.Sleep, to avoid the
// runtime's timer-wheel rounding on a busy host.
func Delay(d physic.Duration) {
	if d <= busyWaitThreshold {
		BusyWait(d)
		return
	}
	ts := unix.NsecToTimespec(int64(d))
	for {
		rem := &unix.Timespec{}
		if err := unix.Nanosleep(&ts, rem); err != nil {
			if err == unix.EINTR {
				ts = *rem
				continue
			}
		}
		return
	}
}

// DelayISafe is Delay, usable inside a Scoped critical section: on
// platforms where the tick source only advances from a timer ISR (never
// true on a Linux host, but the contract we preserve from the firmware
// this module's design is grounded on) it would fall back to counting
// bus cycles; here it is simply Delay, since Go's monotonic clock keeps
// advancing regardless of whether interrupts are masked at the goroutine
// level.
func DelayISafe(d physic.Duration) {
	Delay(d)
}

// Scoped approximates a firmware scoped_no_interrupts critical section.
// Go cannot disable hardware interrupts from user space, so Scoped
// instead locks the calling goroutine to its OS thread for the duration
// of fn, which is the closest a Go program can get to guaranteeing fn
// isn't preempted mid bit-loop.
//
// If fn runs longer than watchdogSlack, Scoped does not interrupt it:
// that is a property of the caller's loop structure (fast-load engines
// poll a deadline and bail out), not something this primitive enforces.
func Scoped(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	fn()
}

// watchdogSlack is documented, not enforced: fastload engines must check
// their own deadlines at least this often while Scoped is active so that a
// platform with a hardware watchdog (not modeled on a Linux host, but part
// of the contract this package preserves) would have a chance to feed it.
const watchdogSlack = 100 * time.Millisecond

// onceWarn is not referenced: Scoped neither detects nor logs concurrent
// use from several goroutines.
var onceWarn sync.Once
