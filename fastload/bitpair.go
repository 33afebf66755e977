// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fastload

import (
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/timing"
)

// bitPair is a 2-bit group carried on CLK/DATA at one sample offset of a
// serial fast-loader's byte frame.
type bitPair byte

// splitPairs breaks a byte into four 2-bit groups, LSB-pair first, the
// framing every serial fast-loader in this package shares.
func splitPairs(b byte) [4]bitPair {
	return [4]bitPair{
		bitPair(b & 0x03),
		bitPair((b >> 2) & 0x03),
		bitPair((b >> 4) & 0x03),
		bitPair((b >> 6) & 0x03),
	}
}

func joinPairs(p [4]bitPair) byte {
	return byte(p[0]) | byte(p[1])<<2 | byte(p[2])<<4 | byte(p[3])<<6
}

// sendPairAt drives CLK/DATA with the two bits of p (CLK carries bit 0,
// DATA carries bit 1) at wall-clock deadline.
func sendPairAt(pins *busline.Pins, p bitPair, deadline time.Time) {
	timing.BusyWaitUntil(deadline)
	setLine(pins.CLK, p&0x01 != 0)
	setLine(pins.DATA, p&0x02 != 0)
}

// samplePairAt samples CLK/DATA at wall-clock deadline and packs them
// into a bitPair with the same bit assignment sendPairAt uses.
func samplePairAt(pins *busline.Pins, deadline time.Time) bitPair {
	timing.BusyWaitUntil(deadline)
	var p bitPair
	if pins.CLK.Read() {
		p |= 0x01
	}
	if pins.DATA.Read() {
		p |= 0x02
	}
	return p
}

// setLine asserts or releases a line to carry one logical bit of a
// fast-loader bit-pair: asserted (LOW) for 1, released for 0, matching
// the wired-OR electrical convention every other protocol layer in this
// module uses.
func setLine(l *busline.Line, bit bool) {
	if bit {
		_ = l.Assert()
	} else {
		_ = l.Release()
	}
}

// microsecondsFromNow returns the wall-clock instant d after now.
func microsecondsFromNow(now time.Time, d physic.Duration) time.Time {
	return now.Add(time.Duration(d))
}
