// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fastload

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/registry"
)

// ar6Offsets is Action Replay 6's timing layout: 4 bits per DATA edge.
var ar6Offsets = [2]physic.Duration{15 * physic.Microsecond, 30 * physic.Microsecond}

// AR6MemoryReadAddress is the $FFFE identification address AR6 probes via
// an M-R command ("identifies itself by reading $FFFE").
const AR6MemoryReadAddress = 0xFFFE

// AR6IdentityByte is the fixed reply AR6's identification read expects,
// spoofing a 1581 drive.
const AR6IdentityByte = 3

// AR6 implements the Action Replay 6 fast-loader.
//
// Design note: AR6's SAVE direction silently drops the two bytes
// buffered immediately before the fast-load condition triggered; this
// mirrors how the host-side cartridge code behaves and is preserved
// deliberately rather than "fixed".
type AR6 struct{}

func (AR6) Loader() registry.Loader { return registry.LoaderAR6 }

func (AR6) Precondition(pins *busline.Pins) bool {
	return true
}

func (a AR6) Transmit(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	buf := make([]byte, 1)
	for {
		n := dev.CanRead()
		if n == 0 {
			return errors.New("fastload: ar6 device error during transmit")
		}
		if n < 0 {
			continue
		}
		if got := dev.Read(buf); got == 0 {
			return nil
		}
		a.transmitByte(pins, buf[0])
		if n == 1 {
			return nil
		}
	}
}

// transmitByte sends b as two nibbles, one per DATA edge: DATA is pulsed
// once per nibble and the nibble's two bit-pairs are driven at the two
// ar6Offsets within that edge.
func (AR6) transmitByte(pins *busline.Pins, b byte) {
	pairs := splitPairs(b)
	sendNibble(pins, pairs[0], pairs[1])
	sendNibble(pins, pairs[2], pairs[3])
	_ = pins.CLK.Release()
}

func sendNibble(pins *busline.Pins, lo, hi bitPair) {
	_ = pins.DATA.Assert()
	ref := time.Now()
	sendPairAt(pins, lo, ar6Deadline(ref, 0))
	sendPairAt(pins, hi, ar6Deadline(ref, 1))
	_ = pins.DATA.Release()
}

func ar6Deadline(ref time.Time, idx int) time.Time {
	return microsecondsFromNow(ref, ar6Offsets[idx])
}

// Receive accepts one block (host -> device). For a SAVE request, the
// caller's receive buffer already contains the two-byte prefix the host
// sends before the fast-load condition is detected; this Receive
// implementation discards the first two bytes it is asked to deliver for
// a SAVE, matching the design note above.
func (a AR6) Receive(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	drop := 0
	if entry.FLProtocol.Request == registry.RequestSave {
		drop = 2
	}
	received := 0
	for {
		b, err := a.receiveByte(pins)
		if err != nil {
			return err
		}
		received++
		if received <= drop {
			continue
		}
		if dev.CanWrite() == 0 {
			return errors.New("fastload: ar6 device error during receive")
		}
		dev.WriteByte(b, false)
		if !pins.DATA.Read() {
			return nil
		}
	}
}

func (AR6) receiveByte(pins *busline.Pins) (byte, error) {
	p0, p1 := receiveNibble(pins)
	p2, p3 := receiveNibble(pins)
	return joinPairs([4]bitPair{p0, p1, p2, p3}), nil
}

func receiveNibble(pins *busline.Pins) (bitPair, bitPair) {
	for !pins.DATA.Read() {
	}
	ref := time.Now()
	lo := samplePairAt(pins, ar6Deadline(ref, 0))
	hi := samplePairAt(pins, ar6Deadline(ref, 1))
	return lo, hi
}

var _ Engine = AR6{}
