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
	"github.com/cbm-bus/iecbus/timing"
)

// jiffyOffsets is JiffyDOS's byte layout: five samples of a 2-bit pair
// each, at fixed microsecond offsets from the CLK-rising reference edge.
// The first four pairs carry the data byte; the fifth pair (51us) carries
// EOI, with both lines asserted meaning last byte. Both lines are
// released at jiffyEOISampleOffset (61us) whether or not the byte is the
// last one, so the CLK level there does not carry EOI.
var jiffyOffsets = [5]physic.Duration{
	0, 14 * physic.Microsecond, 27 * physic.Microsecond, 38 * physic.Microsecond, 51 * physic.Microsecond,
}

const jiffyEOISampleOffset = 61 * physic.Microsecond

// JiffyDOS implements the JiffyDOS fast-loader: a purely serial protocol
// sampling 4 bit-pairs of data plus one EOI pair at fixed offsets from a
// CLK-rising reference.
type JiffyDOS struct{}

func (JiffyDOS) Loader() registry.Loader { return registry.LoaderJiffyDOS }

// Precondition: JiffyDOS takes over immediately once requested, there is
// no additional wire-level gate beyond the ATN sequence already having
// completed.
func (JiffyDOS) Precondition(pins *busline.Pins) bool {
	return true
}

// Transmit sends one block using JiffyDOS timing: device.Read supplies
// bytes, and EOI is signaled on the fifth pair (jiffyOffsets[4]) rather
// than the standard protocol's DATA-low pulse.
func (j JiffyDOS) Transmit(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	entry.FLFlags |= registry.FlagJiffyDetected
	buf := make([]byte, 1)
	for {
		n := dev.CanRead()
		if n == 0 {
			return errors.New("fastload: jiffydos device error during transmit")
		}
		if n < 0 {
			continue
		}
		buf = buf[:1]
		got := dev.Read(buf)
		if got == 0 {
			return nil
		}
		last := n == 1
		if err := j.transmitByte(pins, buf[0], last); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

func (j JiffyDOS) transmitByte(pins *busline.Pins, b byte, eoi bool) error {
	ref := time.Now()
	pairs := splitPairs(b)
	for i, off := range jiffyOffsets[:4] {
		sendPairAt(pins, pairs[i], microsecondsFromNow(ref, off))
	}
	eoiPair := bitPair(0)
	if eoi {
		eoiPair = 0x03
	}
	sendPairAt(pins, eoiPair, microsecondsFromNow(ref, jiffyOffsets[4]))
	timing.BusyWaitUntil(microsecondsFromNow(ref, jiffyEOISampleOffset))
	_ = pins.CLK.Release()
	_ = pins.DATA.Release()
	return nil
}

// Receive accepts one block using JiffyDOS timing, delivering bytes to
// dev.Write.
func (j JiffyDOS) Receive(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	entry.FLFlags |= registry.FlagJiffyDetected
	for {
		b, eoi, err := j.receiveByte(pins)
		if err != nil {
			return err
		}
		n := dev.CanWrite()
		if n == 0 {
			return errors.New("fastload: jiffydos device error during receive")
		}
		dev.WriteByte(b, eoi)
		if eoi {
			return nil
		}
	}
}

func (j JiffyDOS) receiveByte(pins *busline.Pins) (byte, bool, error) {
	ref := time.Now()
	var pairs [4]bitPair
	for i, off := range jiffyOffsets[:4] {
		pairs[i] = samplePairAt(pins, microsecondsFromNow(ref, off))
	}
	eoiPair := samplePairAt(pins, microsecondsFromNow(ref, jiffyOffsets[4]))
	return joinPairs(pairs), eoiPair == 0x03, nil
}

var _ Engine = JiffyDOS{}
