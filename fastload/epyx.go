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

// epyxOffsets is Epyx FastLoad's byte layout: 8 bits over 4 CLK
// transitions, with bit pairs sampled at 17, 27, 37, 47us after the
// DATA edge.
var epyxOffsets = [4]physic.Duration{
	17 * physic.Microsecond, 27 * physic.Microsecond, 37 * physic.Microsecond, 47 * physic.Microsecond,
}

// Epyx implements the Epyx FastLoad cartridge protocol.
type Epyx struct{}

func (Epyx) Loader() registry.Loader { return registry.LoaderEpyx }

func (Epyx) Precondition(pins *busline.Pins) bool {
	return true
}

func (e Epyx) Transmit(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	buf := make([]byte, 1)
	for {
		n := dev.CanRead()
		if n == 0 {
			return errors.New("fastload: epyx device error during transmit")
		}
		if n < 0 {
			continue
		}
		if got := dev.Read(buf); got == 0 {
			return nil
		}
		e.transmitByte(pins, buf[0])
		if n == 1 {
			return nil
		}
	}
}

func (Epyx) transmitByte(pins *busline.Pins, b byte) {
	// DATA edge reference: assert DATA to mark the start of the byte
	// frame, then release it once the frame's four pair-offsets have
	// passed.
	_ = pins.DATA.Assert()
	ref := time.Now()
	pairs := splitPairs(b)
	for i, off := range epyxOffsets {
		sendPairAt(pins, pairs[i], microsecondsFromNow(ref, off))
	}
	timing.BusyWaitUntil(microsecondsFromNow(ref, epyxOffsets[3]+10*physic.Microsecond))
	_ = pins.DATA.Release()
	_ = pins.CLK.Release()
}

func (e Epyx) Receive(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	for {
		b, err := e.receiveByte(pins)
		if err != nil {
			return err
		}
		if dev.CanWrite() == 0 {
			return errors.New("fastload: epyx device error during receive")
		}
		dev.WriteByte(b, false)
		// The host signals end of an Epyx block by releasing DATA; Receive
		// returns once DATA reads released after a byte.
		if !pins.DATA.Read() {
			return nil
		}
	}
}

func (Epyx) receiveByte(pins *busline.Pins) (byte, error) {
	for !pins.DATA.Read() {
	}
	ref := time.Now()
	var pairs [4]bitPair
	for i, off := range epyxOffsets {
		pairs[i] = samplePairAt(pins, microsecondsFromNow(ref, off))
	}
	return joinPairs(pairs), nil
}

var _ Engine = Epyx{}
