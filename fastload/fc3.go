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

// fc3TupleOffsets is scenario 4's verified timing: "65 x 4-byte
// tuples per block with bit pairs at t=20.5, 33.5, 45.5, 57.5us (+-2us)".
var fc3TupleOffsets = [4]physic.Duration{
	20500 * physic.Nanosecond, 33500 * physic.Nanosecond, 45500 * physic.Nanosecond, 57500 * physic.Nanosecond,
}

// FC3BlockTuples is the number of 4-byte tuples in one Final Cartridge 3
// block (260 bytes total).
const FC3BlockTuples = 65

// FC3 implements the Final Cartridge 3 fast-loader: 4 bits per CLK
// transition, transferred in 4-byte tuples
type FC3 struct{}

func (FC3) Loader() registry.Loader { return registry.LoaderFC3 }

func (FC3) Precondition(pins *busline.Pins) bool {
	return true
}

// Transmit sends up to one full block (FC3BlockTuples*4 bytes); a short
// read from dev ends the block early. No separate EOI signal is sent.
func (f FC3) Transmit(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	var tuple [4]byte
	for t := 0; t < FC3BlockTuples; t++ {
		got := dev.Read(tuple[:])
		if got == 0 {
			return nil
		}
		f.transmitTuple(pins, tuple[:got])
		if got < 4 {
			return nil
		}
	}
	return nil
}

func (FC3) transmitTuple(pins *busline.Pins, tuple []byte) {
	ref := time.Now()
	for i, b := range tuple {
		if i >= len(fc3TupleOffsets) {
			break
		}
		pairs := splitPairs(b)
		// FC3 packs 4 bits (not 2) per CLK transition; reuse the upper
		// two pairs of splitPairs as the two half-nibbles sent at this
		// tuple offset.
		sendPairAt(pins, pairs[0], microsecondsFromNow(ref, fc3TupleOffsets[i]))
		sendPairAt(pins, pairs[1], microsecondsFromNow(ref, fc3TupleOffsets[i]+5*physic.Microsecond))
	}
	timing.BusyWaitUntil(microsecondsFromNow(ref, 210*physic.Microsecond))
	_ = pins.CLK.Release()
	_ = pins.DATA.Release()
}

func (f FC3) Receive(pins *busline.Pins, _ busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	for t := 0; t < FC3BlockTuples; t++ {
		tuple := f.receiveTuple(pins)
		if dev.CanWrite() == 0 {
			return errors.New("fastload: fc3 device error during receive")
		}
		for _, b := range tuple {
			dev.WriteByte(b, false)
		}
	}
	return nil
}

func (FC3) receiveTuple(pins *busline.Pins) [4]byte {
	ref := time.Now()
	var tuple [4]byte
	for i, off := range fc3TupleOffsets {
		lo := samplePairAt(pins, microsecondsFromNow(ref, off))
		hi := samplePairAt(pins, microsecondsFromNow(ref, off+5*physic.Microsecond))
		tuple[i] = joinPairs([4]bitPair{lo, hi, 0, 0})
	}
	return tuple
}

var _ Engine = FC3{}
