// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fastload

import (
	"errors"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/registry"
)

// speedDOSHandshakeTimeoutUS is SpeedDOS's turnaround bound: a byte
// handshake must complete within 350us.
const speedDOSHandshakeTimeoutUS = 350

// SpeedDOS implements the SpeedDOS parallel fast-loader: 8 data lines
// plus a handshake pulse pair, with CLK state (rather than a dedicated
// value) signaling end-of-transfer.
type SpeedDOS struct{}

func (SpeedDOS) Loader() registry.Loader { return registry.LoaderSpeedDOS }

// Precondition requires CLK asserted.
func (SpeedDOS) Precondition(pins *busline.Pins) bool {
	return pins.CLK.Read()
}

func (s SpeedDOS) Transmit(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	if parallel == nil {
		return errors.New("fastload: speeddos requires a parallel cable")
	}
	if err := parallel.SetOutput(); err != nil {
		return err
	}
	entry.FLFlags |= registry.FlagSpeedDOSActive
	buf := make([]byte, 1)
	for {
		n := dev.CanRead()
		if n == 0 {
			return errors.New("fastload: speeddos device error during transmit")
		}
		if n < 0 {
			continue
		}
		if got := dev.Read(buf); got == 0 {
			return nil
		}
		last := n == 1
		if err := parallel.WriteByte(buf[0]); err != nil {
			return err
		}
		if last {
			_ = pins.CLK.Release()
		} else {
			_ = pins.CLK.Assert()
		}
		if err := parallel.PulseHandshakeOut(); err != nil {
			return err
		}
		if !parallel.WaitHandshakeIn(speedDOSHandshakeTimeoutUS) {
			return errors.New("fastload: speeddos handshake timeout on transmit")
		}
		if last {
			return nil
		}
	}
}

func (s SpeedDOS) Receive(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	if parallel == nil {
		return errors.New("fastload: speeddos requires a parallel cable")
	}
	if err := parallel.SetInput(); err != nil {
		return err
	}
	entry.FLFlags |= registry.FlagSpeedDOSActive
	for {
		if !parallel.WaitHandshakeIn(speedDOSHandshakeTimeoutUS) {
			return errors.New("fastload: speeddos handshake timeout on receive")
		}
		b, err := parallel.ReadByte()
		if err != nil {
			return err
		}
		eoi := !pins.CLK.Read()
		if dev.CanWrite() == 0 {
			return errors.New("fastload: speeddos device error during receive")
		}
		dev.WriteByte(b, eoi)
		if err := parallel.PulseHandshakeOut(); err != nil {
			return err
		}
		if eoi {
			return nil
		}
	}
}

var _ Engine = SpeedDOS{}
