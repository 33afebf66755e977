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

// dolphinHandshakeTimeoutUS is DolphinDOS's turnaround bound: a byte
// handshake must complete within 50us.
const dolphinHandshakeTimeoutUS = 50

// DolphinXZ is the burst-mode announcement DolphinDOS sends over the
// data bus after its two-byte SAVE pre-buffer: it sends \0 \x01 before
// announcing burst mode with XZ.
var DolphinXZ = [2]byte{'X', 'Z'}

// DolphinDOS implements the DolphinDOS parallel fast-loader: 8 data
// lines plus a transmit/receive handshake pulse pair.
type DolphinDOS struct{}

func (DolphinDOS) Loader() registry.Loader { return registry.LoaderDolphinDOS }

// Precondition requires DATA released for LOAD.
func (DolphinDOS) Precondition(pins *busline.Pins) bool {
	return !pins.DATA.Read()
}

func (d DolphinDOS) Transmit(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	if parallel == nil {
		return errors.New("fastload: dolphindos requires a parallel cable")
	}
	if err := parallel.SetOutput(); err != nil {
		return err
	}
	entry.FLFlags |= registry.FlagDolphinBurst
	buf := make([]byte, 1)
	for {
		n := dev.CanRead()
		if n == 0 {
			return errors.New("fastload: dolphindos device error during transmit")
		}
		if n < 0 {
			continue
		}
		if got := dev.Read(buf); got == 0 {
			return nil
		}
		if err := parallel.WriteByte(buf[0]); err != nil {
			return err
		}
		if err := parallel.PulseHandshakeOut(); err != nil {
			return err
		}
		if !parallel.WaitHandshakeIn(dolphinHandshakeTimeoutUS) {
			return errors.New("fastload: dolphindos handshake timeout on transmit")
		}
		if n == 1 {
			return nil
		}
	}
}

// Receive accepts a DolphinDOS SAVE burst. A pre-buffer of two bytes is
// kept for SAVE, since DolphinDOS sends \0 \x01 before announcing burst
// mode with XZ; the first two bytes received are held in that
// pre-buffer and not delivered to dev, and the remainder of the burst is
// delivered to dev. The pre-buffered bytes are not compared against
// DolphinXZ or any other value.
func (d DolphinDOS) Receive(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error {
	if parallel == nil {
		return errors.New("fastload: dolphindos requires a parallel cable")
	}
	if err := parallel.SetInput(); err != nil {
		return err
	}
	var pre [2]byte
	preLen := 0
	for {
		if !parallel.WaitHandshakeIn(dolphinHandshakeTimeoutUS) {
			if preLen < 2 {
				return errors.New("fastload: dolphindos handshake timeout on receive")
			}
			// No further handshake pulse before the timeout: the host has
			// finished the burst.
			return nil
		}
		b, err := parallel.ReadByte()
		if err != nil {
			return err
		}
		if err := parallel.PulseHandshakeOut(); err != nil {
			return err
		}
		if preLen < 2 {
			pre[preLen] = b
			preLen++
			continue
		}
		if dev.CanWrite() == 0 {
			return errors.New("fastload: dolphindos device error during receive")
		}
		dev.WriteByte(b, false)
	}
}

var _ Engine = DolphinDOS{}
