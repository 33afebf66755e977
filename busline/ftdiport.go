// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package busline

import (
	"time"

	"github.com/cbm-bus/iecbus/ftdi"
)

// FTDIByteBus is the minimal slice of periph.io/x/host/v3/ftdi's MPSSE
// GPIO byte interface this package needs: a cached 8-bit direction/value
// port, the same shape as ftdi's unexported gpiosMPSSE (mpsse_gpio.go).
// Kept as an interface rather than depending on ftdi's unexported type so
// the parallel cable built by NewFTDIParallelCable can be unit tested with
// a fake.
type FTDIByteBus interface {
	// SetDirection configures, per bit, whether that data line is an
	// output (1) or input (0), mirroring MPSSEDBus(direction, value).
	SetDirection(direction byte) error
	// Read returns the current 8-bit sample of the port.
	Read() (byte, error)
	// Write drives the output bits of the port.
	Write(value byte) error
}

// NewFTDIParallelCable builds a ParallelPort out of one MPSSE byte-wide
// port carrying the 8 data bits and a second carrying the two handshake
// lines, mirroring the D-bus/C-bus split periph-host's ftdi package uses
// (gpiosMPSSE{cbus: true} vs {cbus: false}).
func NewFTDIParallelCable(data, handshake FTDIByteBus, handshakeOutBit, handshakeInBit byte) *dualFTDIPort {
	return &dualFTDIPort{data: data, handshake: handshake, outBit: handshakeOutBit, inBit: handshakeInBit}
}

type dualFTDIPort struct {
	data FTDIByteBus
	handshake FTDIByteBus
	outBit byte
	inBit byte
}

func (d *dualFTDIPort) SetInput() error {
	return d.data.SetDirection(0x00)
}

func (d *dualFTDIPort) SetOutput() error {
	return d.data.SetDirection(0xFF)
}

func (d *dualFTDIPort) ReadByte() (byte, error) {
	return d.data.Read()
}

func (d *dualFTDIPort) WriteByte(b byte) error {
	return d.data.Write(b)
}

// PulseHandshakeOut drives the handshake-out bit low then high, the MPSSE
// equivalent of the GPIO backend's pulse: both edges happen inside two
// USB round trips, so it cannot be guaranteed to be <=1us wall-clock the
// way a native GPIO toggle is, but it remains a single falling-then-rising
// transition for the receiver to detect.
func (d *dualFTDIPort) PulseHandshakeOut() error {
	v, err := d.handshake.Read()
	if err != nil {
		return err
	}
	if err := d.handshake.Write(v &^ d.outBit); err != nil {
		return err
	}
	return d.handshake.Write(v | d.outBit)
}

// WaitHandshakeIn polls the handshake-in bit for a rising edge. FTDI's
// MPSSE GPIO has no edge-interrupt path (WaitForEdge always returns
// false on this backend), so unlike the native GPIO backend this is a
// software poll loop, with glitch filtering implemented as "two
// consecutive high samples."
func (d *dualFTDIPort) WaitHandshakeIn(timeoutUS int) bool {
	deadline := time.Now().Add(time.Duration(timeoutUS) * time.Microsecond)
	seenLow := false
	seenHigh := false
	for time.Now().Before(deadline) {
		v, err := d.handshake.Read()
		if err != nil {
			return false
		}
		high := v&d.inBit != 0
		if !high {
			seenLow = true
		}
		if high && seenHigh && seenLow {
			return true
		}
		seenHigh = high
	}
	return false
}

var _ ParallelPort = (*dualFTDIPort)(nil)

// ft232hDBus adapts an *ftdi.FT232H's D-bus (D0-D7) to FTDIByteBus,
// caching the direction byte since DBus sets direction and value
// together while FTDIByteBus separates them.
type ft232hDBus struct {
	dev *ftdi.FT232H
	direction byte
}

// NewFT232HDataBus builds an FTDIByteBus driving dev's 8 D-bus pins
// (D0-D7) as the parallel cable's data lines, per ftdi.FT232H's doc
// comment: "Each group of pins D0~D7... can be changed at once... This
// enables usage as an 8 bit parallel port."
func NewFT232HDataBus(dev *ftdi.FT232H) FTDIByteBus {
	return &ft232hDBus{dev: dev}
}

func (f *ft232hDBus) SetDirection(direction byte) error {
	f.direction = direction
	v, err := f.dev.DBusRead()
	if err != nil {
		return err
	}
	return f.dev.DBus(direction, v)
}

func (f *ft232hDBus) Read() (byte, error) {
	return f.dev.DBusRead()
}

func (f *ft232hDBus) Write(value byte) error {
	return f.dev.DBus(f.direction, value)
}

// ft232hCBus is the same adapter over the C-bus (C0-C7), used for the
// two handshake lines so a single FT232H can serve both halves of the
// parallel cable.
type ft232hCBus struct {
	dev *ftdi.FT232H
	direction byte
}

// NewFT232HHandshakeBus builds an FTDIByteBus driving dev's C-bus as the
// handshake-out/handshake-in pair.
func NewFT232HHandshakeBus(dev *ftdi.FT232H) FTDIByteBus {
	return &ft232hCBus{dev: dev}
}

func (f *ft232hCBus) SetDirection(direction byte) error {
	f.direction = direction
	v, err := f.dev.CBusRead()
	if err != nil {
		return err
	}
	return f.dev.CBus(direction, v)
}

func (f *ft232hCBus) Read() (byte, error) {
	return f.dev.CBusRead()
}

func (f *ft232hCBus) Write(value byte) error {
	return f.dev.CBus(f.direction, value)
}

var _ FTDIByteBus = (*ft232hDBus)(nil)
var _ FTDIByteBus = (*ft232hCBus)(nil)
