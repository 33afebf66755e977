// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package busline is the electrical-level pin layer the bus handlers
// (iecbus, ieee488) drive. It wraps periph.io/x/conn/v3/gpio.PinIO pins
// with the open-collector ("wired-OR") emulation the Commodore serial
// buses require: driving a line LOW means asserting it, driving it HIGH
// means releasing it to the external pull-up, and it is never safe to
// drive a line HIGH directly.
package busline

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Line is a single active-low, open-collector emulated bus line (ATN,
// CLK, DATA, RESET, SRQ, CTRL, DAV, NRFD, NDAC, EOI, IFC, REN,...).
//
// A Line built by NewLine never calls Out(gpio.High) on the underlying
// pin: on real IEC/IEEE-488 wiring that would fight the pull-up and the
// other devices sharing the line. Release switches the pin to input
// instead. A Line built by NewInvertedLine drives the pin HIGH to assert.
type Line struct {
	pin gpio.PinIO
	invert bool // true if the physical wiring inverts logic level (line driver board)
	release gpio.Level
}

// NewLine wraps pin, wired directly to the bus, as an open-collector
// emulated bus line: electrical LOW is logical asserted and HIGH is
// logical released. Use NewInvertedLine for wiring behind an inverting
// line driver.
func NewLine(pin gpio.PinIO) *Line {
	return &Line{pin: pin, release: gpio.High}
}

// NewInvertedLine is NewLine for wiring behind an inverting line driver
// that requires driving the control side HIGH to assert the bus side LOW.
// Assert/Read compensate so callers always reason in logical
// (asserted=LOW) terms.
func NewInvertedLine(pin gpio.PinIO) *Line {
	return &Line{pin: pin, invert: true, release: gpio.Low}
}

// Assert drives the line to its logical-asserted (LOW) state.
func (l *Line) Assert() error {
	level := gpio.Low
	if l.invert {
		level = gpio.High
	}
	return l.pin.Out(level)
}

// Release stops driving the line and switches it to input, letting the
// external pull-up (or the other open-collector driver) set its level.
func (l *Line) Release() error {
	if err := l.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return err
	}
	return nil
}

// Read samples the line and returns true if it is logically asserted
// (LOW, unless this Line is inverted).
func (l *Line) Read() bool {
	level := l.pin.Read()
	if l.invert {
		return level == gpio.High
	}
	return level == gpio.Low
}

// Pin exposes the underlying periph pin, for WaitForEdge-capable backends
// (gpioioctl.LineSet, sysfs.Pin with edge detection enabled) that the ATN
// interrupt path needs directly.
func (l *Line) Pin() gpio.PinIO {
	return l.pin
}

// Pins is the full set of lines a bus handler may use. Not every field is
// required by every bus variant: iecbus needs ATN/CLK/DATA plus optional
// Reset/SRQ/Ctrl; ieee488 needs ATN/DAV/NRFD/NDAC/EOI plus 8 data lines
// and optional SRQ/IFC/REN.
type Pins struct {
	ATN *Line
	CLK *Line // IEC CLK, or IEEE-488 unused
	DATA *Line // IEC DATA, or IEEE-488 unused

	DAV *Line // IEEE-488 data-valid
	NRFD *Line // IEEE-488 not-ready-for-data
	NDAC *Line // IEEE-488 not-data-accepted
	EOI *Line // IEEE-488 dedicated EOI line; unused on IEC (timing-encoded there)
	Data [8]*Line // IEEE-488 parallel data bus

	Reset *Line // optional
	SRQ *Line // optional, device->host interrupt
	Ctrl *Line // optional hardware-assisted ATN-ack wire-OR gate enable
	IFC *Line // IEEE-488 optional, hardware reset equivalent
	REN *Line // IEEE-488 optional, advisory only
}

// CanServeATN reports whether a hardware wire-OR gate (driven by Ctrl) is
// present to pull DATA low automatically on ATN falling, relaxing the
// critical timing budget.
func (p *Pins) CanServeATN() bool {
	return p.Ctrl != nil
}

// ParallelPort is the 8-data-line-plus-two-handshake fast-loader cable
// DolphinDOS/SpeedDOS use, abstracted so the fastload package's engines
// do not need to know whether the 8 data bits come from bare GPIO pins
// or an FTDI MPSSE byte-wide port.
type ParallelPort interface {
	// SetInput switches the 8 data lines to input (host -> device phase).
	SetInput() error
	// SetOutput switches the 8 data lines to output (device -> host phase).
	SetOutput() error
	// ReadByte samples the 8 data lines.
	ReadByte() (byte, error)
	// WriteByte drives the 8 data lines.
	WriteByte(b byte) error
	// PulseHandshakeOut emits a <=1us LOW pulse on the transmit-handshake
	// line.
	PulseHandshakeOut() error
	// WaitHandshakeIn blocks until an edge is observed on the
	// receive-handshake line, or the deadline passes; it returns false on
	// timeout.
	WaitHandshakeIn(timeoutUS int) bool
}

// GPIOPins is the bare-GPIO ParallelPort backend: 8 direct data pins plus
// two handshake pins, the default configuration when no I²C/SPI expander
// is present.
type GPIOPins struct {
	Data [8]gpio.PinIO
	HandshakeOut gpio.PinIO
	HandshakeIn gpio.PinIO
}

func (g *GPIOPins) SetInput() error {
	for _, p := range g.Data {
		if err := p.In(gpio.PullDown, gpio.NoEdge); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOPins) SetOutput() error {
	for _, p := range g.Data {
		if err := p.Out(gpio.Low); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOPins) ReadByte() (byte, error) {
	var b byte
	for i, p := range g.Data {
		if p.Read() {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}

func (g *GPIOPins) WriteByte(b byte) error {
	for i, p := range g.Data {
		if err := p.Out(gpio.Level(b&(1<<uint(i)) != 0)); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOPins) PulseHandshakeOut() error {
	if err := g.HandshakeOut.Out(gpio.Low); err != nil {
		return err
	}
	return g.HandshakeOut.Out(gpio.High)
}

func (g *GPIOPins) WaitHandshakeIn(timeoutUS int) bool {
	return g.HandshakeIn.WaitForEdge(time.Duration(timeoutUS) * time.Microsecond)
}

var _ ParallelPort = (*GPIOPins)(nil)
