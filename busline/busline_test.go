// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package busline

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestLineAssertRelease(t *testing.T) {
	p := &gpiotest.Pin{N: "ATN", L: gpio.High}
	l := NewLine(p)

	if err := l.Assert(); err != nil {
		t.Fatalf("Assert: %v", err)
	}
	if !l.Read() {
		t.Fatal("Read() should report asserted after Assert()")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	p.L = gpio.High
	if l.Read() {
		t.Fatal("Read() should report released after Release()")
	}
}

func TestInvertedLineAssertRelease(t *testing.T) {
	p := &gpiotest.Pin{N: "CTRL", L: gpio.Low}
	l := NewInvertedLine(p)

	if err := l.Assert(); err != nil {
		t.Fatalf("Assert: %v", err)
	}
	if !l.Read() {
		t.Fatal("Read() should report asserted (physical HIGH) after Assert() on an inverted line")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestPinsCanServeATN(t *testing.T) {
	p := &Pins{}
	if p.CanServeATN() {
		t.Fatal("CanServeATN() should be false with no Ctrl line")
	}
	p.Ctrl = NewLine(&gpiotest.Pin{N: "CTRL", L: gpio.High})
	if !p.CanServeATN() {
		t.Fatal("CanServeATN() should be true once Ctrl is set")
	}
}

func TestGPIOPinsWriteReadByte(t *testing.T) {
	var data [8]gpio.PinIO
	pins := [8]*gpiotest.Pin{}
	for i := range pins {
		pins[i] = &gpiotest.Pin{N: "D", L: gpio.Low}
		data[i] = pins[i]
	}
	g := &GPIOPins{Data: data}

	if err := g.SetOutput(); err != nil {
		t.Fatalf("SetOutput: %v", err)
	}
	if err := g.WriteByte(0xA5); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	got, err := g.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if got != 0xA5 {
		t.Fatalf("ReadByte() = %#02x, want 0xa5", got)
	}
}

func TestGPIOPinsPulseHandshakeOut(t *testing.T) {
	out := &gpiotest.Pin{N: "HSOUT", L: gpio.High}
	in := &gpiotest.Pin{N: "HSIN", L: gpio.Low}
	g := &GPIOPins{HandshakeOut: out, HandshakeIn: in}

	if err := g.PulseHandshakeOut(); err != nil {
		t.Fatalf("PulseHandshakeOut: %v", err)
	}
	if out.L != gpio.High {
		t.Fatalf("HandshakeOut should end HIGH after the pulse, got %v", out.L)
	}
}

var _ ParallelPort = (*GPIOPins)(nil)
