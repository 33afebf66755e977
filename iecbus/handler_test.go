// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iecbus

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/registry"
)

// fakeDevice records every lifecycle call the bus handler makes, standing
// in for a real device.Device.
type fakeDevice struct {
	began, reset      bool
	listenedSecondary byte
	listened          bool
	unlistened        bool
}

func (f *fakeDevice) Begin()         { f.began = true }
func (f *fakeDevice) Reset()         { f.reset = true }
func (f *fakeDevice) Task()          {}
func (f *fakeDevice) Listen(s byte)  { f.listened = true; f.listenedSecondary = s }
func (f *fakeDevice) Talk(byte)      {}
func (f *fakeDevice) Unlisten()      { f.unlistened = true }
func (f *fakeDevice) Untalk()        {}
func (f *fakeDevice) CanRead() int8  { return 0 }
func (f *fakeDevice) CanWrite() int8 { return 1 }
func (f *fakeDevice) ReadByte() byte { return 0 }
func (f *fakeDevice) Read([]byte) int {
	return 0
}
func (f *fakeDevice) WriteByte(byte, bool) {}
func (f *fakeDevice) Write([]byte, bool) int {
	return 0
}

// simBus is gpiotest-backed ATN/CLK/DATA lines standing in for a real IEC
// cable, driven from both ends: the Handler under test, run from a
// goroutine, and the test body playing the part of a Commodore host.
type simBus struct {
	atn, clk, data, reset *gpiotest.Pin
}

func newSimBus() *simBus {
	return &simBus{
		atn:   &gpiotest.Pin{N: "ATN", L: gpio.High},
		clk:   &gpiotest.Pin{N: "CLK", L: gpio.High},
		data:  &gpiotest.Pin{N: "DATA", L: gpio.High},
		reset: &gpiotest.Pin{N: "RESET", L: gpio.High},
	}
}

func (s *simBus) pins() *busline.Pins {
	return &busline.Pins{
		ATN:   busline.NewLine(s.atn),
		CLK:   busline.NewLine(s.clk),
		DATA:  busline.NewLine(s.data),
		Reset: busline.NewLine(s.reset),
	}
}

func sendByteATN(bus *simBus, b byte) {
	_ = bus.clk.Out(gpio.Low) // host asserts CLK before the first bit
	time.Sleep(time.Millisecond)
	for bit := 0; bit < 8; bit++ {
		if b&(1<<uint(bit)) != 0 {
			_ = bus.data.Out(gpio.High)
		} else {
			_ = bus.data.Out(gpio.Low)
		}
		_ = bus.clk.Out(gpio.High)
		time.Sleep(time.Millisecond)
		_ = bus.clk.Out(gpio.Low)
		time.Sleep(time.Millisecond)
	}
}

func TestHandlerBeginCallsDeviceBegin(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	dev := &fakeDevice{}
	if err := devs.Attach(registry.DeviceIDDisk, dev); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	h := New(bus.pins(), devs, Config{})
	h.Begin()
	if !dev.began {
		t.Fatal("Begin() did not call Device.Begin on the attached device")
	}
}

func TestHandlerListenDispatch(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	dev := &fakeDevice{}
	if err := devs.Attach(registry.DeviceIDDisk, dev); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	h := New(bus.pins(), devs, Config{})
	h.Begin()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				h.Task()
			}
		}
	}()
	defer func() { close(done); time.Sleep(5 * time.Millisecond) }()

	settle := func() { time.Sleep(2 * time.Millisecond) }
	assert := func(p *gpiotest.Pin) { _ = p.Out(gpio.Low); settle() }
	release := func(p *gpiotest.Pin) { _ = p.Out(gpio.High); settle() }

	assert(bus.atn)
	release(bus.clk)
	sendByteATN(bus, 0x28) // LISTEN device 8
	sendByteATN(bus, 0x60) // secondary: data on channel 0
	release(bus.atn)
	settle()

	if !dev.listened {
		t.Fatal("device.Listen was not called after a LISTEN ATN sequence")
	}
	if !h.InTransaction() {
		t.Fatal("InTransaction() should be true after LISTEN, before UNLISTEN")
	}
}

func TestHandlerResetBroadcasts(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	dev := &fakeDevice{}
	_ = devs.Attach(registry.DeviceIDDisk, dev)
	h := New(bus.pins(), devs, Config{})
	h.Begin()

	_ = bus.reset.Out(gpio.Low)
	h.Task()

	if !dev.reset {
		t.Fatal("Task() did not propagate a RESET-line edge to Device.Reset")
	}
}

func TestSendSRQNoopWithoutLine(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	h := New(bus.pins(), devs, Config{})
	h.SendSRQ() // must not panic
}
