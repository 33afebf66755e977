// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ieee488

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/registry"
)

type fakeDevice struct {
	began             bool
	listened          bool
	listenedSecondary byte
}

func (f *fakeDevice) Begin()         { f.began = true }
func (f *fakeDevice) Reset()         {}
func (f *fakeDevice) Task()          {}
func (f *fakeDevice) Listen(s byte)  { f.listened = true; f.listenedSecondary = s }
func (f *fakeDevice) Talk(byte)      {}
func (f *fakeDevice) Unlisten()      {}
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

// simBus is gpiotest-backed ATN/DAV/NRFD/NDAC/data lines standing in for a
// real GPIB cable, driven from both ends: the Handler under test, and this
// test acting as the bus controller.
type simBus struct {
	atn, dav, nrfd, ndac *gpiotest.Pin
	data                 [8]*gpiotest.Pin
}

func newSimBus() *simBus {
	s := &simBus{
		atn:  &gpiotest.Pin{N: "ATN", L: gpio.High},
		dav:  &gpiotest.Pin{N: "DAV", L: gpio.High},
		nrfd: &gpiotest.Pin{N: "NRFD", L: gpio.High},
		ndac: &gpiotest.Pin{N: "NDAC", L: gpio.High},
	}
	for i := range s.data {
		s.data[i] = &gpiotest.Pin{N: "D", L: gpio.High}
	}
	return s
}

func (s *simBus) pins() *busline.Pins {
	p := &busline.Pins{
		ATN:  busline.NewLine(s.atn),
		DAV:  busline.NewLine(s.dav),
		NRFD: busline.NewLine(s.nrfd),
		NDAC: busline.NewLine(s.ndac),
	}
	for i := range s.data {
		p.Data[i] = busline.NewLine(s.data[i])
	}
	return p
}

// controllerSendByte drives the three-wire handshake from the controller
// side for one address byte, the dual of Handler.receiveDataByte.
func controllerSendByte(bus *simBus, b byte) {
	settle := func() { time.Sleep(time.Millisecond) }
	settle() // let the device release NRFD first

	for i, p := range bus.data {
		if b&(1<<uint(i)) != 0 {
			_ = p.Out(gpio.Low) // asserted
		} else {
			_ = p.Out(gpio.High)
		}
	}

	_ = bus.dav.Out(gpio.Low) // DAV asserted: data valid
	waitUntil(func() bool { return bus.ndac.Read() == gpio.Low }, time.Second)

	_ = bus.dav.Out(gpio.High) // release DAV
	waitUntil(func() bool { return bus.ndac.Read() == gpio.High }, time.Second)
}

func waitUntil(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Microsecond)
	}
}

func TestHandlerBeginCallsDeviceBegin(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	dev := &fakeDevice{}
	if err := devs.Attach(registry.DeviceIDDisk, dev); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	h := New(bus.pins(), devs)
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
	h := New(bus.pins(), devs)
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

	_ = bus.atn.Out(gpio.Low) // assert ATN
	time.Sleep(time.Millisecond)
	controllerSendByte(bus, 0x28) // LISTEN device 8
	controllerSendByte(bus, 0x60) // secondary: data on channel 0
	_ = bus.atn.Out(gpio.High)    // release ATN
	time.Sleep(5 * time.Millisecond)

	if !dev.listened {
		t.Fatal("device.Listen was not called after a LISTEN ATN sequence")
	}
	if !h.InTransaction() {
		t.Fatal("InTransaction() should be true after LISTEN, before UNLISTEN")
	}
}

func TestRemoteEnabledWithoutREN(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	h := New(bus.pins(), devs)
	if h.RemoteEnabled() {
		t.Fatal("RemoteEnabled() should be false when REN is not wired")
	}
}

func TestSendSRQNoopWithoutLine(t *testing.T) {
	bus := newSimBus()
	devs := registry.New()
	h := New(bus.pins(), devs)
	h.SendSRQ() // must not panic
}
