// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command iecloopback is a self-test that wires a simulated CBM-DOS
// loopback device to a simulated IEC master, without any real hardware,
// the way periph-host's ftdismoketest exercises an FT232H without a real
// bus on the other end. The simulated host sends one ATN sequence
// addressing device 8 to LISTEN; it does not go on to OPEN, write, TALK
// or CLOSE a channel.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/fastload"
	"github.com/cbm-bus/iecbus/filedevice"
	"github.com/cbm-bus/iecbus/iecbus"
	"github.com/cbm-bus/iecbus/registry"
)

// echoDevice is the simplest possible device.FileDevice: it stores
// whatever a channel was last written with and plays it back on TALK,
// good enough to exercise the whole filedevice/iecbus stack end to end.
type echoDevice struct {
	lastName string
	data     map[int][]byte
	pos      map[int]int
}

func newEchoDevice() *echoDevice {
	return &echoDevice{data: map[int][]byte{}, pos: map[int]int{}}
}

func (e *echoDevice) Open(channel int, name string) bool {
	e.lastName = name
	e.pos[channel] = 0
	return true
}

func (e *echoDevice) Close(channel int) {}

func (e *echoDevice) Execute(cmd string) bool {
	log.Printf("iecloopback: command channel received %q", cmd)
	return true
}

func (e *echoDevice) ReadChannel(channel int, buf []byte) (int, bool) {
	d := e.data[channel]
	p := e.pos[channel]
	if p >= len(d) {
		return 0, true
	}
	n := copy(buf, d[p:])
	e.pos[channel] = p + n
	return n, e.pos[channel] >= len(d)
}

func (e *echoDevice) WriteChannel(channel int, buf []byte, eoi bool) int {
	e.data[channel] = append(e.data[channel], buf...)
	return len(buf)
}

func (e *echoDevice) GetStatus(buf []byte) int {
	return filedevice.StatusOK(buf)
}

// simBus is a set of gpiotest-backed lines standing in for a real IEC
// cable: both the device (via busline.Pins) and this simulation's
// hand-driven "host" side read and write the same underlying pins.
type simBus struct {
	atn, clk, data *gpiotest.Pin
	reset          *gpiotest.Pin
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

func main() {
	bus := newSimBus()
	pins := bus.pins()

	devs := registry.New()
	h := iecbus.New(pins, devs, iecbus.Config{Engines: []fastload.Engine{}})
	h.Begin()

	dev := newEchoDevice()
	adapter := filedevice.New(dev, filedevice.Config{})
	entry, err := adapter.Bind(devs, registry.DeviceIDDisk)
	if err != nil {
		log.Fatalf("iecloopback: attach: %v", err)
	}
	_ = entry

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

	simulateHostTransaction(bus)
	close(done)
	time.Sleep(10 * time.Millisecond)

	fmt.Fprintln(os.Stdout, "iecloopback: loopback self-test completed")
}

// simulateHostTransaction drives the same ATN/CLK/DATA pins the Handler
// watches, standing in for a real Commodore host for demonstration
// purposes. It is deliberately coarse-grained (no microsecond-accurate
// bit timing) since its job is to exercise the wiring, not to validate
// the timing contract itself.
func simulateHostTransaction(bus *simBus) {
	settle := func() { time.Sleep(2 * time.Millisecond) }

	assert := func(p *gpiotest.Pin) { _ = p.Out(gpio.Low); settle() }
	release := func(p *gpiotest.Pin) { _ = p.Out(gpio.High); settle() }

	// ATN sequence: address device 8 to LISTEN on channel 0 (secondary 0x60).
	assert(bus.atn)
	release(bus.clk) // host ready to send
	sendByteATN(bus, 0x28)
	sendByteATN(bus, 0x60)
	release(bus.atn)

	settle()
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
