// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

import (
	"testing"

	"github.com/cbm-bus/iecbus/fastload"
	"github.com/cbm-bus/iecbus/registry"
)

// fakeFileDevice is a minimal device.FileDevice: one in-memory buffer per
// channel, played back byte-by-byte on read and accumulated whole on write.
type fakeFileDevice struct {
	openOK    map[int]bool
	data      map[int][]byte
	pos       map[int]int
	written   map[int][]byte
	closed    []int
	execCmds  []string
}

func newFakeFileDevice() *fakeFileDevice {
	return &fakeFileDevice{
		openOK:  map[int]bool{},
		data:    map[int][]byte{},
		pos:     map[int]int{},
		written: map[int][]byte{},
	}
}

func (f *fakeFileDevice) Open(channel int, name string) bool {
	ok := f.openOK[channel]
	return ok
}

func (f *fakeFileDevice) Close(channel int) {
	f.closed = append(f.closed, channel)
}

func (f *fakeFileDevice) Execute(cmd string) bool {
	f.execCmds = append(f.execCmds, cmd)
	return true
}

func (f *fakeFileDevice) ReadChannel(channel int, buf []byte) (int, bool) {
	d := f.data[channel]
	p := f.pos[channel]
	if p >= len(d) {
		return 0, true
	}
	buf[0] = d[p]
	f.pos[channel] = p + 1
	return 1, p+1 == len(d)
}

func (f *fakeFileDevice) WriteChannel(channel int, buf []byte, eoi bool) int {
	f.written[channel] = append(f.written[channel], buf...)
	return len(buf)
}

func (f *fakeFileDevice) GetStatus(buf []byte) int {
	return StatusOK(buf)
}

type fakeRequester struct {
	loader registry.Loader
	kind   registry.RequestKind
	called bool
}

func (r *fakeRequester) FastLoadRequest(e *registry.Entry, loader registry.Loader, kind registry.RequestKind) {
	r.called = true
	r.loader = loader
	r.kind = kind
}

func TestAdapterReadChannelLifecycle(t *testing.T) {
	fd := newFakeFileDevice()
	fd.openOK[2] = true
	fd.data[2] = []byte("HELLO")

	a := New(fd, Config{})

	a.Listen(0xF0 | 2) // OPEN channel 2
	a.WriteByte('0', false)
	a.WriteByte(':', false)
	a.WriteByte('F', true)
	a.Unlisten() // queues cmdOpen
	a.Task()     // runs it

	a.Talk(0x60 | 2) // TALK, channel 2 for reading
	var got []byte
	for {
		n := a.CanRead()
		if n <= 0 {
			break
		}
		got = append(got, a.ReadByte())
		if len(got) >= len(fd.data[2]) {
			break
		}
	}
	if string(got) != "HELLO" {
		t.Fatalf("read back %q, want %q", got, "HELLO")
	}
}

func TestAdapterOpenFailureMarksChannel(t *testing.T) {
	fd := newFakeFileDevice()
	a := New(fd, Config{})

	a.Listen(0xF0 | 3)
	a.Unlisten()
	a.Task()

	a.Talk(0x60 | 3)
	if n := a.CanRead(); n != 0 {
		t.Fatalf("CanRead() on a failed-open channel = %d, want 0", n)
	}
}

func TestAdapterWriteChannelBuffersAndFlushes(t *testing.T) {
	fd := newFakeFileDevice()
	a := New(fd, Config{})

	a.Listen(0x60 | 5) // data channel 5
	a.WriteByte('A', false)
	a.WriteByte('B', true)
	a.Unlisten() // queues cmdWrite
	a.Task()

	if got := string(fd.written[5]); got != "AB" {
		t.Fatalf("WriteChannel received %q, want %q", got, "AB")
	}
}

func TestAdapterCommandChannelStatus(t *testing.T) {
	fd := newFakeFileDevice()
	a := New(fd, Config{})

	a.Listen(0x60 | 15)
	a.WriteByte('U', false)
	a.WriteByte('I', true)
	a.Unlisten()
	a.Task()

	a.Talk(0x60 | 15)
	var got []byte
	for {
		n := a.CanRead()
		if n <= 0 {
			break
		}
		got = append(got, a.ReadByte())
		if n == 1 {
			// Last byte of the status line; the next CanRead would
			// re-populate the buffer with a fresh status.
			break
		}
	}
	want := "73," + dosVersion + ",00,00\r"
	if string(got) != want {
		t.Fatalf("command channel status = %q, want %q", got, want)
	}
}

func TestAdapterFastLoadDetection(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	var crc uint16
	for _, b := range payload {
		crc = crc16CCITT(crc, b)
	}
	sig := fastload.Signature{
		Loader:       registry.LoaderJiffyDOS,
		Kind:         registry.RequestLoad,
		Address:      0x0500,
		Length:       uint16(len(payload)),
		CRC:          crc,
		EntryAddress: 0x0500,
	}
	det := fastload.NewDetectorWithSignatures([]fastload.Signature{sig})
	req := &fakeRequester{}
	fd := newFakeFileDevice()
	a := New(fd, Config{Detector: det, Requester: req})

	devs := registry.New()
	entry, err := a.Bind(devs, registry.DeviceIDDisk)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	entry.EnableLoader(registry.LoaderJiffyDOS, true)

	sendCommand(a, "M-W\x00\x05\x04\x01\x02\x03\x04")
	sendCommand(a, "M-E\x00\x05")

	if !req.called {
		t.Fatal("FastLoadRequest was not called after a matching M-W/M-E sequence")
	}
	if req.loader != registry.LoaderJiffyDOS || req.kind != registry.RequestLoad {
		t.Fatalf("FastLoadRequest got (%v, %v)", req.loader, req.kind)
	}
}

func sendCommand(a *Adapter, cmd string) {
	a.Listen(0x60 | 15)
	for i := 0; i < len(cmd); i++ {
		a.WriteByte(cmd[i], i == len(cmd)-1)
	}
	a.Unlisten()
	a.Task()
}

// crc16CCITT mirrors the fastload package's unexported rolling checksum, so
// this test can construct a signature the detector will actually match.
func crc16CCITT(prev uint16, b byte) uint16 {
	crc := prev ^ uint16(b)<<8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = crc<<1 ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}
