// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package filedevice implements the CBM DOS channel model on top of a bus
// handler (iecbus or ieee488): OPEN/CLOSE/EXEC dispatch, two-byte read
// lookahead, write buffering, and command-channel (15) status text,
// adapting any device.FileDevice into a device.Device the bus handlers
// can address.
package filedevice

import (
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/fastload"
	"github.com/cbm-bus/iecbus/registry"
)

// ChannelNone is the "no channel selected" sentinel: channel 0-15 select
// a channel, 0xFF means none currently selected.
const ChannelNone = 0xFF

// openFailed is the read_buffer_len sentinel meaning the last OPEN on this
// channel failed. int8's minimum value is used rather than a named small
// negative so the -128/>=0 split is a single comparison.
const openFailed = -128

const defaultWriteBufferSize = 254

// Secondary-address top nibbles, identical to iecbus/ieee488.
const (
	secondaryOpen = 0xF0
	secondaryClose = 0xE0
	secondaryData = 0x60
)

type cmdKind uint8

const (
	cmdNone cmdKind = iota
	cmdOpen
	cmdClose
	cmdExec
	cmdWrite
)

// FastLoadRequester is the subset of iecbus.Handler's API filedevice needs
// to arm a detected fast-load protocol, kept as an interface so this
// package does not import iecbus (avoiding an import cycle back through
// busline/registry) and so ieee488-backed adapters can simply pass nil,
// since GPIB has no fast-loader sub-protocol to arm.
type FastLoadRequester interface {
	FastLoadRequest(e *registry.Entry, loader registry.Loader, kind registry.RequestKind)
}

// Config selects the optional behaviors of an Adapter.
type Config struct {
	// WriteBufferSize caps the write-accumulation buffer. Zero means the
	// default of 254 bytes.
	WriteBufferSize int

	// Detector recognizes M-W/M-E fast-loader signature uploads on
	// channel 15. Nil disables fast-loader detection for this device.
	Detector *fastload.Detector

	// Requester is told about a detected fast-load protocol so the bus
	// handler can arm its wire-level engine. Nil if fast-loader support is
	// not wired (e.g. an ieee488-backed device).
	Requester FastLoadRequester
}

// Adapter implements device.Device over a device.FileDevice, giving any
// CBM-DOS file device a channel model without reimplementing it.
type Adapter struct {
	fd device.FileDevice

	entry *registry.Entry
	requester FastLoadRequester
	detector *fastload.Detector

	writeBufferSize int
	writeBuffer []byte

	readBuffer [15][2]byte
	readBufferLen [15]int8
	readEOI [15]bool
	readDone [15]bool

	statusBuf [256]byte
	statusLen int
	statusPos int

	channel int // 0-15, or ChannelNone
	opening bool

	pendingCmd cmdKind
	pendingChannel int
}

// New wraps fd as a device.Device. The returned Adapter must be attached
// via Bind before it can arm fast-load requests, since those need the
// resulting *registry.Entry; a direct registry.Registry.Attach does not
// record that Entry on the Adapter.
func New(fd device.FileDevice, cfg Config) *Adapter {
	size := cfg.WriteBufferSize
	if size <= 0 {
		size = defaultWriteBufferSize
	}
	a := &Adapter{
		fd: fd,
		requester: cfg.Requester,
		detector: cfg.Detector,
		writeBufferSize: size,
		channel: ChannelNone,
	}
	for i := range a.readBufferLen {
		a.readBufferLen[i] = 0
	}
	return a
}

// Bind attaches a at devnr on devs and records the resulting Entry so
// later fast-load detections can be armed via Requester.
func (a *Adapter) Bind(devs *registry.Registry, devnr int) (*registry.Entry, error) {
	if err := devs.Attach(devnr, a); err != nil {
		return nil, err
	}
	a.entry = devs.Find(devnr, true)
	return a.entry, nil
}

var _ device.Device = (*Adapter)(nil)
