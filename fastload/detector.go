// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fastload implements Commodore fast-loader sub-protocols:
// detecting a cartridge/patch upload via command-channel M-W/M-E
// messages, and the per-protocol byte/block transfer routines (JiffyDOS,
// Epyx FastLoad, Final Cartridge 3, Action Replay 6, DolphinDOS,
// SpeedDOS) that take over the wire phase of a transaction once
// detected.
package fastload

import (
	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/registry"
)

// Engine is a dispatch target for one fast-loader's wire-level byte/block
// transfer routines, invoked by the bus handler's task loop once it
// observes an armed Entry.FLProtocol and the corresponding precondition.
type Engine interface {
	// Loader identifies which registry.Loader this engine implements.
	Loader() registry.Loader

	// Precondition reports whether the wire is currently in the state
	// this loader's block transfer expects to start from, e.g. "DATA
	// released" for DolphinDOS LOAD or "CLK asserted" for SpeedDOS.
	Precondition(pins *busline.Pins) bool

	// Transmit sends one block (device -> host) for the request kind
	// recorded in entry.FLProtocol, pulling bytes from dev via
	// device.Device.Read.
	Transmit(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error

	// Receive accepts one block (host -> device) for the request kind
	// recorded in entry.FLProtocol, delivering bytes to dev via
	// device.Device.Write.
	Receive(pins *busline.Pins, parallel busline.ParallelPort, entry *registry.Entry, dev device.Device) error
}

// RequestTimeout is the window the file-device adapter arms after a
// fast-load request before giving up and falling back to normal
// protocol: 200-500us for most loaders, 20ms for FC3.
func RequestTimeout(loader registry.Loader, kind registry.RequestKind) physic.Duration {
	switch loader {
	case registry.LoaderFC3:
		return 20 * physic.Millisecond
	case registry.LoaderDolphinDOS, registry.LoaderSpeedDOS:
		return 500 * physic.Microsecond
	default:
		return 200 * physic.Microsecond
	}
}

// Signature is one entry of the loader-signature table: an upload of
// exactly Length bytes to Address whose running CRC equals CRC identifies
// part of a known loader's drive-side code.
type Signature struct {
	Loader registry.Loader
	Kind registry.RequestKind
	Address uint16
	Length uint16
	CRC uint16
	// EntryAddress is the M-E address that fires this Signature's
	// Loader/Kind once this Signature alone has fully matched. Signatures
	// sharing a Loader/Kind are not tracked together, and an M-W to any
	// other address resets this Signature's progress.
	EntryAddress uint16
}

// DefaultSignatures is the loader-signature table walked by Detector.
//
// The addresses, lengths and entry points below are placeholders for the
// real drive-side payloads each cartridge/patch uploads; what matters for
// this module's contract is the matching algorithm, not the exact bytes
// of any particular loader release, since device implementations supply
// their own table via NewDetectorWithSignatures when they know which
// loader versions they support.
var DefaultSignatures = []Signature{
	{Loader: registry.LoaderJiffyDOS, Kind: registry.RequestLoad, Address: 0x0500, Length: 0x0200, CRC: 0x4A6F, EntryAddress: 0x0500},
	{Loader: registry.LoaderEpyx, Kind: registry.RequestLoad, Address: 0x0400, Length: 0x0100, CRC: 0x1E3C, EntryAddress: 0x0400},
	{Loader: registry.LoaderFC3, Kind: registry.RequestLoad, Address: 0x059A, Length: 0x0400, CRC: 0x9C21, EntryAddress: 0x059A},
	{Loader: registry.LoaderAR6, Kind: registry.RequestSave, Address: 0x0300, Length: 0x0180, CRC: 0x7B55, EntryAddress: 0x0300},
	{Loader: registry.LoaderDolphinDOS, Kind: registry.RequestLoad, Address: 0x0500, Length: 0x0300, CRC: 0x2D91, EntryAddress: 0x0500},
	{Loader: registry.LoaderSpeedDOS, Kind: registry.RequestLoad, Address: 0x0500, Length: 0x0280, CRC: 0x6C4E, EntryAddress: 0x0500},
}

// upload tracks the in-progress match state for one Signature, keyed by
// its index in the table; Detector resets any entry whose CRC diverges.
type upload struct {
	received uint16
	crc uint16
	matched bool
}

// Detector accumulates M-W payloads and matches them against a Signature
// table, advancing a per-signature upload counter, and fires on a
// matching M-E. Keeping one Detector per registry.Entry would
// overcomplicate things given only one device is ever addressed at a
// time, so a single Detector living on the Handler, reset on every new
// LISTEN, is sufficient.
type Detector struct {
	table []Signature
	uploads []upload
}

// NewDetector returns a Detector using DefaultSignatures.
func NewDetector() *Detector {
	return NewDetectorWithSignatures(DefaultSignatures)
}

// NewDetectorWithSignatures returns a Detector using a caller-supplied
// signature table, for devices that only support specific loader builds.
func NewDetectorWithSignatures(table []Signature) *Detector {
	return &Detector{table: table, uploads: make([]upload, len(table))}
}

// Reset clears all in-progress upload matches, e.g. on UNLISTEN or RESET.
func (d *Detector) Reset() {
	for i := range d.uploads {
		d.uploads[i] = upload{}
	}
}

// crc16 is the rolling checksum kept over an M-W payload. A
// CRC-16/CCITT-style polynomial keeps this cheap enough to run per-byte
// inside the command-channel write path.
func crc16(prev uint16, b byte) uint16 {
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

// ObserveMW feeds one M-W (memory-write) command-channel message into the
// detector: destination address, and payload bytes. Every table entry
// whose address/length matches this write has its CRC advanced; a
// mismatch (wrong address, or CRC diverges once length is known) resets
// that entry's upload counter silently.
func (d *Detector) ObserveMW(address uint16, payload []byte) {
	for i, sig := range d.table {
		if sig.Address != address || len(payload) > int(sig.Length) {
			d.uploads[i] = upload{}
			continue
		}
		u := &d.uploads[i]
		for _, b := range payload {
			u.crc = crc16(u.crc, b)
		}
		u.received += uint16(len(payload))
		if u.received >= sig.Length {
			u.matched = u.crc == sig.CRC
			if !u.matched {
				*u = upload{}
			}
		}
	}
}

// ObserveME feeds an M-E (memory-execute) command-channel message with
// the given entry address. If some signature has fully matched (via prior
// ObserveMW calls) and its EntryAddress equals address, the corresponding
// Loader/RequestKind is returned with ok=true. On a match, that
// signature's upload state is reset so a second M-E does not re-trigger
// it; an M-E to a different address leaves the match in place.
func (d *Detector) ObserveME(address uint16) (registry.Loader, registry.RequestKind, bool) {
	for i, sig := range d.table {
		u := &d.uploads[i]
		if u.matched && sig.EntryAddress == address {
			*u = upload{}
			return sig.Loader, sig.Kind, true
		}
	}
	return 0, registry.RequestNone, false
}
