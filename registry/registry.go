// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package registry maps a Commodore bus device number (0-30) to the
// device attached there and its per-device fast-loader state.
package registry

import (
	"fmt"

	"github.com/cbm-bus/iecbus/device"
)

// MaxDevices is the highest device number a bus supports plus one.
const MaxDevices = 31

// Standard device-number ranges
const (
	DeviceIDGlobal = 0 // addresses all devices
	DeviceIDPrinter = 4 // 4-7
	DeviceIDDisk = 8 // 8-15
	DeviceIDNetwork = 16 // 16-19
	DeviceIDOther = 20 // 20-29
	DeviceIDSystem = 30 // meta/control
)

// Loader identifies a fast-load protocol
type Loader uint8

// Supported loaders. Values double as a bit position in Entry.FLEnabled.
const (
	LoaderJiffyDOS Loader = iota
	LoaderEpyx
	LoaderFC3
	LoaderAR6
	LoaderDolphinDOS
	LoaderSpeedDOS
	loaderCount
)

func (l Loader) String() string {
	switch l {
	case LoaderJiffyDOS:
		return "JiffyDOS"
	case LoaderEpyx:
		return "Epyx FastLoad"
	case LoaderFC3:
		return "Final Cartridge 3"
	case LoaderAR6:
		return "Action Replay 6"
	case LoaderDolphinDOS:
		return "DolphinDOS"
	case LoaderSpeedDOS:
		return "SpeedDOS"
	default:
		return "unknown loader"
	}
}

// RequestKind is the kind of transfer a fast-loader request asks for.
type RequestKind uint8

const (
	RequestNone RequestKind = iota
	RequestLoad
	RequestSave
	RequestHeader
	RequestSector
	RequestLoadImg
)

// Protocol packs together a loader and the kind of request it is
// currently servicing.
type Protocol struct {
	Loader Loader
	Request RequestKind
}

// None is the zero Protocol, meaning no fast-load is active.
var None = Protocol{}

// IsNone reports whether p represents "no active fast-load protocol".
func (p Protocol) IsNone() bool {
	return p.Request == RequestNone
}

// Entry is the per-device-number state the registry owns alongside the
// device.Device itself.
type Entry struct {
	Number int
	Device device.Device

	Active bool

	// FLEnabled is a bitmask of Loader values this device currently
	// accepts upload/detection for.
	FLEnabled uint8

	// FLProtocol is the fast-load sub-protocol currently running, or None.
	FLProtocol Protocol

	// FLFlags holds protocol-specific detection flags, e.g. "JiffyDOS
	// detected this transaction" or "DolphinDOS burst enabled".
	FLFlags uint32
}

// Detection flag bits stored in Entry.FLFlags.
const (
	FlagJiffyDetected uint32 = 1 << iota // this transaction used JiffyDOS timing
	FlagDolphinBurst // DolphinDOS burst-mode session is active
	FlagSpeedDOSActive // SpeedDOS parallel session is active
)

// EnableLoader turns detection for loader on or off for this entry, and
// cancels any in-flight fast-load.
func (e *Entry) EnableLoader(l Loader, enable bool) {
	e.FLProtocol = None
	if l >= loaderCount {
		return
	}
	if enable {
		e.FLEnabled |= 1 << uint(l)
	} else {
		e.FLEnabled &^= 1 << uint(l)
	}
}

// LoaderEnabled reports whether l is currently enabled for this entry.
func (e *Entry) LoaderEnabled(l Loader) bool {
	return l < loaderCount && e.FLEnabled&(1<<uint(l)) != 0
}

// Registry owns the device-number -> Entry mapping for one bus, kept
// deliberately separate from the bus handler so iecbus and ieee488 can
// share one implementation.
type Registry struct {
	entries [MaxDevices]*Entry
	order []int // device numbers in attach order, for broadcast fan-out
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Attach adds dev at devnr. It is an error to attach two devices at the
// same number at once.
func (r *Registry) Attach(devnr int, dev device.Device) error {
	if devnr < 0 || devnr >= MaxDevices {
		return fmt.Errorf("registry: device number %d out of range [0,%d]", devnr, MaxDevices-1)
	}
	if r.entries[devnr] != nil {
		return fmt.Errorf("registry: device number %d already attached", devnr)
	}
	e := &Entry{Number: devnr, Device: dev, Active: true}
	r.entries[devnr] = e
	r.order = append(r.order, devnr)
	return nil
}

// Detach removes whatever device is attached at devnr, if any. Attach
// followed by Detach must be a no-op on bus-visible state.
func (r *Registry) Detach(devnr int) {
	if devnr < 0 || devnr >= MaxDevices || r.entries[devnr] == nil {
		return
	}
	r.entries[devnr] = nil
	for i, n := range r.order {
		if n == devnr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Find returns the Entry at devnr, or nil if none is attached (or it is
// attached but inactive and includeInactive is false).
func (r *Registry) Find(devnr int, includeInactive bool) *Entry {
	if devnr < 0 || devnr >= MaxDevices {
		return nil
	}
	e := r.entries[devnr]
	if e == nil {
		return nil
	}
	if !e.Active && !includeInactive {
		return nil
	}
	return e
}

// All returns every attached Entry, in attach order, for ATN broadcast
// fan-out (UNLISTEN/UNTALK/RESET).
func (r *Registry) All() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n])
	}
	return out
}

// Reset clears fast-load state on every attached device and calls
// Device.Reset on each, the way a RESET-line edge is broadcast to every
// attached device.
func (r *Registry) Reset() {
	for _, e := range r.All() {
		e.FLProtocol = None
		e.FLFlags = 0
		e.Device.Reset()
	}
}
