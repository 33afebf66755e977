// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ieee488 implements the IEEE-488 (GPIB) three-wire handshake
// (DAV/NRFD/NDAC) on top of the shared ATN/EOI lines. The state machine,
// dispatch table, and device contract mirror iecbus; unlike iecbus, data
// moves eight bits at a time per handshake cycle, so there is no
// bit-banged serial loop and no fast-loader sub-protocol to detect since
// the wire is already byte-parallel.
package ieee488

import (
	"sync/atomic"

	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/registry"
	"github.com/cbm-bus/iecbus/timing"
)

// Flags, mirroring iecbus's top-level state bits.
const (
	FlagATN uint32 = 1 << iota
	FlagListening
	FlagTalking
	FlagDone
	FlagReset
)

// Handshake turnaround budget. Same order of magnitude as iecbus's
// atnAckBudget; the GPIB handshake has no equivalent bit-timing
// constants since each byte moves as a single parallel transfer rather
// than a serial bit train.
const handshakeTurnaround = 100 * physic.Microsecond

// Handler is an IEEE-488 bus master/slave protocol engine, the
// byte-parallel sibling of iecbus.Handler: same registry, same device
// contract, different electrical handshake.
type Handler struct {
	pins *busline.Pins
	devs *registry.Registry
	clk *timing.Clock

	flags uint32

	currentDevice *registry.Entry
	primary byte
	secondary byte

	inTask int32
}

// New builds a Handler over pins, dispatching addressed devices through
// devs. pins.DAV/NRFD/NDAC/EOI and pins.Data[0:8] must be set; pins.IFC
// and pins.REN are optional.
func New(pins *busline.Pins, devs *registry.Registry) *Handler {
	return &Handler{pins: pins, devs: devs, clk: timing.NewClock()}
}

// Begin releases all lines to their idle state and calls Begin on every
// already-attached device.
func (h *Handler) Begin() {
	h.releaseAll()
	for _, e := range h.devs.All() {
		e.Device.Begin()
	}
}

func (h *Handler) releaseAll() {
	_ = h.pins.ATN.Release()
	_ = h.pins.DAV.Release()
	_ = h.pins.NRFD.Release()
	_ = h.pins.NDAC.Release()
	if h.pins.EOI != nil {
		_ = h.pins.EOI.Release()
	}
	for _, d := range h.pins.Data {
		if d != nil {
			_ = d.Release()
		}
	}
}

// AttachDevice attaches dev at devnr and calls its Begin hook.
func (h *Handler) AttachDevice(devnr int, dev device.Device) error {
	if err := h.devs.Attach(devnr, dev); err != nil {
		return err
	}
	dev.Begin()
	return nil
}

// DetachDevice removes whatever device is at devnr.
func (h *Handler) DetachDevice(devnr int) {
	h.devs.Detach(devnr)
}

// InTransaction reports whether a LISTEN/TALK is currently in progress.
func (h *Handler) InTransaction() bool {
	f := atomic.LoadUint32(&h.flags)
	return f&(FlagListening|FlagTalking) != 0
}

// SendSRQ pulses the optional SRQ line to request controller attention.
func (h *Handler) SendSRQ() {
	if h.pins.SRQ == nil {
		return
	}
	_ = h.pins.SRQ.Assert()
	timing.Delay(handshakeTurnaround)
	_ = h.pins.SRQ.Release()
}

// RemoteEnabled reports the controller's advisory REN line state, if
// wired. REN is observed only, never driven; callers that care about
// local/remote mode read this instead of touching pins.REN directly.
func (h *Handler) RemoteEnabled() bool {
	return h.pins.REN != nil && h.pins.REN.Read()
}

// OnATNEdge must be called from the platform's ATN edge-interrupt; it
// only sets a flag, the same ISR-safety contract as iecbus.Handler.
func (h *Handler) OnATNEdge() {
	atomicOr(&h.flags, FlagATN)
}

// OnIFCEdge must be called from the platform's IFC edge-interrupt, if
// wired. IFC is GPIB's hardware reset equivalent: it clears
// LISTENING/TALKING exactly like the IEC RESET line, independently of
// ATN.
func (h *Handler) OnIFCEdge() {
	atomicOr(&h.flags, FlagReset)
}

func atomicOr(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if old&bits == bits {
			return
		}
		if atomic.CompareAndSwapUint32(addr, old, old|bits) {
			return
		}
	}
}

func atomicLoad(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

func atomicAndNot(addr *uint32, bits uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if old&bits == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(addr, old, old&^bits) {
			return
		}
	}
}
