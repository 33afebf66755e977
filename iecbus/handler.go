// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package iecbus implements the Commodore IEC three-wire serial bus
// (ATN/CLK/DATA): the bit-level master/slave handshake state machine,
// reconstructed in software against the cycle-accurate timing windows
// the Commodore KERNAL expects.
package iecbus

import (
	"sync/atomic"

	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/busline"
	"github.com/cbm-bus/iecbus/device"
	"github.com/cbm-bus/iecbus/fastload"
	"github.com/cbm-bus/iecbus/registry"
	"github.com/cbm-bus/iecbus/timing"
)

// Flags track the bus handler's top-level state.
const (
	FlagATN uint32 = 1 << iota
	FlagListening
	FlagTalking
	FlagDone
	FlagReset
)

// Timing constants, verified against the Commodore KERNAL's tolerances.
// These are contracts, not tunables.
const (
	atnAckBudget = 100 * physic.Microsecond // release CLK / assert DATA after ATN falls
	readyToSendHold = 200 * physic.Microsecond // before EOI is inferred
	eoiAckPulse = 80 * physic.Microsecond // EOI acknowledge pulse width
	bitValidWidth = 70 * physic.Microsecond // >=60us required, 70us used
	bitInvalidWidth = 80 * physic.Microsecond // bit setup hold before CLK valid
	atnAckTimeout = 1000 * physic.Microsecond // device must respond within this or "device not present"
	interByteMinGap = 200 * physic.Microsecond
	talkTurnaroundGap = 80 * physic.Microsecond // hold after role reversal before first byte
)

// Handler is a Commodore IEC bus master/slave protocol engine multiplexing
// any number of device.Device implementations (via its Registry) on one
// physical three-wire bus.
type Handler struct {
	pins *busline.Pins
	devs *registry.Registry
	clk *timing.Clock

	detector *fastload.Detector
	engines map[registry.Loader]fastload.Engine
	parallel busline.ParallelPort

	flags uint32 // atomically written by the ATN watcher, read by Task

	currentDevice *registry.Entry
	primary byte
	secondary byte

	timeoutStart uint32
	timeoutDuration uint32

	inTask int32 // guard against re-entrant ATN handling while task runs

	// fastLoadDeadline/fastLoadArmed track a pending fast-load request
	// armed by Entry.FLProtocol until its wire-level precondition fires or
	// the timeout elapses.
	fastLoadDeadline uint32
	fastLoadArmed bool
}

// Config selects the optional behaviors of a Handler.
type Config struct {
	// Engines lists the fast-loader engines this bus will dispatch to when
	// a device requests one. A nil or empty list disables fastload
	// entirely.
	Engines []fastload.Engine

	// Parallel is the 8-data-line cable used by DolphinDOS/SpeedDOS, or
	// nil if no parallel cable is wired (transfers by those two loaders
	// then fail with an error).
	Parallel busline.ParallelPort
}

// New builds a Handler over pins, dispatching addressed devices through
// devs.
func New(pins *busline.Pins, devs *registry.Registry, cfg Config) *Handler {
	h := &Handler{
		pins: pins,
		devs: devs,
		clk: timing.NewClock(),
		detector: fastload.NewDetector(),
		engines: make(map[registry.Loader]fastload.Engine, len(cfg.Engines)),
		parallel: cfg.Parallel,
	}
	for _, e := range cfg.Engines {
		h.engines[e.Loader] = e
	}
	return h
}

// Begin performs one-time setup: releases all lines to their idle state
// and calls Begin on every already-attached device.
func (h *Handler) Begin() {
	h.releaseAll()
	for _, e := range h.devs.All() {
		e.Device.Begin()
	}
}

func (h *Handler) releaseAll() {
	_ = h.pins.ATN.Release()
	_ = h.pins.CLK.Release()
	_ = h.pins.DATA.Release()
	if h.pins.Ctrl != nil {
		_ = h.pins.Ctrl.Release()
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

// DetachDevice removes whatever device is at devnr. Bus-visible state is
// unaffected.
func (h *Handler) DetachDevice(devnr int) {
	h.devs.Detach(devnr)
}

// CanServeATN reports whether a hardware wire-OR gate relaxes the ATN
// timing budget.
func (h *Handler) CanServeATN() bool {
	return h.pins.CanServeATN()
}

// InTransaction reports whether a LISTEN/TALK is currently in progress.
func (h *Handler) InTransaction() bool {
	f := atomic.LoadUint32(&h.flags)
	return f&(FlagListening|FlagTalking) != 0
}

// SendSRQ pulses the optional SRQ line to request host attention. A
// no-op if SRQ is not wired.
func (h *Handler) SendSRQ() {
	if h.pins.SRQ == nil {
		return
	}
	_ = h.pins.SRQ.Assert()
	timing.Delay(bitValidWidth)
	_ = h.pins.SRQ.Release()
}

// FastLoadRequest is called by a device (through the registry entry) to
// arm a fast-load sub-protocol for its next wire-level phase. loader
// must already be enabled for this entry via Entry.EnableLoader.
func (h *Handler) FastLoadRequest(e *registry.Entry, loader registry.Loader, kind registry.RequestKind) {
	if !e.LoaderEnabled(loader) {
		return
	}
	if _, ok := h.engines[loader]; !ok {
		return
	}
	e.FLProtocol = registry.Protocol{Loader: loader, Request: kind}
	h.fastLoadArmed = true
	h.fastLoadDeadline = h.clk.Now() + uint32(fastload.RequestTimeout(loader, kind)/physic.Microsecond)
}

// OnATNEdge must be called from the platform's ATN edge-interrupt (or pin
// change callback); it only sets a flag and never touches shared data
// structures, so it is safe to call from interrupt context.
func (h *Handler) OnATNEdge() {
	atomicOr(&h.flags, FlagATN)
}

// atomicOr performs addr |= bits as a single atomic read-modify-write,
// small enough to stay inline-able for use from an interrupt context.
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
