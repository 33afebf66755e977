// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iecbus

import (
	"log"
	"sync/atomic"

	"github.com/cbm-bus/iecbus/registry"
	"github.com/cbm-bus/iecbus/timing"
)

// Task must be called periodically, at least once every millisecond, or
// the host will see "device not present" errors. It polls the ATN line on
// every call; the FlagATN bit that OnATNEdge sets is not consulted here,
// so wiring OnATNEdge to an edge interrupt does not lower that rate.
func (h *Handler) Task() {
	if !atomic.CompareAndSwapInt32(&h.inTask, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&h.inTask, 0)

	if h.pins.Reset != nil && h.pins.Reset.Read() {
		h.handleReset()
		return
	}

	if h.pins.ATN.Read() {
		h.handleATNSequence()
		if atomicLoad(&h.flags)&FlagDone != 0 {
			return
		}
	}

	switch {
	case atomicLoad(&h.flags)&FlagListening != 0:
		h.runListenTransfer()
	case atomicLoad(&h.flags)&FlagTalking != 0:
		h.runTalkTransfer()
	}
}

func (h *Handler) handleReset() {
	log.Println("iecbus: RESET observed, clearing all bus and device state")
	atomic.StoreUint32(&h.flags, FlagReset)
	h.currentDevice = nil
	h.fastLoadArmed = false
	h.detector.Reset()
	h.devs.Reset()
	h.releaseAll()
}

// runListenTransfer drives the receive side of a transaction until DONE
// or ATN reasserts, checking for an armed fast-load protocol before
// every byte.
func (h *Handler) runListenTransfer() {
	e := h.currentEntry()
	if e == nil {
		atomicOr(&h.flags, FlagDone)
		return
	}

	if h.tryFastLoad(e) {
		atomicOr(&h.flags, FlagDone)
		return
	}

	for {
		if h.pins.ATN.Read() { // ATN reasserted: host aborts
			atomicOr(&h.flags, FlagDone)
			return
		}
		b, eoi, aborted := h.receiveDataByte()
		if aborted {
			atomicOr(&h.flags, FlagDone)
			return
		}
		if e.Device.CanWrite() == 0 {
			atomicOr(&h.flags, FlagDone)
			return
		}
		e.Device.WriteByte(b, eoi)
		if eoi {
			atomicOr(&h.flags, FlagDone)
			return
		}
		timing.Delay(interByteMinGap)
	}
}

// runTalkTransfer drives the transmit side of a transaction until DONE
// or ATN reasserts.
func (h *Handler) runTalkTransfer() {
	e := h.currentEntry()
	if e == nil {
		atomicOr(&h.flags, FlagDone)
		return
	}

	if h.tryFastLoad(e) {
		atomicOr(&h.flags, FlagDone)
		return
	}

	for {
		n := e.Device.CanRead()
		if n < 0 {
			if h.pins.ATN.Read() {
				atomicOr(&h.flags, FlagDone)
				return
			}
			continue
		}
		if n == 0 {
			atomicOr(&h.flags, FlagDone)
			return
		}
		b := e.Device.ReadByte()
		last := n == 1
		if aborted := h.transmitDataByte(b, last); aborted {
			atomicOr(&h.flags, FlagDone)
			return
		}
		if last {
			atomicOr(&h.flags, FlagDone)
			return
		}
	}
}

// tryFastLoad dispatches to an armed fast-load engine if its precondition
// currently holds. It reports whether a fast-load transfer ran
// (successfully or not); either way the transaction is DONE afterward
// and normal addressing resumes on the next ATN.
func (h *Handler) tryFastLoad(e *registry.Entry) bool {
	if e.FLProtocol.IsNone() {
		return false
	}
	engine, ok := h.engines[e.FLProtocol.Loader]
	if !ok {
		e.FLProtocol = registry.None
		return false
	}
	if !engine.Precondition(h.pins) {
		// Still within the request's timing budget: keep waiting for the
		// host to enter the fast-load wire state on a later Task call.
		if h.clk.Now() < h.fastLoadDeadline {
			return false
		}
		e.FLProtocol = registry.None
		return false
	}

	var err error
	switch e.FLProtocol.Request {
	case registry.RequestSave, registry.RequestSector:
		err = engine.Receive(h.pins, h.parallel, e, e.Device)
	default:
		err = engine.Transmit(h.pins, h.parallel, e, e.Device)
	}
	if err != nil {
		log.Printf("iecbus: fast-load %s transfer error: %v", e.FLProtocol.Loader, err)
	}
	e.FLProtocol = registry.None
	return true
}
