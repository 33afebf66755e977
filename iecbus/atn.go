// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iecbus

import (
	"github.com/cbm-bus/iecbus/registry"
	"github.com/cbm-bus/iecbus/timing"
)

// Primary address top nibbles.
const (
	primaryListen = 0x20
	primaryTalk = 0x40
	primaryUnlisten = 0x3F
	primaryUntalk = 0x5F
)

// Secondary address top nibbles.
const (
	secondaryOpen = 0xF0
	secondaryClose = 0xE0
	secondaryData = 0x60
)

// handleATNSequence announces the device, receives the primary and (if
// applicable) secondary address bytes, then dispatches
// LISTEN/TALK/UNLISTEN/UNTALK.
func (h *Handler) handleATNSequence() {
	atomicOr(&h.flags, FlagATN)

	// Within atnAckBudget: release CLK, assert DATA ("I am here").
	_ = h.pins.CLK.Release()
	_ = h.pins.DATA.Assert()
	// Wait for the host to release CLK (ready-to-send), for as long as
	// ATN stays asserted.
	if !h.waitWhileATN(func() bool { return !h.pins.CLK.Read() }) {
		return
	}

	primary, ok := h.receiveByteATN()
	if !ok {
		return
	}
	h.primary = primary

	var secondary byte
	if primary != primaryUnlisten && primary != primaryUntalk {
		secondary, ok = h.receiveByteATN()
		if !ok {
			return
		}
		h.secondary = secondary
	}

	// Wait for ATN to be released before dispatching.
	h.waitForATNRelease()
	atomicAndNot(&h.flags, FlagATN)

	h.dispatchPrimary(primary, secondary)
}

// receiveByteATN reads one address byte during an ATN sequence: release
// DATA, wait for CLK low, then for each bit wait CLK high, sample DATA,
// wait CLK low, and finally re-assert DATA.
func (h *Handler) receiveByteATN() (byte, bool) {
	_ = h.pins.DATA.Release()
	if !h.waitWhileATN(func() bool { return h.pins.CLK.Read() }) {
		return 0, false
	}
	var b byte
	for bit := 0; bit < 8; bit++ {
		if !h.waitWhileATN(func() bool { return !h.pins.CLK.Read() }) {
			return 0, false
		}
		if !h.pins.DATA.Read() {
			b |= 1 << uint(bit)
		}
		if !h.waitWhileATN(func() bool { return h.pins.CLK.Read() }) {
			return 0, false
		}
	}
	_ = h.pins.DATA.Assert()
	return b, true
}

// waitWhileATN polls cond until it is satisfied, aborting if ATN is
// released mid-wait (the host abandoned the ATN sequence).
func (h *Handler) waitWhileATN(cond func() bool) bool {
	for !cond() {
		if !h.pins.ATN.Read() {
			return false
		}
	}
	return true
}

// waitForATNRelease blocks until the host releases ATN.
func (h *Handler) waitForATNRelease() {
	for h.pins.ATN.Read() {
	}
}

func (h *Handler) dispatchPrimary(primary, secondary byte) {
	switch {
	case primary == primaryUnlisten:
		h.broadcastUnlisten()
	case primary == primaryUntalk:
		h.broadcastUntalk()
	case primary&0xF0 == primaryListen:
		h.dispatchListen(int(primary&0x0F), secondary)
	case primary&0xF0 == primaryTalk:
		h.dispatchTalk(int(primary&0x0F), secondary)
	}
}

func (h *Handler) dispatchListen(devnr int, secondary byte) {
	e := h.devs.Find(devnr, false)
	if e == nil {
		atomicOr(&h.flags, FlagDone)
		return
	}
	h.currentDevice = e
	atomicOr(&h.flags, FlagListening)
	atomicAndNot(&h.flags, FlagDone)
	e.Device.Listen(secondary)
}

func (h *Handler) dispatchTalk(devnr int, secondary byte) {
	e := h.devs.Find(devnr, false)
	if e == nil {
		atomicOr(&h.flags, FlagDone)
		return
	}
	h.currentDevice = e
	atomicOr(&h.flags, FlagTalking)
	atomicAndNot(&h.flags, FlagDone)
	e.Device.Talk(secondary)

	// Role reversal: wait for the host to release CLK, then assert CLK
	// and release DATA, wait out the turnaround gap, then begin
	// transmitting.
	for h.pins.CLK.Read() {
	}
	_ = h.pins.CLK.Assert()
	_ = h.pins.DATA.Release()
	timing.Delay(talkTurnaroundGap)
}

func (h *Handler) broadcastUnlisten() {
	if h.currentDevice != nil && atomicLoad(&h.flags)&FlagListening != 0 {
		h.currentDevice.Device.Unlisten()
	}
	atomicAndNot(&h.flags, FlagListening)
	h.currentDevice = nil
}

func (h *Handler) broadcastUntalk() {
	if h.currentDevice != nil && atomicLoad(&h.flags)&FlagTalking != 0 {
		h.currentDevice.Device.Untalk()
	}
	atomicAndNot(&h.flags, FlagTalking)
	h.currentDevice = nil
}

// currentEntry returns the registry.Entry of the currently addressed
// device, or nil.
func (h *Handler) currentEntry() *registry.Entry {
	return h.currentDevice
}
