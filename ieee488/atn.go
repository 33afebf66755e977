// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ieee488

import (
	"github.com/cbm-bus/iecbus/registry"
	"github.com/cbm-bus/iecbus/timing"
)

// Primary/secondary address encoding, identical to iecbus.
const (
	primaryListen = 0x20
	primaryTalk = 0x40
	primaryUnlisten = 0x3F
	primaryUntalk = 0x5F
)

const (
	secondaryOpen = 0xF0
	secondaryClose = 0xE0
	secondaryData = 0x60
)

// handleATNSequence receives the primary and (if applicable) secondary
// address byte over the parallel handshake and dispatches
// LISTEN/TALK/UNLISTEN/UNTALK
func (h *Handler) handleATNSequence() {
	atomicOr(&h.flags, FlagATN)

	_ = h.pins.NDAC.Assert()
	_ = h.pins.NRFD.Assert()
	primary, eoi, ok := h.receiveDataByte()
	_ = eoi
	if !ok {
		return
	}
	h.primary = primary

	var secondary byte
	if primary != primaryUnlisten && primary != primaryUntalk {
		secondary, _, ok = h.receiveDataByte()
		if !ok {
			return
		}
		h.secondary = secondary
	}

	h.waitForATNRelease()
	atomicAndNot(&h.flags, FlagATN)

	h.dispatchPrimary(primary, secondary)
}

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
	timing.Delay(handshakeTurnaround)
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
