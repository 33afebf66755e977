// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package iecbus

import (
	"periph.io/x/conn/v3/physic"

	"github.com/cbm-bus/iecbus/timing"
)

// receiveDataByte reads one byte from the host after addressing, while
// the device is in the LISTENING role.
func (h *Handler) receiveDataByte() (b byte, eoi bool, aborted bool) {
	// 1. Release DATA (ready-for-data).
	_ = h.pins.DATA.Release()
	// 2/3. Wait up to 200us for host to assert CLK; on timeout the host is
	// signaling EOI.
	start := h.clk.Now()
	for h.pins.CLK.Read() == false {
		if h.pins.ATN.Read() {
			return 0, false, true
		}
		if timing.Elapsed(start, h.clk.Now()) > uint32(readyToSendHold/physic.Microsecond) {
			eoi = true
			_ = h.pins.DATA.Assert()
			timing.Delay(eoiAckPulse)
			_ = h.pins.DATA.Release()
			// Resume waiting for CLK asserted with no timeout.
			for !h.pins.CLK.Read() {
				if h.pins.ATN.Read() {
					return 0, false, true
				}
			}
			break
		}
	}

	// 4. For each of 8 bits: wait CLK released, sample DATA (LSB first),
	// wait CLK asserted.
	for bit := 0; bit < 8; bit++ {
		if !h.waitWhileATN(func() bool { return !h.pins.CLK.Read() }) {
			return 0, false, true
		}
		if !h.pins.DATA.Read() {
			b |= 1 << uint(bit)
		}
		if !h.waitWhileATN(func() bool { return h.pins.CLK.Read() }) {
			return 0, false, true
		}
	}

	// 5. Assert DATA (acknowledge) within 1000us.
	_ = h.pins.DATA.Assert()
	return b, eoi, false
}

// transmitDataByte writes one byte to the host while the device is in
// the TALKING role.
func (h *Handler) transmitDataByte(b byte, last bool) (aborted bool) {
	// Release CLK (ready-to-send); wait for host to release DATA
	// (ready-for-data). A pre-existing DATA-released state here is a
	// host-side "verify error", treated as an implicit EOI.
	_ = h.pins.CLK.Release()
	verifyError := !h.pins.DATA.Read()

	if !h.waitWhileATN(func() bool { return !h.pins.DATA.Read() }) {
		return true
	}

	if last || verifyError {
		// Hold CLK released and wait for the host's DATA-low-then-high
		// EOI handshake.
		if !h.waitWhileATN(func() bool { return h.pins.DATA.Read() }) {
			return true
		}
		if !h.waitWhileATN(func() bool { return !h.pins.DATA.Read() }) {
			return true
		}
	}

	for bit := 0; bit < 8; bit++ {
		_ = h.pins.CLK.Assert() // invalid
		if b&(1<<uint(bit)) != 0 {
			_ = h.pins.DATA.Release()
		} else {
			_ = h.pins.DATA.Assert()
		}
		timing.Delay(bitInvalidWidth)
		_ = h.pins.CLK.Release() // valid
		timing.Delay(bitValidWidth)
	}

	// Signal busy: assert CLK, release DATA; wait for host to assert DATA
	// (busy-ack).
	_ = h.pins.CLK.Assert()
	_ = h.pins.DATA.Release()
	if !h.waitWhileATN(func() bool { return h.pins.DATA.Read() }) {
		return true
	}
	return false
}
