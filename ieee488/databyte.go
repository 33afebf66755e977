// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ieee488

// receiveDataByte runs the receive handshake: release NRFD, wait DAV
// low, read eight parallel data bits, assert NDAC, release NRFD. EOI is
// sampled directly from a dedicated line. One byte per handshake cycle,
// no bit-banged serial loop.
func (h *Handler) receiveDataByte() (b byte, eoi bool, ok bool) {
	_ = h.pins.NRFD.Release()
	if !h.waitWhileATN(func() bool { return h.pins.DAV.Read() }) {
		return 0, false, false
	}

	for i, line := range h.pins.Data {
		if line.Read() {
			b |= 1 << uint(i)
		}
	}
	if h.pins.EOI != nil {
		eoi = h.pins.EOI.Read()
	}

	_ = h.pins.NDAC.Assert()
	// Wait for the talker to release DAV before cycling back to the idle
	// (busy) state, completing the three-wire handshake.
	if !h.waitWhileATN(func() bool { return !h.pins.DAV.Read() }) {
		return 0, false, false
	}
	_ = h.pins.NRFD.Assert()
	_ = h.pins.NDAC.Release()
	return b, eoi, true
}

// transmitDataByte runs the transmit handshake: set data on the lines,
// release DAV (ready), wait NRFD high, assert DAV (valid), wait NDAC
// high (accepted).
func (h *Handler) transmitDataByte(b byte, last bool) (ok bool) {
	for i, line := range h.pins.Data {
		if b&(1<<uint(i)) != 0 {
			_ = line.Assert()
		} else {
			_ = line.Release()
		}
	}
	if h.pins.EOI != nil {
		if last {
			_ = h.pins.EOI.Assert()
		} else {
			_ = h.pins.EOI.Release()
		}
	}

	_ = h.pins.DAV.Release()
	if !h.waitWhileATN(func() bool { return !h.pins.NRFD.Read() }) {
		return false
	}

	_ = h.pins.DAV.Assert()
	if !h.waitWhileATN(func() bool { return !h.pins.NDAC.Read() }) {
		return false
	}

	_ = h.pins.DAV.Release()
	return true
}

// waitWhileATN polls cond until it is satisfied, aborting if ATN is
// released mid-wait (the controller abandoned the sequence).
func (h *Handler) waitWhileATN(cond func() bool) bool {
	for !cond() {
		if !h.pins.ATN.Read() {
			return false
		}
	}
	return true
}
