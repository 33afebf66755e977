// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ieee488

import (
	"log"
	"sync/atomic"
)

// Task must be called periodically, exactly as iecbus.Handler.Task, with
// IFC taking the role of iecbus's RESET line.
func (h *Handler) Task() {
	if !atomic.CompareAndSwapInt32(&h.inTask, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&h.inTask, 0)

	if h.pins.IFC != nil && h.pins.IFC.Read() {
		h.handleIFC()
		return
	}

	if atomicLoad(&h.flags)&FlagReset != 0 {
		h.handleIFC()
		atomicAndNot(&h.flags, FlagReset)
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

// handleIFC clears LISTENING/TALKING and all device state exactly like
// iecbus's RESET-line handler.
func (h *Handler) handleIFC() {
	log.Println("ieee488: IFC observed, clearing all bus and device state")
	atomic.StoreUint32(&h.flags, FlagReset)
	h.currentDevice = nil
	h.devs.Reset()
	h.releaseAll()
}

func (h *Handler) runListenTransfer() {
	e := h.currentEntry()
	if e == nil {
		atomicOr(&h.flags, FlagDone)
		return
	}

	for {
		if h.pins.ATN.Read() {
			atomicOr(&h.flags, FlagDone)
			return
		}
		b, eoi, ok := h.receiveDataByte()
		if !ok {
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
	}
}

func (h *Handler) runTalkTransfer() {
	e := h.currentEntry()
	if e == nil {
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
		if ok := h.transmitDataByte(b, last); !ok {
			atomicOr(&h.flags, FlagDone)
			return
		}
		if last {
			atomicOr(&h.flags, FlagDone)
			return
		}
	}
}
