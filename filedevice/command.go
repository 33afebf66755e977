// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

import (
	"github.com/cbm-bus/iecbus/registry"
)

// runCommand executes a fully-accumulated channel-15 command, recognizing
// the CBM DOS conventions M-R, M-W, M-E, and a bare UI.
//
// It reports true if the command was handled here (and must not be
// forwarded to fd.Execute).
func (a *Adapter) runCommand(cmd []byte) bool {
	switch {
	case len(cmd) >= 3 && cmd[0] == 'M' && cmd[1] == '-' && cmd[2] == 'W':
		a.handleMW(cmd[3:])
		return true
	case len(cmd) >= 3 && cmd[0] == 'M' && cmd[1] == '-' && cmd[2] == 'R':
		return a.handleMR(cmd[3:])
	case len(cmd) >= 3 && cmd[0] == 'M' && cmd[1] == '-' && cmd[2] == 'E':
		a.handleME(cmd[3:])
		return true
	case len(cmd) >= 2 && cmd[0] == 'U' && cmd[1] == 'I' && (len(cmd) == 2 || !isDigit(cmd[2])):
		a.statusLen = StatusDOSVersion(a.statusBuf[:])
		a.statusPos = 0
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// handleMW feeds an M-W (memory write) message, "M-W <lo> <hi> <len>
// <bytes...>", into the fast-loader detector.
func (a *Adapter) handleMW(args []byte) {
	if a.detector == nil || len(args) < 3 {
		return
	}
	addr := uint16(args[0]) | uint16(args[1])<<8
	n := int(args[2])
	payload := args[3:]
	if n < len(payload) {
		payload = payload[:n]
	}
	a.detector.ObserveMW(addr, payload)
}

// handleMR serves an M-R (memory read). A two-byte read of exactly $FFFE
// is Action Replay 6's drive-identification probe: answer it directly
// with the "1581" reply rather than reaching fd.Execute.
func (a *Adapter) handleMR(args []byte) bool {
	if len(args) < 3 {
		return true
	}
	addr := uint16(args[0]) | uint16(args[1])<<8
	length := args[2]
	if addr == 0xFFFE && length == 2 && a.entry != nil && a.entry.LoaderEnabled(registry.LoaderAR6) {
		a.statusLen = copy(a.statusBuf[:], []byte{3, 0})
		a.statusPos = 0
		return true
	}
	return false
}

// handleME dispatches an M-E (memory execute). An entry address matching
// the fast-loader detector's armed signature triggers a fast-load
// request for the detected loader and kind.
func (a *Adapter) handleME(args []byte) {
	if a.detector == nil || a.entry == nil || a.requester == nil || len(args) < 2 {
		return
	}
	addr := uint16(args[0]) | uint16(args[1])<<8
	loader, kind, ok := a.detector.ObserveME(addr)
	if !ok {
		return
	}
	if !a.entry.LoaderEnabled(loader) {
		return
	}
	a.requester.FastLoadRequest(a.entry, loader, kind)
}
