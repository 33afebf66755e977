// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

import "fmt"

// DOS-style status codes, formatted as "<code>,<text>,<track>,<sector>"
// where code is the well-known CBM DOS error code (00 = OK, 62 = FILE NOT
// FOUND, 73 = DOS VERSION, ...).
const (
	CodeOK           = 0
	CodeFileNotFound = 62
	CodeWriteError   = 25
	CodeDOSVersion   = 73
)

// dosVersion is the identification string reported for a bare UI command.
const dosVersion = "CBM-BUS EMULATOR V1.0"

// formatStatus renders a DOS-style status line into buf and returns the
// length written, truncating rather than overflowing.
func formatStatus(buf []byte, code int, text string, track, sector int) int {
	s := fmt.Sprintf("%02d,%s,%02d,%02d\r", code, text, track, sector)
	n := copy(buf, s)
	return n
}

// StatusOK is the canonical "00,OK,00,00" status.
func StatusOK(buf []byte) int {
	return formatStatus(buf, CodeOK, "OK", 0, 0)
}

// StatusFileNotFound is the canonical "62,FILE NOT FOUND,00,00" status.
func StatusFileNotFound(buf []byte) int {
	return formatStatus(buf, CodeFileNotFound, "FILE NOT FOUND", 0, 0)
}

// StatusDOSVersion answers a bare UI command (no following digit): it
// re-synchronizes the command-channel status buffer to
// "73,<version string>,00,00".
func StatusDOSVersion(buf []byte) int {
	return formatStatus(buf, CodeDOSVersion, dosVersion, 0, 0)
}
