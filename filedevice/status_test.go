// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

import "testing"

func TestStatusOK(t *testing.T) {
	buf := make([]byte, 64)
	n := StatusOK(buf)
	if got, want := string(buf[:n]), "00,OK,00,00\r"; got != want {
		t.Fatalf("StatusOK() = %q, want %q", got, want)
	}
}

func TestStatusFileNotFound(t *testing.T) {
	buf := make([]byte, 64)
	n := StatusFileNotFound(buf)
	if got, want := string(buf[:n]), "62,FILE NOT FOUND,00,00\r"; got != want {
		t.Fatalf("StatusFileNotFound() = %q, want %q", got, want)
	}
}

func TestStatusDOSVersion(t *testing.T) {
	buf := make([]byte, 64)
	n := StatusDOSVersion(buf)
	if got, want := string(buf[:n]), "73,"+dosVersion+",00,00\r"; got != want {
		t.Fatalf("StatusDOSVersion() = %q, want %q", got, want)
	}
}

func TestFormatStatusTruncates(t *testing.T) {
	buf := make([]byte, 4)
	n := formatStatus(buf, CodeOK, "OK", 0, 0)
	if n != len(buf) {
		t.Fatalf("formatStatus() = %d, want %d (truncated to buf length)", n, len(buf))
	}
}
