// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fastload

import (
	"testing"

	"github.com/cbm-bus/iecbus/registry"
)

func testSignature() Signature {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	var crc uint16
	for _, b := range payload {
		crc = crc16(crc, b)
	}
	return Signature{
		Loader:       registry.LoaderJiffyDOS,
		Kind:         registry.RequestLoad,
		Address:      0x0500,
		Length:       uint16(len(payload)),
		CRC:          crc,
		EntryAddress: 0x0500,
	}
}

func TestDetectorMatchesOnCompleteUpload(t *testing.T) {
	sig := testSignature()
	d := NewDetectorWithSignatures([]Signature{sig})

	d.ObserveMW(sig.Address, []byte{0x01, 0x02, 0x03, 0x04})
	loader, kind, ok := d.ObserveME(sig.EntryAddress)
	if !ok {
		t.Fatal("ObserveME did not report a match after a matching upload")
	}
	if loader != sig.Loader || kind != sig.Kind {
		t.Fatalf("ObserveME returned (%v, %v), want (%v, %v)", loader, kind, sig.Loader, sig.Kind)
	}
}

func TestDetectorMatchRequiresWholeUpload(t *testing.T) {
	sig := testSignature()
	d := NewDetectorWithSignatures([]Signature{sig})

	d.ObserveMW(sig.Address, []byte{0x01, 0x02})
	if _, _, ok := d.ObserveME(sig.EntryAddress); ok {
		t.Fatal("ObserveME matched on a partial upload")
	}
}

func TestDetectorResetsOnCRCMismatch(t *testing.T) {
	sig := testSignature()
	d := NewDetectorWithSignatures([]Signature{sig})

	d.ObserveMW(sig.Address, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, _, ok := d.ObserveME(sig.EntryAddress); ok {
		t.Fatal("ObserveME matched after a CRC-mismatched upload")
	}
}

func TestDetectorResetsOnWrongAddress(t *testing.T) {
	sig := testSignature()
	d := NewDetectorWithSignatures([]Signature{sig})

	d.ObserveMW(sig.Address+1, []byte{0x01, 0x02, 0x03, 0x04})
	if _, _, ok := d.ObserveME(sig.EntryAddress); ok {
		t.Fatal("ObserveME matched an upload to a different address")
	}
}

func TestDetectorResetClearsMatch(t *testing.T) {
	sig := testSignature()
	d := NewDetectorWithSignatures([]Signature{sig})

	d.ObserveMW(sig.Address, []byte{0x01, 0x02, 0x03, 0x04})
	d.Reset()
	if _, _, ok := d.ObserveME(sig.EntryAddress); ok {
		t.Fatal("ObserveME matched after Reset cleared the upload state")
	}
}

func TestRequestTimeoutPerLoader(t *testing.T) {
	if got := RequestTimeout(registry.LoaderFC3, registry.RequestLoad); got != 20_000_000 {
		t.Errorf("RequestTimeout(FC3) = %v, want 20ms", got)
	}
	if got := RequestTimeout(registry.LoaderDolphinDOS, registry.RequestLoad); got != 500_000 {
		t.Errorf("RequestTimeout(DolphinDOS) = %v, want 500us", got)
	}
	if got := RequestTimeout(registry.LoaderJiffyDOS, registry.RequestLoad); got != 200_000 {
		t.Errorf("RequestTimeout(JiffyDOS) = %v, want 200us", got)
	}
}
