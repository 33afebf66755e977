// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fastload

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func TestSplitJoinPairsRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		pairs := splitPairs(byte(b))
		got := joinPairs(pairs)
		if got != byte(b) {
			t.Fatalf("joinPairs(splitPairs(%#02x)) = %#02x", b, got)
		}
	}
}

func TestSplitPairsBitAssignment(t *testing.T) {
	pairs := splitPairs(0x1B) // 0b00_01_10_11
	want := [4]bitPair{0x03, 0x02, 0x01, 0x00}
	if pairs != want {
		t.Fatalf("splitPairs(0x1b) = %v, want %v", pairs, want)
	}
}

func TestMicrosecondsFromNow(t *testing.T) {
	now := time.Now()
	got := microsecondsFromNow(now, 10*physic.Microsecond)
	want := now.Add(10 * time.Microsecond)
	if !got.Equal(want) {
		t.Fatalf("microsecondsFromNow = %v, want %v", got, want)
	}
}
