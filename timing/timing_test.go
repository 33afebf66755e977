// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package timing

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func TestClockNowAdvances(t *testing.T) {
	c := NewClock()
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	if b <= a {
		t.Fatalf("Now() did not advance: a=%d b=%d", a, b)
	}
}

func TestElapsedWraparound(t *testing.T) {
	cases := []struct {
		since, now, want uint32
	}{
		{10, 20, 10},
		{0xFFFFFFF0, 10, 0x1A},
		{100, 100, 0},
	}
	for _, c := range cases {
		if got := Elapsed(c.since, c.now); got != c.want {
			t.Errorf("Elapsed(%d, %d) = %d, want %d", c.since, c.now, got, c.want)
		}
	}
}

func TestBusyWaitZero(t *testing.T) {
	start := time.Now()
	BusyWait(0)
	if time.Since(start) > 5*time.Millisecond {
		t.Fatalf("BusyWait(0) took too long")
	}
}

func TestDelayShort(t *testing.T) {
	start := time.Now()
	Delay(50 * physic.Microsecond)
	if d := time.Since(start); d < 40*time.Microsecond {
		t.Fatalf("Delay returned too early: %v", d)
	}
}

func TestScopedRunsFn(t *testing.T) {
	ran := false
	Scoped(func() { ran = true })
	if !ran {
		t.Fatal("Scoped did not run fn")
	}
}
