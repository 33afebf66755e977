// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package registry

import "testing"

type fakeDevice struct {
	resets int
}

func (f *fakeDevice) Begin()             {}
func (f *fakeDevice) Reset()             { f.resets++ }
func (f *fakeDevice) Task()              {}
func (f *fakeDevice) Listen(byte)        {}
func (f *fakeDevice) Talk(byte)          {}
func (f *fakeDevice) Unlisten()          {}
func (f *fakeDevice) Untalk()            {}
func (f *fakeDevice) CanRead() int8      { return 0 }
func (f *fakeDevice) CanWrite() int8     { return 0 }
func (f *fakeDevice) ReadByte() byte     { return 0 }
func (f *fakeDevice) Read([]byte) int    { return 0 }
func (f *fakeDevice) WriteByte(byte, bool) {}
func (f *fakeDevice) Write([]byte, bool) int { return 0 }

func TestAttachFindDetach(t *testing.T) {
	r := New()
	d := &fakeDevice{}
	if err := r.Attach(8, d); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if e := r.Find(8, false); e == nil || e.Device != d {
		t.Fatalf("Find(8) did not return the attached device")
	}
	if err := r.Attach(8, d); err == nil {
		t.Fatal("Attach did not reject a duplicate device number")
	}
	r.Detach(8)
	if e := r.Find(8, false); e != nil {
		t.Fatal("Find(8) returned an entry after Detach")
	}
}

func TestAttachOutOfRange(t *testing.T) {
	r := New()
	if err := r.Attach(-1, &fakeDevice{}); err == nil {
		t.Fatal("Attach(-1, ...) should fail")
	}
	if err := r.Attach(MaxDevices, &fakeDevice{}); err == nil {
		t.Fatal("Attach(MaxDevices, ...) should fail")
	}
}

func TestFindInactive(t *testing.T) {
	r := New()
	d := &fakeDevice{}
	if err := r.Attach(8, d); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	r.entries[8].Active = false
	if e := r.Find(8, false); e != nil {
		t.Fatal("Find(8, false) returned an inactive entry")
	}
	if e := r.Find(8, true); e == nil {
		t.Fatal("Find(8, true) should still return an inactive entry")
	}
}

func TestAllPreservesAttachOrder(t *testing.T) {
	r := New()
	_ = r.Attach(8, &fakeDevice{})
	_ = r.Attach(4, &fakeDevice{})
	_ = r.Attach(9, &fakeDevice{})
	want := []int{8, 4, 9}
	all := r.All()
	if len(all) != len(want) {
		t.Fatalf("All() returned %d entries, want %d", len(all), len(want))
	}
	for i, n := range want {
		if all[i].Number != n {
			t.Errorf("All()[%d].Number = %d, want %d", i, all[i].Number, n)
		}
	}
}

func TestResetClearsEveryDevice(t *testing.T) {
	r := New()
	d1, d2 := &fakeDevice{}, &fakeDevice{}
	_ = r.Attach(8, d1)
	_ = r.Attach(9, d2)
	r.Find(8, false).FLProtocol = Protocol{Loader: LoaderJiffyDOS, Request: RequestLoad}
	r.Reset()
	if d1.resets != 1 || d2.resets != 1 {
		t.Fatalf("Reset did not call Device.Reset on every entry: %d, %d", d1.resets, d2.resets)
	}
	if !r.Find(8, false).FLProtocol.IsNone() {
		t.Fatal("Reset did not clear FLProtocol")
	}
}

func TestEnableLoader(t *testing.T) {
	e := &Entry{}
	e.EnableLoader(LoaderJiffyDOS, true)
	if !e.LoaderEnabled(LoaderJiffyDOS) {
		t.Fatal("LoaderJiffyDOS should be enabled")
	}
	e.FLProtocol = Protocol{Loader: LoaderJiffyDOS, Request: RequestLoad}
	e.EnableLoader(LoaderEpyx, true)
	if !e.FLProtocol.IsNone() {
		t.Fatal("EnableLoader should cancel any in-flight fast-load protocol")
	}
	e.EnableLoader(LoaderJiffyDOS, false)
	if e.LoaderEnabled(LoaderJiffyDOS) {
		t.Fatal("LoaderJiffyDOS should be disabled")
	}
}

func TestLoaderString(t *testing.T) {
	if got := LoaderJiffyDOS.String(); got != "JiffyDOS" {
		t.Errorf("LoaderJiffyDOS.String() = %q", got)
	}
	if got := Loader(200).String(); got != "unknown loader" {
		t.Errorf("Loader(200).String() = %q", got)
	}
}
