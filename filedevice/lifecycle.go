// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

// Begin has nothing to do until a real channel is opened; the underlying
// device.FileDevice gets no separate begin hook of its own.
func (a *Adapter) Begin() {}

// Reset drops all buffers, clears the selected channel, and cancels any
// fast-load protocol detection in progress.
func (a *Adapter) Reset() {
	a.writeBuffer = a.writeBuffer[:0]
	for i := range a.readBufferLen {
		a.readBufferLen[i] = 0
		a.readDone[i] = false
	}
	a.statusLen, a.statusPos = 0, 0
	a.channel = ChannelNone
	a.opening = false
	a.pendingCmd = cmdNone
	if a.detector != nil {
		a.detector.Reset()
	}
}

// Task runs any command queued by Listen/Unlisten from the bus handler's
// own Task loop rather than its time-critical ATN/handshake path, so disk
// I/O that may take many milliseconds cannot disturb bus timing.
func (a *Adapter) Task() {
	a.runPending()
}

func (a *Adapter) runPending() {
	cmd, ch, buf := a.pendingCmd, a.pendingChannel, a.writeBuffer
	if cmd == cmdNone {
		return
	}
	a.pendingCmd = cmdNone

	switch cmd {
	case cmdOpen:
		ok := a.fd.Open(ch, string(buf))
		if ch < len(a.readBufferLen) {
			if !ok {
				a.readBufferLen[ch] = openFailed
			} else {
				a.readBufferLen[ch] = 0
			}
			a.readDone[ch] = false
		}
	case cmdClose:
		a.fd.Close(ch)
		if ch < len(a.readBufferLen) {
			a.readBufferLen[ch] = 0
			a.readDone[ch] = false
		}
	case cmdExec:
		if !a.runCommand(buf) {
			if !a.fd.Execute(string(buf)) {
				a.statusLen = StatusFileNotFound(a.statusBuf[:])
				a.statusPos = 0
			}
		}
	case cmdWrite:
		a.flushWrite(ch, true)
	}
	a.writeBuffer = a.writeBuffer[:0]
}

// Listen implements LISTEN rows.
func (a *Adapter) Listen(secondary byte) {
	switch {
	case secondary&0xF0 == secondaryOpen:
		a.opening = true
		a.writeBuffer = a.writeBuffer[:0]
		a.channel = int(secondary & 0x0F)
	case secondary&0xF0 == secondaryClose:
		a.pendingChannel = int(secondary & 0x0F)
		a.pendingCmd = cmdClose
	case secondary&0xF0 == secondaryData:
		a.channel = int(secondary & 0x0F)
		a.writeBuffer = a.writeBuffer[:0]
	}
}

// Talk sets the channel to read from, and handles the FC3-induced
// TALK/CLOSE special case where secondary 0xE0 closes the channel
// instead of opening it for reading.
func (a *Adapter) Talk(secondary byte) {
	a.channel = int(secondary & 0x0F)
	if secondary&0xF0 == secondaryClose {
		a.pendingChannel = a.channel
		a.pendingCmd = cmdClose
	}
}

// Unlisten implements UNLISTEN rows.
func (a *Adapter) Unlisten() {
	switch {
	case a.opening:
		a.opening = false
		a.pendingChannel = a.channel
		a.pendingCmd = cmdOpen
	case a.channel == 15:
		a.pendingChannel = 15
		a.pendingCmd = cmdExec
	case a.channel != ChannelNone:
		a.pendingChannel = a.channel
		a.pendingCmd = cmdWrite
	}
}

// Untalk clears the selected channel.
func (a *Adapter) Untalk() {
	a.channel = ChannelNone
}
