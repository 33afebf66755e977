// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package filedevice

import "github.com/cbm-bus/iecbus/device"

// refillReadBuffer keeps a two-byte lookahead per data channel filled
// lazily so the bus handler's transmit path can signal EOI one byte in
// advance.
func (a *Adapter) refillReadBuffer(ch int) {
	if a.readBufferLen[ch] == openFailed || a.readBufferLen[ch] >= 2 || a.readDone[ch] {
		return
	}
	for a.readBufferLen[ch] < 2 {
		var tmp [1]byte
		n, eoi := a.fd.ReadChannel(ch, tmp[:])
		if n == 0 {
			a.readEOI[ch] = eoi
			a.readDone[ch] = true
			return
		}
		a.readBuffer[ch][a.readBufferLen[ch]] = tmp[0]
		a.readBufferLen[ch]++
		a.readEOI[ch] = eoi
		if eoi {
			return
		}
	}
}

// refillStatus populates the command-channel status buffer from
// fd.GetStatus on first read, and again once the buffer has been
// exhausted.
func (a *Adapter) refillStatus() {
	if a.statusPos < a.statusLen {
		return
	}
	a.statusLen = a.fd.GetStatus(a.statusBuf[:])
	a.statusPos = 0
}

// CanRead implements device.Device: <0 not yet known, 0 no data (error or
// EOF), >=1 that many bytes available.
func (a *Adapter) CanRead() int8 {
	switch {
	case a.channel == ChannelNone:
		return 0
	case a.channel == 15:
		a.refillStatus()
		remaining := a.statusLen - a.statusPos
		if remaining <= 0 {
			return 0
		}
		if remaining == 1 {
			return 1
		}
		return 2
	default:
		ch := a.channel
		if a.readBufferLen[ch] == openFailed {
			return 0
		}
		if a.readBufferLen[ch] == 0 {
			a.refillReadBuffer(ch)
		}
		return int8(a.readBufferLen[ch])
	}
}

// CanWrite implements device.Device.
func (a *Adapter) CanWrite() int8 {
	if a.channel == ChannelNone {
		return 0
	}
	if a.channel != 15 && a.readBufferLen[a.channel] == openFailed {
		return 0
	}
	return 1
}

// ReadByte implements device.Device: only called after CanRead>0.
func (a *Adapter) ReadByte() byte {
	if a.channel == 15 {
		b := a.statusBuf[a.statusPos]
		a.statusPos++
		return b
	}
	ch := a.channel
	b := a.readBuffer[ch][0]
	a.readBuffer[ch][0] = a.readBuffer[ch][1]
	a.readBufferLen[ch]--
	if a.readBufferLen[ch] < 0 {
		a.readBufferLen[ch] = 0
	}
	a.refillReadBuffer(ch)
	return b
}

// Read is the bulk counterpart, falling back to device.DefaultRead.
func (a *Adapter) Read(buf []byte) int {
	return device.DefaultRead(a, buf)
}

// WriteByte implements device.Device: accumulates into the write buffer,
// flushing early on overflow for plain data channels.
func (a *Adapter) WriteByte(b byte, eoi bool) {
	a.writeBuffer = append(a.writeBuffer, b)
	if a.opening || a.channel == 15 {
		return
	}
	if len(a.writeBuffer) >= a.writeBufferSize || eoi {
		a.flushWrite(a.channel, eoi)
	}
}

// Write is the bulk counterpart, falling back to device.DefaultWrite.
func (a *Adapter) Write(buf []byte, eoi bool) int {
	return device.DefaultWrite(a, buf, eoi)
}

// flushWrite hands the buffer to fd.WriteChannel. If it accepts only a
// prefix, the remainder shifts down and the next flush retries it.
func (a *Adapter) flushWrite(ch int, eoi bool) {
	if len(a.writeBuffer) == 0 {
		return
	}
	n := a.fd.WriteChannel(ch, a.writeBuffer, eoi)
	if n >= len(a.writeBuffer) {
		a.writeBuffer = a.writeBuffer[:0]
		return
	}
	a.writeBuffer = append(a.writeBuffer[:0], a.writeBuffer[n:]...)
}
