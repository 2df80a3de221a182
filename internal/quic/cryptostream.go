// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "sort"

// cryptoStream is a reliable, ordered byte stream carrying TLS handshake
// messages in one packet number space, RFC 9001 Section 4. Unlike an
// application Stream it has no flow control (the handshake predates
// transport parameter negotiation) but is bounded by maxCryptoBuffer to
// cap memory an unvalidated peer can force us to hold, spec.md's Open
// Question on crypto buffering.
type cryptoStream struct {
	// send side
	out       []byte
	sendOff   int64
	ackOff    int64
	writeOff  int64

	// receive side
	chunks  []recvChunk
	readOff int64
	maxBuf  int64
}

func (c *cryptoStream) init(maxBuf int64) { c.maxBuf = maxBuf }

// write appends handshake bytes to send.
func (c *cryptoStream) write(b []byte) {
	c.out = append(c.out, b...)
	c.writeOff += int64(len(b))
}

// appendFrame writes a CRYPTO frame for pending data, if any fits.
func (c *cryptoStream) appendFrame(w *packetWriter) bool {
	bufStart := c.writeOff - int64(len(c.out))
	off := c.sendOff
	data := c.out[off-bufStart:]
	if len(data) == 0 {
		return false
	}
	f := cryptoFrame{off: off, data: data}
	if !f.write(w) {
		// Try a smaller chunk that fits the remaining packet space.
		room := w.remaining()
		if room <= 0 {
			return false
		}
		if room > len(data) {
			room = len(data)
		}
		f = cryptoFrame{off: off, data: data[:room]}
		if !f.write(w) {
			return false
		}
	}
	c.sendOff += int64(len(f.data))
	return true
}

// ackRange advances ackOff on a contiguous acknowledgement, freeing buffer.
func (c *cryptoStream) ackRange(start, end int64) {
	if start != c.ackOff {
		return
	}
	c.ackOff = end
	bufStart := c.writeOff - int64(len(c.out))
	if c.ackOff > bufStart {
		c.out = c.out[c.ackOff-bufStart:]
	}
}

// lost re-queues [start,end) for retransmission.
func (c *cryptoStream) lost(start, end int64) {
	if start < c.sendOff {
		c.sendOff = start
	}
}

// handleCryptoFrame reassembles received handshake bytes, returning the
// newly-available contiguous prefix (if any) for the TLS layer to consume,
// or an error if received crypto data would extend more than maxBuf bytes
// past the prefix already delivered in order.
func (c *cryptoStream) handleCryptoFrame(off int64, data []byte) ([]byte, error) {
	end := off + int64(len(data))
	if end-c.readOff > c.maxBuf {
		return nil, newError(errCryptoBufferExceeded, "crypto stream buffer exceeded")
	}
	if end <= c.readOff || len(data) == 0 {
		return nil, nil
	}
	if off < c.readOff {
		data = data[c.readOff-off:]
		off = c.readOff
	}
	c.chunks = append(c.chunks, recvChunk{off: off, data: data})
	sort.Slice(c.chunks, func(i, j int) bool { return c.chunks[i].off < c.chunks[j].off })

	var out []byte
	for len(c.chunks) > 0 && c.chunks[0].off == c.readOff {
		out = append(out, c.chunks[0].data...)
		c.readOff += int64(len(c.chunks[0].data))
		c.chunks = c.chunks[1:]
	}
	return out, nil
}
