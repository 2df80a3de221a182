// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "encoding/binary"

// packetWriter assembles a single UDP datagram, possibly coalescing
// multiple QUIC packets of different number spaces (spec.md section 4.9).
// It is reused across datagrams; reset begins a new one.
type packetWriter struct {
	buf     []byte
	maxSize int

	// State for the packet currently under construction.
	pktStart     int // offset in buf of the packet's first byte
	payloadStart int // offset in buf where frame payload begins
	lengthOff    int // offset of the reserved 2-byte length varint (long headers only)
	pnumOff      int // offset of the packet number field
	pnumLen      int
	isLong       bool

	sent sentPacket // accumulating metadata for the packet under construction
}

// reset prepares w to build a new datagram of at most maxSize bytes.
func (w *packetWriter) reset(maxSize int) {
	if cap(w.buf) < maxSize {
		w.buf = make([]byte, 0, maxSize)
	} else {
		w.buf = w.buf[:0]
	}
	w.maxSize = maxSize
	w.sent = sentPacket{}
}

// remaining returns the number of bytes available for additional frames in
// the packet currently under construction, reserving room for the AEAD tag
// that finish*Packet will add.
func (w *packetWriter) remaining() int {
	r := w.maxSize - len(w.buf) - aeadTagLength
	if r < 0 {
		return 0
	}
	return r
}

// payload returns the frame bytes written to the current packet so far.
func (w *packetWriter) payload() []byte {
	return w.buf[w.payloadStart:]
}

// abandonPacket discards everything written for the current packet,
// reverting to the state before the matching start*Packet call.
func (w *packetWriter) abandonPacket() {
	w.buf = w.buf[:w.pktStart]
	w.sent = sentPacket{}
}

// startProtectedLongHeaderPacket begins an Initial, 0-RTT, Handshake, or
// Retry packet with AEAD and header protection to be applied by the
// matching finishProtectedLongHeaderPacket call.
func (w *packetWriter) startProtectedLongHeaderPacket(pnumMaxAcked packetNumber, p longPacket) {
	w.pktStart = len(w.buf)
	w.sent = sentPacket{num: p.num}
	w.isLong = true

	pnumLen := packetNumberLength(p.num, pnumMaxAcked)
	b := w.buf
	b = append(b, longHeaderPacketTypeBits(p.ptype)|byte(pnumLen-1))
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], p.version)
	b = append(b, verBuf[:]...)
	b = append(b, byte(len(p.dstConnID)))
	b = append(b, p.dstConnID...)
	b = append(b, byte(len(p.srcConnID)))
	b = append(b, p.srcConnID...)
	if p.ptype == packetTypeInitial {
		b = appendVarint(b, 0) // token length: this endpoint never issues retry tokens
	}
	w.lengthOff = len(b)
	b = append(b, 0, 0) // placeholder, 2-byte varint length form
	w.pnumOff = len(b)
	w.pnumLen = pnumLen
	b = appendPacketNumber(b, p.num, pnumMaxAcked)
	w.payloadStart = len(b)
	w.buf = b
}

// finishProtectedLongHeaderPacket applies AEAD and header protection and
// returns the sentPacket record, or nil if no frames were written.
func (w *packetWriter) finishProtectedLongHeaderPacket(pnumMaxAcked packetNumber, k keys, p longPacket) *sentPacket {
	payload := w.buf[w.payloadStart:]
	if len(payload) == 0 {
		w.abandonPacket()
		return nil
	}
	// Ensure the sampled region exists: pn offset + 4 + 16 bytes.
	for w.pnumOff+4+16 > len(w.buf)+aeadTagLength {
		w.buf = append(w.buf, frameTypePadding)
		payload = w.buf[w.payloadStart:]
	}

	length := w.pnumLen + len(payload) + aeadTagLength
	w.buf[w.lengthOff] = 0x40 | byte(length>>8)
	w.buf[w.lengthOff+1] = byte(length)

	header := append([]byte(nil), w.buf[w.pktStart:w.payloadStart]...)
	sealed := k.seal(w.buf[:w.payloadStart], header, p.num, payload)
	w.buf = sealed

	sampleOff := w.pnumOff + 4
	mask, err := k.headerProtectionMask(w.buf[sampleOff : sampleOff+16])
	if err == nil {
		applyHeaderProtection(w.buf[w.pktStart:], w.pnumOff-w.pktStart, w.pnumLen, mask)
	}

	sent := w.sent
	sent.size = len(w.buf) - w.pktStart
	sent.inFlight = sent.inFlight || sent.ackEliciting
	w.sent = sentPacket{}
	return &sent
}

// start1RTTPacket begins a short-header (1-RTT) packet. dstConnID must be
// exactly localConnIDLen bytes; the packet extends to the end of the
// datagram, so it must be the last packet coalesced into it.
func (w *packetWriter) start1RTTPacket(num, pnumMaxAcked packetNumber, dstConnID []byte) {
	w.pktStart = len(w.buf)
	w.sent = sentPacket{num: num}
	w.isLong = false

	pnumLen := packetNumberLength(num, pnumMaxAcked)
	b := w.buf
	b = append(b, 0x40|byte(pnumLen-1)) // header form=0, fixed bit=1, spin/reserved/phase=0
	b = append(b, dstConnID...)
	w.pnumOff = len(b)
	w.pnumLen = pnumLen
	b = appendPacketNumber(b, num, pnumMaxAcked)
	w.payloadStart = len(b)
	w.buf = b
}

// appendPaddingTo pads the packet under construction so the final datagram
// (after AEAD expansion) reaches at least size bytes. Used to satisfy the
// 1200-byte minimum client Initial datagram requirement when the Initial
// itself doesn't fill it, by padding a coalesced 1-RTT packet instead.
func (w *packetWriter) appendPaddingTo(size int) {
	need := size - aeadTagLength - len(w.buf)
	for i := 0; i < need; i++ {
		w.buf = append(w.buf, frameTypePadding)
	}
}

// finish1RTTPacket applies header protection and AEAD, including the key
// phase bit carried by k, and returns the sentPacket record, or nil if no
// frames were written and the packet does not need padding.
func (w *packetWriter) finish1RTTPacket(num, pnumMaxAcked packetNumber, dstConnID []byte, k keys) *sentPacket {
	payload := w.buf[w.payloadStart:]
	if len(payload) == 0 {
		w.abandonPacket()
		return nil
	}
	if k.phase {
		w.buf[w.pktStart] ^= 0x04
	}
	for w.pnumOff+4+16 > len(w.buf)+aeadTagLength {
		w.buf = append(w.buf, frameTypePadding)
		payload = w.buf[w.payloadStart:]
	}

	header := append([]byte(nil), w.buf[w.pktStart:w.payloadStart]...)
	sealed := k.seal(w.buf[:w.payloadStart], header, num, payload)
	w.buf = sealed

	sampleOff := w.pnumOff + 4
	mask, err := k.headerProtectionMask(w.buf[sampleOff : sampleOff+16])
	if err == nil {
		applyHeaderProtection(w.buf[w.pktStart:], w.pnumOff-w.pktStart, w.pnumLen, mask)
	}

	sent := w.sent
	sent.size = len(w.buf) - w.pktStart
	sent.inFlight = sent.inFlight || sent.ackEliciting
	w.sent = sentPacket{}
	return &sent
}

// datagram returns the completed datagram bytes.
func (w *packetWriter) datagram() []byte { return w.buf }

// appendAckFrame appends an ACK frame built from seen/delay, recording
// that this packet acknowledged up through seen's largest range.
func (w *packetWriter) appendAckFrame(seen []ackRange, delay uint64) bool {
	return ackFrame{ranges: seen, delay: delay}.write(w)
}

// appendPingFrame appends a PING frame.
func (w *packetWriter) appendPingFrame() bool {
	return pingFrame{}.write(w)
}
