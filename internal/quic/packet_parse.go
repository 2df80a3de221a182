// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "encoding/binary"

// parseLongHeaderPacket removes header protection and AEAD-decrypts a
// single Initial, 0-RTT, Handshake, or Retry packet at the start of buf.
// It returns the decoded packet and the number of bytes of buf it
// occupied, or n = -1 on any parse or decryption failure (callers treat
// this identically: drop the packet silently, spec.md section 7).
func parseLongHeaderPacket(buf []byte, k keys, pnumMax packetNumber) (parsedPacket, int) {
	if len(buf) < 7 || !isLongHeader(buf[0]) {
		return parsedPacket{}, -1
	}
	ptype := getPacketType(buf)
	version := binary.BigEndian.Uint32(buf[1:5])
	pos := 5
	dstLen := int(buf[pos])
	pos++
	if pos+dstLen > len(buf) {
		return parsedPacket{}, -1
	}
	dstConnID := buf[pos : pos+dstLen]
	pos += dstLen
	if pos >= len(buf) {
		return parsedPacket{}, -1
	}
	srcLen := int(buf[pos])
	pos++
	if pos+srcLen > len(buf) {
		return parsedPacket{}, -1
	}
	srcConnID := buf[pos : pos+srcLen]
	pos += srcLen
	if ptype == packetTypeInitial {
		_, tn := consumeVarint(buf[pos:])
		if tn < 0 {
			return parsedPacket{}, -1
		}
		tokenLen, _ := consumeVarint(buf[pos:])
		pos += tn
		if pos+int(tokenLen) > len(buf) {
			return parsedPacket{}, -1
		}
		pos += int(tokenLen)
	}
	length, ln := consumeVarintInt64(buf[pos:])
	if ln < 0 {
		return parsedPacket{}, -1
	}
	pos += ln
	pnumFieldOff := pos
	if pnumFieldOff+4+16 > len(buf) {
		return parsedPacket{}, -1
	}
	if !k.isSet() {
		return parsedPacket{}, -1
	}
	mask, err := k.headerProtectionMask(buf[pnumFieldOff+4 : pnumFieldOff+4+16])
	if err != nil {
		return parsedPacket{}, -1
	}
	buf[0] ^= mask[0] & 0x0f
	pnumLen := int(buf[0]&0x3) + 1
	for i := 0; i < pnumLen; i++ {
		buf[pnumFieldOff+i] ^= mask[1+i]
	}
	if pnumFieldOff+int(length) > len(buf) || int(length) < pnumLen {
		return parsedPacket{}, -1
	}
	pnum := parsePacketNumber(buf[pnumFieldOff:], pnumLen, pnumMax)

	header := buf[:pnumFieldOff+pnumLen]
	ciphertext := buf[pnumFieldOff+pnumLen : pnumFieldOff+int(length)]
	plain, err := k.open(nil, header, pnum, ciphertext)
	if err != nil {
		return parsedPacket{}, -1
	}
	return parsedPacket{
		ptype:     ptype,
		version:   version,
		num:       pnum,
		dstConnID: dstConnID,
		srcConnID: srcConnID,
		payload:   plain,
	}, pnumFieldOff + int(length)
}

// parse1RTTPacket removes header protection and AEAD-decrypts a
// short-header (1-RTT) packet, which always extends to the end of buf.
func parse1RTTPacket(buf []byte, k keys, connIDLen int, pnumMax packetNumber) (parsedPacket, int) {
	if len(buf) < 1+connIDLen || isLongHeader(buf[0]) {
		return parsedPacket{}, -1
	}
	dstConnID := buf[1 : 1+connIDLen]
	pnumFieldOff := 1 + connIDLen
	if pnumFieldOff+4+16 > len(buf) {
		return parsedPacket{}, -1
	}
	if !k.isSet() {
		return parsedPacket{}, -1
	}
	mask, err := k.headerProtectionMask(buf[pnumFieldOff+4 : pnumFieldOff+4+16])
	if err != nil {
		return parsedPacket{}, -1
	}
	buf[0] ^= mask[0] & 0x1f
	pnumLen := int(buf[0]&0x3) + 1
	for i := 0; i < pnumLen; i++ {
		buf[pnumFieldOff+i] ^= mask[1+i]
	}
	pnum := parsePacketNumber(buf[pnumFieldOff:], pnumLen, pnumMax)
	header := buf[:pnumFieldOff+pnumLen]
	ciphertext := buf[pnumFieldOff+pnumLen:]
	plain, err := k.open(nil, header, pnum, ciphertext)
	if err != nil {
		return parsedPacket{}, -1
	}
	return parsedPacket{
		ptype:     packetType1RTT,
		num:       pnum,
		dstConnID: dstConnID,
		payload:   plain,
	}, len(buf)
}
