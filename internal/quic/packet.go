// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// packetType identifies the kind of a QUIC packet, RFC 9000 Section 17.
type packetType byte

const (
	packetTypeInvalid packetType = iota
	packetTypeInitial
	packetType0RTT
	packetTypeHandshake
	packetTypeRetry
	packetType1RTT
	packetTypeVersionNegotiation
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "Initial"
	case packetType0RTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "Handshake"
	case packetTypeRetry:
		return "Retry"
	case packetType1RTT:
		return "1-RTT"
	case packetTypeVersionNegotiation:
		return "Version Negotiation"
	default:
		return "Invalid"
	}
}

// numberSpace identifies one of the three independent packet number spaces,
// RFC 9000 Section 12.3.
type numberSpace byte

const (
	initialSpace numberSpace = iota
	handshakeSpace
	appDataSpace
	numberSpaceCount
)

func (s numberSpace) String() string {
	switch s {
	case initialSpace:
		return "initial"
	case handshakeSpace:
		return "handshake"
	case appDataSpace:
		return "application data"
	default:
		return "invalid space"
	}
}

func spaceForPacketType(ptype packetType) numberSpace {
	switch ptype {
	case packetTypeInitial:
		return initialSpace
	case packetTypeHandshake:
		return handshakeSpace
	case packetType0RTT, packetType1RTT:
		return appDataSpace
	default:
		panic(fmt.Sprintf("quic: no number space for packet type %v", ptype))
	}
}

// localConnIDLen is the fixed length, in bytes, of connection IDs this
// endpoint issues. A fixed length lets short-header (1-RTT) packets be
// parsed without an external length table, at the cost of the
// per-connection-chosen lengths RFC 9000 otherwise permits.
const localConnIDLen = 8

// longPacket is the decoded form of an Initial, 0-RTT, Handshake, or Retry
// packet header plus its (still AEAD-protected, pre-decryption) payload.
type longPacket struct {
	ptype     packetType
	version   uint32
	num       packetNumber
	dstConnID []byte
	srcConnID []byte
	payload   []byte
}

// parsedPacket is the common decoded result of parsing any packet, long or
// short header, after header protection removal and packet number
// expansion but before AEAD payload decryption.
type parsedPacket struct {
	ptype     packetType
	version   uint32
	num       packetNumber
	dstConnID []byte
	srcConnID []byte
	payload   []byte // still AEAD-protected
}

// isLongHeader reports whether the first byte of a packet indicates a
// long header form (RFC 9000 Section 17.2).
func isLongHeader(b byte) bool {
	return b&0x80 != 0
}

// getPacketType returns the packet type encoded in a datagram's first
// packet, without removing header protection.
func getPacketType(b []byte) packetType {
	if len(b) == 0 {
		return packetTypeInvalid
	}
	if !isLongHeader(b[0]) {
		return packetType1RTT
	}
	if len(b) < 5 {
		return packetTypeInvalid
	}
	// Version 0 long headers are Version Negotiation packets.
	if b[1] == 0 && b[2] == 0 && b[3] == 0 && b[4] == 0 {
		return packetTypeVersionNegotiation
	}
	switch (b[0] >> 4) & 0x3 {
	case 0:
		return packetTypeInitial
	case 1:
		return packetType0RTT
	case 2:
		return packetTypeHandshake
	case 3:
		return packetTypeRetry
	}
	return packetTypeInvalid
}

// dstConnIDForDatagram extracts the destination connection ID of the first
// packet in a datagram, without removing header protection. For long
// headers the ID length is explicit on the wire; for short headers it is
// assumed to be localConnIDLen, the fixed length this endpoint issues.
func dstConnIDForDatagram(b []byte) ([]byte, int) {
	if len(b) == 0 {
		return nil, -1
	}
	if !isLongHeader(b[0]) {
		if len(b) < 1+localConnIDLen {
			return nil, -1
		}
		return b[1 : 1+localConnIDLen], 1 + localConnIDLen
	}
	if len(b) < 6 {
		return nil, -1
	}
	n := int(b[5])
	if len(b) < 6+n {
		return nil, -1
	}
	return b[6 : 6+n], 6 + n
}

func longHeaderPacketTypeBits(ptype packetType) byte {
	switch ptype {
	case packetTypeInitial:
		return 0x80 | 0x00<<4
	case packetType0RTT:
		return 0x80 | 0x01<<4
	case packetTypeHandshake:
		return 0x80 | 0x02<<4
	case packetTypeRetry:
		return 0x80 | 0x03<<4
	default:
		panic("quic: invalid long header packet type")
	}
}
