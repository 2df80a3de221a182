// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketTypeString(t *testing.T) {
	require.Equal(t, "Initial", packetTypeInitial.String())
	require.Equal(t, "0-RTT", packetType0RTT.String())
	require.Equal(t, "Handshake", packetTypeHandshake.String())
	require.Equal(t, "Retry", packetTypeRetry.String())
	require.Equal(t, "1-RTT", packetType1RTT.String())
	require.Equal(t, "Version Negotiation", packetTypeVersionNegotiation.String())
	require.Equal(t, "Invalid", packetTypeInvalid.String())
}

func TestSpaceForPacketType(t *testing.T) {
	require.Equal(t, initialSpace, spaceForPacketType(packetTypeInitial))
	require.Equal(t, handshakeSpace, spaceForPacketType(packetTypeHandshake))
	require.Equal(t, appDataSpace, spaceForPacketType(packetType0RTT))
	require.Equal(t, appDataSpace, spaceForPacketType(packetType1RTT))
}

func TestSpaceForPacketTypePanicsOnRetry(t *testing.T) {
	require.Panics(t, func() { spaceForPacketType(packetTypeRetry) })
}

func TestIsLongHeader(t *testing.T) {
	require.True(t, isLongHeader(0x80))
	require.True(t, isLongHeader(0xc3))
	require.False(t, isLongHeader(0x40))
	require.False(t, isLongHeader(0x00))
}

func TestGetPacketTypeShortHeaderIsAlways1RTT(t *testing.T) {
	require.Equal(t, packetType1RTT, getPacketType([]byte{0x40, 1, 2, 3}))
}

func TestGetPacketTypeEmptyIsInvalid(t *testing.T) {
	require.Equal(t, packetTypeInvalid, getPacketType(nil))
}

func TestGetPacketTypeTooShortLongHeaderIsInvalid(t *testing.T) {
	require.Equal(t, packetTypeInvalid, getPacketType([]byte{0x80, 1, 2}))
}

func TestGetPacketTypeVersionZeroIsVersionNegotiation(t *testing.T) {
	b := []byte{0x80, 0, 0, 0, 0}
	require.Equal(t, packetTypeVersionNegotiation, getPacketType(b))
}

func TestGetPacketTypeLongHeaderBitsSelectType(t *testing.T) {
	mk := func(bits byte) []byte { return []byte{0x80 | bits<<4, 1, 0, 0, 1} }
	require.Equal(t, packetTypeInitial, getPacketType(mk(0)))
	require.Equal(t, packetType0RTT, getPacketType(mk(1)))
	require.Equal(t, packetTypeHandshake, getPacketType(mk(2)))
	require.Equal(t, packetTypeRetry, getPacketType(mk(3)))
}

func TestDstConnIDForDatagramShortHeaderUsesFixedLength(t *testing.T) {
	b := make([]byte, 1+localConnIDLen+5)
	b[0] = 0x40
	for i := 0; i < localConnIDLen; i++ {
		b[1+i] = byte(i + 1)
	}
	id, n := dstConnIDForDatagram(b)
	require.Equal(t, localConnIDLen, len(id))
	require.Equal(t, 1+localConnIDLen, n)
	require.Equal(t, byte(1), id[0])
}

func TestDstConnIDForDatagramShortHeaderTooShortIsRejected(t *testing.T) {
	id, n := dstConnIDForDatagram([]byte{0x40, 1, 2})
	require.Nil(t, id)
	require.Equal(t, -1, n)
}

func TestDstConnIDForDatagramLongHeaderUsesExplicitLength(t *testing.T) {
	b := []byte{0x80, 1, 0, 0, 1, 4, 0xaa, 0xbb, 0xcc, 0xdd, 0xff}
	id, n := dstConnIDForDatagram(b)
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, id)
	require.Equal(t, 10, n)
}

func TestDstConnIDForDatagramLongHeaderTruncatedIsRejected(t *testing.T) {
	b := []byte{0x80, 1, 0, 0, 1, 10, 0xaa}
	id, n := dstConnIDForDatagram(b)
	require.Nil(t, id)
	require.Equal(t, -1, n)
}

func TestDstConnIDForDatagramEmptyIsRejected(t *testing.T) {
	id, n := dstConnIDForDatagram(nil)
	require.Nil(t, id)
	require.Equal(t, -1, n)
}

func TestLongHeaderPacketTypeBitsRoundTripsThroughGetPacketType(t *testing.T) {
	for _, pt := range []packetType{packetTypeInitial, packetType0RTT, packetTypeHandshake, packetTypeRetry} {
		b := []byte{longHeaderPacketTypeBits(pt), 1, 0, 0, 1}
		require.Equal(t, pt, getPacketType(b), "packet type %v round-trips", pt)
	}
}

func TestLongHeaderPacketTypeBitsPanicsOnShortHeaderType(t *testing.T) {
	require.Panics(t, func() { longHeaderPacketTypeBits(packetType1RTT) })
}
