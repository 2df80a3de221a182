// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketNumberLengthGrowsWithGapFromLargestAcked(t *testing.T) {
	require.Equal(t, 1, packetNumberLength(10, 9))
	require.Equal(t, 2, packetNumberLength(200, 0))
	require.Equal(t, 3, packetNumberLength(1<<20, 0))
	require.Equal(t, 4, packetNumberLength(1<<24, 0))
}

func TestPacketNumberAppendAndParseRoundTrip(t *testing.T) {
	b := appendPacketNumber(nil, 1000, 990)
	pn := parsePacketNumber(b, len(b), 990)
	require.EqualValues(t, 1000, pn)
}

func TestExpandPacketNumberWithNoPriorAckedReturnsTruncatedVerbatim(t *testing.T) {
	require.EqualValues(t, 5, expandPacketNumber(5, 1, -1))
}

func TestExpandPacketNumberWrapsToNearestCandidate(t *testing.T) {
	// largestAcked=0x1FE with a 1-byte (8-bit) window, truncated=0x00 should
	// expand to 0x200, the candidate nearest to expectedPN=0x1FF.
	got := expandPacketNumber(0x00, 1, 0x1FE)
	require.EqualValues(t, 0x200, got)
}

func TestInitialPacketWriteParseRoundTrip(t *testing.T) {
	connID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientWrite, serverRead, err := deriveInitialKeys(connID, clientSide)
	require.NoError(t, err)

	var w packetWriter
	w.reset(1200)
	lp := longPacket{ptype: packetTypeInitial, version: 1, num: 0, dstConnID: connID, srcConnID: connID}
	w.startProtectedLongHeaderPacket(-1, lp)
	w.sent.ackEliciting = true
	require.True(t, pingFrame{}.write(&w))
	sent := w.finishProtectedLongHeaderPacket(-1, clientWrite, lp)
	require.NotNil(t, sent)

	datagram := w.datagram()
	require.True(t, isLongHeader(datagram[0]))
	require.Equal(t, packetTypeInitial, getPacketType(datagram))

	parsed, n := parseLongHeaderPacket(datagram, serverRead, -1)
	require.Equal(t, len(datagram), n)
	require.EqualValues(t, 0, parsed.num)
	require.Equal(t, connID, []byte(parsed.dstConnID))
	require.Equal(t, []byte{frameTypePing, frameTypePadding, frameTypePadding}, parsed.payload)
}

func TestInitialPacketParseRejectsTruncatedBuffer(t *testing.T) {
	_, n := parseLongHeaderPacket([]byte{0x80, 0, 0, 0, 1, 1, 2}, keys{}, -1)
	require.Equal(t, -1, n)
}

func TestInitialPacketFinishWithNoFramesAbandonsPacket(t *testing.T) {
	connID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientWrite, _, err := deriveInitialKeys(connID, clientSide)
	require.NoError(t, err)

	var w packetWriter
	w.reset(1200)
	lp := longPacket{ptype: packetTypeInitial, version: 1, num: 0, dstConnID: connID, srcConnID: connID}
	w.startProtectedLongHeaderPacket(-1, lp)
	sent := w.finishProtectedLongHeaderPacket(-1, clientWrite, lp)
	require.Nil(t, sent)
	require.Empty(t, w.datagram())
}

func TestShortHeaderPacketWriteParseRoundTrip(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	writeKeys, err := deriveKeysFromSecret(suiteAES128GCM, secret)
	require.NoError(t, err)
	readKeys, err := deriveKeysFromSecret(suiteAES128GCM, secret)
	require.NoError(t, err)

	connID := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	var w packetWriter
	w.reset(1200)
	w.start1RTTPacket(42, -1, connID)
	w.sent.ackEliciting = true
	require.True(t, pingFrame{}.write(&w))
	sent := w.finish1RTTPacket(42, -1, connID, writeKeys)
	require.NotNil(t, sent)

	datagram := w.datagram()
	require.False(t, isLongHeader(datagram[0]))

	parsed, n := parse1RTTPacket(datagram, readKeys, len(connID), -1)
	require.Equal(t, len(datagram), n)
	require.EqualValues(t, 42, parsed.num)
	require.Equal(t, connID, []byte(parsed.dstConnID))
	require.Equal(t, []byte{frameTypePing, frameTypePadding, frameTypePadding}, parsed.payload)
}

func TestShortHeaderPacketWithKeyPhaseSetIsProduced(t *testing.T) {
	secret := make([]byte, 32)
	writeKeys, err := deriveKeysFromSecret(suiteAES128GCM, secret)
	require.NoError(t, err)
	writeKeys.phase = true

	connID := []byte{1, 1, 1, 1, 1, 1, 1, 1}
	var w packetWriter
	w.reset(1200)
	w.start1RTTPacket(0, -1, connID)
	w.sent.ackEliciting = true
	pingFrame{}.write(&w)
	w.finish1RTTPacket(0, -1, connID, writeKeys)

	// finish1RTTPacket XORs bit 0x04 into the first byte before header
	// protection is applied; the wire byte has already had header
	// protection's 5 low bits scrambled, so this only checks that the
	// packet was produced (header protection is verified for correctness
	// by the round-trip test above).
	require.NotEmpty(t, w.datagram())
}
