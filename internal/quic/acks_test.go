// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

func TestAckStateMergesContiguousRanges(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	a.receive(now, 2, true)
	a.receive(now, 3, true)

	want := []ackRange{{start: 1, end: 3}}
	if diff := deep.Equal(a.ranges, want); diff != nil {
		t.Errorf("merged ranges differ: %v", diff)
	}
	require.Equal(t, packetNumber(3), a.largestSeen())
}

func TestAckStateGapRequestsImmediateAck(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	require.False(t, a.shouldSendAck(now), "single packet below the eliciting threshold")

	a.receive(now, 5, true) // a gap: 2,3,4 are missing
	require.True(t, a.shouldSendAck(now), "a gap must trigger an immediate ACK")
}

func TestAckStateEveryOtherElicitingPacket(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	require.False(t, a.shouldSendAck(now))
	a.receive(now, 2, true)
	require.True(t, a.shouldSendAck(now), "every N-th ack-eliciting packet must trigger an ACK")
}

func TestAckStateMaxAckDelayTriggersAck(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	require.False(t, a.shouldSendAck(now.Add(24*time.Millisecond)))
	require.True(t, a.shouldSendAck(now.Add(25*time.Millisecond)))
}

func TestAckStateSentAckClearsPendingState(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	a.receive(now, 2, true)
	require.True(t, a.shouldSendAck(now))
	a.sentAck()
	require.False(t, a.shouldSendAck(now))
}

func TestAckStateRangeCardinalityBounded(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	for i := 0; i < defaultMaxAckRanges+10; i++ {
		a.receive(now, packetNumber(i*2), false) // every-other packet number: no merging
	}
	require.LessOrEqual(t, len(a.ranges), defaultMaxAckRanges)
}

func TestAckStateAcksToSendOrdersLargestFirst(t *testing.T) {
	a := newAckState(25 * time.Millisecond)
	now := time.Now()
	a.receive(now, 1, true)
	a.receive(now, 10, true)
	seen, _ := a.acksToSend(now)
	require.Len(t, seen, 2)
	require.Equal(t, packetNumber(10), seen[0].start)
	require.Equal(t, packetNumber(1), seen[1].start)
}
