// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStreamsState(side connSide) *streamsState {
	c := &Conn{side: side, msgc: make(chan any, 16), donec: make(chan struct{})}
	return newStreamsState(c, 2, 2, 2, 2)
}

func TestStreamsNewLocalStreamAssignsSequentialIDs(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	s1, err := ss.newLocalStream(true)
	require.NoError(t, err)
	s2, err := ss.newLocalStream(true)
	require.NoError(t, err)
	require.Equal(t, int64(0), s1.id.num())
	require.Equal(t, int64(1), s2.id.num())
	require.True(t, s1.id.isClientInitiated())
}

func TestStreamsNewLocalStreamRespectsPeerLimit(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	_, err := ss.newLocalStream(true)
	require.NoError(t, err)
	_, err = ss.newLocalStream(true)
	require.NoError(t, err)
	_, err = ss.newLocalStream(true)
	require.Error(t, err)
}

func TestStreamsGetOrCreatePeerStreamImpliesLowerNumbered(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	id := newStreamID(serverSide, true, 1)
	_, err := ss.getOrCreatePeerStream(id)
	require.NoError(t, err)

	// Referencing stream 1 implies stream 0 also exists and is acceptable.
	require.Equal(t, int64(2), ss.peerOpenedBidi)
	s0, ok := ss.get(newStreamID(serverSide, true, 0))
	require.True(t, ok)
	require.NotNil(t, s0)

	s, ok := ss.get(id)
	require.True(t, ok)
	require.Equal(t, id, s.id)
}

func TestStreamsGetOrCreatePeerStreamRejectsOverLocalLimit(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	id := newStreamID(serverSide, true, 2) // localMaxBidi is 2, so num 2 is out of range
	_, err := ss.getOrCreatePeerStream(id)
	require.Error(t, err)
}

func TestStreamsGetOrCreatePeerStreamRejectsLocallyInitiatedID(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	id := newStreamID(clientSide, true, 0) // this side initiated it, peer can't reference it first
	_, err := ss.getOrCreatePeerStream(id)
	require.Error(t, err)
}

func TestStreamsAcceptBlocksThenReturnsQueuedStream(t *testing.T) {
	ss := newTestStreamsState(serverSide)

	done := make(chan *Stream, 1)
	go func() { done <- ss.Accept() }()

	id := newStreamID(clientSide, true, 0)
	_, err := ss.getOrCreatePeerStream(id)
	require.NoError(t, err)

	s := <-done
	require.Equal(t, id, s.id)
}

func TestStreamsHandleMaxStreamsNeverShrinks(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	ss.handleMaxStreams(true, 10)
	require.Equal(t, int64(10), ss.peerMaxBidi)
	ss.handleMaxStreams(true, 1)
	require.Equal(t, int64(10), ss.peerMaxBidi)
}

func TestStreamsUnidirectionalStreamHasNoUsableReceiveHalf(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	s, err := ss.newLocalStream(false)
	require.NoError(t, err)
	require.True(t, s.IsWriteOnly())
	require.True(t, s.in.haveFinal)
	require.True(t, s.in.reset)
}

func TestStreamsAppendFramesRoundRobinsPendingStreams(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	s1, _ := ss.newLocalStream(true)
	s2, _ := ss.newLocalStream(true)
	s1.out.peerMaxData = 1024
	s2.out.peerMaxData = 1024
	s1.out.Write([]byte("a"))
	s2.out.Write([]byte("b"))

	w := &packetWriter{}
	w.reset(1200)
	wrote := ss.appendFrames(w)
	require.True(t, wrote)
	require.Equal(t, int64(1), s1.out.sendOff)
	require.Equal(t, int64(1), s2.out.sendOff)
}

// TestStreamsAppendFramesDoesNotStarveLaterStreamsAcrossPackets gives stream
// 1 a backlog far larger than a single packet can carry. Without rotating
// sched, stream 1 would keep winning every packet's capacity and stream 2
// would never get a turn.
func TestStreamsAppendFramesDoesNotStarveLaterStreamsAcrossPackets(t *testing.T) {
	ss := newTestStreamsState(clientSide)
	s1, _ := ss.newLocalStream(true)
	s2, _ := ss.newLocalStream(true)
	s1.out.peerMaxData = 1 << 20
	s2.out.peerMaxData = 1 << 20
	s1.out.Write(make([]byte, 64*1024)) // far larger than any single packet
	s2.out.Write([]byte("b"))

	for i := 0; i < 8 && s2.out.sendOff == 0; i++ {
		w := &packetWriter{}
		w.reset(1200)
		require.True(t, ss.appendFrames(w))
	}
	require.Equal(t, int64(1), s2.out.sendOff, "stream 2 never got a turn despite stream 1's unbounded backlog")
	require.Greater(t, s1.out.sendOff, int64(0))
}

func TestStreamsCloseAllUnblocksPendingReads(t *testing.T) {
	ss := newTestStreamsState(serverSide)
	s, err := ss.newLocalStream(true)
	require.NoError(t, err)
	s.conn.closeErr = errClosedForTest

	readDone := make(chan error, 1)
	go func() {
		_, err := s.in.Read(make([]byte, 4))
		readDone <- err
	}()

	ss.closeAll()

	require.ErrorIs(t, <-readDone, errClosedForTest)
}

var errClosedForTest = &TransportError{Code: errInternal, Reason: "test teardown"}
