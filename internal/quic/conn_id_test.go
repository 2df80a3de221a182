// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnIDStateClientInitDstConnID(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1, 2, 3}, seq: 0}, []byte{9, 9, 9})
	require.Equal(t, []byte{9, 9, 9}, s.dstConnID())
	require.Equal(t, []byte{1, 2, 3}, s.srcConnID())
}

func TestConnIDStateServerInitUsesRealIDAsSource(t *testing.T) {
	var s connIDState
	transient := connIDEntry{cid: []byte{0xaa}, seq: -1}
	real := connIDEntry{cid: []byte{0xbb}, seq: 0}
	s.initServer(transient, real, []byte{0xcc})

	require.Equal(t, []byte{0xbb}, s.srcConnID(), "the real sequence-numbered ID is preferred over the transient one")
	require.Equal(t, []byte{0xcc}, s.dstConnID())
}

func TestConnIDStateHandleNewConnectionIDAppendsAndDetectsDuplicate(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1}, seq: 0}, []byte{2})
	s.peerLimit = 4

	err := s.handleNewConnectionID(1, 0, []byte{3}, [16]byte{})
	require.NoError(t, err)
	require.Len(t, s.peer, 2)

	// A repeat of the same sequence number is a no-op, not an error.
	err = s.handleNewConnectionID(1, 0, []byte{3}, [16]byte{})
	require.NoError(t, err)
	require.Len(t, s.peer, 2)
}

func TestConnIDStateHandleNewConnectionIDRejectsOverLimit(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1}, seq: 0}, []byte{2})
	s.peerLimit = 1

	err := s.handleNewConnectionID(1, 0, []byte{3}, [16]byte{})
	require.Error(t, err)
}

func TestConnIDStateRetirePriorToRetiresOldEntries(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1}, seq: 0}, []byte{2})
	s.peerLimit = 4

	require.NoError(t, s.handleNewConnectionID(1, 0, []byte{3}, [16]byte{}))
	require.NoError(t, s.handleNewConnectionID(2, 2, []byte{4}, [16]byte{}))

	pending := s.takePendingRetires()
	require.ElementsMatch(t, []int64{0, 1}, pending)
	require.Equal(t, []byte{4}, s.dstConnID(), "the active connection ID must move past the retired ones")
}

func TestConnIDStateTakePendingRetiresClears(t *testing.T) {
	var s connIDState
	s.pendingRetire = []int64{5}
	got := s.takePendingRetires()
	require.Equal(t, []int64{5}, got)
	require.Nil(t, s.takePendingRetires())
}

func TestConnIDStateRequeueRetire(t *testing.T) {
	var s connIDState
	s.requeueRetire(7)
	require.Equal(t, []int64{7}, s.pendingRetire)
}

func TestConnIDStateHandleRetireConnectionIDRemovesLocalEntry(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1}, seq: 0}, []byte{2})
	s.local = append(s.local, connIDEntry{cid: []byte{5}, seq: 1})

	require.NoError(t, s.handleRetireConnectionID(0))
	require.Len(t, s.local, 1)
	require.True(t, s.pendingNew)
}

func TestConnIDStateIssueNewConnectionIDIncrementsSequence(t *testing.T) {
	var s connIDState
	s.initClient(connIDEntry{cid: []byte{1}, seq: 0}, []byte{2})

	e, err := s.issueNewConnectionID()
	require.NoError(t, err)
	require.Equal(t, int64(1), e.seq)
	require.Len(t, e.cid, localConnIDLen)
	require.False(t, s.pendingNew)
}
