// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStreamIn() *streamIn {
	s := &streamIn{}
	s.init(&Conn{msgc: make(chan any, 16), donec: make(chan struct{})}, newStreamID(clientSide, true, 0), 1<<20)
	return s
}

func TestStreamInReadsContiguousData(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleStreamFrame(0, []byte("hello"), false))

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestStreamInReassemblesOutOfOrderChunks(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleStreamFrame(5, []byte("world"), false))
	require.NoError(t, s.handleStreamFrame(0, []byte("hello"), false))

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(buf[:n]))
}

func TestStreamInDropsAlreadyDeliveredOverlap(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleStreamFrame(0, []byte("hello"), false))
	buf := make([]byte, 16)
	s.Read(buf)

	// A retransmission that overlaps already-delivered bytes.
	require.NoError(t, s.handleStreamFrame(3, []byte("lo world"), true))
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, " world", string(buf[:n]))
}

func TestStreamInFinThenEOF(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleStreamFrame(0, []byte("hi"), true))

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))

	_, err = s.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamInInconsistentFinalSizeIsRejected(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleStreamFrame(0, []byte("hi"), true))
	err := s.handleStreamFrame(0, []byte("hiya"), true)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, errFinalSize, te.Code)
}

func TestStreamInExceedsFlowControlLimit(t *testing.T) {
	s := newTestStreamIn()
	s.maxRecvData = 4
	err := s.handleStreamFrame(0, []byte("hello"), false)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, errFlowControl, te.Code)
}

func TestStreamInResetUnblocksReadWithResetError(t *testing.T) {
	s := newTestStreamIn()
	require.NoError(t, s.handleResetStream(11, 0))

	_, err := s.Read(make([]byte, 4))
	var rerr *StreamResetError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, uint64(11), rerr.Code)
}

func TestStreamInCloseConnUnblocksRead(t *testing.T) {
	s := newTestStreamIn()
	s.conn.closeErr = io.ErrClosedPipe

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 4))
		done <- err
	}()
	s.closeConn()
	require.ErrorIs(t, <-done, io.ErrClosedPipe)
}

func TestStreamInMaybeSendMaxStreamDataAtHalfWindow(t *testing.T) {
	s := newTestStreamIn()
	s.maxRecvData = 10
	s.maxRecvDataSent = 10
	require.NoError(t, s.handleStreamFrame(0, make([]byte, 6), false))

	buf := make([]byte, 10)
	s.Read(buf)
	require.True(t, s.maxDataPending, "reading past half the window must arm a MAX_STREAM_DATA update")

	w := &packetWriter{}
	w.reset(1200)
	require.True(t, s.appendFrame(w))
	require.False(t, s.maxDataPending)
	require.Equal(t, int64(6+10), s.maxRecvDataSent)
}

func TestStreamInStopSendingAppendsOnce(t *testing.T) {
	s := newTestStreamIn()
	s.StopSending(5)

	w := &packetWriter{}
	w.reset(1200)
	require.True(t, s.appendFrame(w))
	require.True(t, s.stopSent)

	w.reset(1200)
	require.False(t, s.appendFrame(w), "STOP_SENDING must not be resent once sent")
}

func TestStreamInLostStopSendingRearms(t *testing.T) {
	s := newTestStreamIn()
	s.StopSending(5)
	w := &packetWriter{}
	w.reset(1200)
	s.appendFrame(w)
	require.True(t, s.stopSent)

	s.lostStopSending()
	require.False(t, s.stopSent)
	require.True(t, s.stopSendingPending)
}

func TestStreamInLostMaxStreamDataOnlyRearmsCurrentLimit(t *testing.T) {
	s := newTestStreamIn()
	s.maxRecvDataSent = 100
	s.lostMaxStreamData(50) // stale, already-superseded limit
	require.False(t, s.maxDataPending)

	s.lostMaxStreamData(100)
	require.True(t, s.maxDataPending)
}
