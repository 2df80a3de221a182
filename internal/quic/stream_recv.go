// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"io"
	"sort"
	"sync"
)

// recvChunk is one out-of-order fragment of a stream's received data,
// waiting to be merged into the contiguous prefix available to Read.
type recvChunk struct {
	off  int64
	data []byte
}

// streamIn is the receive half of a Stream, spec.md STREAM_MANAGEMENT
// module. Data may arrive out of order; streamIn reassembles it into a
// contiguous byte stream for the application, RFC 9000 Section 2.2.
type streamIn struct {
	mu sync.Mutex

	conn *Conn
	id   streamID

	readOff   int64 // bytes delivered to Read so far
	finalSize int64 // set once known (FIN received or RESET_STREAM)
	haveFinal bool
	reset     bool
	resetCode uint64

	chunks []recvChunk // out-of-order fragments beyond readOff, sorted by off

	maxRecvData     int64 // local flow control limit advertised to peer
	maxRecvDataSent int64 // limit actually sent in the last MAX_STREAM_DATA
	highestOff      int64 // highest byte offset seen, for flow control accounting

	stopSent         bool
	stopSendingCode  uint64
	stopSendingPending bool

	maxDataPending bool

	closed      bool // the connection has exited; Read returns conn.closeErr
	readWaiters []chan struct{}
}

func (s *streamIn) init(c *Conn, id streamID, maxRecvData int64) {
	s.conn = c
	s.id = id
	s.maxRecvData = maxRecvData
	s.maxRecvDataSent = maxRecvData
}

// handleStreamFrame merges newly-received data into the reassembly buffer.
func (s *streamIn) handleStreamFrame(off int64, data []byte, fin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return nil
	}
	end := off + int64(len(data))
	if end > s.highestOff {
		s.highestOff = end
	}
	if end > s.maxRecvData {
		return newError(errFlowControl, "stream exceeds MAX_STREAM_DATA")
	}
	if fin {
		if s.haveFinal && s.finalSize != end {
			return newError(errFinalSize, "inconsistent final size")
		}
		s.finalSize = end
		s.haveFinal = true
	} else if s.haveFinal && end > s.finalSize {
		return newError(errFinalSize, "data received beyond final size")
	}
	if end <= s.readOff || len(data) == 0 {
		s.wake()
		return nil
	}
	if off < s.readOff {
		data = data[s.readOff-off:]
		off = s.readOff
	}
	s.chunks = append(s.chunks, recvChunk{off: off, data: data})
	sort.Slice(s.chunks, func(i, j int) bool { return s.chunks[i].off < s.chunks[j].off })
	s.wake()
	return nil
}

// handleResetStream processes a RESET_STREAM frame.
func (s *streamIn) handleResetStream(code uint64, finalSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveFinal && s.finalSize != finalSize {
		return newError(errFinalSize, "inconsistent final size on reset")
	}
	s.reset = true
	s.resetCode = code
	s.finalSize = finalSize
	s.haveFinal = true
	s.chunks = nil
	s.wake()
	return nil
}

// closeConn unblocks a pending Read once the connection has exited,
// returning conn.closeErr to the caller.
func (s *streamIn) closeConn() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *streamIn) wake() {
	for _, ch := range s.readWaiters {
		close(ch)
	}
	s.readWaiters = nil
}

// Read returns contiguous data starting at readOff, blocking until some is
// available, EOF, reset, or the connection closes.
func (s *streamIn) Read(b []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.reset {
			s.mu.Unlock()
			return 0, &StreamResetError{Code: s.resetCode}
		}
		if len(s.chunks) > 0 && s.chunks[0].off == s.readOff {
			n := copy(b, s.chunks[0].data)
			s.chunks[0].data = s.chunks[0].data[n:]
			s.chunks[0].off += int64(n)
			s.readOff += int64(n)
			if len(s.chunks[0].data) == 0 {
				s.chunks = s.chunks[1:]
			}
			s.mu.Unlock()
			s.maybeSendMaxStreamData()
			return n, nil
		}
		if s.haveFinal && s.readOff >= s.finalSize {
			s.mu.Unlock()
			return 0, io.EOF
		}
		if s.closed {
			s.mu.Unlock()
			return 0, s.conn.closeErr
		}
		wait := make(chan struct{})
		s.readWaiters = append(s.readWaiters, wait)
		s.mu.Unlock()
		<-wait
	}
}

// maybeSendMaxStreamData enqueues a MAX_STREAM_DATA update once the
// application has consumed enough of the current window, per spec.md
// FLOW_CONTROL module's "update when half consumed" policy.
func (s *streamIn) maybeSendMaxStreamData() {
	s.mu.Lock()
	shouldSend := s.readOff > s.maxRecvDataSent/2
	if shouldSend {
		s.maxDataPending = true
	}
	s.mu.Unlock()
	if shouldSend {
		s.conn.sendMsg(streamMaxDataMsg{id: s.id})
	}
}

// StopSending requests the peer stop sending on this stream.
func (s *streamIn) StopSending(code uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSent {
		return
	}
	s.stopSendingCode = code
	s.stopSendingPending = true
	s.conn.sendMsg(streamStopSendingMsg{id: s.id})
}

// lostStopSending re-arms STOP_SENDING for retransmission after loss.
func (s *streamIn) lostStopSending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSent {
		s.stopSendingPending = true
		s.stopSent = false
	}
}

// lostMaxStreamData re-arms a MAX_STREAM_DATA update after loss, unless a
// later update already superseded the lost limit.
func (s *streamIn) lostMaxStreamData(limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxRecvDataSent == limit {
		s.maxDataPending = true
	}
}

// appendFrame writes a pending MAX_STREAM_DATA or STOP_SENDING frame for
// this stream's receive half, if either is due.
func (s *streamIn) appendFrame(w *packetWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSendingPending {
		if (stopSendingFrame{id: s.id, code: s.stopSendingCode}).write(w) {
			s.stopSendingPending = false
			s.stopSent = true
			return true
		}
		return false
	}
	if s.maxDataPending {
		limit := s.readOff + s.maxRecvData
		if (maxStreamDataFrame{id: s.id, max: limit}).write(w) {
			s.maxRecvDataSent = limit
			s.maxDataPending = false
			return true
		}
		return false
	}
	return false
}

// StreamResetError is returned from Stream.Read when the peer resets the
// stream's send half.
type StreamResetError struct{ Code uint64 }

func (e *StreamResetError) Error() string { return "quic: stream reset by peer" }
