// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"io"
	"sync"
)

// streamOut is the send half of a Stream, spec.md STREAM_MANAGEMENT module.
// Its state machine is RFC 9000 Section 3.1: Ready/Send until all data is
// written, DataSent until the peer acknowledges it all, then DataRecvd; or
// ResetSent/ResetRecvd if the application resets the stream.
type streamOut struct {
	mu sync.Mutex

	conn *Conn
	id   streamID

	buf        []byte // data written by the application, starting at writeOff-len(buf)
	writeOff   int64  // bytes written by the application so far
	sendOff    int64  // bytes handed to appendFrame so far
	ackOff     int64  // bytes acknowledged so far; data below this may be discarded
	fin        bool   // Close has been called
	finSent    bool
	finAcked   bool

	resetCode  *uint64 // set by Reset; nil if not reset
	resetSent  bool
	resetAcked bool

	peerMaxData int64 // peer's MAX_STREAM_DATA limit, flow control
	blocked     bool  // STREAM_DATA_BLOCKED is pending

	closed bool
}

func (s *streamOut) init(c *Conn, id streamID, initialMaxData int64) {
	s.conn = c
	s.id = id
	s.peerMaxData = initialMaxData
}

// Write appends b to the stream's send buffer. It never blocks the event
// loop: data is queued and sent opportunistically by appendFrame.
func (s *streamOut) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode != nil {
		return 0, errStreamReset
	}
	if s.fin {
		return 0, io.ErrClosedPipe
	}
	s.buf = append(s.buf, b...)
	s.writeOff += int64(len(b))
	s.conn.sendMsg(streamWritableMsg{id: s.id})
	return len(b), nil
}

// Close marks the stream as having no more data to send (FIN).
func (s *streamOut) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode != nil {
		return nil
	}
	s.fin = true
	s.conn.sendMsg(streamWritableMsg{id: s.id})
	return nil
}

// Reset abandons the stream's send half with the given application error
// code, RFC 9000 Section 3.5.
func (s *streamOut) Reset(code uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode != nil {
		return
	}
	s.resetCode = &code
	s.buf = nil
	s.conn.sendMsg(streamWritableMsg{id: s.id})
}

// pendingLen returns the number of unsent, unacknowledged bytes available.
func (s *streamOut) pendingLen() int64 {
	return s.writeOff - s.sendOff
}

// unsent returns the slice of s.buf corresponding to bytes not yet handed
// to appendFrame, along with the offset of its first byte.
func (s *streamOut) unsent() (off int64, data []byte) {
	bufStart := s.writeOff - int64(len(s.buf))
	return s.sendOff, s.buf[s.sendOff-bufStart:]
}

// appendFrame writes a STREAM or RESET_STREAM frame for this stream's
// pending data, if any fits and flow control and the packet both have
// room. It is called from the per-numberSpace appendFrames loop, so it
// only ever operates on the application-data space.
func (s *streamOut) appendFrame(w *packetWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resetCode != nil {
		if s.resetSent {
			return false
		}
		if (resetStreamFrame{id: s.id, code: *s.resetCode, finalSize: s.writeOff}).write(w) {
			s.resetSent = true
			return true
		}
		return false
	}

	avail := s.peerMaxData - s.sendOff
	if avail < 0 {
		avail = 0
	}
	off, data := s.unsent()
	if int64(len(data)) > avail {
		data = data[:avail]
	}
	sendFin := s.fin && int64(len(data)) == s.pendingLen()
	if len(data) == 0 && !(sendFin && !s.finSent) {
		if avail == 0 && s.pendingLen() > 0 && !s.blocked {
			if (streamDataBlockedFrame{id: s.id, max: s.peerMaxData}).write(w) {
				s.blocked = true
				return true
			}
		}
		return false
	}

	f := streamFrame{id: s.id, off: off, data: data, fin: sendFin}
	if !f.write(w) {
		// Try a smaller chunk that fits the remaining packet space; a FIN
		// on a partial chunk must wait for the rest to be sent first.
		room := w.remaining()
		if room <= 0 {
			return false
		}
		if room > len(data) {
			room = len(data)
		}
		f = streamFrame{id: s.id, off: off, data: data[:room]}
		if !f.write(w) {
			return false
		}
		sendFin = false
	}
	s.sendOff += int64(len(f.data))
	if sendFin {
		s.finSent = true
	}
	s.blocked = false
	return true
}

// handleMaxStreamData processes a MAX_STREAM_DATA frame from the peer.
func (s *streamOut) handleMaxStreamData(max int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > s.peerMaxData {
		s.peerMaxData = max
		s.conn.sendMsg(streamWritableMsg{id: s.id})
	}
}

// ackRange advances ackOff when [start,end) is the contiguous prefix
// acknowledged, discarding any send buffer bytes it covers.
func (s *streamOut) ackRange(start, end int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start != s.ackOff {
		return // non-contiguous ack; conservatively wait for the gap to fill
	}
	s.ackOff = end
	bufStart := s.writeOff - int64(len(s.buf))
	if s.ackOff > bufStart {
		s.buf = s.buf[s.ackOff-bufStart:]
	}
	if s.ackOff >= s.writeOff && s.finSent {
		s.finAcked = true
	}
}

// lost re-queues [start,end) for retransmission by rewinding sendOff.
func (s *streamOut) lost(start, end int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start < s.sendOff {
		s.sendOff = start
	}
	if end >= s.writeOff && s.finSent {
		s.finSent = false
	}
}

// ackReset records that the peer has acknowledged a RESET_STREAM frame.
func (s *streamOut) ackReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetAcked = true
}

// lostReset re-arms RESET_STREAM for retransmission after loss.
func (s *streamOut) lostReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetCode != nil {
		s.resetSent = false
	}
}

// done reports whether the send half has reached a terminal state.
func (s *streamOut) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finAcked || s.resetAcked
}
