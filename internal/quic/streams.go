// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "sync"

// streamsState is the per-connection stream manager, spec.md
// STREAM_MANAGEMENT module: stream ID allocation, peer- and local-imposed
// concurrency limits, and the accept queue for peer-initiated streams.
type streamsState struct {
	conn *Conn

	mu      sync.Mutex
	streams map[streamID]*Stream

	// Local stream counts and peer-advertised limits (MAX_STREAMS received).
	nextLocalBidi, nextLocalUni int64
	peerMaxBidi, peerMaxUni     int64

	// Limits this side advertises to the peer (MAX_STREAMS sent), and the
	// count of peer-initiated streams accepted so far.
	localMaxBidi, localMaxUni         int64
	peerOpenedBidi, peerOpenedUni     int64
	sentMaxBidi, sentMaxUni           int64

	acceptQueue []*Stream
	acceptWake  []chan struct{}

	sched []streamID // round-robin order for appendFrames
}

func newStreamsState(c *Conn, peerInitialMaxBidi, peerInitialMaxUni, localMaxBidi, localMaxUni int64) *streamsState {
	return &streamsState{
		conn:          c,
		streams:       make(map[streamID]*Stream),
		peerMaxBidi:   peerInitialMaxBidi,
		peerMaxUni:    peerInitialMaxUni,
		localMaxBidi:  localMaxBidi,
		localMaxUni:   localMaxUni,
		sentMaxBidi:   localMaxBidi,
		sentMaxUni:    localMaxUni,
	}
}

// newLocalStream opens a new stream initiated by this side, RFC 9000
// Section 2.1. It fails with errStreamLimit if doing so would exceed the
// peer's advertised MAX_STREAMS.
func (ss *streamsState) newLocalStream(bidi bool) (*Stream, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	var num int64
	if bidi {
		if ss.nextLocalBidi >= ss.peerMaxBidi {
			return nil, newError(errStreamLimit, "bidirectional stream limit reached")
		}
		num = ss.nextLocalBidi
		ss.nextLocalBidi++
	} else {
		if ss.nextLocalUni >= ss.peerMaxUni {
			return nil, newError(errStreamLimit, "unidirectional stream limit reached")
		}
		num = ss.nextLocalUni
		ss.nextLocalUni++
	}
	id := newStreamID(ss.conn.side, bidi, num)
	return ss.newStreamLocked(id, bidi), nil
}

func (ss *streamsState) newStreamLocked(id streamID, bidi bool) *Stream {
	s := &Stream{id: id, conn: ss.conn}
	s.out.init(ss.conn, id, 0)
	if bidi || !id.initiatedBy(ss.conn.side) {
		s.in.init(ss.conn, id, defaultStreamRecvWindow)
	}
	if !bidi && id.initiatedBy(ss.conn.side) {
		// Write-only stream: the receive half is never used.
		s.in.haveFinal = true
		s.in.reset = true
	}
	ss.streams[id] = s
	ss.sched = append(ss.sched, id)
	return s
}

// getOrCreatePeerStream returns the Stream for a peer-initiated id,
// creating it (and any lower-numbered streams of the same type implied by
// RFC 9000 Section 2.1) if this is the first frame referencing it.
func (ss *streamsState) getOrCreatePeerStream(id streamID) (*Stream, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if s, ok := ss.streams[id]; ok {
		return s, nil
	}
	if id.initiatedBy(ss.conn.side) {
		return nil, newError(errStreamState, "peer referenced a locally-initiated stream not yet opened")
	}
	num := id.num()
	if id.isBidi() {
		if num >= ss.localMaxBidi {
			return nil, newError(errStreamLimit, "peer exceeded bidirectional stream limit")
		}
		for n := ss.peerOpenedBidi; n <= num; n++ {
			sid := newStreamID(otherSide(ss.conn.side), true, n)
			s := ss.newStreamLocked(sid, true)
			ss.acceptQueue = append(ss.acceptQueue, s)
		}
		if num+1 > ss.peerOpenedBidi {
			ss.peerOpenedBidi = num + 1
		}
	} else {
		if num >= ss.localMaxUni {
			return nil, newError(errStreamLimit, "peer exceeded unidirectional stream limit")
		}
		for n := ss.peerOpenedUni; n <= num; n++ {
			sid := newStreamID(otherSide(ss.conn.side), false, n)
			s := ss.newStreamLocked(sid, false)
			ss.acceptQueue = append(ss.acceptQueue, s)
		}
		if num+1 > ss.peerOpenedUni {
			ss.peerOpenedUni = num + 1
		}
	}
	ss.wakeAccept()
	return ss.streams[id], nil
}

func (ss *streamsState) wakeAccept() {
	for _, ch := range ss.acceptWake {
		close(ch)
	}
	ss.acceptWake = nil
}

// Accept returns the next peer-initiated stream, blocking until one
// arrives, or returns nil once the connection has exited.
func (ss *streamsState) Accept() *Stream {
	for {
		ss.mu.Lock()
		if len(ss.acceptQueue) > 0 {
			s := ss.acceptQueue[0]
			ss.acceptQueue = ss.acceptQueue[1:]
			ss.mu.Unlock()
			return s
		}
		wait := make(chan struct{})
		ss.acceptWake = append(ss.acceptWake, wait)
		ss.mu.Unlock()
		select {
		case <-wait:
		case <-ss.conn.donec:
			return nil
		}
	}
}

// closeAll unblocks every pending Read and AcceptStream call once the
// connection has exited.
func (ss *streamsState) closeAll() {
	ss.mu.Lock()
	streams := make([]*Stream, 0, len(ss.streams))
	for _, s := range ss.streams {
		streams = append(streams, s)
	}
	ss.mu.Unlock()
	ss.wakeAccept()
	for _, s := range streams {
		s.in.closeConn()
	}
}

// get returns the stream with the given id, if one has been created.
func (ss *streamsState) get(id streamID) (*Stream, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.streams[id]
	return s, ok
}

func (ss *streamsState) handleMaxStreams(bidi bool, max int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if bidi {
		if max > ss.peerMaxBidi {
			ss.peerMaxBidi = max
		}
	} else {
		if max > ss.peerMaxUni {
			ss.peerMaxUni = max
		}
	}
}

// appendFrames writes STREAM/RESET_STREAM/STREAM_DATA_BLOCKED frames in
// sched order until the packet is full or no stream has anything to send,
// then rotates the streams it serviced to the back of sched so a backlogged
// stream earlier in the order cannot win every packet's capacity ahead of
// the streams behind it, spec.md's anti-starvation requirement that
// transmission rotate within an urgency class.
func (ss *streamsState) appendFrames(w *packetWriter) bool {
	ss.mu.Lock()
	order := append([]streamID(nil), ss.sched...)
	streams := ss.streams
	ss.mu.Unlock()

	wrote := false
	var serviced []streamID
	for _, id := range order {
		s, ok := streams[id]
		if !ok {
			continue
		}
		streamWrote := false
		for s.out.appendFrame(w) {
			wrote = true
			streamWrote = true
		}
		for s.in.appendFrame(w) {
			wrote = true
			streamWrote = true
		}
		if streamWrote {
			serviced = append(serviced, id)
		}
	}
	if len(serviced) > 0 {
		ss.rotate(serviced)
	}
	return wrote
}

// rotate moves the given ids to the back of sched, behind every id not in
// serviced, preserving their relative order.
func (ss *streamsState) rotate(serviced []streamID) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	isServiced := make(map[streamID]bool, len(serviced))
	for _, id := range serviced {
		isServiced[id] = true
	}
	next := make([]streamID, 0, len(ss.sched))
	for _, id := range ss.sched {
		if !isServiced[id] {
			next = append(next, id)
		}
	}
	ss.sched = append(next, serviced...)
}

func otherSide(s connSide) connSide {
	if s == clientSide {
		return serverSide
	}
	return clientSide
}
