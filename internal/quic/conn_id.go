// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "sync"

// connIDEntry is one connection ID this endpoint has issued or been
// issued, RFC 9000 Section 5.1.
type connIDEntry struct {
	cid        []byte
	seq        int64 // -1 for a transient ID not assigned a sequence number
	resetToken [16]byte
}

// connIDState manages the connection IDs used to identify this connection
// on the wire in both directions, spec.md CONNECTION_ID_MANAGEMENT module.
//
// local holds IDs this endpoint has issued to the peer (used as the
// Source Connection ID of packets this endpoint sends, and the
// Destination Connection ID the peer must use to address it). For a
// server, local[0] may be a transient ID (seq -1) used only in the first
// flight before the real sequence-numbered ID in local[1] is available;
// a client has no transient ID.
//
// peer holds IDs the peer has issued to this endpoint (used as the
// Destination Connection ID of packets this endpoint sends).
type connIDState struct {
	mu sync.Mutex

	local        []connIDEntry
	localNextSeq int64

	peer              []connIDEntry
	peerActiveIdx     int
	peerRetirePriorTo int64
	peerLimit         int64 // this endpoint's active_connection_id_limit, advertised to the peer

	pendingRetire []int64 // peer sequence numbers to RETIRE_CONNECTION_ID
	pendingNew    bool    // a NEW_CONNECTION_ID should be issued
}

func (s *connIDState) initServer(transient, real connIDEntry, dst []byte) {
	s.local = []connIDEntry{transient, real}
	s.localNextSeq = 1
	s.peer = []connIDEntry{{cid: dst, seq: 0}}
	s.peerLimit = 2
}

func (s *connIDState) initClient(id0 connIDEntry, dst []byte) {
	s.local = []connIDEntry{id0}
	s.localNextSeq = 1
	s.peer = []connIDEntry{{cid: dst, seq: 0}}
	s.peerLimit = 2
}

// dstConnID returns the connection ID to use as the Destination
// Connection ID of the next packet this endpoint sends.
func (s *connIDState) dstConnID() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peer) == 0 {
		return nil
	}
	return s.peer[s.peerActiveIdx].cid
}

// srcConnID returns the connection ID to use as the Source Connection ID
// (or, for 1-RTT packets, the implicit local ID) of the next packet this
// endpoint sends: the most recently issued non-transient local ID.
func (s *connIDState) srcConnID() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.local) - 1; i >= 0; i-- {
		if s.local[i].seq != -1 {
			return s.local[i].cid
		}
	}
	return s.local[len(s.local)-1].cid
}

// setPeerInitialSrcConnID records the peer's actual source connection ID
// once learned from its first packet or its initial_source_connection_id
// transport parameter, replacing the provisional entry used for the
// handshake.
func (s *connIDState) setPeerInitialSrcConnID(cid []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peer) > 0 {
		s.peer[0].cid = cid
	}
}

// handleNewConnectionID processes a NEW_CONNECTION_ID frame, RFC 9000
// Section 19.15.
func (s *connIDState) handleNewConnectionID(seq, retirePriorTo int64, cid []byte, resetToken [16]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if retirePriorTo > s.peerRetirePriorTo {
		s.peerRetirePriorTo = retirePriorTo
	}
	for _, e := range s.peer {
		if e.seq == seq {
			return nil // duplicate
		}
	}
	s.peer = append(s.peer, connIDEntry{cid: cid, seq: seq, resetToken: resetToken})
	for i, e := range s.peer {
		if e.seq < s.peerRetirePriorTo {
			s.pendingRetire = append(s.pendingRetire, e.seq)
			if i == s.peerActiveIdx {
				s.advanceActiveLocked()
			}
		}
	}
	if int64(len(s.peer)) > s.peerLimit {
		return newError(errConnectionIDLimit, "peer exceeded active_connection_id_limit")
	}
	return nil
}

func (s *connIDState) advanceActiveLocked() {
	for i, e := range s.peer {
		if e.seq >= s.peerRetirePriorTo {
			s.peerActiveIdx = i
			return
		}
	}
}

// handleRetireConnectionID processes a RETIRE_CONNECTION_ID frame from the
// peer, retiring one of our locally-issued IDs.
func (s *connIDState) handleRetireConnectionID(seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.local {
		if e.seq == seq {
			s.local = append(s.local[:i], s.local[i+1:]...)
			s.pendingNew = true
			return nil
		}
	}
	return nil
}

// issueNewConnectionID allocates a new locally-issued connection ID to
// send to the peer via NEW_CONNECTION_ID. It does not check the count of
// issued IDs against the peer's active_connection_id_limit.
func (s *connIDState) issueNewConnectionID() (connIDEntry, error) {
	cid, err := newRandomConnID()
	if err != nil {
		return connIDEntry{}, err
	}
	token, err := newStatelessResetToken()
	if err != nil {
		return connIDEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := connIDEntry{cid: cid, seq: s.localNextSeq, resetToken: token}
	s.localNextSeq++
	s.local = append(s.local, e)
	s.pendingNew = false
	return e, nil
}

// takePendingRetires returns and clears the sequence numbers pending a
// RETIRE_CONNECTION_ID frame.
func (s *connIDState) takePendingRetires() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingRetire
	s.pendingRetire = nil
	return out
}

// requeueRetire re-arms a RETIRE_CONNECTION_ID frame for retransmission
// after loss.
func (s *connIDState) requeueRetire(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRetire = append(s.pendingRetire, seq)
}
