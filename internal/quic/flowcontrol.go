// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "sync"

// Default flow control window sizes, spec.md FLOW_CONTROL module. These
// mirror common production QUIC stacks' conservative defaults; Config may
// override them.
const (
	defaultStreamRecvWindow     = 512 * 1024
	defaultConnRecvWindow       = 1024 * 1024
	defaultMaxStreamsBidi       = 100
	defaultMaxStreamsUni        = 100
)

// connFlowControl tracks connection-level send and receive limits, RFC 9000
// Section 4.1. Every stream's bytes count against the same budget.
type connFlowControl struct {
	mu sync.Mutex

	// Receive side: bytes the peer may send us in total.
	recvLimit  int64
	recvLimitSent int64
	recvUsed   int64

	// Send side: bytes the peer has told us we may send in total.
	sendLimit int64
	sendUsed  int64
	blocked   bool
}

func newConnFlowControl(localLimit, peerLimit int64) *connFlowControl {
	return &connFlowControl{
		recvLimit:     localLimit,
		recvLimitSent: localLimit,
		sendLimit:     peerLimit,
	}
}

// addRecv accounts for n additional bytes received across all streams,
// returning a FLOW_CONTROL_ERROR if the peer exceeded our advertised limit.
func (f *connFlowControl) addRecv(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvUsed += n
	if f.recvUsed > f.recvLimit {
		return newError(errFlowControl, "connection flow control limit exceeded")
	}
	return nil
}

// maybeMaxData returns a new MAX_DATA value to advertise once the
// application has consumed more than half the current window, or 0 if no
// update is needed yet.
func (f *connFlowControl) maybeMaxData(consumed int64) (newLimit int64, send bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if consumed <= f.recvLimitSent-f.recvLimit/2 {
		return 0, false
	}
	f.recvLimit = consumed + defaultConnRecvWindow
	f.recvLimitSent = f.recvLimit
	return f.recvLimit, true
}

// lostMaxData re-arms a MAX_DATA update after loss, unless a later update
// has already superseded the lost limit.
func (f *connFlowControl) lostMaxData(limit int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvLimitSent != limit {
		return false
	}
	f.recvLimitSent = 0
	return true
}

// reserveSend attempts to reserve n bytes of connection-level send budget.
func (f *connFlowControl) reserveSend(n int64) (allowed int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	avail := f.sendLimit - f.sendUsed
	if avail < 0 {
		avail = 0
	}
	if n > avail {
		n = avail
	}
	f.sendUsed += n
	return n
}

// handleMaxData processes a MAX_DATA frame from the peer.
func (f *connFlowControl) handleMaxData(max int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if max > f.sendLimit {
		f.sendLimit = max
	}
}
