// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// pathState tracks the single active network path of a connection,
// spec.md PATH_MANAGEMENT module: validation via PATH_CHALLENGE/RESPONSE
// (RFC 9000 Section 8.2), MTU discovery, and ECN capability checking
// (RFC 9000 Section 13.4). This implementation does not support
// connection migration to multiple simultaneous paths; only the path the
// peer is currently using is tracked.
type pathState struct {
	validated bool
	challenge [8]byte
	challengeSentAt time.Time
	challengePending bool

	// pendingResponse holds a PATH_RESPONSE payload awaiting transmission
	// after receiving a PATH_CHALLENGE, RFC 9000 Section 8.2.2.
	pendingResponse    [8]byte
	pendingResponseSet bool

	// MTU discovery, a binary search between the minimum datagram size
	// and maxDatagramSize for the largest packet size the path can deliver.
	mtu        int
	mtuLow     int
	mtuHigh    int
	mtuProbing bool
	probeSentAt time.Time

	// ECN validation, RFC 9000 Section 13.4.2: send ECT(0)-marked
	// packets and confirm the peer's ACK reports matching ECN counts
	// before trusting ECN signals from this path.
	ecnState       ecnValidationState
	ecnProbesSent  int
	lastECNCounts  ecnCounts
}

type ecnValidationState int

const (
	ecnUnknown ecnValidationState = iota
	ecnTesting
	ecnCapable
	ecnFailed
)

const ecnValidationProbes = 3

func newPathState() *pathState {
	return &pathState{
		mtu:     minimumClientInitialDatagramSize,
		mtuLow:  minimumClientInitialDatagramSize,
		mtuHigh: maxDatagramSize,
		ecnState: ecnTesting,
	}
}

// startChallenge issues a new PATH_CHALLENGE, RFC 9000 Section 8.2.1.
func (p *pathState) startChallenge(now time.Time) ([8]byte, error) {
	data, err := newPathChallengeData()
	if err != nil {
		return data, err
	}
	p.challenge = data
	p.challengeSentAt = now
	p.challengePending = true
	return data, nil
}

// handlePathResponse validates a PATH_RESPONSE against the outstanding
// challenge.
func (p *pathState) handlePathResponse(data [8]byte) {
	if p.challengePending && constantTimeEqual(p.challenge[:], data[:]) {
		p.validated = true
		p.challengePending = false
	}
}

// handlePathChallenge returns the PATH_RESPONSE data to echo back,
// RFC 9000 Section 8.2.2.
func (p *pathState) handlePathChallenge(data [8]byte) [8]byte {
	return data
}

// nextMTUProbeSize returns the next size to probe, or 0 if discovery is
// complete (mtuLow and mtuHigh have converged).
func (p *pathState) nextMTUProbeSize() int {
	if p.mtuHigh-p.mtuLow <= 1 {
		return 0
	}
	return (p.mtuLow + p.mtuHigh) / 2
}

// onMTUProbeAcked records a successful probe at size, raising the
// confirmed MTU and narrowing the search range upward.
func (p *pathState) onMTUProbeAcked(size int) {
	p.mtu = size
	p.mtuLow = size
	p.mtuProbing = false
}

// onMTUProbeLost lowers the search ceiling to size without changing the
// confirmed MTU. Losses are not counted: a single lost probe is enough to
// cap the ceiling.
func (p *pathState) onMTUProbeLost(size int) {
	if size < p.mtuHigh {
		p.mtuHigh = size
	}
	p.mtuProbing = false
}

// recordECNCounts compares peer-reported ECN counts against what was sent
// to determine whether the path honors ECN markings, RFC 9000
// Section 13.4.2.
func (p *pathState) recordECNCounts(reported ecnCounts, sentECT0, sentECT1, sentCE int64) {
	p.ecnProbesSent++
	ok := reported.ect0 >= uint64(sentECT0) && reported.ect1 >= uint64(sentECT1) && reported.ce >= uint64(sentCE)
	if !ok {
		p.ecnState = ecnFailed
		return
	}
	if p.ecnProbesSent >= ecnValidationProbes {
		p.ecnState = ecnCapable
	}
}
