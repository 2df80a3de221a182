// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"sort"
	"time"
)

// defaultMaxAckRanges bounds the cardinality of the received-packet-number
// set per spec.md section 4.3 and testable property 10. Once exceeded, the
// smallest (oldest) range is dropped; those packet numbers become
// implicitly un-acknowledgeable.
const defaultMaxAckRanges = 32

// ackElicitingThreshold is N in spec.md section 4.3's "every N ack-eliciting
// packets unconditionally" rule.
const ackElicitingThreshold = 2

// ackState is the ACK manager owned by one numberSpace: a bounded interval
// set of received packet numbers, plus the policy for when to send an ACK
// frame (spec.md section 4.3).
type ackState struct {
	ranges []ackRange // sorted ascending by start, non-overlapping, gap >= 2 between entries

	maxAckDelay time.Duration

	largestSeenTime         time.Time
	largestAckElicitingTime time.Time
	unackedElicitingCount   int
	sawGapSinceLastAck      bool
}

func newAckState(maxAckDelay time.Duration) ackState {
	return ackState{maxAckDelay: maxAckDelay}
}

// largestSeen returns the largest packet number received in this space, or
// -1 if none have been.
func (a *ackState) largestSeen() packetNumber {
	if len(a.ranges) == 0 {
		return -1
	}
	return a.ranges[len(a.ranges)-1].end
}

// contains reports whether num has already been recorded as received.
func (a *ackState) contains(num packetNumber) bool {
	for _, r := range a.ranges {
		if num >= r.start && num <= r.end {
			return true
		}
	}
	return false
}

// receive records that packet num was received at now. ackEliciting
// indicates whether the packet itself requires acknowledgement.
func (a *ackState) receive(now time.Time, num packetNumber, ackEliciting bool) {
	prevLargest := a.largestSeen()
	if a.contains(num) {
		return
	}
	a.ranges = append(a.ranges, ackRange{start: num, end: num})
	sort.Slice(a.ranges, func(i, j int) bool { return a.ranges[i].start < a.ranges[j].start })
	merged := a.ranges[:0]
	for _, r := range a.ranges {
		if len(merged) > 0 && r.start <= merged[len(merged)-1].end+1 {
			if r.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}
	a.ranges = merged
	if len(a.ranges) > defaultMaxAckRanges {
		a.ranges = a.ranges[1:]
	}

	if num > prevLargest {
		a.largestSeenTime = now
	}
	if ackEliciting {
		a.unackedElicitingCount++
		a.largestAckElicitingTime = now
		if prevLargest >= 0 && num > prevLargest+1 {
			a.sawGapSinceLastAck = true
		}
	}
}

// shouldSendAck reports whether an ACK frame should be sent now, per
// spec.md section 4.3's three triggers.
func (a *ackState) shouldSendAck(now time.Time) bool {
	if a.unackedElicitingCount == 0 {
		return false
	}
	if a.sawGapSinceLastAck {
		return true
	}
	if a.unackedElicitingCount >= ackElicitingThreshold {
		return true
	}
	if !a.largestAckElicitingTime.IsZero() && !now.Before(a.largestAckElicitingTime.Add(a.maxAckDelay)) {
		return true
	}
	return false
}

// acksToSend returns the ranges to place in an ACK frame (largest first)
// and the delay since the largest-numbered packet was received.
func (a *ackState) acksToSend(now time.Time) (seen []ackRange, delay time.Duration) {
	if len(a.ranges) == 0 {
		return nil, 0
	}
	out := make([]ackRange, len(a.ranges))
	for i, r := range a.ranges {
		out[len(a.ranges)-1-i] = r
	}
	d := now.Sub(a.largestSeenTime)
	if d < 0 {
		d = 0
	}
	return out, d
}

// sentAck records that an ACK frame covering the current range set was
// just sent.
func (a *ackState) sentAck() {
	a.unackedElicitingCount = 0
	a.sawGapSinceLastAck = false
}

// handleAck is called when the peer acknowledges a packet that itself
// contained an ACK frame acknowledging up through largest. Unlike most
// information, losing an ACK frame never triggers retransmission (the next
// ACK we send reflects current state); this exists purely as a hook for
// discarding bookkeeping about ranges the peer is now known to have seen
// acknowledged, which this straightforward bounded-range-set implementation
// does not need to do eagerly since defaultMaxAckRanges already bounds
// memory.
func (a *ackState) handleAck(largest packetNumber) {}
