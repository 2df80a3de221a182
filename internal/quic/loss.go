// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// timerGranularity is RFC 9002 Section 6.1.2's kGranularity: the assumed
// timer implementation granularity, used to pad the PTO and loss-detection
// time-threshold calculations.
const timerGranularity = time.Millisecond

// packetThreshold is RFC 9002 Section 6.1.1's kPacketThreshold.
const packetThreshold = 3

// timeThresholdNumerator/Denominator give RFC 9002 Section 6.1.2's
// kTimeThreshold of 9/8.
const timeThresholdNumerator = 9
const timeThresholdDenominator = 8

// rttState is the RTT estimator, RFC 9002 Section 5.
type rttState struct {
	latest    time.Duration
	min       time.Duration
	smoothed  time.Duration
	variance  time.Duration
	hasSample bool
}

// update processes one RTT sample, RFC 9002 Section 5.3. ackDelay is the
// peer-reported, unscaled ACK Delay, already capped by the peer's
// max_ack_delay transport parameter by the caller.
func (r *rttState) update(sample, ackDelay time.Duration) {
	r.latest = sample
	if r.min == 0 || sample < r.min {
		r.min = sample
	}
	adjusted := sample
	if sample-r.min >= ackDelay {
		adjusted = sample - ackDelay
	}
	if !r.hasSample {
		r.hasSample = true
		r.smoothed = adjusted
		r.variance = adjusted / 2
		return
	}
	diff := r.smoothed - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.variance = (3*r.variance + diff) / 4
	r.smoothed = (7*r.smoothed + adjusted) / 8
}

// ptoForSpace returns the probe timeout for space, RFC 9002 Section 6.2.1:
// max_ack_delay is only added for the application data space; Initial and
// Handshake PTOs use zero, since the peer never delays acks for those
// spaces (RFC 9002 Section 6.2.1, RFC 9000 Section 13.2.1).
func (l *lossState) ptoForSpace(space numberSpace) time.Duration {
	if space == appDataSpace {
		return l.rtt.pto(l.maxAckDelay)
	}
	return l.rtt.pto(0)
}

// pto returns the probe timeout duration, RFC 9002 Section 6.2.1.
func (r *rttState) pto(maxAckDelay time.Duration) time.Duration {
	base := r.smoothed
	if !r.hasSample {
		base = 333 * time.Millisecond // RFC 9002 Section 6.2.2's kInitialRtt
	}
	variance4 := 4 * r.variance
	if variance4 < timerGranularity {
		variance4 = timerGranularity
	}
	return base + variance4 + maxAckDelay
}

// lossSpace is the per-number-space loss detection state: packets sent and
// awaiting their fate, RFC 9002 Section A.1's sent_packets.
type lossSpace struct {
	nextNum      packetNumber
	sent         []*sentPacket // ascending by num
	lossTime     time.Time
	largestAcked packetNumber // -1 if none acked yet
	ptoCount     int
	ecnCE        uint64 // highest peer-reported ECN-CE count seen so far
}

func newLossSpace() lossSpace {
	return lossSpace{largestAcked: -1}
}

// lossState is the loss detection and congestion control state for one
// connection, RFC 9002, combining the congestion controller, pacer, RTT
// estimator, and per-space sent-packet bookkeeping that conn_send.go and
// conn_loss.go drive.
type lossState struct {
	cc    congestionController
	pacer *pacer
	rtt   rttState

	spaces      [numberSpaceCount]lossSpace
	maxAckDelay time.Duration

	bytesInFlight int64
	maxDatagram   int

	ptoExpired bool
	ptoCount   int

	handshakeConfirmed       bool
	handshakeKeysDiscarded   bool
	initialKeysDiscarded     bool

	// Server anti-amplification, RFC 9000 Section 8.1: before the peer's
	// address is validated, this endpoint may send at most
	// amplificationFactor times the bytes it has received.
	isServer           bool
	addressValidated   bool
	bytesReceived      int64
	bytesSent          int64
}

const amplificationFactor = 3

func newLossState(cc congestionController, isServer bool) *lossState {
	l := &lossState{
		cc:          cc,
		pacer:       newPacer(),
		maxAckDelay: maxAckDelayDefault,
		maxDatagram: maxDatagramSize,
		isServer:    isServer,
	}
	for i := range l.spaces {
		l.spaces[i] = newLossSpace()
	}
	return l
}

func (l *lossState) nextNumber(space numberSpace) packetNumber {
	s := &l.spaces[space]
	n := s.nextNum
	s.nextNum++
	return n
}

func (l *lossState) maxSendSize() int { return l.maxDatagram }

// sendLimit reports whether a packet may be sent now, and if blocked by
// pacing or congestion control (but not anti-amplification), when.
func (l *lossState) sendLimit(now time.Time) (limit ccLimit, next time.Time) {
	if l.isServer && !l.addressValidated {
		if l.bytesSent >= amplificationFactor*l.bytesReceived {
			return ccBlocked, time.Time{}
		}
	}
	if !l.cc.canSend(l.bytesInFlight, int64(l.maxDatagram)) {
		ptoSpace := initialSpace
		if l.handshakeConfirmed {
			ptoSpace = appDataSpace
		}
		return ccLimited, now.Add(l.ptoForSpace(ptoSpace) / 4)
	}
	if ok, paceNext := l.pacer.canSend(now, l.maxDatagram); !ok {
		return ccLimited, paceNext
	}
	return ccOK, time.Time{}
}

// packetSent records that sent was just transmitted in space.
func (l *lossState) packetSent(now time.Time, space numberSpace, sent *sentPacket) {
	sent.timeSent = now
	s := &l.spaces[space]
	s.sent = append(s.sent, sent)
	l.bytesSent += int64(sent.size)
	packetsSent.WithLabelValues(space.String()).Inc()
	if sent.inFlight {
		l.bytesInFlight += int64(sent.size)
		var cookie ccCookie
		l.cc.onPacketSent(now, int64(sent.size), &cookie)
		sent.cc = cookie
		l.pacer.spend(sent.size)
		l.pacer.setRate(l.pacingRate())
	}
}

func (l *lossState) pacingRate() float64 {
	if !l.rtt.hasSample || l.rtt.smoothed == 0 {
		return 0
	}
	const pacingGain = 1.25
	return pacingGain * float64(l.cc.congestionWindow()) / l.rtt.smoothed.Seconds()
}

// bytesReceivedFromPeer records bytes received for anti-amplification
// accounting. addressValidated is set once the peer has been confirmed,
// e.g. by completing the handshake or by a validated new path.
func (l *lossState) bytesReceivedFromPeer(n int64) {
	l.bytesReceived += n
}

func (l *lossState) validateAddress() { l.addressValidated = true }

// handleAck processes an ACK frame's ranges against space's sent-packet
// list: every acked packet is removed and reported to onAcked; every
// packet below the newly-advanced packet-number threshold or past the
// time threshold that remains unacked is declared lost and reported to
// onLost. Returns whether any new packet was acked. ecn is the frame's
// ACK_ECN counts, if present; an increase in the reported CE count is
// treated as a congestion signal, RFC 9000 Section 13.4.2.
func (l *lossState) handleAck(now time.Time, space numberSpace, ranges []ackRange, ackDelay time.Duration, ecn *ecnCounts, onAcked, onLost func(*sentPacket)) bool {
	s := &l.spaces[space]
	if ecn != nil && ecn.ce > s.ecnCE {
		s.ecnCE = ecn.ce
		l.cc.onExplicitCongestion(now)
	}
	if len(ranges) == 0 {
		return false
	}
	largest := ranges[0].end
	if largest > s.largestAcked {
		s.largestAcked = largest
	}

	ackedAny := false
	var remaining []*sentPacket
	var newlyAcked []*sentPacket
	for _, sent := range s.sent {
		acked := false
		for _, r := range ranges {
			if sent.num >= r.start && sent.num <= r.end {
				acked = true
				break
			}
		}
		if acked {
			newlyAcked = append(newlyAcked, sent)
		} else {
			remaining = append(remaining, sent)
		}
	}
	s.sent = remaining

	for _, sent := range newlyAcked {
		ackedAny = true
		if sent.num == largest && sent.ackEliciting {
			sample := now.Sub(sent.timeSent)
			capped := ackDelay
			if capped > l.maxAckDelay {
				capped = l.maxAckDelay
			}
			l.rtt.update(sample, capped)
			smoothedRTT.WithLabelValues(sideLabelFor(l.isServer)).Set(l.rtt.smoothed.Seconds())
		}
		if sent.inFlight {
			l.bytesInFlight -= int64(sent.size)
			if l.bytesInFlight < 0 {
				l.bytesInFlight = 0
			}
			l.cc.onPacketAcked(now, int64(sent.size), sent.timeSent, &l.rtt, sent.cc)
			congestionWindow.WithLabelValues(sideLabelFor(l.isServer)).Set(float64(l.cc.congestionWindow()))
		}
		onAcked(sent)
	}
	if ackedAny {
		l.ptoCount = 0
	}

	l.detectLost(now, space, onLost)
	return ackedAny
}

// detectLost applies RFC 9002 Section 6.1's packet- and time-threshold
// loss rules to space's remaining sent packets.
func (l *lossState) detectLost(now time.Time, space numberSpace, onLost func(*sentPacket)) {
	s := &l.spaces[space]
	if s.largestAcked < 0 {
		return
	}
	lossDelay := l.rtt.smoothed * timeThresholdNumerator / timeThresholdDenominator
	if l.rtt.latest > 0 && l.rtt.latest*timeThresholdNumerator/timeThresholdDenominator > lossDelay {
		lossDelay = l.rtt.latest * timeThresholdNumerator / timeThresholdDenominator
	}
	if lossDelay < timerGranularity {
		lossDelay = timerGranularity
	}
	lostSendTime := now.Add(-lossDelay)

	s.lossTime = time.Time{}
	var remaining []*sentPacket
	for _, sent := range s.sent {
		if sent.num > s.largestAcked {
			remaining = append(remaining, sent)
			continue
		}
		lost := s.largestAcked-sent.num >= packetThreshold || sent.timeSent.Before(lostSendTime) || sent.timeSent.Equal(lostSendTime)
		if lost {
			if sent.inFlight {
				l.bytesInFlight -= int64(sent.size)
				if l.bytesInFlight < 0 {
					l.bytesInFlight = 0
				}
				l.cc.onPacketLost(now, int64(sent.size), sent.cc)
				l.cc.onCongestionEvent(now, sent.timeSent)
				congestionWindow.WithLabelValues(sideLabelFor(l.isServer)).Set(float64(l.cc.congestionWindow()))
			}
			packetsLost.WithLabelValues(space.String()).Inc()
			onLost(sent)
			continue
		}
		remaining = append(remaining, sent)
		packetLossTime := sent.timeSent.Add(lossDelay)
		if s.lossTime.IsZero() || packetLossTime.Before(s.lossTime) {
			s.lossTime = packetLossTime
		}
	}
	s.sent = remaining
}

// discardSpace drops recovery state for space when its keys are discarded,
// RFC 9002 Section 6.4: outstanding packets in the space are neither acked
// nor declared lost, simply removed from bytes-in-flight accounting and
// forgotten.
func (l *lossState) discardSpace(space numberSpace) {
	s := &l.spaces[space]
	for _, sent := range s.sent {
		if sent.inFlight {
			l.bytesInFlight -= int64(sent.size)
		}
	}
	if l.bytesInFlight < 0 {
		l.bytesInFlight = 0
	}
	s.sent = nil
	s.lossTime = time.Time{}
}

func sideLabelFor(isServer bool) string {
	if isServer {
		return "server"
	}
	return "client"
}

// nextTimeout returns the earliest of the per-space loss-detection timers
// and the PTO timer, RFC 9002 Section 6.2.1's SetLossDetectionTimer.
func (l *lossState) nextTimeout(now time.Time, ackElicitingInFlight func(numberSpace) bool) (time.Time, numberSpace) {
	var earliest time.Time
	var earliestSpace numberSpace
	for sp := initialSpace; sp < numberSpaceCount; sp++ {
		lt := l.spaces[sp].lossTime
		if !lt.IsZero() && (earliest.IsZero() || lt.Before(earliest)) {
			earliest = lt
			earliestSpace = sp
		}
	}
	if !earliest.IsZero() {
		return earliest, earliestSpace
	}

	// PTO timer: the earliest space with in-flight ack-eliciting data.
	var ptoSpace numberSpace
	found := false
	for sp := initialSpace; sp < numberSpaceCount; sp++ {
		if ackElicitingInFlight(sp) {
			ptoSpace = sp
			found = true
			break
		}
	}
	if !found {
		return time.Time{}, 0
	}
	pto := l.ptoForSpace(ptoSpace) * time.Duration(1<<uint(l.ptoCount))
	last := l.lastSentTime(ptoSpace)
	return last.Add(pto), ptoSpace
}

func (l *lossState) lastSentTime(space numberSpace) time.Time {
	s := &l.spaces[space]
	var last time.Time
	for _, sent := range s.sent {
		if sent.timeSent.After(last) {
			last = sent.timeSent
		}
	}
	return last
}

// onPTOTimeout increments the PTO backoff counter, RFC 9002 Section 6.2.1.
func (l *lossState) onPTOTimeout() {
	l.ptoCount++
	l.ptoExpired = true
}

// checkPersistentCongestion applies RFC 9002 Section 7.6 to the packets
// declared lost in one pass: if the first and last of them were sent at
// least the persistent congestion duration apart, the congestion window is
// reset to the minimum. It does not check whether those packets are
// ack-eliciting, nor whether any packet sent between them was acknowledged.
func (l *lossState) checkPersistentCongestion(now time.Time, space numberSpace, lost []*sentPacket) {
	if len(lost) < 2 {
		return
	}
	pcDuration := (l.rtt.smoothed + max(4*l.rtt.variance, timerGranularity) + l.maxAckDelay) * 3
	first, last := lost[0], lost[len(lost)-1]
	if last.timeSent.Sub(first.timeSent) >= pcDuration {
		l.cc.onPersistentCongestion(now)
	}
}
