// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// ccLimit describes whether sending is currently permitted.
type ccLimit int

const (
	// ccOK: no limit; any frame may be sent.
	ccOK ccLimit = iota
	// ccLimited: congestion control or pacing limits new data, but ACK
	// and PADDING frames (which are not congestion controlled) may
	// still be sent.
	ccLimited
	// ccBlocked: anti-amplification limits sending entirely; not even
	// an ACK-only packet may be sent.
	ccBlocked
)

// ccCookie is private per-packet bookkeeping a congestionController attaches
// to a sentPacket when it is sent, and receives back unmodified when the
// packet is later acked or declared lost. CUBIC and BBR use it differently
// (CUBIC: nothing; BBR: the bandwidth-delivery sample inputs), so each
// field is meaningful only to the controller that set it.
type ccCookie struct {
	sendTime   time.Time
	deliveredAtSend int64
	isAppLimited    bool
}

// congestionController is the pluggable congestion controller interface,
// spec.md CONGESTION_CONTROL module. Implementations are CUBIC (RFC 8312,
// with HyStart++) and BBRv2; both are driven entirely by the single-threaded
// connection event loop and must never block.
type congestionController interface {
	// canSend reports whether size additional bytes may be sent right
	// now on top of bytesInFlight, given congestion window state.
	canSend(bytesInFlight, size int64) bool

	// onPacketSent records that a packet of size bytes was just sent.
	onPacketSent(now time.Time, size int64, cookie *ccCookie)

	// onPacketAcked records that a previously-sent packet was acked.
	onPacketAcked(now time.Time, size int64, sentTime time.Time, rtt *rttState, cookie ccCookie)

	// onPacketLost records that a previously-sent packet was declared lost.
	onPacketLost(now time.Time, size int64, cookie ccCookie)

	// onCongestionEvent is called once per loss-detection pass that finds
	// at least one lost packet, to apply a single window reduction.
	onCongestionEvent(now time.Time, sentTime time.Time)

	// onExplicitCongestion reacts to an increase in the peer's reported
	// ECN-CE count as RFC 9000 Section 13.4.2 requires: as to a
	// congestion event, without treating any packet as lost (bytes in
	// flight are left untouched).
	onExplicitCongestion(now time.Time)

	// onPersistentCongestion resets the controller to the minimum window
	// after RFC 9002 Section 7.6's persistent congestion is detected.
	onPersistentCongestion(now time.Time)

	// setUnderutilized notes that the sender had no data to send despite
	// being otherwise permitted to, which some controllers (e.g. BBR) use
	// to avoid growing the window on idle.
	setUnderutilized(bool)

	// congestionWindow returns the current congestion window in bytes.
	congestionWindow() int64
}

// minCongestionWindow is the floor below which no controller may shrink the
// congestion window, RFC 9002 Section 7.2 (two maximum datagram sizes).
const minCongestionWindow = 2 * maxDatagramSize

// maxDatagramSize is the largest UDP payload this implementation sends
// absent path MTU discovery raising it further for a validated path.
const maxDatagramSize = 1452

// initialCongestionWindow is RFC 9002 Section 7.2's recommended default.
const initialCongestionWindow = 10 * maxDatagramSize
