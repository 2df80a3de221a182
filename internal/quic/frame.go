// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"fmt"
	"time"
)

// Frame type codes, RFC 9000 Section 19.
const (
	frameTypePadding                   = 0x00
	frameTypePing                      = 0x01
	frameTypeAck                       = 0x02
	frameTypeAckECN                    = 0x03
	frameTypeResetStream               = 0x04
	frameTypeStopSending               = 0x05
	frameTypeCrypto                    = 0x06
	frameTypeNewToken                  = 0x07
	frameTypeStreamBase                = 0x08 // 0x08-0x0f, low 3 bits are OFF/LEN/FIN
	frameTypeMaxData                   = 0x10
	frameTypeMaxStreamData             = 0x11
	frameTypeMaxStreamsBidi            = 0x12
	frameTypeMaxStreamsUni             = 0x13
	frameTypeDataBlocked               = 0x14
	frameTypeStreamDataBlocked         = 0x15
	frameTypeStreamsBlockedBidi        = 0x16
	frameTypeStreamsBlockedUni         = 0x17
	frameTypeNewConnectionID           = 0x18
	frameTypeRetireConnectionID        = 0x19
	frameTypePathChallenge             = 0x1a
	frameTypePathResponse              = 0x1b
	frameTypeConnectionCloseTransport  = 0x1c
	frameTypeConnectionCloseApp        = 0x1d
	frameTypeHandshakeDone             = 0x1e
	frameTypeDatagramBase              = 0x30 // 0x30-0x31, low bit is LEN
)

// isStreamFrameType reports whether t is one of the 0x08-0x0f STREAM frame
// variants.
func isStreamFrameType(t uint64) bool { return t >= 0x08 && t <= 0x0f }

// isDatagramFrameType reports whether t is one of the 0x30-0x31 DATAGRAM
// frame variants (RFC 9221).
func isDatagramFrameType(t uint64) bool { return t == 0x30 || t == 0x31 }

// frameEncodingError wraps a decode failure as a typed transport error,
// spec.md section 4.1: "Decoding fails with FrameEncoding on truncation,
// unknown frame type, varint out-of-range, or frame-type/length
// contradictions."
func frameEncodingError(reason string) error {
	return newError(errFrameEncoding, reason)
}

// debugFrame is the decoded, in-memory representation of a single QUIC
// frame. Every frame type in RFC 9000 Section 19 has exactly one
// implementation. The same values are used by production frame dispatch
// (conn.go's handlePayload) and by tests (conn_test.go's
// testPacket/testDatagram), which is why this type isn't named distinctly
// for tests: it is the only representation of a decoded frame in this
// package.
type debugFrame interface {
	// write appends the frame's wire encoding to w, recording any
	// retransmission-relevant state in w.sent. It returns false if the
	// frame does not fit in the remaining capacity of w, in which case it
	// must not have written anything.
	write(w *packetWriter) bool
	String() string
}

// ackEliciting reports whether f requires the peer to eventually
// acknowledge the packet containing it (spec.md section 4.1: everything
// but ACK, PADDING, CONNECTION_CLOSE).
func ackEliciting(f debugFrame) bool {
	switch f.(type) {
	case ackFrame, paddingFrame, connectionCloseFrame:
		return false
	default:
		return true
	}
}

// congestionControlled reports whether a packet carrying f counts against
// the congestion window (spec.md section 4.1: everything but ACK and
// CONNECTION_CLOSE).
func congestionControlled(f debugFrame) bool {
	switch f.(type) {
	case ackFrame, connectionCloseFrame:
		return false
	default:
		return true
	}
}

// isProbingFrame reports whether f is one of the frames eligible to probe
// a new path (spec.md section 4.1).
func isProbingFrame(f debugFrame) bool {
	switch f.(type) {
	case pathChallengeFrame, pathResponseFrame, newConnectionIDFrame, paddingFrame:
		return true
	default:
		return false
	}
}

// parseDebugFrame decodes a single frame at the start of payload, returning
// the decoded frame and the number of bytes consumed, or n = -1 on error.
func parseDebugFrame(payload []byte) (debugFrame, int) {
	if len(payload) == 0 {
		return nil, -1
	}
	ftype, tn := consumeVarint(payload)
	if tn < 0 {
		return nil, -1
	}
	switch {
	case ftype == frameTypePadding:
		n := tn
		for n < len(payload) && payload[n] == frameTypePadding {
			n++
		}
		return paddingFrame{size: n}, n
	case ftype == frameTypePing:
		return pingFrame{}, tn
	case ftype == frameTypeAck || ftype == frameTypeAckECN:
		return parseAckFrame(payload, ftype == frameTypeAckECN)
	case ftype == frameTypeResetStream:
		return parseResetStreamFrame(payload)
	case ftype == frameTypeStopSending:
		return parseStopSendingFrame(payload)
	case ftype == frameTypeCrypto:
		return parseCryptoFrame(payload)
	case ftype == frameTypeNewToken:
		return parseNewTokenFrame(payload)
	case isStreamFrameType(ftype):
		return parseStreamFrame(payload, ftype)
	case ftype == frameTypeMaxData:
		v, n := consumeVarintInt64(payload[tn:])
		if n < 0 {
			return nil, -1
		}
		return maxDataFrame{max: v}, tn + n
	case ftype == frameTypeMaxStreamData:
		return parseMaxStreamDataFrame(payload)
	case ftype == frameTypeMaxStreamsBidi || ftype == frameTypeMaxStreamsUni:
		v, n := consumeVarintInt64(payload[tn:])
		if n < 0 {
			return nil, -1
		}
		return maxStreamsFrame{bidi: ftype == frameTypeMaxStreamsBidi, max: v}, tn + n
	case ftype == frameTypeDataBlocked:
		v, n := consumeVarintInt64(payload[tn:])
		if n < 0 {
			return nil, -1
		}
		return dataBlockedFrame{max: v}, tn + n
	case ftype == frameTypeStreamDataBlocked:
		return parseStreamDataBlockedFrame(payload)
	case ftype == frameTypeStreamsBlockedBidi || ftype == frameTypeStreamsBlockedUni:
		v, n := consumeVarintInt64(payload[tn:])
		if n < 0 {
			return nil, -1
		}
		return streamsBlockedFrame{bidi: ftype == frameTypeStreamsBlockedBidi, max: v}, tn + n
	case ftype == frameTypeNewConnectionID:
		return parseNewConnectionIDFrame(payload)
	case ftype == frameTypeRetireConnectionID:
		v, n := consumeVarintInt64(payload[tn:])
		if n < 0 {
			return nil, -1
		}
		return retireConnectionIDFrame{seq: v}, tn + n
	case ftype == frameTypePathChallenge:
		if len(payload) < tn+8 {
			return nil, -1
		}
		var data [8]byte
		copy(data[:], payload[tn:tn+8])
		return pathChallengeFrame{data: data}, tn + 8
	case ftype == frameTypePathResponse:
		if len(payload) < tn+8 {
			return nil, -1
		}
		var data [8]byte
		copy(data[:], payload[tn:tn+8])
		return pathResponseFrame{data: data}, tn + 8
	case ftype == frameTypeConnectionCloseTransport:
		return parseConnectionCloseFrame(payload, false)
	case ftype == frameTypeConnectionCloseApp:
		return parseConnectionCloseFrame(payload, true)
	case ftype == frameTypeHandshakeDone:
		return handshakeDoneFrame{}, tn
	case isDatagramFrameType(ftype):
		return parseDatagramFrame(payload, ftype)
	default:
		return nil, -1
	}
}

// ---- PADDING, PING ----

type paddingFrame struct{ size int }

func (f paddingFrame) write(w *packetWriter) bool {
	if w.remaining() < f.size {
		return false
	}
	for i := 0; i < f.size; i++ {
		w.buf = append(w.buf, frameTypePadding)
	}
	return true
}
func (f paddingFrame) String() string { return fmt.Sprintf("PADDING(%d)", f.size) }

type pingFrame struct{}

func (f pingFrame) write(w *packetWriter) bool {
	if w.remaining() < 1 {
		return false
	}
	w.buf = append(w.buf, frameTypePing)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f pingFrame) String() string { return "PING" }

// ---- ACK ----

// ackRange is an inclusive, closed interval of acknowledged packet numbers.
type ackRange struct{ start, end packetNumber }

type ackFrame struct {
	ranges []ackRange // descending by end; ranges[0].end is the largest acked
	delay  uint64     // scaled ack delay, see unscaledAckDelayFromDuration
	ecn    *ecnCounts
}

type ecnCounts struct{ ect0, ect1, ce uint64 }

func (f ackFrame) write(w *packetWriter) bool {
	if len(f.ranges) == 0 {
		return false
	}
	ftype := uint64(frameTypeAck)
	if f.ecn != nil {
		ftype = frameTypeAckECN
	}
	var b []byte
	b = appendVarint(b, ftype)
	b = appendVarintInt64(b, int64(f.ranges[0].end))
	b = appendVarint(b, f.delay)
	b = appendVarintInt64(b, int64(len(f.ranges)-1))
	b = appendVarintInt64(b, int64(f.ranges[0].end-f.ranges[0].start))
	for i := 1; i < len(f.ranges); i++ {
		gap := f.ranges[i-1].start - f.ranges[i].end - 2
		b = appendVarintInt64(b, int64(gap))
		b = appendVarintInt64(b, int64(f.ranges[i].end-f.ranges[i].start))
	}
	if f.ecn != nil {
		b = appendVarint(b, f.ecn.ect0)
		b = appendVarint(b, f.ecn.ect1)
		b = appendVarint(b, f.ecn.ce)
	}
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.frames = append(w.sent.frames, frameTypeAck)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(f.ranges[0].end))
	return true
}

func (f ackFrame) String() string {
	return fmt.Sprintf("ACK ranges=%v delay=%v", f.ranges, f.delay)
}

func parseAckFrame(payload []byte, ecn bool) (debugFrame, int) {
	_, n := consumeVarint(payload) // frame type
	largest, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	delay, n2 := consumeVarint(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	count, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	firstRange, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	f := ackFrame{delay: delay}
	end := packetNumber(largest)
	start := end - packetNumber(firstRange)
	f.ranges = append(f.ranges, ackRange{start: start, end: end})
	for i := int64(0); i < count; i++ {
		gap, n2 := consumeVarintInt64(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
		length, n2 := consumeVarintInt64(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
		end = start - packetNumber(gap) - 2
		start = end - packetNumber(length)
		f.ranges = append(f.ranges, ackRange{start: start, end: end})
	}
	if ecn {
		e := &ecnCounts{}
		var n2 int
		e.ect0, n2 = consumeVarint(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
		e.ect1, n2 = consumeVarint(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
		e.ce, n2 = consumeVarint(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
		f.ecn = e
	}
	return f, n
}

// unscaledAckDelayFromDuration encodes d as the scaled integer an ACK
// frame's Delay field carries, RFC 9000 Section 19.3: the delay is
// expressed in multiples of 2^ack_delay_exponent microseconds.
func unscaledAckDelayFromDuration(d time.Duration, ackDelayExponent uint8) uint64 {
	if d < 0 {
		d = 0
	}
	micros := uint64(d.Microseconds())
	return micros >> ackDelayExponent
}

// durationFromUnscaledAckDelay is the inverse of unscaledAckDelayFromDuration.
func durationFromUnscaledAckDelay(scaled uint64, ackDelayExponent uint8) time.Duration {
	return time.Duration(scaled<<ackDelayExponent) * time.Microsecond
}
