// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// Transport parameter identifiers, RFC 9000 Section 18.2.
const (
	paramOriginalDstConnID         = 0x00
	paramMaxIdleTimeout            = 0x01
	paramStatelessResetToken       = 0x02
	paramMaxUDPPayloadSize         = 0x03
	paramInitialMaxData            = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni   = 0x07
	paramInitialMaxStreamsBidi     = 0x08
	paramInitialMaxStreamsUni      = 0x09
	paramAckDelayExponent          = 0x0a
	paramMaxAckDelay               = 0x0b
	paramDisableActiveMigration    = 0x0c
	paramPreferredAddress          = 0x0d
	paramActiveConnectionIDLimit   = 0x0e
	paramInitialSrcConnID          = 0x0f
	paramRetrySrcConnID            = 0x10
	paramGrease                    = 0x173e /* spec.md GREASE_AND_VERSIONS module, RFC 9287 */
	paramMaxDatagramFrameSize      = 0x20
)

// transportParameters holds the subset of RFC 9000 Section 18.2 transport
// parameters this implementation negotiates.
type transportParameters struct {
	originalDstConnID         []byte
	maxIdleTimeout             int64 // milliseconds
	statelessResetToken        []byte
	maxUDPPayloadSize          int64
	initialMaxData             int64
	initialMaxStreamDataBidiLocal  int64
	initialMaxStreamDataBidiRemote int64
	initialMaxStreamDataUni    int64
	initialMaxStreamsBidi      int64
	initialMaxStreamsUni       int64
	ackDelayExponent           int64
	maxAckDelay                int64
	disableActiveMigration     bool
	activeConnIDLimit          int64
	initialSrcConnID           []byte
	retrySrcConnID             []byte
	maxDatagramFrameSize       int64 // RFC 9221; 0 means datagrams unsupported
}

func defaultTransportParameters() transportParameters {
	return transportParameters{
		maxIdleTimeout:                 int64(defaultMaxIdleTimeout / msTime),
		maxUDPPayloadSize:              1472,
		initialMaxData:                 defaultConnRecvWindow,
		initialMaxStreamDataBidiLocal:  defaultStreamRecvWindow,
		initialMaxStreamDataBidiRemote: defaultStreamRecvWindow,
		initialMaxStreamDataUni:        defaultStreamRecvWindow,
		initialMaxStreamsBidi:          defaultMaxStreamsBidi,
		initialMaxStreamsUni:           defaultMaxStreamsUni,
		ackDelayExponent:               ackDelayExponent,
		maxAckDelay:                    25,
		activeConnIDLimit:              2,
		maxDatagramFrameSize:           maxDatagramFramePayload,
	}
}

const msTime = 1_000_000 // nanoseconds per millisecond, for transport parameter encoding

// marshal appends the wire encoding of p, RFC 9000 Section 18.1: a sequence
// of (varint id, varint length, bytes) tuples.
func (p *transportParameters) marshal() []byte {
	var b []byte
	appendTP := func(id uint64, v []byte) {
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(len(v)))
		b = append(b, v...)
	}
	appendIntTP := func(id uint64, v int64) {
		var val []byte
		val = appendVarintInt64(val, v)
		appendTP(id, val)
	}
	if p.originalDstConnID != nil {
		appendTP(paramOriginalDstConnID, p.originalDstConnID)
	}
	appendIntTP(paramMaxIdleTimeout, p.maxIdleTimeout)
	if p.statelessResetToken != nil {
		appendTP(paramStatelessResetToken, p.statelessResetToken)
	}
	appendIntTP(paramMaxUDPPayloadSize, p.maxUDPPayloadSize)
	appendIntTP(paramInitialMaxData, p.initialMaxData)
	appendIntTP(paramInitialMaxStreamDataBidiLocal, p.initialMaxStreamDataBidiLocal)
	appendIntTP(paramInitialMaxStreamDataBidiRemote, p.initialMaxStreamDataBidiRemote)
	appendIntTP(paramInitialMaxStreamDataUni, p.initialMaxStreamDataUni)
	appendIntTP(paramInitialMaxStreamsBidi, p.initialMaxStreamsBidi)
	appendIntTP(paramInitialMaxStreamsUni, p.initialMaxStreamsUni)
	appendIntTP(paramAckDelayExponent, p.ackDelayExponent)
	appendIntTP(paramMaxAckDelay, p.maxAckDelay)
	if p.disableActiveMigration {
		appendTP(paramDisableActiveMigration, nil)
	}
	appendIntTP(paramActiveConnectionIDLimit, p.activeConnIDLimit)
	if p.initialSrcConnID != nil {
		appendTP(paramInitialSrcConnID, p.initialSrcConnID)
	}
	if p.retrySrcConnID != nil {
		appendTP(paramRetrySrcConnID, p.retrySrcConnID)
	}
	if p.maxDatagramFrameSize > 0 {
		appendIntTP(paramMaxDatagramFrameSize, p.maxDatagramFrameSize)
	}
	// GREASE, RFC 9287: a transport parameter the peer is required to
	// ignore, sent with the grease bit set so middleboxes that choke on
	// unknown-but-unused parameter space are detected early.
	appendTP(paramGrease, []byte{0x01})
	return b
}

// parseTransportParameters decodes the wire form produced by marshal,
// ignoring unknown parameter IDs per RFC 9000 Section 18.1.
func parseTransportParameters(b []byte) (transportParameters, error) {
	p := transportParameters{}
	for len(b) > 0 {
		id, n := consumeVarint(b)
		if n < 0 {
			return p, newError(errTransportParameter, "malformed transport parameter id")
		}
		b = b[n:]
		length, n := consumeVarint(b)
		if n < 0 {
			return p, newError(errTransportParameter, "malformed transport parameter length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return p, newError(errTransportParameter, "truncated transport parameter")
		}
		val := b[:length]
		b = b[length:]
		switch id {
		case paramOriginalDstConnID:
			p.originalDstConnID = append([]byte(nil), val...)
		case paramMaxIdleTimeout:
			p.maxIdleTimeout, _ = consumeVarintInt64(val)
		case paramStatelessResetToken:
			p.statelessResetToken = append([]byte(nil), val...)
		case paramMaxUDPPayloadSize:
			p.maxUDPPayloadSize, _ = consumeVarintInt64(val)
		case paramInitialMaxData:
			p.initialMaxData, _ = consumeVarintInt64(val)
		case paramInitialMaxStreamDataBidiLocal:
			p.initialMaxStreamDataBidiLocal, _ = consumeVarintInt64(val)
		case paramInitialMaxStreamDataBidiRemote:
			p.initialMaxStreamDataBidiRemote, _ = consumeVarintInt64(val)
		case paramInitialMaxStreamDataUni:
			p.initialMaxStreamDataUni, _ = consumeVarintInt64(val)
		case paramInitialMaxStreamsBidi:
			p.initialMaxStreamsBidi, _ = consumeVarintInt64(val)
		case paramInitialMaxStreamsUni:
			p.initialMaxStreamsUni, _ = consumeVarintInt64(val)
		case paramAckDelayExponent:
			p.ackDelayExponent, _ = consumeVarintInt64(val)
		case paramMaxAckDelay:
			p.maxAckDelay, _ = consumeVarintInt64(val)
		case paramDisableActiveMigration:
			p.disableActiveMigration = true
		case paramActiveConnectionIDLimit:
			p.activeConnIDLimit, _ = consumeVarintInt64(val)
		case paramInitialSrcConnID:
			p.initialSrcConnID = append([]byte(nil), val...)
		case paramRetrySrcConnID:
			p.retrySrcConnID = append([]byte(nil), val...)
		case paramMaxDatagramFrameSize:
			p.maxDatagramFrameSize, _ = consumeVarintInt64(val)
		default:
			// Unknown parameter, including GREASE: ignore.
		}
	}
	return p, nil
}

// maxDatagramFramePayload bounds unreliable DATAGRAM frames (RFC 9221) to
// fit within one maximum-size packet alongside its header and AEAD tag.
const maxDatagramFramePayload = maxDatagramSize - 64
