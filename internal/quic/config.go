// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// Connection-wide defaults and protocol constants that are not subject to
// per-connection negotiation, RFC 9000 Sections 14.1 and 10.1.
const (
	defaultMaxIdleTimeout             = 30 * time.Second
	ackDelayExponent                  = 3
	minimumClientInitialDatagramSize  = 1200
	maxAckDelayDefault                = 25 * time.Millisecond
)

// CongestionControlAlgorithm selects the congestion controller a Config
// installs on new connections, spec.md CONGESTION_CONTROL module.
type CongestionControlAlgorithm int

const (
	CongestionControlCubic CongestionControlAlgorithm = iota
	CongestionControlBBR
)

// Config holds the settings used to create Conns, grounded on the pattern
// of a single top-level options struct with documented field-level
// defaults that distribution-distribution's Configuration type uses.
type Config struct {
	// MaxIdleTimeout is the longest period of network silence before a
	// connection is closed, RFC 9000 Section 10.1. Zero means
	// defaultMaxIdleTimeout.
	MaxIdleTimeout time.Duration

	// MaxStreamReadBufferSize bounds the flow control window offered for
	// each stream. Zero means defaultStreamRecvWindow.
	MaxStreamReadBufferSize int64

	// MaxConnReadBufferSize bounds the connection-level flow control
	// window. Zero means defaultConnRecvWindow.
	MaxConnReadBufferSize int64

	// MaxBidiRemoteStreams and MaxUniRemoteStreams bound the number of
	// peer-initiated streams accepted concurrently. Zero means the
	// package defaults.
	MaxBidiRemoteStreams int64
	MaxUniRemoteStreams  int64

	// MaxCryptoBuffer bounds, per packet number space, how far received
	// CRYPTO data may extend past the handshake bytes already delivered in
	// order. Zero means defaultMaxCryptoBuffer.
	//
	// This is this implementation's resolution of an open question left
	// unspecified upstream: RFC 9000 requires *a* bound (Section 7.5)
	// but does not mandate a value.
	MaxCryptoBuffer int64

	// CongestionControl selects the congestion controller. The zero
	// value is CongestionControlCubic.
	CongestionControl CongestionControlAlgorithm

	// EnableDatagrams is reserved for RFC 9221 unreliable datagram
	// frames. No connection code reads it: received DATAGRAM frames are
	// logged and dropped whatever its value, and none are sent.
	EnableDatagrams bool

	// DisablePathMTUDiscovery is reserved for turning off path MTU
	// discovery. No connection code reads it; setting it changes nothing.
	DisablePathMTUDiscovery bool

	// StatelessResetKey is reserved for deriving stateless reset tokens
	// deterministically. No connection code reads it: tokens are always
	// generated randomly per connection ID.
	StatelessResetKey []byte

	// Logger receives structured connection lifecycle events. If nil,
	// logging is disabled.
	Logger Logger
}

const defaultMaxCryptoBuffer = 4096

func (c *Config) maxIdleTimeout() time.Duration {
	if c == nil || c.MaxIdleTimeout == 0 {
		return defaultMaxIdleTimeout
	}
	return c.MaxIdleTimeout
}

func (c *Config) maxStreamReadBufferSize() int64 {
	if c == nil || c.MaxStreamReadBufferSize == 0 {
		return defaultStreamRecvWindow
	}
	return c.MaxStreamReadBufferSize
}

func (c *Config) maxConnReadBufferSize() int64 {
	if c == nil || c.MaxConnReadBufferSize == 0 {
		return defaultConnRecvWindow
	}
	return c.MaxConnReadBufferSize
}

func (c *Config) maxBidiRemoteStreams() int64 {
	if c == nil || c.MaxBidiRemoteStreams == 0 {
		return defaultMaxStreamsBidi
	}
	return c.MaxBidiRemoteStreams
}

func (c *Config) maxUniRemoteStreams() int64 {
	if c == nil || c.MaxUniRemoteStreams == 0 {
		return defaultMaxStreamsUni
	}
	return c.MaxUniRemoteStreams
}

func (c *Config) maxCryptoBuffer() int64 {
	if c == nil || c.MaxCryptoBuffer == 0 {
		return defaultMaxCryptoBuffer
	}
	return c.MaxCryptoBuffer
}

func (c *Config) congestionControl() congestionController {
	algo := CongestionControlCubic
	if c != nil {
		algo = c.CongestionControl
	}
	if algo == CongestionControlBBR {
		return newBBRController()
	}
	return newCubicController()
}

func (c *Config) logger() Logger {
	if c == nil || c.Logger == nil {
		return noopLogger{}
	}
	return c.Logger
}
