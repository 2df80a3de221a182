// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "sync"

// streamID identifies a stream, RFC 9000 Section 2.1. The low two bits
// encode the initiator and stream type; the remaining bits are the stream's
// index within that (initiator, type) space.
type streamID int64

const (
	streamIDBitClient = 0x0
	streamIDBitServer = 0x1
	streamIDBitBidi   = 0x0
	streamIDBitUni    = 0x2
)

func newStreamID(side connSide, bidi bool, num int64) streamID {
	var id int64 = num << 2
	if side == serverSide {
		id |= streamIDBitServer
	}
	if !bidi {
		id |= streamIDBitUni
	}
	return streamID(id)
}

func (s streamID) isClientInitiated() bool { return s&streamIDBitServer == 0 }
func (s streamID) isServerInitiated() bool { return !s.isClientInitiated() }
func (s streamID) isBidi() bool            { return s&streamIDBitUni == 0 }
func (s streamID) isUni() bool             { return !s.isBidi() }
func (s streamID) num() int64              { return int64(s) >> 2 }

func (s streamID) initiatedBy(side connSide) bool {
	if side == clientSide {
		return s.isClientInitiated()
	}
	return s.isServerInitiated()
}

// Stream is a bidirectional or unidirectional QUIC stream, spec.md
// STREAM_MANAGEMENT and FLOW_CONTROL modules. A Stream always has a send
// half, a receive half, or both; the half that does not apply to a
// unidirectional stream opened by the peer is closed from creation.
type Stream struct {
	id   streamID
	conn *Conn

	// ins and outs guard their own state independently: a Stream's send
	// and receive halves never block on one another, matching the
	// cooperative single-threaded event loop's requirement that no
	// operation wait on another goroutine without going through the
	// conn's message channel.
	in  streamIn
	out streamOut

	inresetcode  int64 // set when ins received RESET_STREAM
	outclosed    bool
	onClosed     func(*Stream)
	closeOnce    sync.Once
}

// IsReadOnly reports whether the stream is unidirectional and was opened by
// the peer, meaning this side may only read from it.
func (s *Stream) IsReadOnly() bool {
	return s.id.isUni() && !s.id.initiatedBy(s.conn.side)
}

// IsWriteOnly reports whether the stream is unidirectional and was opened
// locally, meaning this side may only write to it.
func (s *Stream) IsWriteOnly() bool {
	return s.id.isUni() && s.id.initiatedBy(s.conn.side)
}

// Read reads from the stream's receive half.
func (s *Stream) Read(b []byte) (int, error) { return s.in.Read(b) }

// Write appends b to the stream's send buffer and returns immediately. It
// does not wait for the peer's flow control window, and the send buffer has
// no size bound.
func (s *Stream) Write(b []byte) (int, error) { return s.out.Write(b) }

// Close closes the send half of the stream, signaling FIN to the peer. It
// does not wait for the peer to acknowledge it.
func (s *Stream) Close() error { return s.out.Close() }

// Reset abandons the send half of the stream, signaling RESET_STREAM with
// the given application error code.
func (s *Stream) Reset(code uint64) { s.out.Reset(code) }

// StopSending signals the peer to abandon the receive half of the stream,
// RFC 9000 Section 19.5.
func (s *Stream) StopSending(code uint64) { s.in.StopSending(code) }
