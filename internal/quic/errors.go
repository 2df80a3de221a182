// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// transportErrorCode is one of the error codes defined by RFC 9000, Section 20.1.
type transportErrorCode uint64

const (
	errNone                    transportErrorCode = 0x00
	errInternal                transportErrorCode = 0x01
	errConnectionRefused       transportErrorCode = 0x02
	errFlowControl             transportErrorCode = 0x03
	errStreamLimit             transportErrorCode = 0x04
	errStreamState             transportErrorCode = 0x05
	errFinalSize               transportErrorCode = 0x06
	errFrameEncoding           transportErrorCode = 0x07
	errTransportParameter      transportErrorCode = 0x08
	errConnectionIDLimit       transportErrorCode = 0x09
	errProtocolViolation       transportErrorCode = 0x0a
	errInvalidToken            transportErrorCode = 0x0b
	errApplicationError        transportErrorCode = 0x0c
	errCryptoBufferExceeded    transportErrorCode = 0x0d
	errKeyUpdateError          transportErrorCode = 0x0e
	errAEADLimitReached        transportErrorCode = 0x0f
	errNoViablePath            transportErrorCode = 0x10
	errCryptoFrameErrorBase    transportErrorCode = 0x100 // + TLS alert
)

func (c transportErrorCode) String() string {
	switch c {
	case errNone:
		return "NO_ERROR"
	case errInternal:
		return "INTERNAL_ERROR"
	case errConnectionRefused:
		return "CONNECTION_REFUSED"
	case errFlowControl:
		return "FLOW_CONTROL_ERROR"
	case errStreamLimit:
		return "STREAM_LIMIT_ERROR"
	case errStreamState:
		return "STREAM_STATE_ERROR"
	case errFinalSize:
		return "FINAL_SIZE_ERROR"
	case errFrameEncoding:
		return "FRAME_ENCODING_ERROR"
	case errTransportParameter:
		return "TRANSPORT_PARAMETER_ERROR"
	case errConnectionIDLimit:
		return "CONNECTION_ID_LIMIT_ERROR"
	case errProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case errInvalidToken:
		return "INVALID_TOKEN"
	case errApplicationError:
		return "APPLICATION_ERROR"
	case errCryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case errKeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case errAEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case errNoViablePath:
		return "NO_VIABLE_PATH"
	default:
		return fmt.Sprintf("ERROR_0x%x", uint64(c))
	}
}

// TransportError is a protocol-level failure: malformed or semantically
// invalid peer behavior. It carries the RFC 9000 Section 20.1 error code
// and, when known, the frame type which triggered it (0 if none).
//
// A TransportError reaching the connection's close path becomes the reason
// code of the CONNECTION_CLOSE frame sent to the peer.
type TransportError struct {
	Code      transportErrorCode
	FrameType uint64
	Reason    string
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("quic: %v (frame 0x%x): %s", e.Code, e.FrameType, e.Reason)
	}
	return fmt.Sprintf("quic: %v (frame 0x%x)", e.Code, e.FrameType)
}

func newError(code transportErrorCode, reason string) *TransportError {
	return &TransportError{Code: code, Reason: reason}
}

func newFrameError(code transportErrorCode, frameType uint64, reason string) *TransportError {
	return &TransportError{Code: code, FrameType: frameType, Reason: reason}
}

// ApplicationError is an application-chosen close code, carried on the wire
// as a CONNECTION_CLOSE frame of type 0x1d (1-RTT) or, per RFC 9000
// Section 10.2.3, remapped to type 0x1c with code APPLICATION_ERROR and an
// empty reason when it must be sent from Initial or Handshake.
type ApplicationError struct {
	Code   uint64
	Reason string
}

func (e *ApplicationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("quic: application error 0x%x: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("quic: application error 0x%x", e.Code)
}

// errTransport is a convenience constructor equivalent to newError.
func errTransport(code transportErrorCode, reason string) *TransportError {
	return newError(code, reason)
}

// errStreamReset is returned from Stream.Write after the local send half
// has been reset.
var errStreamReset = fmt.Errorf("quic: stream reset locally")
