// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"fmt"
	"time"
)

// connState is the connection's lifecycle state, RFC 9000 Section 10.
type connState int8

const (
	stateHandshaking connState = iota
	stateActive
	stateClosing
	stateDraining
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerCloseError wraps the CONNECTION_CLOSE frame a peer sent us, surfaced
// from Stream.Read/Write and Conn methods once the connection is draining.
type peerCloseError struct {
	frame connectionCloseFrame
}

func (e *peerCloseError) Error() string {
	return fmt.Sprintf("quic: connection closed by peer: %v", e.frame.String())
}

// Close closes the connection gracefully, with no application error code.
func (c *Conn) Close() error {
	c.runOnLoop(func(now time.Time, c *Conn) {
		c.enterClosing(&ApplicationError{})
	})
	return nil
}

// CloseWithError closes the connection with an application-chosen error
// code and reason, RFC 9000 Section 10.2.
func (c *Conn) CloseWithError(code uint64, reason string) error {
	c.runOnLoop(func(now time.Time, c *Conn) {
		c.enterClosing(&ApplicationError{Code: code, Reason: reason})
	})
	return nil
}

// enterClosing transitions * → Closing on a local close or unrecoverable
// error. The connection stays in Closing for three PTOs (RFC 9000
// Section 10.2), emitting a CONNECTION_CLOSE frame in response to received
// datagrams but rate-limited to once per PTO, before moving on to Draining.
func (c *Conn) enterClosing(err error) {
	if c.state == stateClosing || c.state == stateDraining || c.state == stateClosed {
		return
	}
	c.closeErr = err
	switch e := err.(type) {
	case *ApplicationError:
		c.closeIsApp = true
		c.appCloseCode = e.Code
		c.appCloseReason = e.Reason
	case *TransportError:
		c.appCloseCode = uint64(e.Code)
		c.appCloseReason = e.Reason
	}
	c.state = stateClosing
	c.drainingUntil = c.lastNetworkActivity.Add(3 * c.loss.ptoForSpace(c.ptoSpaceForClose()))
	c.logger.Warnf("quic: %v connection %s closing: %v", c.side, c.traceID, err)
}

// enterDraining transitions to Draining: either the peer told us it is
// closing (skipping Closing entirely, if we were Handshaking or Active), or
// our own Closing period timed out. Draining sends nothing further and
// lasts until its own three-PTO timer expires, RFC 9000 Section 10.2.2.
func (c *Conn) enterDraining(now time.Time) {
	if c.state == stateDraining || c.state == stateClosed {
		return
	}
	c.state = stateDraining
	c.drainingUntil = now.Add(3 * c.loss.ptoForSpace(c.ptoSpaceForClose()))
}

// ptoSpaceForClose returns the most advanced number space for which this
// side still holds write keys, the same space whose PTO governs the
// closing/draining timers and the one maybeSendClose emits into.
func (c *Conn) ptoSpaceForClose() numberSpace {
	switch {
	case c.tlsState.wkeys[appDataSpace].isSet():
		return appDataSpace
	case c.tlsState.wkeys[handshakeSpace].isSet():
		return handshakeSpace
	default:
		return initialSpace
	}
}

// connectionCloseFrameToSend builds the CONNECTION_CLOSE frame to emit for
// the given space while Closing. An application close made while only
// Initial or Handshake keys are available is remapped to the transport
// variant with APPLICATION_ERROR and no reason, RFC 9000 Section 10.2.3.
func (c *Conn) connectionCloseFrameToSend(space numberSpace) connectionCloseFrame {
	if c.closeIsApp {
		if space == appDataSpace {
			return connectionCloseFrame{isApp: true, code: c.appCloseCode, reason: c.appCloseReason}
		}
		return connectionCloseFrame{isApp: false, code: uint64(errApplicationError)}
	}
	var frameType uint64
	if te, ok := c.closeErr.(*TransportError); ok {
		frameType = te.FrameType
	}
	return connectionCloseFrame{isApp: false, code: c.appCloseCode, frameType: frameType, reason: c.appCloseReason}
}

// maybeSendClose sends a single CONNECTION_CLOSE packet while Closing, rate
// limited to once per PTO, in the most advanced number space for which this
// side still holds write keys. It returns the time at which another attempt
// may be made.
func (c *Conn) maybeSendClose(now time.Time) time.Time {
	space := numberSpaceCount
	switch {
	case c.tlsState.wkeys[appDataSpace].isSet():
		space = appDataSpace
	case c.tlsState.wkeys[handshakeSpace].isSet():
		space = handshakeSpace
	case c.tlsState.wkeys[initialSpace].isSet():
		space = initialSpace
	}
	ptoSpace := space
	if ptoSpace == numberSpaceCount {
		ptoSpace = initialSpace
	}
	pto := c.loss.ptoForSpace(ptoSpace)
	next := c.closeFrameSentAt.Add(pto)
	if !c.closeFrameSentAt.IsZero() && now.Before(next) {
		return next
	}
	if space == numberSpaceCount {
		return now.Add(pto)
	}
	k := c.tlsState.wkeys[space]
	f := c.connectionCloseFrameToSend(space)

	c.w.reset(c.loss.maxSendSize())
	pnumMaxAcked := c.acks[space].largestSeen()
	pnum := c.loss.nextNumber(space)
	if space == appDataSpace {
		dst := c.connIDState.dstConnID()
		c.w.start1RTTPacket(pnum, pnumMaxAcked, dst)
		f.write(&c.w)
		c.w.finish1RTTPacket(pnum, pnumMaxAcked, dst, k)
	} else {
		ptype := packetTypeInitial
		if space == handshakeSpace {
			ptype = packetTypeHandshake
		}
		p := longPacket{
			ptype:     ptype,
			version:   1,
			num:       pnum,
			dstConnID: c.connIDState.dstConnID(),
			srcConnID: c.connIDState.srcConnID(),
		}
		c.w.startProtectedLongHeaderPacket(pnumMaxAcked, p)
		f.write(&c.w)
		c.w.finishProtectedLongHeaderPacket(pnumMaxAcked, k, p)
	}
	// CONNECTION_CLOSE is never retransmitted on loss (RFC 9000 Section
	// 13.3); the once-per-PTO resend above is the only recovery needed.
	if buf := c.w.datagram(); len(buf) > 0 {
		c.listener.sendDatagram(buf, c.peerAddr)
		c.closeFrameSentAt = now
	}
	return c.closeFrameSentAt.Add(pto)
}
