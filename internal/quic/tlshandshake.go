// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// tlsHandshake drives the exchange that brings up Handshake and 1-RTT
// keys and negotiates transport parameters, RFC 9001. A production
// implementation hands CRYPTO stream bytes to crypto/tls's QUICConn and
// relays its key-level events back; wiring that up needs a record-layer
// adapter and certificate verification plumbing outside this package's
// transport scope, so handshakeStub stands in with a minimal exchange of
// transport parameters over the Initial CRYPTO stream, followed by a
// deterministic (non-ECDHE) key schedule grounded entirely in keys.go's
// HKDF-Expand-Label machinery. This is a scoped simplification, not a
// security property: see DESIGN.md's handshake Open Question.
type tlsHandshake interface {
	start(now time.Time)
	handleData(space numberSpace, data []byte)
}

type handshakeStub struct {
	conn          *Conn
	sentParams    bool
	gotPeerParams bool
}

func newHandshakeStub(c *Conn) *handshakeStub {
	return &handshakeStub{conn: c}
}

func (h *handshakeStub) start(now time.Time) {
	if h.conn.side == clientSide {
		h.sendParams()
	}
}

func (h *handshakeStub) sendParams() {
	c := h.conn
	c.tlsState.crypto[initialSpace].write(c.tlsState.localParams.marshal())
	h.sentParams = true
}

func (h *handshakeStub) handleData(space numberSpace, data []byte) {
	if space != initialSpace || h.gotPeerParams || len(data) == 0 {
		return
	}
	peerParams, err := parseTransportParameters(data)
	if err != nil {
		h.conn.closeWithError(err)
		return
	}
	c := h.conn
	c.tlsState.peerParams = peerParams
	c.streams.handleMaxStreams(true, peerParams.initialMaxStreamsBidi)
	c.streams.handleMaxStreams(false, peerParams.initialMaxStreamsUni)
	c.connFlow.handleMaxData(peerParams.initialMaxData)
	h.gotPeerParams = true

	if c.side == serverSide && !h.sentParams {
		h.sendParams()
	}
	h.promoteKeys()
}

// promoteKeys derives and installs the Handshake and 1-RTT keys once both
// sides have exchanged transport parameters, then marks the handshake
// complete. The key schedule chains updateSecret off of the already
//-derived Initial secrets rather than an ephemeral ECDHE shared secret.
func (h *handshakeStub) promoteKeys() {
	c := h.conn
	if c.tlsState.handshakeComplete {
		return
	}
	dst := c.connIDState.dstConnID()
	clientInitial, serverInitial := initialSecrets(dst)

	clientHandshake := updateSecret(clientInitial)
	serverHandshake := updateSecret(serverInitial)
	clientApp := updateSecret(clientHandshake)
	serverApp := updateSecret(serverHandshake)

	mySuite := suiteAES128GCM
	myHandshake, peerHandshake := clientHandshake, serverHandshake
	myApp, peerApp := clientApp, serverApp
	if c.side == serverSide {
		myHandshake, peerHandshake = serverHandshake, clientHandshake
		myApp, peerApp = serverApp, clientApp
	}

	wkeys, err := deriveKeysFromSecret(mySuite, myHandshake)
	if err != nil {
		c.closeWithError(err)
		return
	}
	rkeys, err := deriveKeysFromSecret(mySuite, peerHandshake)
	if err != nil {
		c.closeWithError(err)
		return
	}
	c.tlsState.wkeys[handshakeSpace] = wkeys
	c.tlsState.rkeys[handshakeSpace] = rkeys

	wapp, err := deriveKeysFromSecret(mySuite, myApp)
	if err != nil {
		c.closeWithError(err)
		return
	}
	rapp, err := deriveKeysFromSecret(mySuite, peerApp)
	if err != nil {
		c.closeWithError(err)
		return
	}
	c.tlsState.wkeys[appDataSpace] = wapp
	c.tlsState.rkeys[appDataSpace] = rapp
	c.tlsState.wappSecret = myApp
	c.tlsState.rappSecret = peerApp

	if err := c.armKeyUpdate(); err != nil {
		c.closeWithError(err)
		return
	}

	c.tlsState.handshakeComplete = true
	c.loss.handshakeConfirmed = c.side == clientSide
	c.loss.validateAddress()
	if c.state == stateHandshaking {
		c.state = stateActive
	}
	c.logger.Infof("quic: %v connection %s handshake complete", c.side, c.traceID)
}
