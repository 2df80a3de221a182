// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net/netip"
	"time"

	"github.com/rs/xid"
)

// connSide identifies which endpoint of a connection this Conn represents.
type connSide int8

const (
	clientSide connSide = iota
	serverSide
)

func (s connSide) String() string {
	if s == clientSide {
		return "client"
	}
	return "server"
}

// connListener is the subset of a Listener a Conn needs: the ability to
// send a datagram to the peer. Production code backs this with a UDP
// socket; tests back it with an in-memory recorder (testConnListener).
type connListener interface {
	sendDatagram(p []byte, addr netip.AddrPort) error
}

// connTestHooks lets tests control a Conn's event loop: supplying the
// current time and the next event to process, rather than reading the
// system clock and a real socket.
type connTestHooks interface {
	nextMessage(msgc chan any, timer time.Time) (now time.Time, m any)
}

// timerEvent is sent on msgc to wake the loop when its aggregate timer
// fires with no other event pending.
type timerEvent struct{}

// datagram is sent on msgc when a UDP datagram addressed to this
// connection arrives.
type datagram struct{ b []byte }

// streamWritableMsg notifies the loop that a stream has new data to send,
// enqueued from Stream.Write/Close/Reset running on another goroutine.
type streamWritableMsg struct{ id streamID }

// streamMaxDataMsg wakes the loop after a stream marks a MAX_STREAM_DATA
// update pending; the actual frame is written by streamIn.appendFrame.
type streamMaxDataMsg struct{ id streamID }

// streamStopSendingMsg wakes the loop after a stream marks a STOP_SENDING
// frame pending; the actual frame is written by streamIn.appendFrame.
type streamStopSendingMsg struct{ id streamID }

// exitMsg asks the loop to terminate.
type exitMsg struct{}

// testSendPingState drives the test-only behavior of sending a single PING
// frame in a given number space when a PTO fires, used by tests to
// observe PTO firing without needing real stream or crypto data in
// flight.
type testSendPingState struct {
	armed bool
	sent  bool
	num   packetNumber
}

func (t *testSendPingState) shouldSendPTO(pto bool) bool {
	return t.armed && pto && !t.sent
}

func (t *testSendPingState) setSent(pnum packetNumber) {
	t.sent = true
	t.num = pnum
}

// tlsState holds the record-protection keys and handshake byte streams for
// all three packet number spaces, plus the negotiated transport
// parameters. Full TLS 1.3 integration (certificate verification, 0-RTT
// resumption) is out of scope for this transport-focused package; the
// handshake is driven by a pluggable tlsHandshake, with handshakeStub
// providing a self-contained implementation suitable for connecting two
// instances of this package to each other.
type tlsState struct {
	wkeys  [numberSpaceCount]keys
	rkeys  [numberSpaceCount]keys
	crypto [numberSpaceCount]cryptoStream

	hs tlsHandshake

	handshakeComplete  bool
	handshakeConfirmed bool

	// wappSecret and rappSecret are the current 1-RTT traffic secrets,
	// retained (rather than discarded once keys are derived from them) so
	// that a later key update can chain updateSecret off of them, RFC 9001
	// Section 6.
	wappSecret []byte
	rappSecret []byte

	peerParams  transportParameters
	localParams transportParameters
}

// Conn is one endpoint of a QUIC connection, spec.md's central object
// tying together the STREAM_MANAGEMENT, FLOW_CONTROL, LOSS_RECOVERY,
// CONGESTION_CONTROL, and PATH_MANAGEMENT modules. All of a Conn's state
// is owned by a single goroutine running loop; every other goroutine
// (Stream.Read/Write callers, the Listener's receive loop) communicates
// with it exclusively by sending values on msgc, so Conn itself needs no
// internal locks beyond the narrow ones in streamIn/streamOut that guard
// data shared with the application's calling goroutine.
type Conn struct {
	side     connSide
	traceID  xid.ID // opaque per-connection id for correlating log lines
	config   *Config
	peerAddr netip.AddrPort
	listener connListener
	hooks    connTestHooks
	logger   Logger

	msgc  chan any
	donec chan struct{}

	exited bool

	w    packetWriter
	loss *lossState
	acks [numberSpaceCount]ackState

	tlsState    tlsState
	connIDState connIDState
	path        *pathState
	connFlow    *connFlowControl
	keyUpdate   keyUpdateState
	streams     *streamsState

	testSendPingSpace numberSpace
	testSendPing      testSendPingState

	idleTimeout     time.Time
	lastNetworkActivity time.Time

	state            connState
	closeErr         error
	closeIsApp       bool
	appCloseCode     uint64
	appCloseReason   string
	drainingUntil    time.Time
	closeFrameSentAt time.Time

	// sentHandshakePacket is set the first time this side sends a Handshake
	// packet, RFC 9001 Section 4.9.1; a client that receives a Retry after
	// this point MUST treat it as a protocol violation.
	sentHandshakePacket bool
}

// newConn creates a connection and starts its event loop goroutine.
func newConn(now time.Time, side connSide, initialConnID []byte, peerAddr netip.AddrPort, listener connListener, hooks connTestHooks, configs ...*Config) (*Conn, error) {
	var config *Config
	if len(configs) > 0 {
		config = configs[0]
	}

	c := &Conn{
		side:     side,
		traceID:  xid.New(),
		config:   config,
		peerAddr: peerAddr,
		listener: listener,
		hooks:    hooks,
		logger:   config.logger(),
		msgc:     make(chan any, 16),
		donec:    make(chan struct{}),
		path:     newPathState(),
	}
	c.loss = newLossState(config.congestionControl(), side == serverSide)
	for i := range c.acks {
		c.acks[i] = newAckState(maxAckDelayDefault)
	}
	c.idleTimeout = now.Add(config.maxIdleTimeout())
	c.lastNetworkActivity = now

	var dstID []byte
	if side == serverSide {
		transientID, err := newRandomConnID()
		if err != nil {
			return nil, err
		}
		realID, err := newRandomConnID()
		if err != nil {
			return nil, err
		}
		c.connIDState.initServer(
			connIDEntry{cid: transientID, seq: -1},
			connIDEntry{cid: realID, seq: 0},
			initialConnID,
		)
		dstID = initialConnID
	} else {
		id0, err := newRandomConnID()
		if err != nil {
			return nil, err
		}
		generatedDst, err := newRandomConnID()
		if err != nil {
			return nil, err
		}
		c.connIDState.initClient(connIDEntry{cid: id0, seq: 0}, generatedDst)
		dstID = generatedDst
	}

	wkeys, rkeys, err := deriveInitialKeys(dstID, side)
	if err != nil {
		return nil, err
	}
	c.tlsState.wkeys[initialSpace] = wkeys
	c.tlsState.rkeys[initialSpace] = rkeys
	c.tlsState.crypto[initialSpace].init(config.maxCryptoBuffer())
	c.tlsState.crypto[handshakeSpace].init(config.maxCryptoBuffer())
	c.tlsState.crypto[appDataSpace].init(config.maxCryptoBuffer())
	c.tlsState.localParams = defaultTransportParameters()
	c.tlsState.localParams.initialSrcConnID = c.connIDState.srcConnID()
	c.tlsState.hs = newHandshakeStub(c)

	c.connFlow = newConnFlowControl(config.maxConnReadBufferSize(), 0)
	c.streams = newStreamsState(c, 0, 0, config.maxBidiRemoteStreams(), config.maxUniRemoteStreams())

	connsOpened.WithLabelValues(side.metricLabel()).Inc()
	c.logger.Infof("quic: new %v connection %s", side, c.traceID)

	c.tlsState.hs.start(now)
	go c.loop(now)
	return c, nil
}

// sendMsg enqueues msg for the loop goroutine to process, or drops it if
// the connection has already exited.
func (c *Conn) sendMsg(msg any) {
	select {
	case c.msgc <- msg:
	case <-c.donec:
	}
}

// runOnLoop runs f synchronously on the loop goroutine and waits for it to
// complete.
func (c *Conn) runOnLoop(f func(now time.Time, c *Conn)) {
	done := make(chan struct{})
	c.sendMsg(func(now time.Time, c *Conn) {
		f(now, c)
		close(done)
	})
	select {
	case <-done:
	case <-c.donec:
	}
}

// exit requests the loop goroutine terminate, and waits for it to do so.
func (c *Conn) exit() {
	c.sendMsg(exitMsg{})
	<-c.donec
}

// loop is the connection's single-threaded event loop: every piece of Conn
// state not guarded by its own lock is read and written only here.
func (c *Conn) loop(now time.Time) {
	defer close(c.donec)
	defer c.streams.closeAll()
	defer func() { connsClosed.WithLabelValues(c.side.metricLabel(), c.closeReasonLabel()).Inc() }()

	for {
		timer := c.nextTimeout()
		now, m := c.hooks.nextMessage(c.msgc, timer)
		if c.exited {
			return
		}
		switch v := m.(type) {
		case exitMsg:
			c.exited = true
			return
		case timerEvent:
			c.handleTimeout(now)
		case *datagram:
			c.handleDatagram(now, v.b)
		case func(time.Time, *Conn):
			v(now, c)
		case streamWritableMsg, streamMaxDataMsg, streamStopSendingMsg:
			// Nothing to do directly; the pending state already lives on
			// the stream and maybeSend below picks it up.
		}
		if c.exited {
			return
		}
		c.maybeSend(now)
	}
}

func (c *Conn) closeReasonLabel() string {
	switch {
	case c.closeErr == nil:
		return "idle_timeout"
	case c.closeIsApp:
		return "application"
	default:
		return "error"
	}
}

// nextTimeout computes the next time the loop must wake up even with no
// message pending: idle timeout, loss detection/PTO, or delayed ACK.
func (c *Conn) nextTimeout() time.Time {
	var t connTimer
	if c.state == stateClosing || c.state == stateDraining {
		t.add(c.drainingUntil)
		if c.state == stateClosing {
			t.add(c.closeFrameSentAt.Add(c.loss.ptoForSpace(c.ptoSpaceForClose())))
		}
		return t.deadline()
	}
	t.add(c.idleTimeout)
	lossDeadline, _ := c.loss.nextTimeout(c.lastNetworkActivity, func(sp numberSpace) bool {
		return len(c.loss.spaces[sp].sent) > 0
	})
	t.add(lossDeadline)
	for sp := initialSpace; sp < numberSpaceCount; sp++ {
		if c.acks[sp].unackedElicitingCount > 0 && !c.acks[sp].largestAckElicitingTime.IsZero() {
			t.add(c.acks[sp].largestAckElicitingTime.Add(c.acks[sp].maxAckDelay))
		}
	}
	return t.deadline()
}

func (c *Conn) handleTimeout(now time.Time) {
	if c.state == stateClosing || c.state == stateDraining {
		if !c.drainingUntil.IsZero() && !now.Before(c.drainingUntil) {
			if c.state == stateClosing {
				c.enterDraining(now)
			} else {
				c.state = stateClosed
				c.exited = true
			}
		}
		return
	}
	if !now.Before(c.idleTimeout) {
		c.logger.Infof("quic: %v connection %s idle timeout", c.side, c.traceID)
		if c.closeErr == nil {
			c.closeErr = newError(errNone, "idle timeout")
		}
		c.state = stateClosed
		c.exited = true
		return
	}
	loss := c.loss
	deadline, space := loss.nextTimeout(now, func(sp numberSpace) bool {
		return len(loss.spaces[sp].sent) > 0
	})
	if !deadline.IsZero() && !now.Before(deadline) {
		if len(loss.spaces[space].sent) > 0 && !loss.spaces[space].lossTime.IsZero() {
			c.detectLoss(now, space)
		} else {
			loss.onPTOTimeout()
		}
	}
}

func (c *Conn) detectLoss(now time.Time, space numberSpace) {
	var lost []*sentPacket
	c.loss.detectLost(now, space, func(sent *sentPacket) {
		lost = append(lost, sent)
		c.handleAckOrLoss(space, sent, packetLost)
	})
	c.loss.checkPersistentCongestion(now, space, lost)
}

// handleAck processes an ACK frame received in space.
func (c *Conn) handleAck(now time.Time, space numberSpace, f ackFrame) {
	delay := durationFromUnscaledAckDelay(f.delay, ackDelayExponent)
	c.loss.handleAck(now, space, f.ranges, delay, f.ecn, func(sent *sentPacket) {
		c.handleAckOrLoss(space, sent, packetAcked)
	}, func(sent *sentPacket) {
		c.handleAckOrLoss(space, sent, packetLost)
	})
}

// handleDatagram processes one UDP datagram received from the peer,
// which may contain multiple coalesced QUIC packets.
func (c *Conn) handleDatagram(now time.Time, buf []byte) {
	c.lastNetworkActivity = now
	c.idleTimeout = now.Add(c.config.maxIdleTimeout())
	c.loss.bytesReceivedFromPeer(int64(len(buf)))
	for len(buf) > 0 {
		if buf[0] == 0 {
			break // trailing PADDING
		}
		n := c.handlePacket(now, buf)
		if n <= 0 {
			break
		}
		buf = buf[n:]
	}
}

// discardInitialKeys implements RFC 9000 Section 10.2/RFC 9001 Section
// 4.9.1: the client discards Initial keys on sending its first Handshake
// packet; the server discards them on receiving its first Handshake
// packet. Idempotent.
func (c *Conn) discardInitialKeys() {
	if !c.tlsState.wkeys[initialSpace].isSet() && !c.tlsState.rkeys[initialSpace].isSet() {
		return
	}
	c.tlsState.wkeys[initialSpace] = keys{}
	c.tlsState.rkeys[initialSpace] = keys{}
	c.loss.discardSpace(initialSpace)
	c.loss.initialKeysDiscarded = true
}

// discardHandshakeKeys implements RFC 9001 Section 4.9.2: Handshake keys
// are discarded once the handshake is confirmed. Idempotent.
func (c *Conn) discardHandshakeKeys() {
	if !c.tlsState.wkeys[handshakeSpace].isSet() && !c.tlsState.rkeys[handshakeSpace].isSet() {
		return
	}
	c.tlsState.wkeys[handshakeSpace] = keys{}
	c.tlsState.rkeys[handshakeSpace] = keys{}
	c.loss.discardSpace(handshakeSpace)
	c.loss.handshakeKeysDiscarded = true
}

func (c *Conn) handlePacket(now time.Time, buf []byte) int {
	ptype := getPacketType(buf)
	if ptype == packetTypeVersionNegotiation {
		return len(buf) // consume and ignore; handled at the Listener level
	}
	if ptype == packetTypeRetry {
		c.handleRetryPacket(buf)
		return len(buf) // Retry packets are never coalesced with others
	}
	space := spaceForPacketType(ptype)
	k := c.tlsState.rkeys[space]
	if !k.isSet() {
		return -1
	}
	var p parsedPacket
	var n int
	if isLongHeader(buf[0]) {
		p, n = parseLongHeaderPacket(buf, k, c.acks[space].largestSeen())
	} else {
		p, n = parse1RTTPacket(buf, k, localConnIDLen, c.acks[space].largestSeen())
	}
	if n < 0 {
		return -1
	}
	if p.ptype == packetTypeInitial && c.side == serverSide && len(p.srcConnID) > 0 {
		c.connIDState.setPeerInitialSrcConnID(p.srcConnID)
	}
	ackEliciting := c.handlePayload(now, space, p.payload)
	c.acks[space].receive(now, p.num, ackEliciting)
	return n
}

// handleRetryPacket processes a Retry packet, RFC 9000 Section 17.2.5. Only
// a client ever acts on one, and only before it has committed to the
// handshake by sending a Handshake packet of its own; this transport does
// not implement the retry-token-driven reissue of the Initial packet that a
// full address-validation flow requires (see DESIGN.md), but it enforces
// the ordering invariant regardless of that simplification.
func (c *Conn) handleRetryPacket(buf []byte) {
	if c.side != clientSide {
		return // servers never receive Retry packets
	}
	if c.sentHandshakePacket {
		c.closeWithError(newError(errProtocolViolation, "retry received after handshake packet sent"))
		return
	}
	c.logger.Debugf("quic: %v connection %s ignoring retry packet: retry-token reissue not implemented", c.side, c.traceID)
}

// handlePayload dispatches every frame in a decrypted packet payload,
// returning whether the packet was ack-eliciting, RFC 9000 Section 13.2.
func (c *Conn) handlePayload(now time.Time, space numberSpace, payload []byte) bool {
	elicited := false
	for len(payload) > 0 {
		f, n := parseDebugFrame(payload)
		if n < 0 {
			c.closeWithError(newFrameError(errFrameEncoding, uint64(payload[0]), "frame parse error"))
			return elicited
		}
		payload = payload[n:]
		if f == nil {
			continue
		}
		if ackEliciting(f) {
			elicited = true
		}
		switch v := f.(type) {
		case paddingFrame, pingFrame:
		case ackFrame:
			c.handleAck(now, space, v)
		case cryptoFrame:
			c.handleCryptoFrame(now, space, v)
		case streamFrame:
			c.handleStreamFrame(v)
		case resetStreamFrame:
			c.handleResetStreamFrame(v)
		case stopSendingFrame:
			c.handleStopSendingFrame(v)
		case maxDataFrame:
			c.connFlow.handleMaxData(v.max)
		case maxStreamDataFrame:
			c.handleMaxStreamDataFrame(v)
		case maxStreamsFrame:
			c.streams.handleMaxStreams(v.bidi, v.max)
		case newConnectionIDFrame:
			if err := c.connIDState.handleNewConnectionID(v.seq, v.retirePriorTo, v.connID, v.resetToken); err != nil {
				c.closeWithError(err)
			}
		case retireConnectionIDFrame:
			c.connIDState.handleRetireConnectionID(v.seq)
		case pathChallengeFrame:
			c.path.pendingResponse = c.path.handlePathChallenge(v.data)
			c.path.pendingResponseSet = true
		case pathResponseFrame:
			wasValidated := c.path.validated
			c.path.handlePathResponse(v.data)
			if !wasValidated && c.path.validated {
				c.loss.validateAddress()
			}
		case connectionCloseFrame:
			c.handlePeerClose(now, v)
		case handshakeDoneFrame:
			c.tlsState.handshakeConfirmed = true
			c.discardHandshakeKeys()
		case datagramFrame:
			c.logger.Debugf("quic: connection %s received unreliable datagram, %d bytes", c.traceID, len(v.data))
		}
	}
	if space == handshakeSpace && c.side == serverSide {
		c.loss.validateAddress()
		c.discardInitialKeys()
	}
	return elicited
}

func (c *Conn) handleCryptoFrame(now time.Time, space numberSpace, f cryptoFrame) {
	data, err := c.tlsState.crypto[space].handleCryptoFrame(f.off, f.data)
	if err != nil {
		c.closeWithError(err)
		return
	}
	if len(data) > 0 {
		c.tlsState.hs.handleData(space, data)
	}
}

func (c *Conn) handleStreamFrame(f streamFrame) {
	s, err := c.streams.getOrCreatePeerStream(f.id)
	if err != nil {
		c.closeWithError(err)
		return
	}
	if err := s.in.handleStreamFrame(f.off, f.data, f.fin); err != nil {
		c.closeWithError(err)
		return
	}
	if err := c.connFlow.addRecv(int64(len(f.data))); err != nil {
		c.closeWithError(err)
	}
}

func (c *Conn) handleResetStreamFrame(f resetStreamFrame) {
	s, err := c.streams.getOrCreatePeerStream(f.id)
	if err != nil {
		c.closeWithError(err)
		return
	}
	if err := s.in.handleResetStream(f.code, f.finalSize); err != nil {
		c.closeWithError(err)
	}
}

func (c *Conn) handleStopSendingFrame(f stopSendingFrame) {
	s, err := c.streams.getOrCreatePeerStream(f.id)
	if err != nil {
		c.closeWithError(err)
		return
	}
	s.out.Reset(f.code)
}

func (c *Conn) handleMaxStreamDataFrame(f maxStreamDataFrame) {
	s, err := c.streams.getOrCreatePeerStream(f.id)
	if err != nil {
		c.closeWithError(err)
		return
	}
	s.out.handleMaxStreamData(f.max)
}

func (c *Conn) handlePeerClose(now time.Time, f connectionCloseFrame) {
	c.logger.Infof("quic: %v connection %s closed by peer: %v", c.side, c.traceID, f.String())
	if c.closeErr == nil {
		c.closeErr = &peerCloseError{frame: f}
	}
	c.enterDraining(now)
}

// closeWithError begins closing the connection with a local error: either
// an unrecoverable protocol violation (*TransportError) or an application
// request (*ApplicationError), RFC 9000 Section 10.2.
func (c *Conn) closeWithError(err error) {
	c.enterClosing(err)
}

// NewStream opens a new stream, RFC 9000 Section 2.1.
func (c *Conn) NewStream(bidi bool) (*Stream, error) {
	var s *Stream
	var err error
	c.runOnLoop(func(now time.Time, c *Conn) {
		s, err = c.streams.newLocalStream(bidi)
	})
	return s, err
}

// AcceptStream blocks until a peer-initiated stream is available. It
// returns nil once the connection has exited.
func (c *Conn) AcceptStream() *Stream {
	return c.streams.Accept()
}
