// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloseTransitionsToClosingThenDraining(t *testing.T) {
	tc := newTestConn(t, clientSide)
	tc.ignoreFrame(frameTypeCrypto) // ignore the client's initial handshake params

	tc.conn.Close()
	tc.wait()
	require.Equal(t, stateClosing, tc.conn.state)

	// Sending from Initial space is the only option this early in the
	// handshake; an application close made before 1-RTT keys exist is
	// remapped to the transport variant, RFC 9000 Section 10.2.3.
	f, ptype := tc.readFrame()
	require.Equal(t, packetTypeInitial, ptype)
	cc, ok := f.(connectionCloseFrame)
	require.True(t, ok, "expected a CONNECTION_CLOSE frame, got %T", f)
	require.False(t, cc.isApp)
	require.Equal(t, uint64(errApplicationError), cc.code)

	// The Closing period rate-limits CONNECTION_CLOSE resends to once per
	// PTO, so its own timer fires more often than the 3-PTO drainingUntil
	// deadline; jump straight to it rather than stepping through every
	// intermediate resend.
	tc.advanceTo(tc.conn.drainingUntil)
	require.Equal(t, stateDraining, tc.conn.state)

	tc.advanceToTimer()
	require.True(t, tc.conn.exited)
	require.Equal(t, stateClosed, tc.conn.state)
}

func TestPeerCloseEntersDrainingDirectly(t *testing.T) {
	tc := newTestConn(t, serverSide)

	tc.writeFrames(packetTypeInitial, connectionCloseFrame{
		isApp: false,
		code:  uint64(errNoViablePath),
	})
	require.Equal(t, stateDraining, tc.conn.state, "a peer close skips Closing entirely")

	tc.advanceToTimer()
	require.True(t, tc.conn.exited)
	require.Equal(t, stateClosed, tc.conn.state)
}

func TestDrainingConnectionSendsNothing(t *testing.T) {
	tc := newTestConn(t, serverSide)
	tc.writeFrames(packetTypeInitial, connectionCloseFrame{code: uint64(errNone)})
	require.Equal(t, stateDraining, tc.conn.state)
	tc.wantIdle("a draining connection must not send any packets")
}

func TestCloseWithErrorCarriesApplicationCodeAndReason(t *testing.T) {
	tc := newTestConn(t, clientSide)
	tc.conn.CloseWithError(42, "done")
	tc.wait()
	require.Equal(t, stateClosing, tc.conn.state)
	require.Equal(t, uint64(42), tc.conn.appCloseCode)
	require.Equal(t, "done", tc.conn.appCloseReason)
}

func TestStreamReadUnblocksOnConnectionClose(t *testing.T) {
	tc := newTestConn(t, serverSide)
	s, err := tc.conn.streams.newLocalStream(true)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.in.Read(make([]byte, 16))
		done <- err
	}()

	tc.conn.Close()
	tc.wait()
	tc.advanceTo(tc.conn.drainingUntil) // Closing -> Draining
	tc.advanceToTimer()                 // Draining -> Closed
	require.True(t, tc.conn.exited)

	err = <-done
	require.Error(t, err, "a blocked Read must unblock once the connection exits")
}
