// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newKeyUpdateTestConn(t *testing.T) *Conn {
	c := &Conn{loss: newLossState(newCubicController(), false)}
	wSecret := make([]byte, 32)
	rSecret := make([]byte, 32)
	for i := range wSecret {
		wSecret[i] = byte(i + 1)
		rSecret[i] = byte(i + 100)
	}
	c.tlsState.wappSecret = wSecret
	c.tlsState.rappSecret = rSecret

	w, err := deriveKeysFromSecret(suiteAES128GCM, wSecret)
	require.NoError(t, err)
	r, err := deriveKeysFromSecret(suiteAES128GCM, rSecret)
	require.NoError(t, err)
	c.tlsState.wkeys[appDataSpace] = w
	c.tlsState.rkeys[appDataSpace] = r

	require.NoError(t, c.armKeyUpdate())
	return c
}

func TestKeyUpdateArmPreDerivesOppositePhase(t *testing.T) {
	c := newKeyUpdateTestConn(t)
	require.NotEqual(t, c.keyUpdate.phase, c.keyUpdate.nextWriteKeys.phase)
	require.True(t, c.keyUpdate.nextWriteKeys.isSet())
	require.True(t, c.keyUpdate.nextReadKeys.isSet())
}

func TestInitiateKeyUpdateFlipsPhaseAndPromotesKeys(t *testing.T) {
	c := newKeyUpdateTestConn(t)
	before := c.keyUpdate.phase
	preArmed := c.keyUpdate.nextWriteKeys

	require.NoError(t, c.initiateKeyUpdate(time.Now()))

	require.NotEqual(t, before, c.keyUpdate.phase)
	require.Equal(t, preArmed.phase, c.tlsState.wkeys[appDataSpace].phase)
	require.NotEqual(t, c.keyUpdate.nextWriteKeys.phase, c.tlsState.wkeys[appDataSpace].phase, "a new next generation must be armed after the update")
}

func TestInitiateKeyUpdateRejectsWithinSmoothedRTT(t *testing.T) {
	c := newKeyUpdateTestConn(t)
	c.loss.rtt.smoothed = time.Second

	now := time.Now()
	require.NoError(t, c.initiateKeyUpdate(now))

	err := c.initiateKeyUpdate(now.Add(100 * time.Millisecond))
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, errKeyUpdateError, te.Code)
}

func TestInitiateKeyUpdateAllowedAfterSmoothedRTTElapses(t *testing.T) {
	c := newKeyUpdateTestConn(t)
	c.loss.rtt.smoothed = 50 * time.Millisecond

	now := time.Now()
	require.NoError(t, c.initiateKeyUpdate(now))
	require.NoError(t, c.initiateKeyUpdate(now.Add(51*time.Millisecond)))
}

func TestHandlePeerKeyUpdatePromotesReadKeysAndRearms(t *testing.T) {
	c := newKeyUpdateTestConn(t)
	preArmedRead := c.keyUpdate.nextReadKeys

	require.NoError(t, c.handlePeerKeyUpdate(time.Now()))

	require.Equal(t, preArmedRead.phase, c.tlsState.rkeys[appDataSpace].phase)
	require.NotEqual(t, c.keyUpdate.nextReadKeys.phase, c.tlsState.rkeys[appDataSpace].phase)
}
