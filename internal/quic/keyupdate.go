// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// defaultKeyUpdateMinInterval bounds how often a key update may be
// initiated before a smoothed RTT sample exists, RFC 9002 Section 6.2.2's
// kInitialRtt.
const defaultKeyUpdateMinInterval = 333 * time.Millisecond

// keyUpdateState is the 1-RTT key update mechanism, RFC 9001 Section 6: the
// current key phase and the pre-derived "next" generation of keys, kept
// ready so a key update never needs to block on HKDF derivation.
type keyUpdateState struct {
	phase         bool // the key phase bit currently in use for sending
	nextWriteKeys keys
	nextReadKeys  keys
	lastUpdateAt  time.Time
}

// armKeyUpdate derives the next generation of 1-RTT keys from the current
// traffic secrets, for later promotion by initiateKeyUpdate or a
// peer-initiated update.
func (c *Conn) armKeyUpdate() error {
	suite := c.tlsState.wkeys[appDataSpace].suite
	wSecret := updateSecret(c.tlsState.wappSecret)
	rSecret := updateSecret(c.tlsState.rappSecret)

	w, err := deriveKeysFromSecret(suite, wSecret)
	if err != nil {
		return err
	}
	r, err := deriveKeysFromSecret(suite, rSecret)
	if err != nil {
		return err
	}
	w.phase = !c.keyUpdate.phase
	r.phase = !c.keyUpdate.phase
	c.keyUpdate.nextWriteKeys = w
	c.keyUpdate.nextReadKeys = r
	return nil
}

// initiateKeyUpdate performs a locally-triggered key update, RFC 9001
// Section 6.1: the current write keys become the pre-derived next
// generation, the key phase bit flips, and a new next generation is
// derived in its place. A second update within one smoothed RTT of the
// last is rejected, spec.md's key update rate limit.
func (c *Conn) initiateKeyUpdate(now time.Time) error {
	if !c.keyUpdate.lastUpdateAt.IsZero() {
		min := c.loss.rtt.smoothed
		if min <= 0 {
			min = defaultKeyUpdateMinInterval
		}
		if now.Sub(c.keyUpdate.lastUpdateAt) < min {
			return newError(errKeyUpdateError, "key update attempted within one smoothed RTT of the last one")
		}
	}

	nextSecret := updateSecret(c.tlsState.wappSecret)
	c.tlsState.wkeys[appDataSpace] = c.keyUpdate.nextWriteKeys
	c.tlsState.wappSecret = nextSecret
	c.keyUpdate.phase = !c.keyUpdate.phase
	c.keyUpdate.lastUpdateAt = now
	return c.armKeyUpdate()
}

// handlePeerKeyUpdate processes a 1-RTT packet decrypted in the non-current
// key phase: the peer has updated its send keys, so its new phase becomes
// this side's read keys, and a fresh next generation is derived for the
// following update.
func (c *Conn) handlePeerKeyUpdate(now time.Time) error {
	nextSecret := updateSecret(c.tlsState.rappSecret)
	c.tlsState.rkeys[appDataSpace] = c.keyUpdate.nextReadKeys
	c.tlsState.rappSecret = nextSecret
	c.keyUpdate.phase = !c.keyUpdate.phase
	return c.armKeyUpdate()
}
