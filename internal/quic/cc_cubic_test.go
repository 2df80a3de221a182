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

func TestCubicStartsAtInitialWindow(t *testing.T) {
	c := newCubicController()
	require.Equal(t, int64(initialCongestionWindow), c.congestionWindow())
	require.True(t, c.inSlowStart())
}

func TestCubicSlowStartGrowsByAckedBytes(t *testing.T) {
	c := newCubicController()
	start := c.congestionWindow()
	now := time.Now()
	rtt := &rttState{latest: 20 * time.Millisecond}
	c.onPacketAcked(now, maxDatagramSize, now, rtt, ccCookie{})
	require.Equal(t, start+maxDatagramSize, c.congestionWindow())
}

func TestCubicCongestionEventReducesWindow(t *testing.T) {
	c := newCubicController()
	now := time.Now()
	before := c.congestionWindow()
	c.onCongestionEvent(now, now)
	require.Less(t, c.congestionWindow(), before)
	require.GreaterOrEqual(t, c.congestionWindow(), int64(minCongestionWindow))
	require.False(t, c.inSlowStart(), "a congestion event must exit slow start")
}

func TestCubicCongestionEventIgnoresStaleLoss(t *testing.T) {
	c := newCubicController()
	now := time.Now()
	c.onCongestionEvent(now, now)
	reduced := c.congestionWindow()
	// A packet sent before the already-handled loss must not trigger a
	// second reduction.
	c.onCongestionEvent(now.Add(time.Millisecond), now.Add(-time.Millisecond))
	require.Equal(t, reduced, c.congestionWindow())
}

func TestCubicPersistentCongestionResetsToMinimum(t *testing.T) {
	c := newCubicController()
	now := time.Now()
	c.cwnd = 10 * initialCongestionWindow
	c.onPersistentCongestion(now)
	require.Equal(t, int64(minCongestionWindow), c.congestionWindow())
	require.True(t, c.inSlowStart())
}

func TestCubicCanSendRespectsWindow(t *testing.T) {
	c := newCubicController()
	require.True(t, c.canSend(0, c.congestionWindow()))
	require.False(t, c.canSend(0, c.congestionWindow()+1))
}
