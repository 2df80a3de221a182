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

func TestBBRStartsInStartupAtInitialWindow(t *testing.T) {
	b := newBBRController()
	require.Equal(t, bbrStartup, b.mode)
	require.Equal(t, int64(initialCongestionWindow), b.congestionWindow())
}

func TestBBRCanSendRespectsWindow(t *testing.T) {
	b := newBBRController()
	require.True(t, b.canSend(0, b.congestionWindow()))
	require.False(t, b.canSend(0, b.congestionWindow()+1))
}

func TestBBROnPacketSentTracksInFlight(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	b.onPacketSent(now, maxDatagramSize, &ccCookie{})
	require.Equal(t, int64(maxDatagramSize), b.inFlight)
}

func TestBBROnPacketAckedGrowsBandwidthAndWindow(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	sentTime := now.Add(-20 * time.Millisecond)
	b.onPacketSent(sentTime, maxDatagramSize, &ccCookie{})

	rtt := &rttState{latest: 20 * time.Millisecond}
	b.onPacketAcked(now, maxDatagramSize, sentTime, rtt, ccCookie{})

	require.Greater(t, b.maxBW, float64(0))
	require.Equal(t, 20*time.Millisecond, b.minRTT)
	require.Equal(t, int64(0), b.inFlight)
	require.GreaterOrEqual(t, b.congestionWindow(), int64(minCongestionWindow))
}

func TestBBRAppLimitedSampleDoesNotRaiseBandwidth(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	sentTime := now.Add(-20 * time.Millisecond)

	cookie := ccCookie{}
	b.onPacketSent(sentTime, maxDatagramSize, &cookie)
	b.setUnderutilized(true)
	b.onPacketSent(sentTime, maxDatagramSize, &cookie)
	require.True(t, cookie.isAppLimited)

	rtt := &rttState{latest: 20 * time.Millisecond}
	b.onPacketAcked(now, maxDatagramSize, sentTime, rtt, cookie)
	require.Equal(t, float64(0), b.maxBW, "an app-limited sample must not raise the bandwidth estimate")
}

func TestBBRStartupExitsToDrainAfterPlateau(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	rtt := &rttState{latest: 20 * time.Millisecond}

	// Grow maxBW once, then feed three rounds of non-growing samples: BBR
	// considers the pipe full after 3 rounds without a 1.25x bandwidth gain.
	sentTime := now.Add(-20 * time.Millisecond)
	b.onPacketAcked(now, 10*maxDatagramSize, sentTime, rtt, ccCookie{})
	require.Equal(t, bbrStartup, b.mode)

	for i := 0; i < 3; i++ {
		b.onPacketAcked(now, maxDatagramSize, sentTime, rtt, ccCookie{})
	}
	require.Equal(t, bbrDrain, b.mode)
}

func TestBBROnPacketLostReducesInFlightNotWindow(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	b.onPacketSent(now, maxDatagramSize, &ccCookie{})
	before := b.congestionWindow()
	b.onPacketLost(now, maxDatagramSize, ccCookie{})
	require.Equal(t, int64(0), b.inFlight)
	require.Equal(t, before, b.congestionWindow(), "an isolated loss must not shrink the BBR window directly")
}

func TestBBROnCongestionEventIsANoOp(t *testing.T) {
	b := newBBRController()
	now := time.Now()
	before := b.congestionWindow()
	beforeMode := b.mode
	b.onCongestionEvent(now, now)
	require.Equal(t, before, b.congestionWindow())
	require.Equal(t, beforeMode, b.mode)
}

func TestBBRPersistentCongestionResetsToStartup(t *testing.T) {
	b := newBBRController()
	b.mode = bbrProbeBW
	b.cwnd = 50 * initialCongestionWindow
	b.fullBW = 12345

	b.onPersistentCongestion(time.Now())

	require.Equal(t, bbrStartup, b.mode)
	require.Equal(t, int64(minCongestionWindow), b.congestionWindow())
	require.Equal(t, float64(0), b.fullBW)
}

func TestBBRPacingRateZeroUntilBandwidthKnown(t *testing.T) {
	b := newBBRController()
	require.Equal(t, float64(0), b.pacingRate())

	b.maxBW = 1000
	b.pacingGain = 2
	require.Equal(t, float64(2000), b.pacingRate())
}
