// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"math"
	"time"
)

// cubicController implements CUBIC congestion control, RFC 8312, with the
// HyStart++ slow-start exit algorithm (RFC 9406) spec.md's
// CONGESTION_CONTROL module names as the default controller.
type cubicController struct {
	cwnd       int64
	ssthresh   int64
	inFlight   int64
	underutilized bool

	// CUBIC state, RFC 8312 Section 4.
	wMax         float64
	k            float64
	epochStart   time.Time
	originPoint  float64
	lastCongestion time.Time

	// HyStart++ state, RFC 9406.
	hystartRound      int64
	hystartRTTSamples int
	hystartMinRTT     time.Duration
	hystartLastRound  time.Duration
	hystartDone       bool
}

func newCubicController() *cubicController {
	return &cubicController{
		cwnd:     initialCongestionWindow,
		ssthresh: math.MaxInt64,
	}
}

func (c *cubicController) congestionWindow() int64 { return c.cwnd }

func (c *cubicController) canSend(bytesInFlight, size int64) bool {
	return bytesInFlight+size <= c.cwnd
}

func (c *cubicController) setUnderutilized(v bool) { c.underutilized = v }

func (c *cubicController) onPacketSent(now time.Time, size int64, cookie *ccCookie) {
	c.inFlight += size
}

func (c *cubicController) inSlowStart() bool { return c.cwnd < c.ssthresh }

func (c *cubicController) onPacketAcked(now time.Time, size int64, sentTime time.Time, rtt *rttState, cookie ccCookie) {
	c.inFlight -= size
	if c.inFlight < 0 {
		c.inFlight = 0
	}
	if c.underutilized {
		return
	}
	if c.inSlowStart() {
		c.cwnd += size
		c.trackHyStart(rtt)
		return
	}
	c.cwndCubic(now, size)
}

// trackHyStart implements a simplified HyStart++: once a round's minimum
// RTT sample exceeds the prior round's by more than the RFC 9406 default
// eta (1/8 of the baseline, floored at 4ms, capped at 16ms), slow start
// exits into congestion avoidance at the current window.
func (c *cubicController) trackHyStart(rtt *rttState) {
	if c.hystartDone {
		return
	}
	sample := rtt.latest
	if c.hystartMinRTT == 0 || sample < c.hystartMinRTT {
		c.hystartMinRTT = sample
	}
	c.hystartRTTSamples++
	const samplesPerRound = 8
	if c.hystartRTTSamples < samplesPerRound {
		return
	}
	eta := c.hystartMinRTT / 8
	if eta < 4*time.Millisecond {
		eta = 4 * time.Millisecond
	}
	if eta > 16*time.Millisecond {
		eta = 16 * time.Millisecond
	}
	if c.hystartLastRound != 0 && c.hystartMinRTT > c.hystartLastRound+eta {
		c.hystartDone = true
		c.ssthresh = c.cwnd
		return
	}
	c.hystartLastRound = c.hystartMinRTT
	c.hystartRTTSamples = 0
	c.hystartMinRTT = 0
}

// cwndCubic grows the window per the CUBIC function, RFC 8312 Section 4.1.
func (c *cubicController) cwndCubic(now time.Time, ackedBytes int64) {
	if c.epochStart.IsZero() {
		c.epochStart = now
		if c.wMax <= float64(c.cwnd) {
			c.k = 0
			c.originPoint = float64(c.cwnd)
		} else {
			const beta = 0.7
			c.k = math.Cbrt(c.wMax * (1 - beta) / cubicC)
			c.originPoint = c.wMax
		}
	}
	t := now.Sub(c.epochStart).Seconds()
	target := c.originPoint + cubicC*math.Pow(t-c.k, 3)
	var newCwnd float64
	if target < float64(c.cwnd) {
		newCwnd = float64(c.cwnd) + (target-float64(c.cwnd))/float64(c.cwnd)
	} else {
		newCwnd = float64(c.cwnd) + (target-float64(c.cwnd))/float64(c.cwnd)
	}
	// RFC 8312 Section 4.3 (TCP-friendly region): grow by at least one
	// segment per RTT worth of acked bytes, applied per-ack as a fraction
	// of cwnd.
	inc := newCwnd - float64(c.cwnd)
	if inc < float64(ackedBytes)/float64(c.cwnd)*float64(maxDatagramSize) {
		inc = float64(ackedBytes) / float64(c.cwnd) * float64(maxDatagramSize)
	}
	c.cwnd += int64(inc)
}

const cubicC = 0.4

func (c *cubicController) onPacketLost(now time.Time, size int64, cookie ccCookie) {
	c.inFlight -= size
	if c.inFlight < 0 {
		c.inFlight = 0
	}
}

func (c *cubicController) onCongestionEvent(now time.Time, sentTime time.Time) {
	if !c.lastCongestion.IsZero() && sentTime.Before(c.lastCongestion) {
		return // already reduced window for a packet sent after this one was lost
	}
	c.lastCongestion = now
	c.wMax = float64(c.cwnd)
	c.ssthresh = int64(float64(c.cwnd) * 0.7)
	if c.ssthresh < minCongestionWindow {
		c.ssthresh = minCongestionWindow
	}
	c.cwnd = c.ssthresh
	c.epochStart = time.Time{}
}

func (c *cubicController) onExplicitCongestion(now time.Time) {
	c.onCongestionEvent(now, now)
}

func (c *cubicController) onPersistentCongestion(now time.Time) {
	c.cwnd = minCongestionWindow
	c.wMax = 0
	c.epochStart = time.Time{}
	c.ssthresh = math.MaxInt64
}
