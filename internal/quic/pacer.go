// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// pacer smooths packet transmission over the RTT rather than sending an
// entire congestion window as a burst, RFC 9002 Section 7.7. It is a simple
// token bucket: tokens accrue at rate bytes/sec, capped at burstSize, and
// draining below zero delays the next send by however long is needed to
// refill enough for one maximum-size datagram.
type pacer struct {
	rate      float64// bytes/sec; 0 disables pacing (send as fast as cc allows)
	burst     float64
	tokens    float64
	last      time.Time
}

// defaultPacerBurst is the number of datagrams a pacer allows to be sent
// back-to-back before rate limiting kicks in.
const defaultPacerBurst = 10

func newPacer() *pacer {
	return &pacer{burst: defaultPacerBurst * maxDatagramSize, tokens: defaultPacerBurst * maxDatagramSize}
}

// setRate updates the pacing rate, typically cwnd/smoothedRTT times a
// pacing gain (RFC 9002 Section 7.7 recommends roughly 1.25x-2x cwnd/srtt).
func (p *pacer) setRate(bytesPerSecond float64) {
	p.rate = bytesPerSecond
}

// canSend reports whether a datagram of size bytes may be sent now, and if
// not, how long until it can be.
func (p *pacer) canSend(now time.Time, size int) (ok bool, next time.Time) {
	if p.rate <= 0 {
		return true, now
	}
	if !p.last.IsZero() {
		elapsed := now.Sub(p.last).Seconds()
		p.tokens += elapsed * p.rate
		if p.tokens > p.burst {
			p.tokens = p.burst
		}
	}
	p.last = now
	if p.tokens >= float64(size) {
		return true, now
	}
	need := float64(size) - p.tokens
	wait := time.Duration(need / p.rate * float64(time.Second))
	return false, now.Add(wait)
}

// spend deducts size bytes worth of tokens after a send.
func (p *pacer) spend(size int) {
	p.tokens -= float64(size)
}
