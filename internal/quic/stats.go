// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// ConnStats is a snapshot of a connection's loss-recovery and congestion
// state, exported for diagnostic tooling such as cmd/qcheck.
type ConnStats struct {
	SmoothedRTT      time.Duration
	CongestionWindow int64
	BytesInFlight    int64
	BytesSent        int64
	BytesReceived    int64
}

// Stats returns a snapshot of c's current loss-recovery and congestion
// state. Safe to call from any goroutine; the snapshot is taken on the
// connection's event loop.
func (c *Conn) Stats() ConnStats {
	var s ConnStats
	c.runOnLoop(func(now time.Time, c *Conn) {
		s = ConnStats{
			SmoothedRTT:      c.loss.rtt.smoothed,
			CongestionWindow: c.loss.cc.congestionWindow(),
			BytesInFlight:    c.loss.bytesInFlight,
			BytesSent:        c.loss.bytesSent,
			BytesReceived:    c.loss.bytesReceived,
		}
	})
	return s
}
