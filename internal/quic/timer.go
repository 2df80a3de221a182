// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "time"

// connTimer aggregates the several independent deadlines a connection must
// wake up for (idle timeout, loss detection/PTO, delayed ACKs, and the
// closing/draining deadline) into the single timer the event loop's
// connTestHooks.nextMessage/real implementation schedules. Aggregating
// avoids a goroutine or OS timer per concern.
type connTimer struct {
	next time.Time
}

func (t *connTimer) reset() { t.next = time.Time{} }

// add folds deadline into the aggregate, ignoring zero deadlines (meaning
// "no timer needed from this source").
func (t *connTimer) add(deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	if t.next.IsZero() || deadline.Before(t.next) {
		t.next = deadline
	}
}

// deadline returns the earliest deadline added since the last reset.
func (t *connTimer) deadline() time.Time { return t.next }
