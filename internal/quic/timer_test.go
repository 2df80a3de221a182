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

func TestConnTimerIgnoresZeroDeadlines(t *testing.T) {
	var ct connTimer
	ct.add(time.Time{})
	require.True(t, ct.deadline().IsZero())
}

func TestConnTimerTracksEarliestDeadline(t *testing.T) {
	var ct connTimer
	now := time.Now()
	ct.add(now.Add(5 * time.Second))
	ct.add(now.Add(1 * time.Second))
	ct.add(now.Add(10 * time.Second))
	require.Equal(t, now.Add(1*time.Second), ct.deadline())
}

func TestConnTimerResetClears(t *testing.T) {
	var ct connTimer
	ct.add(time.Now().Add(time.Second))
	ct.reset()
	require.True(t, ct.deadline().IsZero())
}
