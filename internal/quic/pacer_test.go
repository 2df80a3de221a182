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

func TestPacerUnsetRateNeverBlocks(t *testing.T) {
	p := newPacer()
	now := time.Now()
	ok, next := p.canSend(now, maxDatagramSize)
	require.True(t, ok)
	require.Equal(t, now, next)
}

func TestPacerAllowsBurstThenBlocks(t *testing.T) {
	p := newPacer()
	now := time.Now()
	p.setRate(float64(maxDatagramSize)) // 1 datagram/sec

	// The burst allowance lets several datagrams through immediately.
	for i := 0; i < defaultPacerBurst; i++ {
		ok, _ := p.canSend(now, maxDatagramSize)
		require.True(t, ok, "datagram %d should fit in the initial burst", i)
		p.spend(maxDatagramSize)
	}

	ok, next := p.canSend(now, maxDatagramSize)
	require.False(t, ok, "burst allowance should be exhausted")
	require.True(t, next.After(now))
}

func TestPacerRefillsOverTime(t *testing.T) {
	p := newPacer()
	now := time.Now()
	p.setRate(float64(maxDatagramSize)) // 1 datagram/sec

	ok, _ := p.canSend(now, maxDatagramSize)
	require.True(t, ok)
	p.spend(maxDatagramSize)
	p.tokens = 0 // pretend the burst allowance is fully spent

	ok, next := p.canSend(now, maxDatagramSize)
	require.False(t, ok)
	require.True(t, next.After(now))

	// One full second later, a datagram's worth of tokens has accrued.
	later := now.Add(time.Second)
	ok, _ = p.canSend(later, maxDatagramSize)
	require.True(t, ok)
}

func TestPacerSpendDeductsTokens(t *testing.T) {
	p := newPacer()
	p.tokens = float64(maxDatagramSize)
	p.spend(maxDatagramSize / 2)
	require.Equal(t, float64(maxDatagramSize)/2, p.tokens)
}
