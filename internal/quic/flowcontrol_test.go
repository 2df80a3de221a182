// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnFlowControlAddRecvWithinLimit(t *testing.T) {
	f := newConnFlowControl(1000, 0)
	require.NoError(t, f.addRecv(500))
	require.NoError(t, f.addRecv(500))
}

func TestConnFlowControlAddRecvExceedsLimit(t *testing.T) {
	f := newConnFlowControl(1000, 0)
	require.NoError(t, f.addRecv(1000))
	err := f.addRecv(1)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, errFlowControl, te.Code)
}

func TestConnFlowControlMaybeMaxData(t *testing.T) {
	f := newConnFlowControl(1000, 0)
	_, send := f.maybeMaxData(100)
	require.False(t, send, "no update expected before half the window is consumed")

	newLimit, send := f.maybeMaxData(600)
	require.True(t, send, "update expected after half the window is consumed")
	require.Equal(t, int64(600+defaultConnRecvWindow), newLimit)
}

func TestConnFlowControlLostMaxData(t *testing.T) {
	f := newConnFlowControl(1000, 0)
	newLimit, send := f.maybeMaxData(600)
	require.True(t, send)

	require.False(t, f.lostMaxData(newLimit+1), "a stale limit must not re-arm")
	require.True(t, f.lostMaxData(newLimit), "the limit actually sent must re-arm")

	// A later update to the same limit no longer needs to be resent.
	require.False(t, f.lostMaxData(newLimit))
}

func TestConnFlowControlSendBudget(t *testing.T) {
	f := newConnFlowControl(0, 100)
	require.Equal(t, int64(60), f.reserveSend(60))
	require.Equal(t, int64(40), f.reserveSend(1000), "reservation is capped at remaining budget")
	require.Equal(t, int64(0), f.reserveSend(1), "budget is exhausted")

	f.handleMaxData(200)
	require.Equal(t, int64(100), f.reserveSend(1000))
}

func TestConnFlowControlHandleMaxDataNeverShrinks(t *testing.T) {
	f := newConnFlowControl(0, 100)
	f.handleMaxData(50) // a reordered, smaller MAX_DATA must not shrink the limit
	require.Equal(t, int64(100), f.reserveSend(1000))
}
