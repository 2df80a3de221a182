// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, maxVarint} {
		b := appendVarint(nil, v)
		got, n := consumeVarint(b)
		require.Equal(t, len(b), n, "consumed length for %v", v)
		require.Equal(t, v, got, "round trip for %v", v)
		require.Equal(t, len(b), sizeVarint(v), "sizeVarint for %v", v)
	}
}

func TestVarintEncodingLength(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 4},
		{1073741823, 4},
		{1073741824, 8},
		{maxVarint, 8},
	}
	for _, c := range cases {
		require.Len(t, appendVarint(nil, c.v), c.want, "value %v", c.v)
	}
}

func TestConsumeVarintTruncated(t *testing.T) {
	full := appendVarint(nil, uint64(1073741824))
	for n := 0; n < len(full); n++ {
		_, got := consumeVarint(full[:n])
		require.Equal(t, -1, got, "truncated to %d of %d bytes", n, len(full))
	}
}

func TestVarintOverflowPanics(t *testing.T) {
	require.Panics(t, func() { appendVarint(nil, maxVarint+1) })
}
