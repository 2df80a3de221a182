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

func TestConfigDefaultsOnNilAndZero(t *testing.T) {
	var c *Config
	require.Equal(t, defaultMaxIdleTimeout, c.maxIdleTimeout())
	require.Equal(t, int64(defaultStreamRecvWindow), c.maxStreamReadBufferSize())
	require.Equal(t, int64(defaultConnRecvWindow), c.maxConnReadBufferSize())
	require.Equal(t, int64(defaultMaxCryptoBuffer), c.maxCryptoBuffer())
	require.IsType(t, noopLogger{}, c.logger())

	c = &Config{}
	require.Equal(t, defaultMaxIdleTimeout, c.maxIdleTimeout())
	require.Equal(t, int64(defaultMaxStreamsBidi), c.maxBidiRemoteStreams())
	require.Equal(t, int64(defaultMaxStreamsUni), c.maxUniRemoteStreams())
}

func TestConfigExplicitValuesOverrideDefaults(t *testing.T) {
	c := &Config{
		MaxIdleTimeout:       10 * time.Second,
		MaxStreamReadBufferSize: 4096,
		MaxConnReadBufferSize:   8192,
		MaxBidiRemoteStreams:    7,
	}
	require.Equal(t, 10*time.Second, c.maxIdleTimeout())
	require.Equal(t, int64(4096), c.maxStreamReadBufferSize())
	require.Equal(t, int64(8192), c.maxConnReadBufferSize())
	require.Equal(t, int64(7), c.maxBidiRemoteStreams())
}

func TestConfigCongestionControlSelection(t *testing.T) {
	var c *Config
	_, ok := c.congestionControl().(*cubicController)
	require.True(t, ok, "nil Config must default to CUBIC")

	c = &Config{CongestionControl: CongestionControlBBR}
	_, ok = c.congestionControl().(*bbrController)
	require.True(t, ok)

	c = &Config{CongestionControl: CongestionControlCubic}
	_, ok = c.congestionControl().(*cubicController)
	require.True(t, ok)
}
