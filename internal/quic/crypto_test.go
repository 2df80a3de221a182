// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func keyLenForSuite(suite aeadSuite) int {
	switch suite {
	case suiteAES128GCM:
		return 16
	case suiteAES256GCM:
		return 32
	default:
		return 32
	}
}

func TestKeysSealOpenRoundTripAllSuites(t *testing.T) {
	for _, suite := range []aeadSuite{suiteAES128GCM, suiteAES256GCM, suiteChaCha20Poly1305} {
		key := make([]byte, keyLenForSuite(suite))
		iv := make([]byte, 12)
		hpKey := make([]byte, keyLenForSuite(suite))
		for i := range key {
			key[i] = byte(i + 1)
		}
		for i := range iv {
			iv[i] = byte(i + 1)
		}
		for i := range hpKey {
			hpKey[i] = byte(i + 1)
		}

		k, err := newKeys(suite, key, iv, hpKey)
		require.NoError(t, err, "suite %v", suite)

		header := []byte{0x01, 0x02, 0x03}
		payload := []byte("quic transport payload")
		sealed := k.seal(nil, header, packetNumber(42), payload)
		require.NotEqual(t, payload, sealed, "suite %v", suite)

		opened, err := k.open(nil, header, packetNumber(42), sealed)
		require.NoError(t, err, "suite %v", suite)
		require.Equal(t, payload, opened, "suite %v", suite)
	}
}

func TestKeysOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	hpKey := make([]byte, 16)
	k, err := newKeys(suiteAES128GCM, key, iv, hpKey)
	require.NoError(t, err)

	header := []byte{0x01}
	sealed := k.seal(nil, header, packetNumber(1), []byte("hello"))
	sealed[0] ^= 0xff

	_, err = k.open(nil, header, packetNumber(1), sealed)
	require.Error(t, err)
	require.Equal(t, uint64(1), k.failCount)
}

func TestKeysOpenRejectsWrongPacketNumber(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	hpKey := make([]byte, 16)
	k, err := newKeys(suiteAES128GCM, key, iv, hpKey)
	require.NoError(t, err)

	header := []byte{0x01}
	sealed := k.seal(nil, header, packetNumber(1), []byte("hello"))
	_, err = k.open(nil, header, packetNumber(2), sealed)
	require.Error(t, err, "the nonce depends on the packet number, so reusing the wrong one must fail")
}

func TestKeysHeaderProtectionMaskRequires16ByteSample(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	hpKey := make([]byte, 16)
	k, err := newKeys(suiteAES128GCM, key, iv, hpKey)
	require.NoError(t, err)

	_, err = k.headerProtectionMask(make([]byte, 15))
	require.Error(t, err)

	_, err = k.headerProtectionMask(make([]byte, 16))
	require.NoError(t, err)
}

func TestApplyHeaderProtectionIsItsOwnInverse(t *testing.T) {
	hdr := []byte{0xc3, 0xaa, 0xbb, 0xcc, 0xdd}
	orig := append([]byte(nil), hdr...)
	mask := [5]byte{0x11, 0x22, 0x33, 0x44, 0x55}

	applyHeaderProtection(hdr, 1, 4, mask)
	require.NotEqual(t, orig, hdr)

	applyHeaderProtection(hdr, 1, 4, mask)
	require.Equal(t, orig, hdr)
}

func TestApplyHeaderProtectionMasksMoreBitsForShortHeader(t *testing.T) {
	hdr := []byte{0x40, 0xaa}
	mask := [5]byte{0xff, 0, 0, 0, 0}
	applyHeaderProtection(hdr, 1, 0, mask)
	require.Equal(t, byte(0x40^(0xff&0x1f)), hdr[0])
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, constantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 3}))
	require.False(t, constantTimeEqual([]byte{1, 2, 3}, []byte{1, 2, 4}))
	require.False(t, constantTimeEqual([]byte{1, 2}, []byte{1, 2, 3}))
}

func TestConfidentialityAndIntegrityLimitsDifferByCipher(t *testing.T) {
	aesKeys := keys{suite: suiteAES128GCM}
	chachaKeys := keys{suite: suiteChaCha20Poly1305}
	require.Less(t, aesKeys.confidentialityLimit(), chachaKeys.confidentialityLimit())
	require.Greater(t, aesKeys.integrityLimit(), chachaKeys.integrityLimit())
}
