// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the version-specific salt used to derive Initial secrets,
// RFC 9001 Section 5.2, for QUIC version 1 (RFC 9000).
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label function
// (RFC 8446 Section 7.1), reused by QUIC's key schedule (RFC 9001
// Section 5.1) with the "tls13 " label prefix.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	var hkdfLabel []byte
	hkdfLabel = appendUint16(hkdfLabel, uint16(length))
	fullLabel := "tls13 " + label
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, 0) // no context

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := io.ReadFull(r, out); err != nil {
		panic("quic: hkdf expand failed: " + err.Error())
	}
	return out
}

func appendUint16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

// initialSecrets derives the client and server Initial secrets from a
// connection ID, RFC 9001 Section 5.2.
func initialSecrets(connID []byte) (clientSecret, serverSecret []byte) {
	initialSecret := hkdf.Extract(sha256.New, connID, initialSaltV1)
	clientSecret = hkdfExpandLabel(initialSecret, "client in", sha256.Size)
	serverSecret = hkdfExpandLabel(initialSecret, "server in", sha256.Size)
	return clientSecret, serverSecret
}

// deriveInitialKeys computes the Initial packet protection keys for both
// directions, RFC 9001 Section 5.2. AES-128-GCM is mandated for Initial
// packets regardless of the cipher suite eventually negotiated.
func deriveInitialKeys(connID []byte, side connSide) (write, read keys, err error) {
	clientSecret, serverSecret := initialSecrets(connID)
	mySecret, peerSecret := clientSecret, serverSecret
	if side == serverSide {
		mySecret, peerSecret = serverSecret, clientSecret
	}
	write, err = deriveKeysFromSecret(suiteAES128GCM, mySecret)
	if err != nil {
		return keys{}, keys{}, err
	}
	read, err = deriveKeysFromSecret(suiteAES128GCM, peerSecret)
	if err != nil {
		return keys{}, keys{}, err
	}
	return write, read, nil
}

// deriveKeysFromSecret expands a traffic secret into AEAD key, IV, and
// header-protection key per RFC 9001 Section 5.1.
func deriveKeysFromSecret(suite aeadSuite, secret []byte) (keys, error) {
	keyLen := 16
	if suite == suiteAES256GCM || suite == suiteChaCha20Poly1305 {
		keyLen = 32
	}
	key := hkdfExpandLabel(secret, "quic key", keyLen)
	iv := hkdfExpandLabel(secret, "quic iv", 12)
	hp := hkdfExpandLabel(secret, "quic hp", keyLen)
	return newKeys(suite, key, iv, hp)
}

// updateSecret computes the next generation's traffic secret, RFC 9001
// Section 6's key update mechanism.
func updateSecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, "quic ku", len(secret))
}
