// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// aeadSuite identifies one of the three cipher suites spec.md section 4.2
// requires (AES-128-GCM, AES-256-GCM, CHACHA20-POLY1305). The AEAD
// primitives themselves come from the standard library for the AES suites
// (crypto/aes + crypto/cipher, the idiomatic Go source for AES-GCM) and
// from golang.org/x/crypto for CHACHA20-POLY1305, matching
// distribution-distribution's direct dependency on golang.org/x/crypto.
type aeadSuite byte

const (
	suiteAES128GCM aeadSuite = iota
	suiteAES256GCM
	suiteChaCha20Poly1305
)

const aeadTagLength = 16

// Confidentiality and integrity limits, RFC 9001 Section 6.6.
const (
	confidentialityLimitAESGCM   = 1 << 23 // encryptions before a key update is required
	integrityLimitAESGCM         = 1 << 52 // decryption failures before the connection closes
	confidentialityLimitChaCha   = 1 << 62 // effectively unlimited
	integrityLimitChaCha20       = 1 << 36
)

// keys holds the record-protection and header-protection key material for
// one (packet number space, direction) pair, RFC 9001 Sections 5 and 5.4.
type keys struct {
	suite    aeadSuite
	aead     cipher.AEAD
	iv       []byte // static IV, XORed with the packet number to form the nonce
	hpKey    []byte // header protection key, used directly for the ChaCha20 case
	hpBlock  cipher.Block // AES block cipher for AES-based header protection

	sealCount uint64 // packets protected with this key
	failCount uint64 // decryption failures seen with this key (receive keys only)

	phase bool // 1-RTT key phase bit this key corresponds to (false = phase 0)
}

func (k *keys) isSet() bool { return k.aead != nil }

// confidentialityLimit returns the number of protections allowed before a
// key update (send keys) is required.
func (k *keys) confidentialityLimit() uint64 {
	if k.suite == suiteChaCha20Poly1305 {
		return confidentialityLimitChaCha
	}
	return confidentialityLimitAESGCM
}

// integrityLimit returns the number of decryption failures allowed before
// the connection must be closed with an AEAD_LIMIT_REACHED error.
func (k *keys) integrityLimit() uint64 {
	if k.suite == suiteChaCha20Poly1305 {
		return integrityLimitChaCha20
	}
	return integrityLimitAESGCM
}

func newAEAD(suite aeadSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case suiteAES128GCM, suiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case suiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("quic: unknown AEAD suite %v", suite)
	}
}

// newKeys constructs a keys value from already-derived secrets. hpKey and
// key/iv are derived by the TLS layer's key schedule (quic_hp/quic_key/quic_iv
// per RFC 9001 Section 5.1); this function only wires them into the AEAD
// and header-protection primitives.
func newKeys(suite aeadSuite, key, iv, hpKey []byte) (keys, error) {
	aead, err := newAEAD(suite, key)
	if err != nil {
		return keys{}, err
	}
	k := keys{
		suite: suite,
		aead:  aead,
		iv:    append([]byte(nil), iv...),
		hpKey: append([]byte(nil), hpKey...),
	}
	if suite != suiteChaCha20Poly1305 {
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return keys{}, err
		}
		k.hpBlock = block
	}
	return k, nil
}

// nonce computes the 96-bit AEAD nonce for packet number num: the static IV
// XORed with the big-endian packet number (RFC 9001 Section 5.3).
func (k *keys) nonce(num packetNumber) []byte {
	nonce := append([]byte(nil), k.iv...)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(num >> (8 * i))
	}
	return nonce
}

// seal encrypts and authenticates payload in place, appending the result
// (and GCM/Poly1305 tag) to dst. header is authenticated but not encrypted.
func (k *keys) seal(dst, header []byte, num packetNumber, payload []byte) []byte {
	k.sealCount++
	nonce := k.nonce(num)
	return k.aead.Seal(dst, nonce, payload, header)
}

// open authenticates and decrypts ciphertext (payload+tag), given the
// associated header bytes. It runs in constant time with respect to the
// authentication outcome (delegated to crypto/cipher's GCM/Poly1305, both
// of which are constant-time in the tag comparison).
func (k *keys) open(dst, header []byte, num packetNumber, ciphertext []byte) ([]byte, error) {
	nonce := k.nonce(num)
	plain, err := k.aead.Open(dst, nonce, ciphertext, header)
	if err != nil {
		k.failCount++
		return nil, newError(errInternal, "AEAD decryption failure")
	}
	return plain, nil
}

// headerProtectionMask computes the 5-byte mask RFC 9001 Section 5.4.1
// derives from a 16-byte sample of the packet's protected payload,
// starting 4 bytes after the start of the packet number field.
func (k *keys) headerProtectionMask(sample []byte) ([5]byte, error) {
	var mask [5]byte
	if len(sample) != 16 {
		return mask, fmt.Errorf("quic: header protection sample must be 16 bytes, got %d", len(sample))
	}
	if k.suite == suiteChaCha20Poly1305 {
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(k.hpKey, nonce)
		if err != nil {
			return mask, err
		}
		c.SetCounter(counter)
		var zeros [5]byte
		c.XORKeyStream(mask[:], zeros[:])
		return mask, nil
	}
	var out [aes.BlockSize]byte
	k.hpBlock.Encrypt(out[:], sample)
	copy(mask[:], out[:5])
	return mask, nil
}

// applyHeaderProtection XORs the mask into the first byte (masking the low
// 5 bits for a short header or low 4 bits for a long header) and the
// packet number bytes, RFC 9001 Section 5.4.1. It is its own inverse,
// constant-time with respect to the input (pure XOR).
func applyHeaderProtection(hdr []byte, pnumOff, pnumLen int, mask [5]byte) {
	if isLongHeader(hdr[0]) {
		hdr[0] ^= mask[0] & 0x0f
	} else {
		hdr[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnumLen; i++ {
		hdr[pnumOff+i] ^= mask[1+i]
	}
}

// constantTimeEqual reports whether a and b are equal, in time independent
// of where they first differ. Used for stateless reset token comparison.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
