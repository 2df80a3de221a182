// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

// Varint encoding and decoding, RFC 9000, Section 16.
//
// The two most significant bits of the first byte select the length:
//
//	00 -> 1 byte,  6 usable bits
//	01 -> 2 bytes, 14 usable bits
//	10 -> 4 bytes, 30 usable bits
//	11 -> 8 bytes, 62 usable bits

const maxVarint = (1 << 62) - 1

// consumeVarint parses a varint at the start of b.
// It returns the value and the number of bytes consumed,
// or -1 for n if b does not contain a complete, valid varint.
func consumeVarint(b []byte) (v uint64, n int) {
	if len(b) < 1 {
		return 0, -1
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, -1
	}
	v = uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = (v << 8) | uint64(b[i])
	}
	return v, length
}

// consumeVarintInt64 is consumeVarint with the result as an int64,
// convenient for offsets and counts which are compared against other int64s.
func consumeVarintInt64(b []byte) (v int64, n int) {
	uv, n := consumeVarint(b)
	if n < 0 {
		return 0, -1
	}
	return int64(uv), n
}

// sizeVarint returns the number of bytes required to encode v as a varint.
// It panics if v exceeds maxVarint; callers are expected to check limits
// before reaching here.
func sizeVarint(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	case v <= maxVarint:
		return 8
	default:
		panic("quic: varint value overflow")
	}
}

// appendVarint appends the varint encoding of v to b.
func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(b, byte(v))
	case v <= 16383:
		return append(b, byte(0x40|(v>>8)), byte(v))
	case v <= 1073741823:
		return append(b,
			byte(0x80|(v>>24)), byte(v>>16), byte(v>>8), byte(v))
	case v <= maxVarint:
		return append(b,
			byte(0xc0|(v>>56)), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("quic: varint value overflow")
	}
}

// appendVarintInt64 appends v as a varint, treating negative values as a bug.
func appendVarintInt64(b []byte, v int64) []byte {
	if v < 0 {
		panic("quic: negative varint value")
	}
	return appendVarint(b, uint64(v))
}
