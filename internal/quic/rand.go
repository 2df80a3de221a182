// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "crypto/rand"

// newRandomConnID returns a new randomly-generated connection ID of
// localConnIDLen bytes, suitable for this endpoint to issue to its peer.
func newRandomConnID() ([]byte, error) {
	b := make([]byte, localConnIDLen)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// newStatelessResetToken derives a 16-byte stateless reset token, RFC 9000
// Section 10.3. In production this would be derived deterministically from
// a local secret and the connection ID so a restarted server can still
// recognize its own stateless reset tokens; this implementation generates
// tokens randomly per connection ID, which is sufficient for a single
// long-running process but not across restarts.
func newStatelessResetToken() ([16]byte, error) {
	var tok [16]byte
	if _, err := rand.Read(tok[:]); err != nil {
		return tok, err
	}
	return tok, nil
}

// newPathChallengeData returns 8 random bytes for a PATH_CHALLENGE frame.
func newPathChallengeData() ([8]byte, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	return b, nil
}
