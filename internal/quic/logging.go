// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "github.com/sirupsen/logrus"

// Logger receives structured connection lifecycle events: handshake
// progress, loss detection decisions, and stream/flow-control state
// changes. Implementations must not block the connection's event loop.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}

// NewLogrusLogger adapts a *logrus.Entry (or the package-level logger via
// logrus.NewEntry(logrus.StandardLogger())) to the Logger interface.
func NewLogrusLogger(entry *logrus.Entry) Logger {
	return logrusLogger{entry}
}

type logrusLogger struct{ e *logrus.Entry }

func (l logrusLogger) Debugf(format string, args ...any) { l.e.Debugf(format, args...) }
func (l logrusLogger) Infof(format string, args ...any)  { l.e.Infof(format, args...) }
func (l logrusLogger) Warnf(format string, args ...any)  { l.e.Warnf(format, args...) }

// connLogger returns a Logger scoped to one connection, tagging every
// entry with its connection ID and side for correlation across a busy
// server's logs.
func connLogger(base Logger, side connSide, connID []byte) Logger {
	le, ok := base.(logrusLogger)
	if !ok {
		return base
	}
	return logrusLogger{le.e.WithFields(logrus.Fields{
		"side":   side.String(),
		"connID": hexString(connID),
	})}
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0xf]
	}
	return string(out)
}
