// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import "fmt"

// ---- STREAM, CRYPTO, NEW_TOKEN ----

type streamFrame struct {
	id     streamID
	off    int64
	data   []byte
	fin    bool
}

func (f streamFrame) write(w *packetWriter) bool {
	ftype := uint64(frameTypeStreamBase) | 0x02 /*LEN*/
	if f.off != 0 {
		ftype |= 0x04 // OFF
	}
	if f.fin {
		ftype |= 0x01 // FIN
	}
	var hdr []byte
	hdr = appendVarint(hdr, ftype)
	hdr = appendVarintInt64(hdr, int64(f.id))
	if f.off != 0 {
		hdr = appendVarintInt64(hdr, f.off)
	}
	hdr = appendVarintInt64(hdr, int64(len(f.data)))
	if w.remaining() < len(hdr)+len(f.data) {
		return false
	}
	w.buf = append(w.buf, hdr...)
	w.buf = append(w.buf, f.data...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeStreamBase)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(f.id))
	w.sent.frames = appendVarintInt64(w.sent.frames, f.off)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(len(f.data)))
	w.sent.frames = append(w.sent.frames, boolByte(f.fin))
	return true
}

func (f streamFrame) String() string {
	return fmt.Sprintf("STREAM id=%v off=%v len=%v fin=%v", f.id, f.off, len(f.data), f.fin)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func parseStreamFrame(payload []byte, ftype uint64) (debugFrame, int) {
	_, n := consumeVarint(payload)
	id, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	var off int64
	if ftype&0x04 != 0 {
		off, n2 = consumeVarintInt64(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
	}
	var length int64
	if ftype&0x02 != 0 {
		length, n2 = consumeVarintInt64(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
	} else {
		length = int64(len(payload) - n)
	}
	if n+int(length) > len(payload) || length < 0 {
		return nil, -1
	}
	data := payload[n : n+int(length)]
	n += int(length)
	return streamFrame{id: streamID(id), off: off, data: data, fin: ftype&0x01 != 0}, n
}

type cryptoFrame struct {
	off  int64
	data []byte
}

func (f cryptoFrame) write(w *packetWriter) bool {
	var hdr []byte
	hdr = appendVarint(hdr, frameTypeCrypto)
	hdr = appendVarintInt64(hdr, f.off)
	hdr = appendVarintInt64(hdr, int64(len(f.data)))
	if w.remaining() < len(hdr)+len(f.data) {
		return false
	}
	w.buf = append(w.buf, hdr...)
	w.buf = append(w.buf, f.data...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeCrypto)
	w.sent.frames = appendVarintInt64(w.sent.frames, f.off)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(len(f.data)))
	return true
}
func (f cryptoFrame) String() string { return fmt.Sprintf("CRYPTO off=%v len=%v", f.off, len(f.data)) }

func parseCryptoFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	off, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	length, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	if n+int(length) > len(payload) || length < 0 {
		return nil, -1
	}
	data := payload[n : n+int(length)]
	n += int(length)
	return cryptoFrame{off: off, data: data}, n
}

type newTokenFrame struct{ token []byte }

func (f newTokenFrame) write(w *packetWriter) bool {
	var hdr []byte
	hdr = appendVarint(hdr, frameTypeNewToken)
	hdr = appendVarintInt64(hdr, int64(len(f.token)))
	if w.remaining() < len(hdr)+len(f.token) {
		return false
	}
	w.buf = append(w.buf, hdr...)
	w.buf = append(w.buf, f.token...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f newTokenFrame) String() string { return fmt.Sprintf("NEW_TOKEN len=%v", len(f.token)) }

func parseNewTokenFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	length, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	if n+int(length) > len(payload) || length < 0 {
		return nil, -1
	}
	tok := payload[n : n+int(length)]
	n += int(length)
	return newTokenFrame{token: tok}, n
}

// ---- RESET_STREAM, STOP_SENDING ----

type resetStreamFrame struct {
	id        streamID
	code      uint64
	finalSize int64
}

func (f resetStreamFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeResetStream)
	b = appendVarintInt64(b, int64(f.id))
	b = appendVarint(b, f.code)
	b = appendVarintInt64(b, f.finalSize)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeResetStream)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(f.id))
	return true
}
func (f resetStreamFrame) String() string {
	return fmt.Sprintf("RESET_STREAM id=%v code=%v finalSize=%v", f.id, f.code, f.finalSize)
}

func parseResetStreamFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	id, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	code, n2 := consumeVarint(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	finalSize, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	return resetStreamFrame{id: streamID(id), code: code, finalSize: finalSize}, n
}

type stopSendingFrame struct {
	id   streamID
	code uint64
}

func (f stopSendingFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeStopSending)
	b = appendVarintInt64(b, int64(f.id))
	b = appendVarint(b, f.code)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeStopSending)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(f.id))
	return true
}
func (f stopSendingFrame) String() string { return fmt.Sprintf("STOP_SENDING id=%v code=%v", f.id, f.code) }

func parseStopSendingFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	id, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	code, n2 := consumeVarint(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	return stopSendingFrame{id: streamID(id), code: code}, n
}

// ---- flow control frames ----

type maxDataFrame struct{ max int64 }

func (f maxDataFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeMaxData)
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeMaxData)
	w.sent.frames = appendVarintInt64(w.sent.frames, f.max)
	return true
}
func (f maxDataFrame) String() string { return fmt.Sprintf("MAX_DATA max=%v", f.max) }

type maxStreamDataFrame struct {
	id  streamID
	max int64
}

func (f maxStreamDataFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeMaxStreamData)
	b = appendVarintInt64(b, int64(f.id))
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeMaxStreamData)
	w.sent.frames = appendVarintInt64(w.sent.frames, int64(f.id))
	w.sent.frames = appendVarintInt64(w.sent.frames, f.max)
	return true
}
func (f maxStreamDataFrame) String() string {
	return fmt.Sprintf("MAX_STREAM_DATA id=%v max=%v", f.id, f.max)
}

func parseMaxStreamDataFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	id, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	max, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	return maxStreamDataFrame{id: streamID(id), max: max}, n
}

type maxStreamsFrame struct {
	bidi bool
	max  int64
}

func (f maxStreamsFrame) write(w *packetWriter) bool {
	ftype := uint64(frameTypeMaxStreamsUni)
	if f.bidi {
		ftype = frameTypeMaxStreamsBidi
	}
	var b []byte
	b = appendVarint(b, ftype)
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, byte(ftype))
	return true
}
func (f maxStreamsFrame) String() string { return fmt.Sprintf("MAX_STREAMS bidi=%v max=%v", f.bidi, f.max) }

type dataBlockedFrame struct{ max int64 }

func (f dataBlockedFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeDataBlocked)
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f dataBlockedFrame) String() string { return fmt.Sprintf("DATA_BLOCKED max=%v", f.max) }

type streamDataBlockedFrame struct {
	id  streamID
	max int64
}

func (f streamDataBlockedFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeStreamDataBlocked)
	b = appendVarintInt64(b, int64(f.id))
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f streamDataBlockedFrame) String() string {
	return fmt.Sprintf("STREAM_DATA_BLOCKED id=%v max=%v", f.id, f.max)
}

func parseStreamDataBlockedFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	id, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	max, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	return streamDataBlockedFrame{id: streamID(id), max: max}, n
}

type streamsBlockedFrame struct {
	bidi bool
	max  int64
}

func (f streamsBlockedFrame) write(w *packetWriter) bool {
	ftype := uint64(frameTypeStreamsBlockedUni)
	if f.bidi {
		ftype = frameTypeStreamsBlockedBidi
	}
	var b []byte
	b = appendVarint(b, ftype)
	b = appendVarintInt64(b, f.max)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f streamsBlockedFrame) String() string {
	return fmt.Sprintf("STREAMS_BLOCKED bidi=%v max=%v", f.bidi, f.max)
}

// ---- connection ID management ----

type newConnectionIDFrame struct {
	seq           int64
	retirePriorTo int64
	connID        []byte
	resetToken    [16]byte
}

func (f newConnectionIDFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeNewConnectionID)
	b = appendVarintInt64(b, f.seq)
	b = appendVarintInt64(b, f.retirePriorTo)
	b = append(b, byte(len(f.connID)))
	b = append(b, f.connID...)
	b = append(b, f.resetToken[:]...)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeNewConnectionID)
	w.sent.frames = appendVarintInt64(w.sent.frames, f.seq)
	return true
}
func (f newConnectionIDFrame) String() string {
	return fmt.Sprintf("NEW_CONNECTION_ID seq=%v retirePriorTo=%v id=%x", f.seq, f.retirePriorTo, f.connID)
}

func parseNewConnectionIDFrame(payload []byte) (debugFrame, int) {
	_, n := consumeVarint(payload)
	seq, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	retire, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	if n >= len(payload) {
		return nil, -1
	}
	length := int(payload[n])
	n++
	if n+length+16 > len(payload) {
		return nil, -1
	}
	id := payload[n : n+length]
	n += length
	f := newConnectionIDFrame{seq: seq, retirePriorTo: retire, connID: id}
	copy(f.resetToken[:], payload[n:n+16])
	n += 16
	return f, n
}

type retireConnectionIDFrame struct{ seq int64 }

func (f retireConnectionIDFrame) write(w *packetWriter) bool {
	var b []byte
	b = appendVarint(b, frameTypeRetireConnectionID)
	b = appendVarintInt64(b, f.seq)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeRetireConnectionID)
	w.sent.frames = appendVarintInt64(w.sent.frames, f.seq)
	return true
}
func (f retireConnectionIDFrame) String() string { return fmt.Sprintf("RETIRE_CONNECTION_ID seq=%v", f.seq) }

// ---- path validation ----

type pathChallengeFrame struct{ data [8]byte }

func (f pathChallengeFrame) write(w *packetWriter) bool {
	if w.remaining() < 9 {
		return false
	}
	w.buf = append(w.buf, frameTypePathChallenge)
	w.buf = append(w.buf, f.data[:]...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f pathChallengeFrame) String() string { return fmt.Sprintf("PATH_CHALLENGE data=%x", f.data) }

type pathResponseFrame struct{ data [8]byte }

func (f pathResponseFrame) write(w *packetWriter) bool {
	if w.remaining() < 9 {
		return false
	}
	w.buf = append(w.buf, frameTypePathResponse)
	w.buf = append(w.buf, f.data[:]...)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	return true
}
func (f pathResponseFrame) String() string { return fmt.Sprintf("PATH_RESPONSE data=%x", f.data) }

// ---- close, handshake done ----

type connectionCloseFrame struct {
	isApp     bool
	code      uint64
	frameType uint64
	reason    string
}

func (f connectionCloseFrame) write(w *packetWriter) bool {
	ftype := uint64(frameTypeConnectionCloseTransport)
	if f.isApp {
		ftype = frameTypeConnectionCloseApp
	}
	var b []byte
	b = appendVarint(b, ftype)
	b = appendVarint(b, f.code)
	if !f.isApp {
		b = appendVarint(b, f.frameType)
	}
	b = appendVarintInt64(b, int64(len(f.reason)))
	b = append(b, f.reason...)
	if w.remaining() < len(b) {
		return false
	}
	w.buf = append(w.buf, b...)
	return true
}
func (f connectionCloseFrame) String() string {
	if f.isApp {
		return fmt.Sprintf("CONNECTION_CLOSE(app) code=%v reason=%q", f.code, f.reason)
	}
	return fmt.Sprintf("CONNECTION_CLOSE code=%v frame=0x%x reason=%q", f.code, f.frameType, f.reason)
}

func parseConnectionCloseFrame(payload []byte, isApp bool) (debugFrame, int) {
	_, n := consumeVarint(payload)
	code, n2 := consumeVarint(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	var ft uint64
	if !isApp {
		ft, n2 = consumeVarint(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
	}
	length, n2 := consumeVarintInt64(payload[n:])
	if n2 < 0 {
		return nil, -1
	}
	n += n2
	if n+int(length) > len(payload) || length < 0 {
		return nil, -1
	}
	reason := string(payload[n : n+int(length)])
	n += int(length)
	return connectionCloseFrame{isApp: isApp, code: code, frameType: ft, reason: reason}, n
}

type handshakeDoneFrame struct{}

func (f handshakeDoneFrame) write(w *packetWriter) bool {
	if w.remaining() < 1 {
		return false
	}
	w.buf = append(w.buf, frameTypeHandshakeDone)
	w.sent.ackEliciting = true
	w.sent.inFlight = true
	w.sent.frames = append(w.sent.frames, frameTypeHandshakeDone)
	return true
}
func (f handshakeDoneFrame) String() string { return "HANDSHAKE_DONE" }

// ---- unreliable datagrams, RFC 9221 ----

type datagramFrame struct{ data []byte }

func (f datagramFrame) write(w *packetWriter) bool {
	var hdr []byte
	hdr = appendVarint(hdr, frameTypeDatagramBase+1) // always include explicit length
	hdr = appendVarintInt64(hdr, int64(len(f.data)))
	if w.remaining() < len(hdr)+len(f.data) {
		return false
	}
	w.buf = append(w.buf, hdr...)
	w.buf = append(w.buf, f.data...)
	w.sent.ackEliciting = true
	w.sent.inFlight = false // datagrams are not retransmitted on loss
	return true
}
func (f datagramFrame) String() string { return fmt.Sprintf("DATAGRAM len=%v", len(f.data)) }

func parseDatagramFrame(payload []byte, ftype uint64) (debugFrame, int) {
	_, n := consumeVarint(payload)
	var length int64
	if ftype&0x01 != 0 {
		var n2 int
		length, n2 = consumeVarintInt64(payload[n:])
		if n2 < 0 {
			return nil, -1
		}
		n += n2
	} else {
		length = int64(len(payload) - n)
	}
	if n+int(length) > len(payload) || length < 0 {
		return nil, -1
	}
	data := payload[n : n+int(length)]
	n += int(length)
	return datagramFrame{data: data}, n
}
