// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build go1.21

package quic

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// realHooks drives a Conn's event loop against the wall clock and a real
// net.PacketConn, the production counterpart to conn_test.go's
// testConnHooks.
type realHooks struct{}

func (realHooks) nextMessage(msgc chan any, timer time.Time) (time.Time, any) {
	if timer.IsZero() {
		return time.Now(), <-msgc
	}
	d := time.Until(timer)
	if d <= 0 {
		select {
		case m := <-msgc:
			return time.Now(), m
		default:
			return time.Now(), timerEvent{}
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m := <-msgc:
		return time.Now(), m
	case <-t.C:
		return time.Now(), timerEvent{}
	}
}

// packetConnListener implements connListener over a real net.PacketConn
// shared by every Conn an endpoint owns.
type packetConnListener struct {
	pc net.PacketConn
}

func (l packetConnListener) sendDatagram(p []byte, addr netip.AddrPort) error {
	_, err := l.pc.WriteTo(p, net.UDPAddrFromAddrPort(addr))
	return err
}

// endpoint demultiplexes inbound datagrams from a shared net.PacketConn
// across the connections it owns, by destination connection ID, and
// (when acceptc is set) admits unrecognized Initial packets as new server
// connections. This is spec.md's Listener role, the socket-facing
// counterpart conn_test.go's fake listener stands in for during tests.
type endpoint struct {
	pc      net.PacketConn
	config  *Config
	acceptc chan *Conn // nil for a Dial-only endpoint

	mu    sync.Mutex
	conns map[string]*Conn // keyed by locally-issued connection ID bytes
}

func newEndpoint(pc net.PacketConn, config *Config, acceptc chan *Conn) *endpoint {
	return &endpoint{pc: pc, config: config, acceptc: acceptc, conns: map[string]*Conn{}}
}

// register records every connection ID this endpoint has issued for c, so
// later datagrams addressed to any of them are routed to it.
func (ep *endpoint) register(c *Conn) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	for _, e := range c.connIDState.local {
		ep.conns[string(e.cid)] = c
	}
}

func (ep *endpoint) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := ep.pc.ReadFrom(buf)
		if err != nil {
			if ep.acceptc != nil {
				close(ep.acceptc)
			}
			return
		}
		b := append([]byte(nil), buf[:n]...)
		ep.handlePacket(b, addr)
	}
}

func (ep *endpoint) handlePacket(b []byte, addr net.Addr) {
	dst, _ := dstConnIDForDatagram(b)
	if dst == nil {
		return
	}
	ep.mu.Lock()
	c := ep.conns[string(dst)]
	ep.mu.Unlock()
	if c != nil {
		c.sendMsg(&datagram{b: b})
		return
	}
	if ep.acceptc == nil || !isLongHeader(b[0]) || getPacketType(b) != packetTypeInitial {
		return
	}
	raddr, ok := netAddrToAddrPort(addr)
	if !ok {
		return
	}
	c, err := newConn(time.Now(), serverSide, dst, raddr, packetConnListener{ep.pc}, realHooks{}, ep.config)
	if err != nil {
		return
	}
	ep.register(c)
	c.sendMsg(&datagram{b: b})
	select {
	case ep.acceptc <- c:
	default:
		c.CloseWithError(0, "listener accept queue full")
	}
}

func netAddrToAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return udpAddr.AddrPort(), true
}

// Dial creates a client connection over pc addressed to raddr.
func Dial(pc net.PacketConn, raddr netip.AddrPort, config *Config) (*Conn, error) {
	initialConnID, err := newRandomConnID()
	if err != nil {
		return nil, err
	}
	ep := newEndpoint(pc, config, nil)
	c, err := newConn(time.Now(), clientSide, initialConnID, raddr, packetConnListener{pc}, realHooks{}, config)
	if err != nil {
		return nil, err
	}
	ep.register(c)
	go ep.readLoop()
	return c, nil
}

// Listener accepts server-side connections arriving on a shared
// net.PacketConn, demultiplexed by destination connection ID.
type Listener struct {
	ep      *endpoint
	acceptc chan *Conn
}

// Listen creates a Listener accepting connections on pc.
func Listen(pc net.PacketConn, config *Config) *Listener {
	acceptc := make(chan *Conn, 16)
	ln := &Listener{acceptc: acceptc, ep: newEndpoint(pc, config, acceptc)}
	go ln.ep.readLoop()
	return ln
}

// Accept waits for and returns the next connection, or nil once Close has
// been called.
func (ln *Listener) Accept() *Conn {
	return <-ln.acceptc
}

// Close closes the underlying socket, causing Accept and every accepted
// connection's read loop to stop.
func (ln *Listener) Close() error {
	return ln.ep.pc.Close()
}
