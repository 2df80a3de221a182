// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qcheck drives a loopback QUIC client/server pair and reports the
// negotiated RTT, congestion window, and bytes transferred. It is ancillary
// diagnostic tooling, not part of the importable transport engine.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-quic/transport/internal/quic"
	"github.com/spf13/cobra"
)

var (
	payloadSize int
	timeout     time.Duration
)

func init() {
	rootCmd.Flags().IntVarP(&payloadSize, "size", "s", 1<<20, "bytes to transfer over the loopback connection")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "how long to wait for the transfer to complete")
}

var rootCmd = &cobra.Command{
	Use:   "qcheck",
	Short: "qcheck drives a loopback QUIC client/server pair and reports transport stats",
	Long:  "qcheck drives a loopback QUIC client/server pair and reports transport stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(payloadSize, timeout)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qcheck: %v\n", err)
		os.Exit(1)
	}
}

func run(size int, timeout time.Duration) error {
	serverPC, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer serverPC.Close()
	ln := quic.Listen(serverPC, &quic.Config{})
	defer ln.Close()

	clientPC, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	defer clientPC.Close()

	raddr := serverPC.LocalAddr().(*net.UDPAddr).AddrPort()
	client, err := quic.Dial(clientPC, raddr, &quic.Config{})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	deadline := time.After(timeout)
	acceptc := make(chan *quic.Conn, 1)
	go func() { acceptc <- ln.Accept() }()

	var server *quic.Conn
	select {
	case server = <-acceptc:
	case <-deadline:
		return fmt.Errorf("timed out waiting for the server to accept a connection")
	}
	if server == nil {
		return fmt.Errorf("listener closed before accepting a connection")
	}
	defer server.Close()

	payload := make([]byte, size)
	errc := make(chan error, 2)
	go func() {
		stream, err := client.NewStream(true)
		if err != nil {
			errc <- fmt.Errorf("open stream: %w", err)
			return
		}
		if _, err := stream.Write(payload); err != nil {
			errc <- fmt.Errorf("write: %w", err)
			return
		}
		errc <- stream.Close()
	}()

	received := 0
	go func() {
		stream := server.AcceptStream()
		if stream == nil {
			errc <- fmt.Errorf("server connection closed before accepting a stream")
			return
		}
		buf := make([]byte, 32*1024)
		for {
			n, err := stream.Read(buf)
			received += n
			if err != nil {
				if errors.Is(err, io.EOF) {
					errc <- nil
				} else {
					errc <- err
				}
				return
			}
		}
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for the transfer to complete")
		}
	}

	stats := client.Stats()
	fmt.Printf("bytes transferred: %d\n", received)
	fmt.Printf("smoothed RTT:      %v\n", stats.SmoothedRTT)
	fmt.Printf("congestion window: %d\n", stats.CongestionWindow)
	fmt.Printf("bytes in flight:   %d\n", stats.BytesInFlight)
	return nil
}
