// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
	_ Channel  = (*tcpChannel)(nil)
)

// TCPListener accepts inbound TCP connections from clients. This is the
// only network transport this repository ships — the fabric assumes direct TCP
// reachability between a server and its clients (same host or same LAN;
// NAT traversal is out of scope).
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener creates a TCP listener on the given address (e.g.
// ":7891" or "192.168.1.10:7891"). Use ":0" for a random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener}, nil
}

// AwaitIncomingConnection blocks until a client dials in or ctx is
// cancelled. Cancelling ctx makes this call return ctx.Err(), but the
// underlying accept keeps waiting until a client dials in or Close is
// called (the normal shutdown path); a connection accepted after the
// call returned is never handed to any caller.
func (l *TCPListener) AwaitIncomingConnection(ctx context.Context) (Channel, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := l.listener.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-accepted:
		if r.err != nil {
			return nil, r.err
		}
		return &tcpChannel{conn: r.conn}, nil
	}
}

// Address returns the TCP address in "host:port" format.
func (l *TCPListener) Address() string {
	return l.listener.Addr().String()
}

// Close shuts down the TCP listener, unblocking any in-progress accept.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// TCPDialer opens TCP connections to a fabric server.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a TCP connection to be
	// established. Zero means no standalone timeout — only the context
	// deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to the given address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (Channel, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &tcpChannel{conn: conn}, nil
}

// tcpChannel adapts a net.Conn to the Channel interface.
type tcpChannel struct {
	conn net.Conn
}

func (c *tcpChannel) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *tcpChannel) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *tcpChannel) Close() error                { return c.conn.Close() }
func (c *tcpChannel) RemoteAddr() string          { return c.conn.RemoteAddr().String() }
