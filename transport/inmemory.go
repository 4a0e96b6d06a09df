// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
)

// NewInMemoryPair returns two connected Channels, server-side and
// client-side, backed by in-process pipes rather than a real socket. The
// permutation test harness (package harness) uses these to run many
// scheduling permutations quickly and without port allocation.
func NewInMemoryPair() (server Channel, client Channel) {
	serverConn, clientConn := net.Pipe()
	return &tcpChannel{conn: serverConn}, &tcpChannel{conn: clientConn}
}

// InMemoryListener is a Listener that hands out pre-wired in-memory
// Channels instead of accepting real connections. Tests construct pairs
// with NewInMemoryPair and feed the server half in via Offer.
type InMemoryListener struct {
	offered chan Channel
	closed  chan struct{}
}

var _ Listener = (*InMemoryListener)(nil)

// NewInMemoryListener creates a listener with no connections queued.
func NewInMemoryListener() *InMemoryListener {
	return &InMemoryListener{
		offered: make(chan Channel, 16),
		closed:  make(chan struct{}),
	}
}

// Offer enqueues a Channel to be returned by a future
// AwaitIncomingConnection call, as if a client had just dialed in.
func (l *InMemoryListener) Offer(ch Channel) {
	l.offered <- ch
}

func (l *InMemoryListener) AwaitIncomingConnection(ctx context.Context) (Channel, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, io.ErrClosedPipe
	case ch := <-l.offered:
		return ch, nil
	}
}

func (l *InMemoryListener) Address() string { return "memory" }

func (l *InMemoryListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
