// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
)

// Channel is a reliable, in-order, bidirectional byte stream between the
// server and exactly one client. It carries framed protocol messages
// (encoded and decoded by the wire package) and nothing else.
//
// A Channel never reorders or duplicates bytes and reports remote closure
// as io.EOF from Read. It has no notion of message boundaries itself —
// that is the wire package's job, layered on top.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer

	// RemoteAddr identifies the peer for logging. Format is
	// transport-specific (e.g. "host:port" for TCP).
	RemoteAddr() string
}

// Listener accepts inbound Channels from connecting clients. The server
// holds exactly one Listener and calls AwaitIncomingConnection in a loop
// from a single dedicated goroutine — new Channels are then handed off to
// the sequencer, which drives them cooperatively (see package fabricserver).
type Listener interface {
	// AwaitIncomingConnection blocks until a client connects or ctx is
	// cancelled. Concurrent callers are not supported — the server drives
	// this from one goroutine, matching the sequencing core's
	// single-writer concurrency model.
	AwaitIncomingConnection(ctx context.Context) (Channel, error)

	// Address returns the address clients should dial, in
	// transport-specific format.
	Address() string

	// Close shuts down the listener. Any call to AwaitIncomingConnection
	// blocked in accept returns an error.
	Close() error
}

// Dialer opens a Channel to a listening server.
type Dialer interface {
	DialContext(ctx context.Context, address string) (Channel, error)
}
