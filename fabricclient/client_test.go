// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fabricclient

import (
	"context"
	"testing"
	"time"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/lib/testutil"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

// fakeServer answers frames written to serverSide by hand, simulating
// the bare minimum of sequencer behavior needed to drive the client
// library's public API without spinning up a full Sequencer.
type fakeServer struct {
	ch transport.Channel
}

func (f *fakeServer) expect(t *testing.T, want wire.Tag) wire.Frame {
	t.Helper()
	type result struct {
		f   wire.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		fr, err := wire.ReadFrame(f.ch)
		done <- result{fr, err}
	}()
	r := testutil.RequireReceive(t, done, 2*time.Second, "reading expected frame")
	if r.err != nil {
		t.Fatalf("ReadFrame() error: %v", r.err)
	}
	if r.f.Tag != want {
		t.Fatalf("got tag %d, want %d", r.f.Tag, want)
	}
	return r.f
}

func (f *fakeServer) send(t *testing.T, fr wire.Frame) {
	t.Helper()
	if err := wire.WriteFrame(f.ch, fr); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
}

func newClientUnderTest(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	serverSide, clientSide := transport.NewInMemoryPair()
	client := New(clientSide, nil)
	t.Cleanup(func() {
		client.Close()
		serverSide.Close()
	})
	return client, &fakeServer{ch: serverSide}
}

func TestStart_AssignsId(t *testing.T) {
	client, server := newClientUnderTest(t)

	done := make(chan struct {
		id  fabric.ClientId
		err error
	}, 1)
	go func() {
		id, err := client.Start(context.Background())
		done <- struct {
			id  fabric.ClientId
			err error
		}{id, err}
	}()

	server.expect(t, wire.TagHello)
	server.send(t, wire.HelloAck(7, fabric.FirstSeqNum))

	r := testutil.RequireReceive(t, done, 2*time.Second, "Start()")
	if r.err != nil {
		t.Fatalf("Start() error: %v", r.err)
	}
	if r.id != 7 {
		t.Errorf("id = %d, want 7", r.id)
	}
	if client.Id() != 7 {
		t.Errorf("client.Id() = %d, want 7", client.Id())
	}
}

func startClient(t *testing.T, client *Client, server *fakeServer) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := client.Start(context.Background())
		done <- err
	}()
	server.expect(t, wire.TagHello)
	server.send(t, wire.HelloAck(1, fabric.FirstSeqNum))
	if err := testutil.RequireReceive(t, done, 2*time.Second, "Start()"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
}

func TestPublish_RejectsBelowMinSendSeq(t *testing.T) {
	client, server := newClientUnderTest(t)
	startClient(t, client, server)

	if err := client.Publish("c", 0, 1, nil); err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}
	server.expect(t, wire.TagPublish)

	err := client.Publish("c", -1, 1, nil)
	var misuse *fabric.Misuse
	if !asMisuse(err, &misuse) {
		t.Fatalf("expected *fabric.Misuse, got %v", err)
	}
}

func TestPublish_RejectsReceiveSeqNotGreater(t *testing.T) {
	client, server := newClientUnderTest(t)
	startClient(t, client, server)

	err := client.Publish("c", 1, 1, nil)
	var misuse *fabric.Misuse
	if !asMisuse(err, &misuse) {
		t.Fatalf("expected *fabric.Misuse, got %v", err)
	}
}

func TestReceiveMessages_BuffersDeliveries(t *testing.T) {
	client, server := newClientUnderTest(t)
	startClient(t, client, server)

	server.send(t, wire.Deliver(9, 0, 1, "odom", []byte("payload")))

	// Give the reader goroutine a moment to decode the frame; the
	// client's own call sequencing does the real synchronization in
	// production, but ReceiveMessages here is the only pump running.
	time.Sleep(50 * time.Millisecond)

	msgs, _, err := client.ReceiveMessages()
	if err != nil {
		t.Fatalf("ReceiveMessages() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Publisher != 9 || string(msgs[0].Payload) != "payload" {
		t.Errorf("got %+v", msgs[0])
	}
}

func TestAwaitAdvance_RequestsOnceAndReturnsOnGrant(t *testing.T) {
	client, server := newClientUnderTest(t)
	startClient(t, client, server)

	done := make(chan struct {
		seq fabric.SeqNum
		err error
	}, 1)
	go func() {
		seq, err := client.AwaitAdvance(context.Background())
		done <- struct {
			seq fabric.SeqNum
			err error
		}{seq, err}
	}()

	server.expect(t, wire.TagRequestAdvance)
	server.send(t, wire.AdvanceGrant(5))

	r := testutil.RequireReceive(t, done, 2*time.Second, "AwaitAdvance()")
	if r.err != nil {
		t.Fatalf("AwaitAdvance() error: %v", r.err)
	}
	if r.seq != 5 {
		t.Errorf("seq = %v, want 5", r.seq)
	}
	if client.MinimumReceiveSequence() != 5 {
		t.Errorf("MinimumReceiveSequence() = %v, want 5", client.MinimumReceiveSequence())
	}
}

func asMisuse(err error, target **fabric.Misuse) bool {
	m, ok := err.(*fabric.Misuse)
	if ok {
		*target = m
	}
	return ok
}
