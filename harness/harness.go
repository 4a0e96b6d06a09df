// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/fabricserver"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

// The scenario Run executes is the one named by Testable Property 1
// and scenario S6: 3 clients, each publishing 3 messages on a shared
// wildcard subscription, for 9 publications total. The script's
// content never varies across runs — only the order in which the
// Sequencer polls sessions for inbound frames does, via the order
// argument to Run.
const scenarioClientCount = 3
const scenarioPublishesPerClient = 3

// Delivery is one message as observed arriving at a recipient, the
// unit of the EventList projection scenario S6 compares across
// permutations.
type Delivery struct {
	Recipient  fabric.ClientId
	Publisher  fabric.ClientId
	PublishSeq fabric.SeqNum
	ReceiveSeq fabric.SeqNum
	Channel    string
	Payload    []byte
}

// discardWriter backs a slog handler that drops every record; the
// harness runs the Sequencer many times in a tight loop across
// permutations and scripted clients communicate entirely through
// assertions on wire frames, not logs.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

// frameReader pumps frames off one transport.Channel into a buffered
// channel on a single dedicated goroutine, the same single-reader
// idiom session.readLoop and fabricclient's readLoop use — a
// transport.Channel is not safe for concurrent Read calls, so the
// harness may never spawn more than one reader per channel.
type frameReader struct {
	ch     transport.Channel
	frames chan wire.Frame
	errs   chan error
}

func newFrameReader(ch transport.Channel) *frameReader {
	r := &frameReader{ch: ch, frames: make(chan wire.Frame, 64), errs: make(chan error, 1)}
	go r.pump()
	return r
}

func (r *frameReader) pump() {
	for {
		f, err := wire.ReadFrame(r.ch)
		if err != nil {
			r.errs <- err
			return
		}
		r.frames <- f
	}
}

func (r *frameReader) readBlocking(want wire.Tag) (wire.Frame, error) {
	select {
	case f := <-r.frames:
		if f.Tag != want {
			return wire.Frame{}, fmt.Errorf("harness: expected tag %d, got %d", want, f.Tag)
		}
		return f, nil
	case err := <-r.errs:
		return wire.Frame{}, err
	case <-time.After(2 * time.Second):
		return wire.Frame{}, fmt.Errorf("harness: timed out waiting for tag %d", want)
	}
}

func (r *frameReader) tryRead() (wire.Frame, bool, error) {
	select {
	case f := <-r.frames:
		return f, true, nil
	case err := <-r.errs:
		return wire.Frame{}, false, err
	default:
		return wire.Frame{}, false, nil
	}
}

// Run executes Scenario once, polling sessions in the given order at
// every round, and returns the ordered Delivery sequence each
// recipient observed, keyed by recipient ClientId. order must name
// every client the scenario connects (scenarioClientCount of them);
// which ClientId the scenario assigns to the Nth connection is
// deterministic (connections are accepted in a fixed order), so
// callers can compute permutations of Permutations(ids) directly
// against the IDs returned alongside the deliveries.
func Run(ctx context.Context, order []fabric.ClientId) (map[fabric.ClientId][]Delivery, []fabric.ClientId, error) {
	listener := transport.NewInMemoryListener()
	seq := fabricserver.NewSequencer(listener, quietLogger())

	clientChannels := make([]transport.Channel, scenarioClientCount)
	readers := make([]*frameReader, scenarioClientCount)
	ids := make([]fabric.ClientId, scenarioClientCount)
	for i := 0; i < scenarioClientCount; i++ {
		server, client := transport.NewInMemoryPair()
		listener.Offer(server)
		id, err := seq.Accept(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("harness: accepting connection %d: %w", i, err)
		}
		clientChannels[i] = client
		readers[i] = newFrameReader(client)
		ids[i] = id
	}

	poll := func() { seq.HandleIOOrdered(order) }

	// Handshake.
	for _, ch := range clientChannels {
		if err := wire.WriteFrame(ch, wire.Hello()); err != nil {
			return nil, nil, err
		}
	}
	poll()
	for _, r := range readers {
		if _, err := r.readBlocking(wire.TagHelloAck); err != nil {
			return nil, nil, err
		}
	}

	// Every client subscribes to every channel from the start.
	for _, ch := range clientChannels {
		if err := wire.WriteFrame(ch, wire.Subscribe(fabric.AllChannels(), fabric.FirstSeqNum)); err != nil {
			return nil, nil, err
		}
	}
	poll()
	for _, r := range readers {
		if _, err := r.readBlocking(wire.TagSubscribeAck); err != nil {
			return nil, nil, err
		}
	}

	// Scripted publications: each client publishes 3 messages on its
	// own channel name, at increasing publish_seq, then clears to
	// advance past its last publish. receive_seq = publish_seq+1 keeps
	// every message deliverable once every client's min_send_seq
	// reaches scenarioPublishesPerClient, since the global frontier can
	// never exceed the lowest of all (equal) per-client ceilings. The
	// script's content is fixed regardless of order.
	for round := 0; round < scenarioPublishesPerClient; round++ {
		for ci, ch := range clientChannels {
			publishSeq := fabric.SeqNum(round)
			receiveSeq := fabric.SeqNum(round + 1)
			payload := []byte(fmt.Sprintf("client-%d-round-%d", ids[ci], round))
			channel := fmt.Sprintf("channel-%d", ids[ci])
			if err := wire.WriteFrame(ch, wire.Publish(publishSeq, receiveSeq, channel, payload)); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, ch := range clientChannels {
		if err := wire.WriteFrame(ch, wire.ClearToAdvance(scenarioPublishesPerClient)); err != nil {
			return nil, nil, err
		}
	}
	poll()

	for _, ch := range clientChannels {
		if err := wire.WriteFrame(ch, wire.RequestAdvance(1<<20)); err != nil {
			return nil, nil, err
		}
	}

	deliveries := make(map[fabric.ClientId][]Delivery, scenarioClientCount)
	deadline := time.Now().Add(2 * time.Second)
	for {
		poll()
		progressed := false
		for i, r := range readers {
			for {
				f, ok, err := r.tryRead()
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					break
				}
				progressed = true
				if f.Tag == wire.TagDeliver {
					deliveries[ids[i]] = append(deliveries[ids[i]], Delivery{
						Recipient:  ids[i],
						Publisher:  f.Publisher,
						PublishSeq: f.PublishSeq,
						ReceiveSeq: f.ReceiveSeq,
						Channel:    f.Channel,
						Payload:    f.Payload,
					})
				}
			}
		}
		if allGranted(deliveries) || time.Now().After(deadline) {
			break
		}
		if !progressed {
			time.Sleep(time.Millisecond)
		}
	}

	return deliveries, ids, nil
}

// allGranted is a coarse completion check: every client publishes
// exactly scenarioPublishesPerClient messages, each on its own uniquely
// named channel, and every client subscribes wildcard, so the scenario
// is done once every recipient has seen all
// scenarioClientCount*scenarioPublishesPerClient publications, its own
// included.
func allGranted(deliveries map[fabric.ClientId][]Delivery) bool {
	want := scenarioClientCount * scenarioPublishesPerClient
	if len(deliveries) < scenarioClientCount {
		return false
	}
	for _, ds := range deliveries {
		if len(ds) < want {
			return false
		}
	}
	return true
}

