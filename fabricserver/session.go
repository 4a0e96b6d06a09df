// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fabricserver implements the server side of the fabric:
// the Sequencer (the single authority for the total order) and the
// per-client session state it coordinates.
package fabricserver

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

// state is a session's position in the Handshaking -> Active ->
// Closing -> Dead lifecycle.
type state int

const (
	stateHandshaking state = iota
	stateActive
	stateClosing
	stateDead
)

// session holds one connected client's mutable sequencing state and
// its byte channel. All mutation happens from the Sequencer's single
// HandleIO-driving goroutine; the only other goroutine touching a
// session is its own readLoop, which only ever sends on inbound/
// inboundErr and never touches session fields directly.
type session struct {
	id      fabric.ClientId
	connID  string
	channel transport.Channel
	logger  *slog.Logger

	state state

	subscriptions map[fabric.SubscriptionKey]fabric.SeqNum
	minSendSeq    fabric.SeqNum
	minRecvSeq    fabric.SeqNum
	pendingGrant  *fabric.SeqNum

	pendingDelivery []fabric.Delivery

	outbound []wire.Frame

	inbound    chan wire.Frame
	inboundErr chan error
}

func newSession(id fabric.ClientId, ch transport.Channel, logger *slog.Logger, wake chan<- struct{}) *session {
	connID := uuid.NewString()
	s := &session{
		id:            id,
		connID:        connID,
		channel:       ch,
		logger:        logger.With("conn_id", connID),
		state:         stateHandshaking,
		subscriptions: make(map[fabric.SubscriptionKey]fabric.SeqNum),
		minSendSeq:    fabric.FirstSeqNum,
		minRecvSeq:    fabric.FirstSeqNum,
		inbound:       make(chan wire.Frame, 256),
		inboundErr:    make(chan error, 1),
	}
	s.logger.Info("session opened")
	go s.readLoop(wake)
	return s
}

func (s *session) readLoop(wake chan<- struct{}) {
	for {
		f, err := wire.ReadFrame(s.channel)
		if err != nil {
			s.inboundErr <- err
			nonBlockingSignal(wake)
			return
		}
		s.inbound <- f
		nonBlockingSignal(wake)
	}
}

func nonBlockingSignal(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

// drainInbound pulls every frame and error currently buffered without
// blocking, for the Sequencer's HandleIO pass.
func (s *session) drainInbound() (frames []wire.Frame, closeErr error, closed bool) {
	for {
		select {
		case f := <-s.inbound:
			frames = append(frames, f)
			continue
		case err := <-s.inboundErr:
			// readLoop queues every frame before its error, so any
			// frames still buffered here arrived first.
			for {
				select {
				case f := <-s.inbound:
					frames = append(frames, f)
					continue
				default:
				}
				return frames, err, true
			}
		default:
		}
		return frames, nil, false
	}
}

// enqueueDelivery inserts d into pending_delivery, preserving the
// delivery order invariant: ascending receive_seq, ties broken by
// ascending (publisher, publish_seq), then by the order enqueued.
func (s *session) enqueueDelivery(d fabric.Delivery) {
	i := len(s.pendingDelivery)
	for i > 0 {
		prev := s.pendingDelivery[i-1]
		if prev.ReceiveSeq < d.ReceiveSeq {
			break
		}
		if prev.ReceiveSeq == d.ReceiveSeq {
			if prev.Message.Publisher < d.Message.Publisher {
				break
			}
			if prev.Message.Publisher == d.Message.Publisher && prev.Message.PublishSeq <= d.Message.PublishSeq {
				break
			}
		}
		i--
	}
	s.pendingDelivery = append(s.pendingDelivery, fabric.Delivery{})
	copy(s.pendingDelivery[i+1:], s.pendingDelivery[i:])
	s.pendingDelivery[i] = d
}

// deliverableUpTo removes and returns every pending delivery with
// ReceiveSeq <= frontier, in order.
func (s *session) deliverableUpTo(frontier fabric.SeqNum) []fabric.Delivery {
	cut := 0
	for cut < len(s.pendingDelivery) && s.pendingDelivery[cut].ReceiveSeq <= frontier {
		cut++
	}
	if cut == 0 {
		return nil
	}
	out := s.pendingDelivery[:cut]
	s.pendingDelivery = s.pendingDelivery[cut:]
	return out
}

func (s *session) close() {
	if s.state == stateDead {
		return
	}
	s.state = stateClosing
	s.channel.Close()
	s.state = stateDead
}
