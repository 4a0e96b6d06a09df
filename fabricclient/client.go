// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fabricclient implements the client side of the fabric
// protocol: Start, Subscribe/Unsubscribe, Publish, ClearToAdvance,
// AwaitAdvance, ReceiveMessages, and ReceiveUntil.
package fabricclient

import (
	"context"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/lib/netutil"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

// maxSeqNum is the sentinel AwaitAdvance requests when the caller has
// no specific target sequence in mind: "grant as much as the sequencer
// will currently allow."
const maxSeqNum fabric.SeqNum = fabric.SeqNum(math.MaxFloat64)

// ReceivedMessage is one delivered datagram as seen by a client,
// together with the receive_seq it arrived at.
type ReceivedMessage struct {
	Publisher  fabric.ClientId
	PublishSeq fabric.SeqNum
	ReceiveSeq fabric.SeqNum
	Channel    string
	Payload    []byte
}

// Client is the fabric client library. It enforces the client-local
// monotonicity invariant on every call: Publish, ClearToAdvance, and
// subscription requests may never name a sequence below what this
// client has already committed to. A single Client must be driven by
// one goroutine at a time — like the sequencer, its blocking methods
// are cooperative work functions, not internally thread-safe state
// machines.
type Client struct {
	channel transport.Channel
	logger  *slog.Logger
	connID  string

	id fabric.ClientId

	minSendSeq          fabric.SeqNum
	minRecvSeq          fabric.SeqNum
	lastAdvanceReturned fabric.SeqNum
	advanceRequested    bool

	received []ReceivedMessage

	codecs map[string]*wire.PayloadCodec

	inbound    chan wire.Frame
	inboundErr chan error
}

// Dial opens a Channel via dialer and constructs a Client around it.
// Call Start next to perform the handshake.
func Dial(ctx context.Context, dialer transport.Dialer, address string, logger *slog.Logger) (*Client, error) {
	ch, err := dialer.DialContext(ctx, address)
	if err != nil {
		return nil, err
	}
	return New(ch, logger), nil
}

// New wraps an already-open Channel. Most callers should use Dial.
func New(ch transport.Channel, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	connID := uuid.NewString()
	c := &Client{
		channel:    ch,
		logger:     logger.With("conn_id", connID),
		connID:     connID,
		codecs:     make(map[string]*wire.PayloadCodec),
		inbound:    make(chan wire.Frame, 256),
		inboundErr: make(chan error, 1),
	}
	c.logger.Info("client connection opened")
	go c.readLoop()
	return c
}

// SetChannelCodec configures an optional payload codec for a channel.
// The publisher's client encodes with it and every subscriber's client
// decodes with it, so those clients must agree on the codec for a
// given channel (normally by loading the same configuration file); the
// server forwards payload bytes untouched. The codec is a pure
// wire-size transform that sequencing never inspects, so mismatched
// configuration produces garbled payloads, not ordering or causality
// errors.
func (c *Client) SetChannelCodec(channel string, codec *wire.PayloadCodec) {
	c.codecs[channel] = codec
}

func (c *Client) readLoop() {
	for {
		f, err := wire.ReadFrame(c.channel)
		if err != nil {
			c.inboundErr <- err
			return
		}
		c.inbound <- f
	}
}

// Close releases the underlying channel.
func (c *Client) Close() error { return c.channel.Close() }

// Id returns this client's server-assigned identifier. Valid only
// after Start returns successfully.
func (c *Client) Id() fabric.ClientId { return c.id }

// MinimumSendSequence returns the client's current min_send_seq.
func (c *Client) MinimumSendSequence() fabric.SeqNum { return c.minSendSeq }

// MinimumReceiveSequence returns the client's current min_recv_seq.
func (c *Client) MinimumReceiveSequence() fabric.SeqNum { return c.minRecvSeq }

// Start performs the Hello handshake and blocks until the server
// assigns this client an id.
func (c *Client) Start(ctx context.Context) (fabric.ClientId, error) {
	if err := wire.WriteFrame(c.channel, wire.Hello()); err != nil {
		return 0, err
	}
	f, err := c.pumpUntil(ctx, wire.TagHelloAck)
	if err != nil {
		return 0, err
	}
	c.id = f.ClientId
	c.minSendSeq = f.Seq
	c.minRecvSeq = f.Seq
	c.lastAdvanceReturned = f.Seq
	return c.id, nil
}

// Subscribe requests a subscription effective no earlier than seq and
// blocks for the server's acknowledgment, returning the effective
// sequence the server actually applied (which may be later than seq,
// per the sequencer's admission rule).
func (c *Client) Subscribe(ctx context.Context, sel fabric.Selector, seq fabric.SeqNum) (fabric.SeqNum, error) {
	if seq < c.minSendSeq {
		return 0, &fabric.Misuse{Reason: "Subscribe seq below min_send_seq"}
	}
	if err := wire.WriteFrame(c.channel, wire.Subscribe(sel, seq)); err != nil {
		return 0, err
	}
	f, err := c.pumpUntil(ctx, wire.TagSubscribeAck)
	if err != nil {
		return 0, err
	}
	return f.Seq, nil
}

// Unsubscribe mirrors Subscribe for removing a subscription.
func (c *Client) Unsubscribe(ctx context.Context, sel fabric.Selector, seq fabric.SeqNum) (fabric.SeqNum, error) {
	if seq < c.minSendSeq {
		return 0, &fabric.Misuse{Reason: "Unsubscribe seq below min_send_seq"}
	}
	if err := wire.WriteFrame(c.channel, wire.Unsubscribe(sel, seq)); err != nil {
		return 0, err
	}
	f, err := c.pumpUntil(ctx, wire.TagUnsubscribeAck)
	if err != nil {
		return 0, err
	}
	return f.Seq, nil
}

// Publish queues a message for sequencing. Nonblocking. Advances this
// client's local min_send_seq to publishSeq.
func (c *Client) Publish(channel string, publishSeq, receiveSeq fabric.SeqNum, payload []byte) error {
	if publishSeq < c.minSendSeq {
		return &fabric.Misuse{Reason: "Publish publish_seq below min_send_seq"}
	}
	if receiveSeq <= publishSeq {
		return &fabric.Misuse{Reason: "Publish receive_seq must exceed publish_seq"}
	}
	wirePayload := payload
	if codec, ok := c.codecs[channel]; ok {
		wirePayload = codec.EncodeForWire(payload)
	}
	if err := wire.WriteFrame(c.channel, wire.Publish(publishSeq, receiveSeq, channel, wirePayload)); err != nil {
		return err
	}
	c.minSendSeq = publishSeq
	return nil
}

// ClearToAdvance is nonblocking; it advances this client's local
// min_send_seq, promising the sequencer it will never publish,
// subscribe, unsubscribe, or clear-to-advance below seq again.
func (c *Client) ClearToAdvance(seq fabric.SeqNum) error {
	if seq < c.minSendSeq {
		return &fabric.Misuse{Reason: "ClearToAdvance below min_send_seq"}
	}
	if err := wire.WriteFrame(c.channel, wire.ClearToAdvance(seq)); err != nil {
		return err
	}
	c.minSendSeq = seq
	return nil
}

// AwaitAdvance blocks until the next AdvanceGrant whose value exceeds
// the last one this call returned, requesting one from the sequencer
// if none is already outstanding.
func (c *Client) AwaitAdvance(ctx context.Context) (fabric.SeqNum, error) {
	if !c.advanceRequested {
		if err := wire.WriteFrame(c.channel, wire.RequestAdvance(maxSeqNum)); err != nil {
			return 0, err
		}
		c.advanceRequested = true
	}
	for {
		f, err := c.pumpUntil(ctx, wire.TagAdvanceGrant)
		if err != nil {
			return 0, err
		}
		if f.Seq > c.minRecvSeq {
			c.minRecvSeq = f.Seq
		}
		if f.Seq > c.lastAdvanceReturned {
			c.lastAdvanceReturned = f.Seq
			c.advanceRequested = false
			return f.Seq, nil
		}
	}
}

// ReceiveMessages drains every message buffered locally, in delivery
// order, together with the current min_recv_seq. Nonblocking.
func (c *Client) ReceiveMessages() ([]ReceivedMessage, fabric.SeqNum, error) {
	if err := c.pumpNonBlocking(); err != nil {
		return nil, c.minRecvSeq, err
	}
	out := c.received
	c.received = nil
	return out, c.minRecvSeq, nil
}

// ReceiveUntil clears to advance and requests grants until
// min_recv_seq reaches target, returning every message observed along
// the way.
func (c *Client) ReceiveUntil(ctx context.Context, target fabric.SeqNum) ([]ReceivedMessage, fabric.SeqNum, error) {
	if target > c.minSendSeq {
		if err := c.ClearToAdvance(target); err != nil {
			return nil, c.minRecvSeq, err
		}
	}

	var all []ReceivedMessage
	for c.minRecvSeq < target {
		msgs, _, err := c.ReceiveMessages()
		all = append(all, msgs...)
		if err != nil {
			return all, c.minRecvSeq, err
		}
		if c.minRecvSeq >= target {
			break
		}
		if _, err := c.AwaitAdvance(ctx); err != nil {
			return all, c.minRecvSeq, err
		}
	}
	msgs, _, err := c.ReceiveMessages()
	all = append(all, msgs...)
	return all, c.minRecvSeq, err
}

// pumpUntil blocks, applying side effects from every frame read, until
// a frame with the wanted tag arrives, which it returns without
// applying (the caller owns that frame's payload).
func (c *Client) pumpUntil(ctx context.Context, want wire.Tag) (wire.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return wire.Frame{}, ctx.Err()
		case err := <-c.inboundErr:
			return wire.Frame{}, classifyClose(err)
		case f := <-c.inbound:
			if f.Tag == want {
				return f, nil
			}
			c.applySideEffect(f)
		}
	}
}

// pumpNonBlocking drains every currently buffered frame without
// blocking, applying its side effect.
func (c *Client) pumpNonBlocking() error {
	for {
		select {
		case err := <-c.inboundErr:
			// readLoop queues every frame before its error, so any
			// frames still buffered here arrived first.
			for {
				select {
				case f := <-c.inbound:
					c.applySideEffect(f)
					continue
				default:
				}
				return classifyClose(err)
			}
		case f := <-c.inbound:
			c.applySideEffect(f)
			continue
		default:
			return nil
		}
	}
}

// applySideEffect handles a frame encountered while waiting for a
// different one: Deliver frames are buffered, AdvanceGrant frames
// advance min_recv_seq eagerly so ReceiveMessages always reports the
// freshest frontier even if the caller never calls AwaitAdvance again.
func (c *Client) applySideEffect(f wire.Frame) {
	switch f.Tag {
	case wire.TagDeliver:
		payload := f.Payload
		if codec, ok := c.codecs[f.Channel]; ok {
			decoded, err := codec.DecodeFromWire(payload)
			if err != nil {
				c.logger.Warn("payload codec decode failed", "channel", f.Channel, "error", err)
			} else {
				payload = decoded
			}
		}
		c.received = append(c.received, ReceivedMessage{
			Publisher:  f.Publisher,
			PublishSeq: f.PublishSeq,
			ReceiveSeq: f.ReceiveSeq,
			Channel:    f.Channel,
			Payload:    payload,
		})
	case wire.TagAdvanceGrant:
		if f.Seq > c.minRecvSeq {
			c.minRecvSeq = f.Seq
		}
		if f.Seq > c.lastAdvanceReturned {
			c.lastAdvanceReturned = f.Seq
			c.advanceRequested = false
		}
	default:
		c.logger.Debug("unsolicited frame while pumping", "tag", f.Tag)
	}
}

func classifyClose(err error) error {
	if netutil.IsExpectedCloseError(err) {
		return &fabric.Closed{Reason: err.Error()}
	}
	return &fabric.TransportError{Err: err}
}
