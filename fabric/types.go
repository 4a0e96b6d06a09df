// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fabric holds the data model shared by the wire codec, the
// server-side sequencer, and the client library: sequence numbers,
// client identifiers, channel selectors, and the message and
// subscription types every other package in this module builds on.
package fabric

import "math"

// SeqNum is the totally ordered scalar that parameterizes the fabric's
// global sequence. It is carried as an IEEE-754 double both on the
// wire and internally — using one representation throughout avoids a
// conversion boundary that could silently violate the strict
// receive_seq > publish_seq invariant through rounding.
type SeqNum float64

// FirstSeqNum is the starting frontier of every session.
const FirstSeqNum SeqNum = 0

// Less reports whether s strictly precedes other in the sequence.
func (s SeqNum) Less(other SeqNum) bool { return s < other }

// Bits returns the IEEE-754 big-endian bit pattern of s, the exact
// representation used on the wire.
func (s SeqNum) Bits() uint64 { return math.Float64bits(float64(s)) }

// SeqNumFromBits reconstructs a SeqNum from its wire bit pattern.
func SeqNumFromBits(bits uint64) SeqNum { return SeqNum(math.Float64frombits(bits)) }

// ClientId is the server-assigned identifier for a connected client,
// unique for the lifetime of the fabric. IDs are never reused across a
// reconnect — a client that reconnects after a disconnect receives a
// fresh session and a fresh ClientId.
type ClientId uint32

// SelectorKind distinguishes a channel-specific subscription from the
// wildcard "all channels" subscription.
type SelectorKind uint8

const (
	SelectAll     SelectorKind = 0
	SelectChannel SelectorKind = 1
)

// Selector names what a subscription matches: either every channel, or
// one specific channel by name.
type Selector struct {
	Kind    SelectorKind
	Channel string // meaningful only when Kind == SelectChannel
}

// AllChannels is the wildcard selector.
func AllChannels() Selector { return Selector{Kind: SelectAll} }

// OnChannel selects a single named channel.
func OnChannel(name string) Selector { return Selector{Kind: SelectChannel, Channel: name} }

// Matches reports whether this selector matches the given channel name.
func (s Selector) Matches(channel string) bool {
	switch s.Kind {
	case SelectAll:
		return true
	case SelectChannel:
		return s.Channel == channel
	default:
		return false
	}
}

// SubscriptionKey identifies a subscription within a session: a
// session has at most one live subscription per selector.
type SubscriptionKey struct {
	Kind    SelectorKind
	Channel string
}

// Key returns the map key this selector occupies within a session's
// subscription set.
func (s Selector) Key() SubscriptionKey {
	return SubscriptionKey{Kind: s.Kind, Channel: s.Channel}
}

// Recipient is one resolved destination for a published message: the
// client that will receive it, and the receive_seq it will be
// delivered at.
type Recipient struct {
	Client     ClientId
	ReceiveSeq SeqNum
}

// Message is an immutable published datagram together with its
// resolved recipients. publish_seq and receive_seq obey the strict
// invariant ReceiveSeq > PublishSeq for every recipient.
type Message struct {
	Publisher  ClientId
	PublishSeq SeqNum
	Channel    string
	Payload    []byte
	Recipients []Recipient
}

// Delivery is one (message, receive_seq) pairing as queued in a
// specific recipient's pending_delivery queue.
type Delivery struct {
	Message    Message
	ReceiveSeq SeqNum
}
