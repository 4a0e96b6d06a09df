// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fabricserver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/fabriccritic"
	"github.com/ggould-tri/blocktopus/lib/clock"
	"github.com/ggould-tri/blocktopus/lib/config"
	"github.com/ggould-tri/blocktopus/lib/netutil"
	"github.com/ggould-tri/blocktopus/transport"
	"github.com/ggould-tri/blocktopus/wire"
)

// statusInterval is how often Run logs an uptime/session-count status
// line. Purely a telemetry convenience; nothing in the sequencing core
// consults wall-clock time.
const statusInterval = 30 * time.Second

// Sequencer is the single authority for the fabric's total order. It
// owns every connected client's session and the cooperative work
// function, HandleIO, that drains inbound frames, applies their state
// transitions, arbitrates advance grants, and dispatches outbound
// frames. Nothing inside the Sequencer ever spawns a goroutine to
// mutate sequencing state — the only other goroutines in this package
// are Run's accept loop and each session's byte-plumbing readLoop,
// which never touches a session's fields, only its inbound channels.
type Sequencer struct {
	logger *slog.Logger

	sessions map[fabric.ClientId]*session
	nextID   fabric.ClientId

	wake chan struct{}

	listener transport.Listener
	newConns chan *session

	journal *fabriccritic.Journal

	channelCodecs map[string]*wire.PayloadCodec

	clock     clock.Clock
	startedAt time.Time
}

// SetClock overrides the Clock backing Run's status ticker. Tests use
// this to inject a clock.Fake; production code has no need to call it,
// since NewSequencer already defaults to clock.Real. Only the status
// ticker consults this clock — sequencing decisions never do.
func (s *Sequencer) SetClock(c clock.Clock) {
	s.clock = c
	s.startedAt = c.Now()
}

// SetEventJournal attaches a CBOR event journal that every Publish and
// resulting Deliver is recorded to, for offline fabriccritic analysis.
// A nil journal (the default) disables journaling entirely.
func (s *Sequencer) SetEventJournal(j *fabriccritic.Journal) {
	s.journal = j
}

func (s *Sequencer) recordEvent(e fabriccritic.Event) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(e); err != nil {
		s.logger.Warn("event journal append failed", "error", err)
	}
}

// SetChannelConfig builds the per-channel payload codecs used to
// decode compressed payloads before they reach the debug event
// journal. It never touches the bytes forwarded to recipients — those
// always carry exactly what the publisher's client put on the wire,
// so only a publisher and its subscribers need to agree on a
// channel's codec. The sequencer's own copy exists so fabriccritic
// tooling sees the original payload rather than an opaque compressed
// blob.
func (s *Sequencer) SetChannelConfig(cfg *config.Config) error {
	for name, ch := range cfg.Channels {
		if ch.CompressPayloadAbove <= 0 {
			continue
		}
		codec, err := wire.NewPayloadCodec(ch.CompressPayloadAbove)
		if err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		s.channelCodecs[name] = codec
	}
	return nil
}

func (s *Sequencer) codecFor(channel string) *wire.PayloadCodec {
	if c, ok := s.channelCodecs[channel]; ok {
		return c
	}
	if c, ok := s.channelCodecs["*"]; ok {
		return c
	}
	return nil
}

// journaledMessage returns msg with Payload decoded through channel's
// configured codec, if any, so the debug journal holds the original
// payload bytes instead of a compressed wire blob. A decode failure
// (for example, a channel configured server-side but not by the
// publisher) is logged and the raw bytes are journaled as-is.
func (s *Sequencer) journaledMessage(msg fabric.Message) fabric.Message {
	codec := s.codecFor(msg.Channel)
	if codec == nil {
		return msg
	}
	decoded, err := codec.DecodeFromWire(msg.Payload)
	if err != nil {
		s.logger.Warn("journal payload decode failed", "channel", msg.Channel, "error", err)
		return msg
	}
	msg.Payload = decoded
	return msg
}

// NewSequencer constructs a Sequencer that will accept connections
// from listener. Call Run to drive it.
func NewSequencer(listener transport.Listener, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	realClock := clock.Real()
	return &Sequencer{
		logger:        logger,
		sessions:      make(map[fabric.ClientId]*session),
		wake:          make(chan struct{}, 1),
		listener:      listener,
		newConns:      make(chan *session, 16),
		channelCodecs: make(map[string]*wire.PayloadCodec),
		clock:         realClock,
		startedAt:     realClock.Now(),
	}
}

// Run drives the accept loop and the HandleIO loop until ctx is
// cancelled. It is the cooperative equivalent of "a thread loops over
// this" from the fabric's design: exactly one goroutine (this call)
// mutates session state and the session set; accepting connections
// happens on a second goroutine that constructs sessions, assigning
// each a client id from the Sequencer's id counter, and hands them over
// newConns.
func (s *Sequencer) Run(ctx context.Context) error {
	acceptErr := make(chan error, 1)
	go s.acceptLoop(ctx, acceptErr)

	status := s.clock.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case err := <-acceptErr:
			s.closeAll()
			return err
		case conn := <-s.newConns:
			s.sessions[conn.id] = conn
			s.HandleIO()
		case <-s.wake:
			s.HandleIO()
		case now := <-status.C:
			s.logger.Info("status", "uptime", now.Sub(s.startedAt), "sessions", len(s.sessions))
		}
	}
}

func (s *Sequencer) acceptLoop(ctx context.Context, errOut chan<- error) {
	for {
		ch, err := s.listener.AwaitIncomingConnection(ctx)
		if err != nil {
			errOut <- err
			return
		}
		id := s.allocateClientID()
		sess := newSession(id, ch, s.logger.With("client_id", id), s.wake)
		select {
		case s.newConns <- sess:
		case <-ctx.Done():
			sess.close()
			return
		}
	}
}

func (s *Sequencer) allocateClientID() fabric.ClientId {
	id := s.nextID
	s.nextID++
	return id
}

// Accept performs a single synchronous accept-and-register step:
// it awaits one incoming connection from the listener, allocates a
// ClientId, and registers the resulting session, without starting
// Run's background accept loop. The permutation test harness uses
// this to build a fixed set of sessions under its own control before
// driving HandleIOOrdered by hand.
func (s *Sequencer) Accept(ctx context.Context) (fabric.ClientId, error) {
	ch, err := s.listener.AwaitIncomingConnection(ctx)
	if err != nil {
		return 0, err
	}
	id := s.allocateClientID()
	sess := newSession(id, ch, s.logger.With("client_id", id), s.wake)
	s.sessions[id] = sess
	return id, nil
}

// SessionIDs returns every currently registered session's ClientId, in
// the map's (randomized) iteration order.
func (s *Sequencer) SessionIDs() []fabric.ClientId {
	ids := make([]fabric.ClientId, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// HandleIO drains every session's inbound frames, applies their state
// transitions, recomputes the grant arbitration, and flushes outbound
// frames. Safe to call repeatedly; a call with nothing to do is a
// cheap no-op. Sessions are visited in Go's randomized map iteration
// order — by design, since Testable Property 1 requires the outcome to
// be independent of polling order; see HandleIOOrdered for the harness
// variant that pins an explicit order to demonstrate this directly.
func (s *Sequencer) HandleIO() {
	ids := make([]fabric.ClientId, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.HandleIOOrdered(ids)
}

// HandleIOOrdered is HandleIO with the session visitation order pinned
// explicitly, for the permutation test harness (package harness) to
// drive every permutation of polling order over a fixed set of
// sessions and confirm the resulting EventList projection is
// unaffected. ids not present in s.sessions are ignored; sessions
// present in s.sessions but absent from ids are skipped this pass.
func (s *Sequencer) HandleIOOrdered(ids []fabric.ClientId) {
	for _, id := range ids {
		sess, ok := s.sessions[id]
		if !ok || sess.state == stateDead {
			continue
		}
		frames, closeErr, closed := sess.drainInbound()
		for _, f := range frames {
			if err := s.apply(sess, f); err != nil {
				s.logger.Warn("protocol violation, closing session", "client_id", id, "error", err)
				sess.close()
				break
			}
		}
		if closed && sess.state != stateDead {
			if closeErr != nil && !netutil.IsExpectedCloseError(closeErr) {
				s.logger.Warn("session read failed", "client_id", id, "error", closeErr)
			} else {
				s.logger.Info("session closed", "client_id", id)
			}
			sess.close()
		}
	}
	s.reapDead()
	s.arbitrateGrants()
	s.flushAll()
}

func (s *Sequencer) reapDead() {
	for id, sess := range s.sessions {
		if sess.state == stateDead {
			delete(s.sessions, id)
		}
	}
}

// apply executes one frame's state transition against sess, per the
// operation table: Hello, Subscribe/Unsubscribe, Publish,
// ClearToAdvance, RequestAdvance, DeliveryAck.
func (s *Sequencer) apply(sess *session, f wire.Frame) error {
	if sess.state == stateHandshaking {
		if f.Tag != wire.TagHello {
			return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "expected Hello as first frame"}
		}
		sess.state = stateActive
		sess.outbound = append(sess.outbound, wire.HelloAck(sess.id, fabric.FirstSeqNum))
		return nil
	}

	switch f.Tag {
	case wire.TagSubscribe:
		return s.applySubscribe(sess, f, true)
	case wire.TagUnsubscribe:
		return s.applySubscribe(sess, f, false)
	case wire.TagPublish:
		return s.applyPublish(sess, f)
	case wire.TagClearToAdvance:
		if f.Seq < sess.minSendSeq {
			return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "ClearToAdvance below min_send_seq"}
		}
		sess.minSendSeq = f.Seq
		return nil
	case wire.TagRequestAdvance:
		if f.Seq < sess.minRecvSeq {
			return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "RequestAdvance below min_recv_seq"}
		}
		sess.pendingGrant = &f.Seq
		return nil
	case wire.TagDeliveryAck:
		if f.Seq > sess.minRecvSeq {
			sess.minRecvSeq = f.Seq
		}
		return nil
	default:
		return &fabric.ProtocolViolation{ClientId: sess.id, Reason: fmt.Sprintf("unexpected tag %d in active state", f.Tag)}
	}
}

func (s *Sequencer) applySubscribe(sess *session, f wire.Frame, subscribing bool) error {
	if f.Seq < sess.minSendSeq {
		return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "subscribe/unsubscribe below min_send_seq"}
	}
	eff := f.Seq
	if g := s.globalFrontier(); g > eff {
		eff = g
	}
	key := f.Selector.Key()
	if subscribing {
		sess.subscriptions[key] = eff
		sess.outbound = append(sess.outbound, wire.SubscribeAck(eff))
	} else {
		delete(sess.subscriptions, key)
		sess.outbound = append(sess.outbound, wire.UnsubscribeAck(eff))
	}
	return nil
}

func (s *Sequencer) applyPublish(sess *session, f wire.Frame) error {
	if f.PublishSeq < sess.minSendSeq {
		return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "Publish below min_send_seq"}
	}
	if f.ReceiveSeq <= f.PublishSeq {
		return &fabric.ProtocolViolation{ClientId: sess.id, Reason: "Publish receive_seq must exceed publish_seq"}
	}
	sess.minSendSeq = f.PublishSeq

	msg := fabric.Message{
		Publisher:  sess.id,
		PublishSeq: f.PublishSeq,
		Channel:    f.Channel,
		Payload:    f.Payload,
	}

	recipients := s.resolveRecipients(f.Channel, f.PublishSeq, f.ReceiveSeq)
	msg.Recipients = recipients
	s.recordEvent(fabriccritic.Event{Kind: fabriccritic.EventPublish, Message: s.journaledMessage(msg)})
	for _, r := range recipients {
		recipient, ok := s.sessions[r.Client]
		if !ok || recipient.state == stateDead {
			continue
		}
		recipient.enqueueDelivery(fabric.Delivery{Message: msg, ReceiveSeq: r.ReceiveSeq})
	}
	return nil
}

// resolveRecipients returns, in ascending ClientId order, every
// session with a live subscription matching channel whose eff is at
// or before publishSeq. Every recipient is given receiveSeq, the
// Publish frame's own receive_seq field — one Publish names a single
// receive_seq shared by all its recipients, matching the protocol's
// body layout (one ReceiveSeq field per Publish frame).
func (s *Sequencer) resolveRecipients(channel string, publishSeq, receiveSeq fabric.SeqNum) []fabric.Recipient {
	var ids []fabric.ClientId
	for id, sess := range s.sessions {
		if sess.state != stateActive {
			continue
		}
		for key, eff := range sess.subscriptions {
			if eff > publishSeq {
				continue
			}
			sel := fabric.Selector{Kind: key.Kind, Channel: key.Channel}
			if sel.Matches(channel) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	recipients := make([]fabric.Recipient, len(ids))
	for i, id := range ids {
		recipients[i] = fabric.Recipient{Client: id, ReceiveSeq: receiveSeq}
	}
	return recipients
}

// globalFrontier returns G = min over all active sessions' min_send_seq.
// With no active sessions, G is unbounded — represented here as
// 2^63 (the float64 nearest 1<<63 - 1) so a lone first subscriber is not held back waiting
// for a frontier no one else will ever set. Used to compute the
// effective sequence number of a new subscription, where there is no
// single grantee to exclude; see grantFrontier for the arbitration use.
func (s *Sequencer) globalFrontier() fabric.SeqNum {
	return s.frontier(0, false)
}

// grantFrontier returns the frontier that gates a grant to exclude's
// own session: min over every OTHER active session's min_send_seq,
// per Testable Property 4 ("min over live sessions u != s"). Excluding
// the grantee's own min_send_seq matters because a pure subscriber
// that only ever calls RequestAdvance, never ClearToAdvance, holds its
// own min_send_seq at FirstSeqNum forever — were that self-frontier
// folded into its own grant computation it could never be granted or
// delivered to.
func (s *Sequencer) grantFrontier(exclude fabric.ClientId) fabric.SeqNum {
	return s.frontier(exclude, true)
}

func (s *Sequencer) frontier(exclude fabric.ClientId, excluding bool) fabric.SeqNum {
	first := true
	var g fabric.SeqNum
	for id, sess := range s.sessions {
		if excluding && id == exclude {
			continue
		}
		if sess.state != stateActive {
			continue
		}
		if first || sess.minSendSeq < g {
			g = sess.minSendSeq
			first = false
		}
	}
	if first {
		return fabric.SeqNum(1<<63 - 1)
	}
	return g
}

// arbitrateGrants implements the grant arbitration algorithm: for each
// session with a pending grant request, dispatch everything
// deliverable up to that session's grant frontier (the global frontier
// excluding the session itself), and either satisfy the request in
// full or issue a partial grant, re-examined as the frontier rises.
// Sessions are processed in ascending ClientId order, the tie-break
// rule for simultaneously grantable sessions.
func (s *Sequencer) arbitrateGrants() {
	ids := make([]fabric.ClientId, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sess := s.sessions[id]
		if sess.state != stateActive || sess.pendingGrant == nil {
			continue
		}

		g := s.grantFrontier(id)

		deliverable := sess.deliverableUpTo(g)
		for _, d := range deliverable {
			sess.outbound = append(sess.outbound, wire.Deliver(d.Message.Publisher, d.Message.PublishSeq, d.ReceiveSeq, d.Message.Channel, d.Message.Payload))
			s.recordEvent(fabriccritic.Event{Kind: fabriccritic.EventReceive, Recipient: id, Message: s.journaledMessage(d.Message), SeqNum: d.ReceiveSeq})
		}

		// Every delivery with receive_seq <= g has just been dispatched,
		// so pending_delivery now holds only receive_seq > g entries:
		// the grant condition from the arbitration algorithm holds.
		grant := *sess.pendingGrant
		if g < grant {
			grant = g
		}
		if grant > sess.minRecvSeq {
			sess.minRecvSeq = grant
			sess.outbound = append(sess.outbound, wire.AdvanceGrant(grant))
		}
		if grant >= *sess.pendingGrant {
			sess.pendingGrant = nil
		}
	}
}

func (s *Sequencer) flushAll() {
	for id, sess := range s.sessions {
		if sess.state == stateDead || len(sess.outbound) == 0 {
			continue
		}
		frames := sess.outbound
		sess.outbound = nil
		for _, f := range frames {
			if err := wire.WriteFrame(sess.channel, f); err != nil {
				s.logger.Warn("write failed, closing session", "client_id", id, "error", err)
				sess.close()
				break
			}
		}
	}
}

func (s *Sequencer) closeAll() {
	for _, sess := range s.sessions {
		sess.close()
	}
}
