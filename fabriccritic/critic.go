// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fabriccritic implements the fabric's Critic: a pure
// validator over a recorded EventList that flags causality and
// ordering violations without mutating anything. It is the spec-level
// oracle behind the fabric's testable properties, used directly in
// tests and optionally by a server's debug journal.
package fabriccritic

import (
	"fmt"
	"math"

	"github.com/ggould-tri/blocktopus/fabric"
)

// EventKind distinguishes the three event shapes a recorded run can
// contain: a publish, a receive at one recipient, or a bare sequence
// point (a ClearToAdvance/AdvanceGrant observation with no payload).
type EventKind uint8

const (
	EventPublish EventKind = iota
	EventReceive
	EventSequence
)

// Event is one entry in a recorded EventList. Exactly the fields
// relevant to Kind are meaningful:
//   - EventPublish: Message is the published message as the publisher saw it.
//   - EventReceive: Message is the message as delivered, Recipient is who received it.
//   - EventSequence: SeqNum is the sequence point reached (grant or clear).
type Event struct {
	Kind      EventKind
	Message   fabric.Message
	Recipient fabric.ClientId
	SeqNum    fabric.SeqNum
}

// EventList is an ordered recording of publish, receive, and sequence
// events, typically captured across many clients and interleaved by
// wall-clock or harness-scheduled order for a single test run.
type EventList []Event

// CriticizeMessage checks a single message for recipients whose
// receive_seq is not strictly after its publish_seq and returns the
// diagnostics found, if any.
func CriticizeMessage(m fabric.Message) []string {
	var out []string
	name := messageName(m)
	for _, r := range m.Recipients {
		if r.ReceiveSeq <= m.PublishSeq {
			out = append(out, fmt.Sprintf("%s noncausal message publish_seq %v receive_seq %v", name, m.PublishSeq, r.ReceiveSeq))
		}
	}
	return out
}

// CriticizeEvent runs CriticizeMessage against an event's embedded
// message, where applicable; a SequenceEvent carries no message and is
// never individually noncausal.
func CriticizeEvent(e Event) []string {
	switch e.Kind {
	case EventPublish, EventReceive:
		return CriticizeMessage(e.Message)
	default:
		return nil
	}
}

// Criticize is the list-level oracle: it front-loads per-event
// criticism (malformed or noncausal individual messages, since those
// are easiest to fix and often the root cause of anything downstream),
// then walks the list tracking a running causal-point cursor. Any
// event whose own sequence number is at or behind the cursor is a
// causality violation: the cursor only ever advances, it never steps
// backward or repeats.
func Criticize(events EventList) []string {
	var out []string

	for _, e := range events {
		out = append(out, CriticizeEvent(e)...)
	}

	lastCausalPoint := fabric.SeqNum(math.Inf(-1))
	for _, e := range events {
		switch e.Kind {
		case EventPublish:
			name := messageName(e.Message)
			if lastCausalPoint >= e.Message.PublishSeq {
				out = append(out, fmt.Sprintf("event %s after causal sequence %v", name, lastCausalPoint))
			}
			lastCausalPoint = e.Message.PublishSeq

		case EventReceive:
			name := messageName(e.Message)
			receivePoint := lastCausalPoint
			for _, r := range e.Message.Recipients {
				if lastCausalPoint >= r.ReceiveSeq {
					out = append(out, fmt.Sprintf("event %s after causal sequence %v", name, lastCausalPoint))
				}
				if r.ReceiveSeq > receivePoint {
					receivePoint = r.ReceiveSeq
				}
			}
			lastCausalPoint = receivePoint

		case EventSequence:
			if lastCausalPoint >= e.SeqNum {
				out = append(out, fmt.Sprintf("sequence point %v after causal sequence %v", e.SeqNum, lastCausalPoint))
			}
			lastCausalPoint = e.SeqNum
		}
	}

	return out
}

func messageName(m fabric.Message) string {
	return fmt.Sprintf("%d_pub_at_%v", m.Publisher, m.PublishSeq)
}
