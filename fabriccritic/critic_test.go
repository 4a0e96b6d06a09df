// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fabriccritic

import (
	"strings"
	"testing"

	"github.com/ggould-tri/blocktopus/fabric"
)

func TestCriticizeMessage_FlagsNoncausalReceive(t *testing.T) {
	m := fabric.Message{
		Publisher:  1,
		PublishSeq: 5,
		Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 5}},
	}
	got := CriticizeMessage(m)
	if len(got) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", got)
	}
	if !strings.Contains(got[0], "noncausal") {
		t.Errorf("diagnostic %q does not mention noncausal", got[0])
	}
}

func TestCriticizeMessage_AcceptsStrictlyLaterReceive(t *testing.T) {
	m := fabric.Message{
		Publisher:  1,
		PublishSeq: 5,
		Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 6}},
	}
	if got := CriticizeMessage(m); len(got) != 0 {
		t.Errorf("expected no diagnostics, got %v", got)
	}
}

func TestCriticize_FlagsOutOfOrderPublish(t *testing.T) {
	events := EventList{
		{Kind: EventPublish, Message: fabric.Message{Publisher: 1, PublishSeq: 5, Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 6}}}},
		{Kind: EventPublish, Message: fabric.Message{Publisher: 1, PublishSeq: 3, Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 4}}}},
	}
	got := Criticize(events)
	if len(got) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", got)
	}
	if !strings.Contains(got[0], "after causal sequence") {
		t.Errorf("diagnostic %q does not mention causal sequence", got[0])
	}
}

func TestCriticize_AcceptsMonotonicRun(t *testing.T) {
	events := EventList{
		{Kind: EventPublish, Message: fabric.Message{Publisher: 1, PublishSeq: 1, Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 2}}}},
		{Kind: EventSequence, SeqNum: 1.5},
		{Kind: EventReceive, Recipient: 2, Message: fabric.Message{Publisher: 1, PublishSeq: 1, Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 2}}}},
		{Kind: EventSequence, SeqNum: 2.5},
		{Kind: EventPublish, Message: fabric.Message{Publisher: 1, PublishSeq: 3, Recipients: []fabric.Recipient{{Client: 2, ReceiveSeq: 4}}}},
	}
	if got := Criticize(events); len(got) != 0 {
		t.Errorf("expected no diagnostics, got %v", got)
	}
}

func TestCriticize_FlagsSequencePointRegression(t *testing.T) {
	events := EventList{
		{Kind: EventSequence, SeqNum: 5},
		{Kind: EventSequence, SeqNum: 3},
	}
	got := Criticize(events)
	if len(got) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", got)
	}
}
