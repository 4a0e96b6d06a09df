// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fabricserver

import (
	"testing"

	"github.com/ggould-tri/blocktopus/fabric"
)

func newTestSession() *session {
	return &session{
		subscriptions: make(map[fabric.SubscriptionKey]fabric.SeqNum),
	}
}

func TestEnqueueDelivery_OrdersByReceiveSeq(t *testing.T) {
	s := newTestSession()
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 3})
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 1})
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 2})

	got := make([]fabric.SeqNum, len(s.pendingDelivery))
	for i, d := range s.pendingDelivery {
		got[i] = d.ReceiveSeq
	}
	want := []fabric.SeqNum{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pendingDelivery = %v, want %v", got, want)
		}
	}
}

func TestEnqueueDelivery_TieBreaksByPublisherId(t *testing.T) {
	s := newTestSession()
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 5, Message: fabric.Message{Publisher: 9}})
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 5, Message: fabric.Message{Publisher: 2}})

	if s.pendingDelivery[0].Message.Publisher != 2 {
		t.Errorf("expected lower ClientId first, got order %+v", s.pendingDelivery)
	}
}

func TestDeliverableUpTo_SplitsAtFrontier(t *testing.T) {
	s := newTestSession()
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 1})
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 2})
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 3})

	deliverable := s.deliverableUpTo(2)
	if len(deliverable) != 2 {
		t.Fatalf("expected 2 deliverable messages, got %d", len(deliverable))
	}
	if len(s.pendingDelivery) != 1 || s.pendingDelivery[0].ReceiveSeq != 3 {
		t.Fatalf("expected one message with receive_seq=3 left pending, got %+v", s.pendingDelivery)
	}
}

func TestDeliverableUpTo_EmptyWhenNothingReady(t *testing.T) {
	s := newTestSession()
	s.enqueueDelivery(fabric.Delivery{ReceiveSeq: 5})

	if got := s.deliverableUpTo(1); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if len(s.pendingDelivery) != 1 {
		t.Errorf("expected delivery to remain pending, got %d", len(s.pendingDelivery))
	}
}
