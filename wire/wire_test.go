// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/ggould-tri/blocktopus/fabric"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	return got
}

func TestRoundTrip_Hello(t *testing.T) {
	got := roundTrip(t, Hello())
	if got.Tag != TagHello {
		t.Errorf("tag = %d, want %d", got.Tag, TagHello)
	}
}

func TestRoundTrip_HelloAck(t *testing.T) {
	got := roundTrip(t, HelloAck(42, fabric.FirstSeqNum))
	if got.ClientId != 42 {
		t.Errorf("ClientId = %d, want 42", got.ClientId)
	}
	if got.Seq != fabric.FirstSeqNum {
		t.Errorf("Seq = %v, want %v", got.Seq, fabric.FirstSeqNum)
	}
}

func TestRoundTrip_Subscribe(t *testing.T) {
	got := roundTrip(t, Subscribe(fabric.OnChannel("telemetry"), 7))
	if got.Selector.Kind != fabric.SelectChannel || got.Selector.Channel != "telemetry" {
		t.Errorf("Selector = %+v, want channel telemetry", got.Selector)
	}
	if got.Seq != 7 {
		t.Errorf("Seq = %v, want 7", got.Seq)
	}
}

func TestRoundTrip_SubscribeWildcard(t *testing.T) {
	got := roundTrip(t, Subscribe(fabric.AllChannels(), 3))
	if got.Selector.Kind != fabric.SelectAll {
		t.Errorf("Selector.Kind = %v, want SelectAll", got.Selector.Kind)
	}
}

func TestRoundTrip_Publish(t *testing.T) {
	got := roundTrip(t, Publish(1.5, 2.5, "odom", []byte("payload-bytes")))
	if got.PublishSeq != 1.5 || got.ReceiveSeq != 2.5 {
		t.Errorf("seqs = %v/%v, want 1.5/2.5", got.PublishSeq, got.ReceiveSeq)
	}
	if got.Channel != "odom" {
		t.Errorf("Channel = %q, want odom", got.Channel)
	}
	if string(got.Payload) != "payload-bytes" {
		t.Errorf("Payload = %q, want payload-bytes", got.Payload)
	}
}

func TestRoundTrip_PublishEmptyPayload(t *testing.T) {
	got := roundTrip(t, Publish(0, 1, "c", nil))
	if len(got.Payload) != 0 {
		t.Errorf("Payload = %v, want empty", got.Payload)
	}
}

func TestRoundTrip_Deliver(t *testing.T) {
	got := roundTrip(t, Deliver(9, 1, 2, "c", []byte("x")))
	if got.Publisher != 9 {
		t.Errorf("Publisher = %d, want 9", got.Publisher)
	}
	if got.PublishSeq != 1 || got.ReceiveSeq != 2 {
		t.Errorf("seqs = %v/%v, want 1/2", got.PublishSeq, got.ReceiveSeq)
	}
}

func TestRoundTrip_ScalarFrames(t *testing.T) {
	for _, f := range []Frame{
		ClearToAdvance(10),
		RequestAdvance(11),
		AdvanceGrant(12),
		DeliveryAck(13),
		SubscribeAck(14),
		UnsubscribeAck(15),
	} {
		got := roundTrip(t, f)
		if got.Tag != f.Tag {
			t.Errorf("tag = %d, want %d", got.Tag, f.Tag)
		}
		if got.Seq != f.Seq {
			t.Errorf("Seq = %v, want %v", got.Seq, f.Seq)
		}
	}
}

func TestReadFrame_UnknownTag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 99})
	_, err := ReadFrame(&buf)
	var malformed *fabric.Malformed
	if !asMalformed(err, &malformed) {
		t.Fatalf("expected *fabric.Malformed, got %v", err)
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10, byte(TagClearToAdvance)})
	buf.Write([]byte{1, 2, 3}) // far short of the declared 10 bytes
	_, err := ReadFrame(&buf)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrame_CleanEOF(t *testing.T) {
	_, err := ReadFrame(&bytes.Buffer{})
	if err != io.EOF {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

func asMalformed(err error, target **fabric.Malformed) bool {
	m, ok := err.(*fabric.Malformed)
	if ok {
		*target = m
	}
	return ok
}
