// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the fabric's binary protocol: a length-
// prefixed, tagged frame format carried over a transport.Channel.
// Encoding and decoding are pure functions over bytes — no I/O beyond
// the io.Reader/io.Writer the caller supplies.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ggould-tri/blocktopus/fabric"
)

// Tag identifies a frame's body shape.
type Tag uint8

const (
	TagHello           Tag = 1
	TagHelloAck        Tag = 2
	TagSubscribe       Tag = 3
	TagSubscribeAck    Tag = 4
	TagUnsubscribe     Tag = 5
	TagUnsubscribeAck  Tag = 6
	TagPublish         Tag = 7
	TagClearToAdvance  Tag = 8
	TagRequestAdvance  Tag = 9
	TagAdvanceGrant    Tag = 10
	TagDeliver         Tag = 11
	TagDeliveryAck     Tag = 12
)

// maxPayloadLength bounds a single frame's payload to defend against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxPayloadLength = 64 * 1024 * 1024

// maxChannelNameLength bounds the uint16-prefixed channel name field.
const maxChannelNameLength = 1<<16 - 1

// Frame is the decoded form of one wire message. Exactly the fields
// relevant to Tag are meaningful; see the per-tag constructors below.
type Frame struct {
	Tag Tag

	ClientId   fabric.ClientId
	Seq        fabric.SeqNum
	PublishSeq fabric.SeqNum
	ReceiveSeq fabric.SeqNum
	Selector   fabric.Selector
	Channel    string
	Payload    []byte
	Publisher  fabric.ClientId
}

func Hello() Frame { return Frame{Tag: TagHello} }

func HelloAck(id fabric.ClientId, initial fabric.SeqNum) Frame {
	return Frame{Tag: TagHelloAck, ClientId: id, Seq: initial}
}

func Subscribe(sel fabric.Selector, eff fabric.SeqNum) Frame {
	return Frame{Tag: TagSubscribe, Selector: sel, Seq: eff}
}

func SubscribeAck(eff fabric.SeqNum) Frame { return Frame{Tag: TagSubscribeAck, Seq: eff} }

func Unsubscribe(sel fabric.Selector, eff fabric.SeqNum) Frame {
	return Frame{Tag: TagUnsubscribe, Selector: sel, Seq: eff}
}

func UnsubscribeAck(eff fabric.SeqNum) Frame { return Frame{Tag: TagUnsubscribeAck, Seq: eff} }

func Publish(publishSeq, receiveSeq fabric.SeqNum, channel string, payload []byte) Frame {
	return Frame{Tag: TagPublish, PublishSeq: publishSeq, ReceiveSeq: receiveSeq, Channel: channel, Payload: payload}
}

func ClearToAdvance(seq fabric.SeqNum) Frame { return Frame{Tag: TagClearToAdvance, Seq: seq} }

func RequestAdvance(seq fabric.SeqNum) Frame { return Frame{Tag: TagRequestAdvance, Seq: seq} }

func AdvanceGrant(seq fabric.SeqNum) Frame { return Frame{Tag: TagAdvanceGrant, Seq: seq} }

func Deliver(publisher fabric.ClientId, publishSeq, receiveSeq fabric.SeqNum, channel string, payload []byte) Frame {
	return Frame{Tag: TagDeliver, Publisher: publisher, PublishSeq: publishSeq, ReceiveSeq: receiveSeq, Channel: channel, Payload: payload}
}

func DeliveryAck(seq fabric.SeqNum) Frame { return Frame{Tag: TagDeliveryAck, Seq: seq} }

// WriteFrame encodes f and writes the length-prefixed frame to w:
// big-endian uint32 body length, uint8 tag, tag-specific body.
func WriteFrame(w io.Writer, f Frame) error {
	body, err := encodeBody(f)
	if err != nil {
		return err
	}

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	header[4] = byte(f.Tag)

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads and decodes the next length-prefixed frame from r.
// Returns a *fabric.Malformed for any inconsistency in the frame
// itself. A stream that ends cleanly before a frame starts returns
// io.EOF, and one that ends partway through a frame returns
// io.ErrUnexpectedEOF, so callers can distinguish clean closure from
// truncation and corruption.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length > maxPayloadLength {
		return Frame{}, &fabric.Malformed{Reason: fmt.Sprintf("body length %d exceeds maximum %d", length, maxPayloadLength)}
	}
	tag := Tag(header[4])

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	return decodeBody(tag, body)
}

func encodeBody(f Frame) ([]byte, error) {
	switch f.Tag {
	case TagHello:
		return nil, nil

	case TagHelloAck:
		b := make([]byte, 4+8)
		binary.BigEndian.PutUint32(b[0:4], uint32(f.ClientId))
		binary.BigEndian.PutUint64(b[4:12], f.Seq.Bits())
		return b, nil

	case TagSubscribe, TagUnsubscribe:
		return encodeSelectorBody(f.Seq, f.Selector)

	case TagSubscribeAck, TagUnsubscribeAck, TagClearToAdvance, TagRequestAdvance, TagAdvanceGrant, TagDeliveryAck:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b[0:8], f.Seq.Bits())
		return b, nil

	case TagPublish:
		return encodeMessageBody(f.PublishSeq, f.ReceiveSeq, f.Channel, f.Payload, false, 0)

	case TagDeliver:
		return encodeMessageBody(f.PublishSeq, f.ReceiveSeq, f.Channel, f.Payload, true, f.Publisher)

	default:
		return nil, &fabric.Malformed{Reason: fmt.Sprintf("unknown tag %d", f.Tag)}
	}
}

func encodeSelectorBody(seq fabric.SeqNum, sel fabric.Selector) ([]byte, error) {
	if sel.Kind == SelectorKindChannel() && len(sel.Channel) > maxChannelNameLength {
		return nil, &fabric.Malformed{Reason: "channel name too long"}
	}
	channelBytes := []byte(sel.Channel)
	b := make([]byte, 8+1+2+len(channelBytes))
	binary.BigEndian.PutUint64(b[0:8], seq.Bits())
	b[8] = byte(sel.Kind)
	binary.BigEndian.PutUint16(b[9:11], uint16(len(channelBytes)))
	copy(b[11:], channelBytes)
	return b, nil
}

func encodeMessageBody(publishSeq, receiveSeq fabric.SeqNum, channel string, payload []byte, withPublisher bool, publisher fabric.ClientId) ([]byte, error) {
	if len(channel) > maxChannelNameLength {
		return nil, &fabric.Malformed{Reason: "channel name too long"}
	}
	channelBytes := []byte(channel)

	prefixLen := 8 + 8 + 2 + len(channelBytes) + 4 + len(payload)
	if withPublisher {
		prefixLen += 4
	}
	b := make([]byte, prefixLen)
	off := 0
	if withPublisher {
		binary.BigEndian.PutUint32(b[off:off+4], uint32(publisher))
		off += 4
	}
	binary.BigEndian.PutUint64(b[off:off+8], publishSeq.Bits())
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], receiveSeq.Bits())
	off += 8
	binary.BigEndian.PutUint16(b[off:off+2], uint16(len(channelBytes)))
	off += 2
	copy(b[off:off+len(channelBytes)], channelBytes)
	off += len(channelBytes)
	binary.BigEndian.PutUint32(b[off:off+4], uint32(len(payload)))
	off += 4
	copy(b[off:], payload)

	return b, nil
}

func decodeBody(tag Tag, body []byte) (Frame, error) {
	switch tag {
	case TagHello:
		if len(body) != 0 {
			return Frame{}, &fabric.Malformed{Reason: "Hello body must be empty"}
		}
		return Frame{Tag: TagHello}, nil

	case TagHelloAck:
		if len(body) != 12 {
			return Frame{}, &fabric.Malformed{Reason: "HelloAck body must be 12 bytes"}
		}
		id := fabric.ClientId(binary.BigEndian.Uint32(body[0:4]))
		seq := fabric.SeqNumFromBits(binary.BigEndian.Uint64(body[4:12]))
		return Frame{Tag: TagHelloAck, ClientId: id, Seq: seq}, nil

	case TagSubscribe, TagUnsubscribe:
		seq, sel, err := decodeSelectorBody(body)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Tag: tag, Seq: seq, Selector: sel}, nil

	case TagSubscribeAck, TagUnsubscribeAck, TagClearToAdvance, TagRequestAdvance, TagAdvanceGrant, TagDeliveryAck:
		if len(body) != 8 {
			return Frame{}, &fabric.Malformed{Reason: fmt.Sprintf("tag %d body must be 8 bytes", tag)}
		}
		seq := fabric.SeqNumFromBits(binary.BigEndian.Uint64(body[0:8]))
		return Frame{Tag: tag, Seq: seq}, nil

	case TagPublish:
		publishSeq, receiveSeq, channel, payload, _, err := decodeMessageBody(body, false)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Tag: TagPublish, PublishSeq: publishSeq, ReceiveSeq: receiveSeq, Channel: channel, Payload: payload}, nil

	case TagDeliver:
		publishSeq, receiveSeq, channel, payload, publisher, err := decodeMessageBody(body, true)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Tag: TagDeliver, Publisher: publisher, PublishSeq: publishSeq, ReceiveSeq: receiveSeq, Channel: channel, Payload: payload}, nil

	default:
		return Frame{}, &fabric.Malformed{Reason: fmt.Sprintf("unknown tag %d", tag)}
	}
}

func decodeSelectorBody(body []byte) (fabric.SeqNum, fabric.Selector, error) {
	if len(body) < 11 {
		return 0, fabric.Selector{}, &fabric.Malformed{Reason: "selector body too short"}
	}
	seq := fabric.SeqNumFromBits(binary.BigEndian.Uint64(body[0:8]))
	kind := fabric.SelectorKind(body[8])
	nameLen := int(binary.BigEndian.Uint16(body[9:11]))
	if 11+nameLen != len(body) {
		return 0, fabric.Selector{}, &fabric.Malformed{Reason: "selector channel length mismatch"}
	}
	return seq, fabric.Selector{Kind: kind, Channel: string(body[11 : 11+nameLen])}, nil
}

func decodeMessageBody(body []byte, withPublisher bool) (publishSeq, receiveSeq fabric.SeqNum, channel string, payload []byte, publisher fabric.ClientId, err error) {
	off := 0
	if withPublisher {
		if len(body) < 4 {
			return 0, 0, "", nil, 0, &fabric.Malformed{Reason: "Deliver body too short for publisher"}
		}
		publisher = fabric.ClientId(binary.BigEndian.Uint32(body[0:4]))
		off = 4
	}
	if len(body) < off+8+8+2 {
		return 0, 0, "", nil, 0, &fabric.Malformed{Reason: "message body too short"}
	}
	publishSeq = fabric.SeqNumFromBits(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	receiveSeq = fabric.SeqNumFromBits(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	nameLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if len(body) < off+nameLen+4 {
		return 0, 0, "", nil, 0, &fabric.Malformed{Reason: "message body truncated at channel name"}
	}
	channel = string(body[off : off+nameLen])
	off += nameLen
	payloadLen := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) != off+payloadLen {
		return 0, 0, "", nil, 0, &fabric.Malformed{Reason: "message body payload length mismatch"}
	}
	payload = body[off:]
	return publishSeq, receiveSeq, channel, payload, publisher, nil
}

// SelectorKindChannel exists so encodeSelectorBody's bounds check reads
// naturally; fabric.SelectChannel is the canonical constant.
func SelectorKindChannel() fabric.SelectorKind { return fabric.SelectChannel }
