// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// payloadFlagRaw and payloadFlagZstd tag the one-byte prefix a
// PayloadCodec adds ahead of a message's wire payload. This prefix
// exists only on channels with a configured PayloadCodec — channels
// with no codec carry exactly the bytes the publisher supplied, with
// no prefix at all, preserving wire compatibility with the rest of the
// protocol's Payload field.
const (
	payloadFlagRaw  byte = 0
	payloadFlagZstd byte = 1
)

// PayloadCodec applies an optional, purely cosmetic wire-size
// transform to a channel's payload bytes. The sequencer never inspects
// payload bytes when deciding what gets delivered to whom and in what
// order, so the codec has no bearing on determinism — only on bytes on
// the wire. The publishing client encodes and subscribing clients
// decode, so those clients must configure the same codec for a given
// channel, normally from a shared configuration file (see
// lib/config.ChannelConfig); the server forwards payloads untouched
// and uses its own copy only to decode payloads for the debug journal.
type PayloadCodec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewPayloadCodec returns a codec that zstd-compresses payloads larger
// than thresholdBytes. A non-positive threshold disables compression
// but the codec still round-trips (useful for uniform wiring).
func NewPayloadCodec(thresholdBytes int) (*PayloadCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: creating zstd decoder: %w", err)
	}
	return &PayloadCodec{threshold: thresholdBytes, encoder: encoder, decoder: decoder}, nil
}

// EncodeForWire prepends a one-byte flag and compresses payload if it
// exceeds the configured threshold.
func (c *PayloadCodec) EncodeForWire(payload []byte) []byte {
	if c.threshold <= 0 || len(payload) <= c.threshold {
		out := make([]byte, 1+len(payload))
		out[0] = payloadFlagRaw
		copy(out[1:], payload)
		return out
	}
	compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	out := make([]byte, 1+len(compressed))
	out[0] = payloadFlagZstd
	copy(out[1:], compressed)
	return out
}

// DecodeFromWire reverses EncodeForWire.
func (c *PayloadCodec) DecodeFromWire(wireBytes []byte) ([]byte, error) {
	if len(wireBytes) == 0 {
		return nil, fmt.Errorf("wire: empty codec-wrapped payload")
	}
	flag, body := wireBytes[0], wireBytes[1:]
	switch flag {
	case payloadFlagRaw:
		return body, nil
	case payloadFlagZstd:
		return c.decoder.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("wire: unknown payload codec flag %d", flag)
	}
}
