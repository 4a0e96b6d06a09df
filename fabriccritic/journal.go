// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fabriccritic

import (
	"fmt"
	"io"

	"github.com/ggould-tri/blocktopus/lib/codec"
)

// Journal records an EventList to a CBOR stream using Core
// Deterministic Encoding, one length-delimited entry per Append call.
// A debug-mode server writes one of these per run so that two runs of the same logical scenario can be
// compared byte-for-byte regardless of goroutine scheduling.
type Journal struct {
	enc *codec.Encoder
}

// NewJournal wraps w in a Journal. Callers own w's lifecycle.
func NewJournal(w io.Writer) *Journal {
	return &Journal{enc: codec.NewEncoder(w)}
}

// Append writes one event to the journal.
func (j *Journal) Append(e Event) error {
	return j.enc.Encode(e)
}

// AppendAll writes an entire EventList to the journal in order.
func (j *Journal) AppendAll(events EventList) error {
	for _, e := range events {
		if err := j.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// ReadJournal decodes every event from r, in order, until EOF.
func ReadJournal(r io.Reader) (EventList, error) {
	dec := codec.NewDecoder(r)
	var events EventList
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return nil, fmt.Errorf("fabriccritic: decoding journal entry %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}
