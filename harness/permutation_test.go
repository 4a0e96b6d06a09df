// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package harness

import (
	"context"
	"testing"

	"github.com/ggould-tri/blocktopus/fabric"
	"github.com/ggould-tri/blocktopus/lib/codec"
)

func TestPermutations_SizeAndDistinctness(t *testing.T) {
	ids := []fabric.ClientId{0, 1, 2}
	perms := Permutations(ids)
	if len(perms) != 6 {
		t.Fatalf("expected 6 permutations of 3 elements, got %d", len(perms))
	}
	seen := make(map[string]bool)
	for _, p := range perms {
		if len(p) != 3 {
			t.Fatalf("permutation %v has wrong length", p)
		}
		key := ""
		for _, id := range p {
			key += string(rune('a' + id))
		}
		if seen[key] {
			t.Fatalf("duplicate permutation %v", p)
		}
		seen[key] = true
	}
}

// TestDeterminismUnderPermutation is Testable Property 1 and scenario
// S6: a fixed scripted scenario of 3 clients producing 9 publications
// must yield an identical per-recipient EventList projection under
// every permutation of session polling order.
func TestDeterminismUnderPermutation(t *testing.T) {
	// Accept always assigns ids 0, 1, 2 in connection order regardless
	// of polling order, so this natural order is a valid baseline and
	// also a valid member of Permutations below.
	baselineOrder := []fabric.ClientId{0, 1, 2}

	first, ids, err := Run(context.Background(), baselineOrder)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	firstEncoded := encodeProjection(t, first)

	for _, order := range Permutations(ids) {
		got, _, err := Run(context.Background(), order)
		if err != nil {
			t.Fatalf("Run(order=%v) error: %v", order, err)
		}
		gotEncoded := encodeProjection(t, got)
		if string(gotEncoded) != string(firstEncoded) {
			t.Errorf("order %v produced a different EventList projection than the baseline", order)
		}
	}
}

func encodeProjection(t *testing.T, deliveries map[fabric.ClientId][]Delivery) []byte {
	t.Helper()
	b, err := codec.Marshal(deliveries)
	if err != nil {
		t.Fatalf("codec.Marshal() error: %v", err)
	}
	return b
}
