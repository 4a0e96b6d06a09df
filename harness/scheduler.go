// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package harness drives a fixed scripted scenario against a real
// Sequencer under every permutation of session polling order, the
// permutation test harness behind Testable Property 1 ("determinism
// under permutation") and scenario S6. It uses an in-memory
// transport.Channel pair per client, so a full run of every
// permutation completes in milliseconds with no real sockets.
package harness

import "github.com/ggould-tri/blocktopus/fabric"

// Permutations returns every permutation of ids, in lexicographic
// generation order by recursive descent on the leading element. ids
// itself is never mutated; each returned slice is freshly allocated.
func Permutations(ids []fabric.ClientId) [][]fabric.ClientId {
	if len(ids) == 0 {
		return [][]fabric.ClientId{{}}
	}
	var out [][]fabric.ClientId
	for i := range ids {
		rest := make([]fabric.ClientId, 0, len(ids)-1)
		rest = append(rest, ids[:i]...)
		rest = append(rest, ids[i+1:]...)
		for _, tail := range Permutations(rest) {
			perm := make([]fabric.ClientId, 0, len(ids))
			perm = append(perm, ids[i])
			perm = append(perm, tail...)
			out = append(out, perm)
		}
	}
	return out
}
