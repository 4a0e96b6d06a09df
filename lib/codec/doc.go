// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides this project's standard CBOR encoding
// configuration.
//
// The fabric's wire protocol (package wire) is its own tagged
// length-prefixed binary format, not CBOR — every client and server
// must decode it identically bit-for-bit regardless of platform, so it
// is hand-rolled rather than delegated to a general serialization
// library. CBOR, via this package, is instead used for the things that
// sit beside the core protocol and benefit from a general deterministic
// format: the debug event journal a server can append to for offline
// critic analysis, and snapshot/golden-file comparisons in tests.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, which is what makes
// CBOR-encoded journals useful for byte-stable diffing across
// permutation test runs.
//
// For buffer-oriented operations (journal entries, snapshots):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (an open journal file):
//
//	encoder := codec.NewEncoder(journalFile)
package codec
