// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the reliable, in-order, length-delimited
// byte channel between the fabric server and its clients.
//
// The package defines two interfaces: [Listener] accepts inbound
// [Channel]s from connecting clients (AwaitIncomingConnection, Address,
// Close), and [Dialer] establishes outbound Channels to a listening
// server (DialContext). Neither interface nor [Channel] itself
// understands the fabric's wire protocol — package wire layers framed
// messages on top of the raw byte stream a Channel provides.
//
// [TCPListener] and [TCPDialer] are the production implementation,
// built directly on net.Listen/net.Dialer. [InMemoryListener] and
// [NewInMemoryPair] provide an in-process implementation backed by
// net.Pipe, used by the permutation test harness (package harness) to
// run many scheduling permutations without socket overhead.
package transport
