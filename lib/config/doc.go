// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for fabric
// server and client host binaries.
//
// Configuration is loaded from a single file specified by either the
// FABRIC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// logging defaults to warn/JSON rather than info/text.
//
// Key exports:
//
//   - [Config] -- master struct with Server, Logging, Channels
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.ChannelConfigFor] -- resolves per-channel policy with
//     wildcard ("*") fallback
//
// This package depends on no other fabric packages.
package config
