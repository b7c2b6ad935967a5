// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource maps the identifiers used while building a
// manifest — local file paths, in-memory working-store tokens — to
// the self-referential addresses required once the manifest is
// finalized into a box tree, and back during reading.
//
// The addressing problem is circular: a claim references its
// assertions and databoxes by their position inside the encoded
// store, but those addresses do not exist until the store is encoded.
// The resolver breaks the cycle with two-phase resolution: build with
// opaque local references, then run a rewrite pass that converts
// every reference (and every HashedUri pointing at one) to its final
// self-referential address before encoding begins.
//
// A Resolver is scoped to one build session and must not be shared
// across concurrent builds.
package resource
