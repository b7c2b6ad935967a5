// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the provenance data model — manifest
// stores, manifests, claims, assertions, ingredients, hashed URIs,
// and resource references — and its serialization to and from the
// binary box tree (lib/jumbf).
//
// A manifest store is an ordered sequence of manifests; the last one
// is the active manifest describing the asset's current state. Every
// cross-reference inside any manifest must resolve within the same
// store, and once a manifest is finalized every resource reference
// inside it must use the self-referential addressing scheme. Both
// invariants are checked by [Store.Validate] before signing.
//
// Claims, assertions, ingredient metadata, and signature envelopes
// are CBOR-encoded via lib/codec. A decoded store retains its exact
// original bytes: stores are immutable once signed, and re-encoding a
// decoded store returns the bytes it was decoded from so unknown
// boxes and byte-level layout survive round trips.
package manifest
