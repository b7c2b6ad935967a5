// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by
// every package that serializes claims, assertions, ingredient
// metadata, or signature envelopes.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes.
// Determinism matters here because a claim's signature covers its
// serialized bytes — re-encoding the same logical claim must
// reproduce the same bytes or signature verification would fail.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Types use `json` struct tags: fxamacker/cbor v2 reads `json` tags
// as fallback when `cbor` tags are absent, so a single tag controls
// field naming and omitempty for both formats. This lets the inspect
// tool print claims and validation reports as JSON without a second
// set of tags.
package codec
