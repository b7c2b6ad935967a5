// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jumbf implements the binary box format that serializes a
// provenance manifest store. A box is a length-prefixed, type-tagged
// container: a 4-byte big-endian length, a 4-byte type tag, an
// optional 16-byte UUID discriminator, and a payload that is either
// opaque bytes or a nested sequence of boxes. Boxes too large for a
// 32-bit length use the extended form: the 32-bit length field is set
// to 1 and a 64-bit length follows the type tag.
//
// The codec is strict about round-trip fidelity: for any well-formed
// input, Encode(Decode(input)) reproduces the input byte for byte.
// Sibling order is preserved, unknown box types are carried through
// as opaque payloads rather than dropped, and a box that arrived with
// an unnecessary extended length is re-encoded in extended form.
//
// Decoding is defensive against adversarial input: a declared length
// that exceeds the remaining buffer fails with ErrMalformedBox, and
// nesting beyond the configured depth fails with ErrBoxDepthExceeded
// instead of recursing unboundedly.
//
// The codec is stateless. Encode and Decode are safe for concurrent
// use from multiple goroutines.
package jumbf
