// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph walks the recursive ingredient provenance of a
// manifest store. Each ingredient may embed the prior asset's own
// manifest store verbatim; the walk decodes those nested stores depth
// first in declaration order, verifies every manifest it reaches, and
// reports the results as a tree.
//
// The walk is bounded: revisiting a manifest already on the current
// path is a cycle, and nesting beyond the configured maximum depth is
// rejected. Both are structural errors that abort the walk — a store
// that triggers them is malformed, not merely untrusted.
package graph
