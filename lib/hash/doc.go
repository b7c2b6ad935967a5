// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash computes content digests for claims, assertions, and
// asset bytes. The algorithm is pluggable and recorded alongside
// every digest (in HashedUri fields and in the claim itself) so that
// verification always uses the algorithm that produced the original —
// an algorithm mismatch is an explicit error, never silently ignored.
//
// Asset hashing supports exclusion ranges: the byte region reserved
// for the manifest's own embedding is skipped, since the manifest
// cannot contain a hash of bytes that include itself. The embedding
// adapter supplies the reserved range.
//
// All functions are stateless and safe for concurrent use.
package hash
