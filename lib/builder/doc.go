// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package builder assembles, signs, and encodes manifest stores. A
// Builder drives one build session end to end: it registers the
// definition's resources with a session resolver, hashes ingredient
// assets, infers a parent ingredient when the asset already carries
// provenance, assembles and signs the claim, and encodes the store.
//
// Embedding the encoded store into an asset is format-specific and
// delegated to an EmbedAdapter; fetching remote ingredient stores is
// delegated to a Fetcher. The builder itself never touches the
// network and only reads local files when the session allows it.
package builder
