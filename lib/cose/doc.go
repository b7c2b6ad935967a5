// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cose produces and validates the detached signatures that
// seal a manifest's claim. The Signer side is a capability interface:
// the cryptographic backend is swappable at configuration time, and
// the key handle is opaque — nothing here assumes an in-process key
// store. The Verifier side checks four things independently, each
// reported on its own: the recomputed claim hash against the recorded
// one, the detached signature against the leaf certificate, the
// certificate chain against the configured trust anchors at the
// claim's signing time (not verification time), and — when a
// revocation response is supplied — the leaf certificate's revocation
// status. A failed step marks the manifest invalid but never stops
// the remaining steps; callers get the full picture.
//
// Backends known to be non-reentrant are wrapped in a
// SerializedSigner, which holds a process-wide lock around the
// backend call for exactly the call's duration — never across I/O.
package cose
