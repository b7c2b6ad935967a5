// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust holds the trust anchor set used for certificate chain
// validation, and loads verification policy from a YAML file. An
// empty anchor set is a configuration error reported before any
// cryptographic work begins — verification never silently falls back
// to an empty root set.
package trust
