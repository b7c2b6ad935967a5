// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/provenance/lib/hash"
)

// ErrUnresolvedReference indicates a reference to an identifier that
// was never registered, or a reference that should have been rewritten
// to the self-referential scheme before finalization but was not.
// Structural — always fatal to the operation.
var ErrUnresolvedReference = errors.New("unresolved resource reference")

// Scheme tags the addressing scheme of a resource reference. Only
// SchemeSelf is legal inside a finalized manifest store; the others
// exist during build and are rewritten by the resolver before
// encoding.
type Scheme string

const (
	// SchemeSelf is the self-referential scheme: the reference
	// addresses an element of the same manifest store.
	SchemeSelf Scheme = "self#jumbf"

	// SchemeFile is a local file reference, available only when the
	// build session has file-system access enabled.
	SchemeFile Scheme = "file"

	// SchemeWorkingStore is an in-memory working-store reference used
	// while a manifest is under construction.
	SchemeWorkingStore Scheme = "app"

	// SchemeRemote is an http/https reference. Never resolved by the
	// engine itself — surfaced to the caller's fetch collaborator.
	SchemeRemote Scheme = "remote"
)

// URI prefixes for each scheme's string form.
const (
	selfPrefix         = "self#jumbf="
	filePrefix         = "file://"
	workingStorePrefix = "app://contentauth/"
)

// ResourceReference is an identifier plus its addressing scheme.
// Mutated only during build; a finalized manifest contains only
// self-referential references.
type ResourceReference struct {
	// Scheme tags how Identifier is interpreted.
	Scheme Scheme `json:"scheme"`

	// Identifier is the scheme-relative identifier: a store path for
	// SchemeSelf, a filesystem path for SchemeFile, a working-store
	// token for SchemeWorkingStore, a full URL for SchemeRemote.
	Identifier string `json:"identifier"`
}

// ParseReference classifies a URI string into a ResourceReference.
// Bare identifiers (no recognized scheme prefix) are returned with an
// empty Scheme; the resolver applies its precedence rule to them.
func ParseReference(uri string) ResourceReference {
	switch {
	case strings.HasPrefix(uri, selfPrefix):
		return ResourceReference{Scheme: SchemeSelf, Identifier: strings.TrimPrefix(uri, selfPrefix)}
	case strings.HasPrefix(uri, filePrefix):
		return ResourceReference{Scheme: SchemeFile, Identifier: strings.TrimPrefix(uri, filePrefix)}
	case strings.HasPrefix(uri, workingStorePrefix):
		return ResourceReference{Scheme: SchemeWorkingStore, Identifier: strings.TrimPrefix(uri, workingStorePrefix)}
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return ResourceReference{Scheme: SchemeRemote, Identifier: uri}
	default:
		return ResourceReference{Identifier: uri}
	}
}

// URI returns the reference's full string form.
func (r ResourceReference) URI() string {
	switch r.Scheme {
	case SchemeSelf:
		return selfPrefix + r.Identifier
	case SchemeFile:
		return filePrefix + r.Identifier
	case SchemeWorkingStore:
		return workingStorePrefix + r.Identifier
	case SchemeRemote:
		return r.Identifier
	default:
		return r.Identifier
	}
}

// SelfReferential reports whether the reference uses the only scheme
// legal inside a finalized store.
func (r ResourceReference) SelfReferential() bool {
	return r.Scheme == SchemeSelf
}

// HashedURI references another store element by address and binds it
// to a content digest. The digest covers the addressed element's
// serialized bytes; verification recomputes it with the recorded
// algorithm.
type HashedURI struct {
	URI  string         `json:"url"`
	Alg  hash.Algorithm `json:"alg"`
	Hash []byte         `json:"hash"`
}

// Reference parses the HashedURI's address into a ResourceReference.
func (h HashedURI) Reference() ResourceReference {
	return ParseReference(h.URI)
}

// Verify recomputes the digest of content with the recorded algorithm
// and compares it to the bound digest.
func (h HashedURI) Verify(content []byte) error {
	if err := hash.Verify(h.Alg, h.Hash, content); err != nil {
		return fmt.Errorf("hashed URI %s: %w", h.URI, err)
	}
	return nil
}
