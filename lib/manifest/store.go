// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/jumbf"
)

// ErrEmptyStore indicates a store with no manifests, which has no
// active manifest and cannot describe an asset.
var ErrEmptyStore = errors.New("manifest store contains no manifests")

// Store is an ordered sequence of manifests. The last manifest is the
// active one — the manifest describing the asset's current state.
// Every cross-reference inside any manifest resolves within the same
// store.
//
// A Store decoded from bytes is immutable: Encode returns the exact
// bytes it was decoded from, so unknown boxes and byte-level layout
// survive round trips. Stores under construction (built by the
// builder) have no retained bytes and encode from their content.
type Store struct {
	// Manifests in declaration order. The last is active.
	Manifests []*Manifest

	// unknownBoxes preserves store-level boxes of unrecognized type.
	unknownBoxes []*jumbf.Box

	// rawBytes is the original encoding, retained by DecodeStore.
	rawBytes []byte
}

// ActiveManifest returns the manifest describing the asset's current
// state, or nil for an empty store.
func (s *Store) ActiveManifest() *Manifest {
	if len(s.Manifests) == 0 {
		return nil
	}
	return s.Manifests[len(s.Manifests)-1]
}

// FindManifest returns the manifest with the given label, or nil.
func (s *Store) FindManifest(label string) *Manifest {
	for _, m := range s.Manifests {
		if m.Label() == label {
			return m
		}
	}
	return nil
}

// UnknownBoxes returns store-level boxes the codec did not recognize.
// They are preserved through round trips, never dropped.
func (s *Store) UnknownBoxes() []*jumbf.Box {
	return s.unknownBoxes
}

// Encode serializes the store to its box-tree bytes. A store decoded
// from bytes returns those bytes unchanged; a store under
// construction is encoded from its content.
func (s *Store) Encode() ([]byte, error) {
	if s.rawBytes != nil {
		encoded := make([]byte, len(s.rawBytes))
		copy(encoded, s.rawBytes)
		return encoded, nil
	}

	root := &jumbf.Box{Type: jumbf.TypeManifestStore}
	for _, m := range s.Manifests {
		manifestBox, err := encodeManifest(m)
		if err != nil {
			return nil, fmt.Errorf("encoding manifest %s: %w", m.Label(), err)
		}
		root.Children = append(root.Children, manifestBox)
	}
	root.Children = append(root.Children, s.unknownBoxes...)

	return jumbf.Encode(root)
}

func encodeManifest(m *Manifest) (*jumbf.Box, error) {
	box := &jumbf.Box{Type: jumbf.TypeManifest}

	box.Children = append(box.Children,
		&jumbf.Box{Type: jumbf.TypeClaim, Payload: m.ClaimBytes},
		&jumbf.Box{Type: jumbf.TypeClaimSignature, Payload: m.Signature},
	)

	assertionStore := &jumbf.Box{Type: jumbf.TypeAssertionStore}
	for _, assertion := range m.Assertions {
		payload, err := codec.Marshal(assertion)
		if err != nil {
			return nil, fmt.Errorf("encoding assertion %s: %w", assertion.AddressLabel(), err)
		}
		contentType := jumbf.ContentTypeCBOR
		assertionStore.Children = append(assertionStore.Children, &jumbf.Box{
			Type:    jumbf.TypeCBOR,
			UUID:    &contentType,
			Payload: payload,
		})
	}
	box.Children = append(box.Children, assertionStore)

	for _, ingredient := range m.Ingredients {
		ingredientBox, err := encodeIngredient(ingredient)
		if err != nil {
			return nil, fmt.Errorf("encoding ingredient %s: %w", ingredient.Label, err)
		}
		box.Children = append(box.Children, ingredientBox)
	}

	for _, databox := range m.Databoxes {
		payload, err := codec.Marshal(databox)
		if err != nil {
			return nil, fmt.Errorf("encoding databox %s: %w", databox.Label, err)
		}
		box.Children = append(box.Children, &jumbf.Box{Type: jumbf.TypeDatabox, Payload: payload})
	}

	box.Children = append(box.Children, m.unknownBoxes...)
	return box, nil
}

func encodeIngredient(ingredient Ingredient) (*jumbf.Box, error) {
	metadata, err := codec.Marshal(ingredient)
	if err != nil {
		return nil, err
	}
	contentType := jumbf.ContentTypeCBOR
	box := &jumbf.Box{
		Type: jumbf.TypeIngredient,
		Children: []*jumbf.Box{
			{Type: jumbf.TypeCBOR, UUID: &contentType, Payload: metadata},
		},
	}
	if ingredient.StoreBytes != nil {
		// The nested store travels verbatim as an opaque payload.
		// Parsing it is deferred to the ingredient graph walk.
		box.Children = append(box.Children, &jumbf.Box{
			Type:    jumbf.TypeEmbeddedStore,
			Payload: ingredient.StoreBytes,
		})
	}
	return box, nil
}

// DecodeStore parses an encoded manifest store. The original bytes
// are retained so that Encode reproduces them exactly.
func DecodeStore(data []byte) (*Store, error) {
	root, err := jumbf.Decode(data)
	if err != nil {
		return nil, err
	}
	if root.Type != jumbf.TypeManifestStore {
		return nil, fmt.Errorf("%w: root box is %s, want %s", jumbf.ErrMalformedBox, root.Type, jumbf.TypeManifestStore)
	}

	store := &Store{rawBytes: append([]byte(nil), data...)}
	for _, child := range root.Children {
		if child.Type != jumbf.TypeManifest {
			store.unknownBoxes = append(store.unknownBoxes, child)
			continue
		}
		m, err := decodeManifest(child)
		if err != nil {
			return nil, err
		}
		store.Manifests = append(store.Manifests, m)
	}
	return store, nil
}

func decodeManifest(box *jumbf.Box) (*Manifest, error) {
	var m Manifest
	for _, child := range box.Children {
		switch child.Type {
		case jumbf.TypeClaim:
			m.ClaimBytes = child.Payload
			if err := codec.Unmarshal(child.Payload, &m.Claim); err != nil {
				return nil, fmt.Errorf("decoding claim: %w", err)
			}
		case jumbf.TypeClaimSignature:
			m.Signature = child.Payload
		case jumbf.TypeAssertionStore:
			for _, assertionBox := range child.Children {
				var assertion Assertion
				if err := codec.Unmarshal(assertionBox.Payload, &assertion); err != nil {
					return nil, fmt.Errorf("decoding assertion: %w", err)
				}
				m.Assertions = append(m.Assertions, assertion)
			}
		case jumbf.TypeIngredient:
			ingredient, err := decodeIngredient(child)
			if err != nil {
				return nil, err
			}
			m.Ingredients = append(m.Ingredients, ingredient)
		case jumbf.TypeDatabox:
			var databox Databox
			if err := codec.Unmarshal(child.Payload, &databox); err != nil {
				return nil, fmt.Errorf("decoding databox: %w", err)
			}
			m.Databoxes = append(m.Databoxes, databox)
		default:
			m.unknownBoxes = append(m.unknownBoxes, child)
		}
	}
	if m.ClaimBytes == nil {
		return nil, fmt.Errorf("%w: manifest box has no claim", jumbf.ErrMalformedBox)
	}
	return &m, nil
}

func decodeIngredient(box *jumbf.Box) (Ingredient, error) {
	var ingredient Ingredient
	metadataBox := box.Child(jumbf.TypeCBOR)
	if metadataBox == nil {
		return ingredient, fmt.Errorf("%w: ingredient box has no metadata", jumbf.ErrMalformedBox)
	}
	if err := codec.Unmarshal(metadataBox.Payload, &ingredient); err != nil {
		return ingredient, fmt.Errorf("decoding ingredient metadata: %w", err)
	}
	if storeBox := box.Child(jumbf.TypeEmbeddedStore); storeBox != nil {
		ingredient.StoreBytes = storeBox.Payload
	}
	return ingredient, nil
}

// Validate checks the store's structural invariants: the store is
// non-empty, manifest labels are unique, every HashedURI and the
// claim's signature reference resolve within this store, every
// reference uses the self-referential scheme, and every assertion,
// ingredient, and databox a manifest carries is bound by a claim
// reference. Run before signing and before verification walks the
// store.
func (s *Store) Validate() error {
	if len(s.Manifests) == 0 {
		return ErrEmptyStore
	}

	labels := make(map[string]bool, len(s.Manifests))
	for _, m := range s.Manifests {
		if m.Label() == "" {
			return fmt.Errorf("%w: manifest has empty label", ErrUnresolvedReference)
		}
		if labels[m.Label()] {
			return fmt.Errorf("duplicate manifest label %q", m.Label())
		}
		labels[m.Label()] = true
	}

	for _, m := range s.Manifests {
		if err := s.validateManifestReferences(m); err != nil {
			return fmt.Errorf("manifest %s: %w", m.Label(), err)
		}
	}
	return nil
}

func (s *Store) validateManifestReferences(m *Manifest) error {
	if m.Claim.SignatureRef != m.SignatureURI() {
		return fmt.Errorf("%w: signature reference %q does not address this manifest's signature", ErrUnresolvedReference, m.Claim.SignatureRef)
	}

	// Every element the manifest carries must be bound by a claim
	// reference, and every claim reference must resolve. Content the
	// claim does not reference is unsigned: accepting it would let
	// provenance be injected into a signed manifest.
	if len(m.Claim.Assertions) != len(m.Assertions) {
		return fmt.Errorf("%w: claim references %d assertions, assertion store holds %d", ErrUnresolvedReference, len(m.Claim.Assertions), len(m.Assertions))
	}
	if len(m.Claim.Ingredients) != len(m.Ingredients) {
		return fmt.Errorf("%w: claim references %d ingredients, manifest holds %d", ErrUnresolvedReference, len(m.Claim.Ingredients), len(m.Ingredients))
	}
	if len(m.Claim.Databoxes) != len(m.Databoxes) {
		return fmt.Errorf("%w: claim references %d databoxes, manifest holds %d", ErrUnresolvedReference, len(m.Claim.Databoxes), len(m.Databoxes))
	}

	for _, hashedURI := range m.Claim.Assertions {
		if err := s.resolveWithin(hashedURI.URI); err != nil {
			return err
		}
	}

	boundIngredients, err := s.boundElements(m, m.Claim.Ingredients, ingredientsSegment)
	if err != nil {
		return err
	}
	for _, ingredient := range m.Ingredients {
		if !boundIngredients[ingredient.Label] {
			return fmt.Errorf("%w: ingredient %q is not referenced by the claim", ErrUnresolvedReference, ingredient.Label)
		}
	}

	boundDataboxes, err := s.boundElements(m, m.Claim.Databoxes, databoxesSegment)
	if err != nil {
		return err
	}
	for _, databox := range m.Databoxes {
		if !boundDataboxes[databox.Label] {
			return fmt.Errorf("%w: databox %q is not referenced by the claim", ErrUnresolvedReference, databox.Label)
		}
	}
	return nil
}

// boundElements resolves a claim reference list and returns the set
// of element labels it binds within this manifest under the given
// store path kind.
func (s *Store) boundElements(m *Manifest, references []HashedURI, kind string) (map[string]bool, error) {
	bound := make(map[string]bool, len(references))
	for _, hashedURI := range references {
		if err := s.resolveWithin(hashedURI.URI); err != nil {
			return nil, err
		}
		manifestLabel, refKind, elementLabel, err := splitStorePath(hashedURI.Reference().Identifier)
		if err != nil {
			return nil, err
		}
		if manifestLabel == m.Label() && refKind == kind {
			bound[elementLabel] = true
		}
	}
	return bound, nil
}

// resolveWithin checks that a reference is self-referential and
// addresses an element that exists in this store.
func (s *Store) resolveWithin(uri string) error {
	reference := ParseReference(uri)
	if !reference.SelfReferential() {
		return fmt.Errorf("%w: %q uses scheme %q, only self-referential references are legal in a finalized store", ErrUnresolvedReference, uri, reference.Scheme)
	}

	manifestLabel, kind, elementLabel, err := splitStorePath(reference.Identifier)
	if err != nil {
		return err
	}
	target := s.FindManifest(manifestLabel)
	if target == nil {
		return fmt.Errorf("%w: %q addresses unknown manifest %q", ErrUnresolvedReference, uri, manifestLabel)
	}

	switch kind {
	case claimSegment, signatureSegment:
		return nil
	case assertionsSegment:
		if target.FindAssertion(elementLabel) == nil {
			return fmt.Errorf("%w: %q addresses unknown assertion %q", ErrUnresolvedReference, uri, elementLabel)
		}
	case ingredientsSegment:
		if target.FindIngredient(elementLabel) == nil {
			return fmt.Errorf("%w: %q addresses unknown ingredient %q", ErrUnresolvedReference, uri, elementLabel)
		}
	case databoxesSegment:
		if target.FindDatabox(elementLabel) == nil {
			return fmt.Errorf("%w: %q addresses unknown databox %q", ErrUnresolvedReference, uri, elementLabel)
		}
	default:
		return fmt.Errorf("%w: %q addresses unknown store element kind %q", ErrUnresolvedReference, uri, kind)
	}
	return nil
}

// SplitSelfPath parses a self-referential store path of the form
// "/c2pa/<manifest-label>/<kind>[/<element>]" into its components.
func SplitSelfPath(identifier string) (manifestLabel, kind, elementLabel string, err error) {
	return splitStorePath(identifier)
}

// splitStorePath parses "/c2pa/<manifest-label>/<kind>[/<element>]".
func splitStorePath(identifier string) (manifestLabel, kind, elementLabel string, err error) {
	if !strings.HasPrefix(identifier, storePathPrefix) {
		return "", "", "", fmt.Errorf("%w: store path %q does not start with %s", ErrUnresolvedReference, identifier, storePathPrefix)
	}
	parts := strings.SplitN(strings.TrimPrefix(identifier, storePathPrefix), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: store path %q is incomplete", ErrUnresolvedReference, identifier)
	}
	manifestLabel, kind = parts[0], parts[1]
	if len(parts) == 3 {
		elementLabel = parts[2]
	}
	return manifestLabel, kind, elementLabel, nil
}
