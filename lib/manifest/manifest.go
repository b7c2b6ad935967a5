// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/jumbf"
)

// Store path segments used in self-referential addresses:
//
//	self#jumbf=/c2pa/<manifest-label>/c2pa.claim
//	self#jumbf=/c2pa/<manifest-label>/c2pa.signature
//	self#jumbf=/c2pa/<manifest-label>/c2pa.assertions/<label>[__<instance>]
//	self#jumbf=/c2pa/<manifest-label>/c2pa.ingredients/<label>
const (
	storePathPrefix      = "/c2pa/"
	claimSegment         = "c2pa.claim"
	signatureSegment     = "c2pa.signature"
	assertionsSegment    = "c2pa.assertions"
	ingredientsSegment   = "c2pa.ingredients"
	databoxesSegment     = "c2pa.databoxes"
	instanceLabelDivider = "__"
)

// Claim is the core signed statement of a manifest: the asset hash,
// the digest algorithm, the assertion and ingredient reference lists,
// and the signing-certificate reference. The claim's serialized CBOR
// bytes are what the detached signature covers.
type Claim struct {
	// Label uniquely identifies the manifest within its store.
	// Generated as a urn:uuid by the builder.
	Label string `json:"label"`

	// Title is the human-readable asset title.
	Title string `json:"dc:title,omitempty"`

	// Format is the asset's media type (for example image/jpeg).
	Format string `json:"dc:format,omitempty"`

	// Generator identifies the software that produced the claim.
	Generator string `json:"claim_generator,omitempty"`

	// Alg is the digest algorithm used for AssetHash and for every
	// HashedURI the claim emits. Verification must use the same
	// algorithm.
	Alg hash.Algorithm `json:"alg"`

	// AssetHash is the digest of the asset's bytes, excluding the
	// region reserved for embedding this manifest.
	AssetHash []byte `json:"asset_hash,omitempty"`

	// Assertions references every assertion in this manifest's
	// assertion store, each bound to a digest of its serialized
	// bytes.
	Assertions []HashedURI `json:"assertions"`

	// Ingredients references this manifest's ingredients, each bound
	// to a digest of the ingredient's serialized metadata.
	Ingredients []HashedURI `json:"ingredients,omitempty"`

	// Databoxes references resource content the resolver embedded
	// into this manifest during finalization.
	Databoxes []HashedURI `json:"databoxes,omitempty"`

	// SignatureRef is the self-referential address of the claim
	// signature box.
	SignatureRef string `json:"signature"`

	// RemoteURL optionally records where a copy of the full manifest
	// store can be fetched, for assets that carry only a reference
	// instead of (or alongside) the embedded store.
	RemoteURL string `json:"remote_url,omitempty"`
}

// Assertion is a typed payload attached to a manifest, identified by
// label plus instance index. Data is carried as raw CBOR so decoding
// a manifest never re-serializes it — the claim's HashedURI digest
// covers these exact bytes.
type Assertion struct {
	Label    string          `json:"label"`
	Instance int             `json:"instance,omitempty"`
	Data     codec.RawMessage `json:"data"`
}

// AddressLabel returns the assertion's store address segment:
// the label, with "__<instance>" appended when the label occurs more
// than once in the manifest.
func (a Assertion) AddressLabel() string {
	if a.Instance > 0 {
		return a.Label + instanceLabelDivider + fmt.Sprint(a.Instance)
	}
	return a.Label
}

// Relationship classifies how an ingredient relates to the asset.
type Relationship string

const (
	// RelationshipParent marks the prior state of the asset itself.
	// A manifest has at most one parent ingredient.
	RelationshipParent Relationship = "parentOf"

	// RelationshipComponent marks content composited into the asset.
	RelationshipComponent Relationship = "componentOf"
)

// Ingredient references a prior asset state: its content hash and,
// when available, that asset's own manifest store. The embedded store
// bytes form the recursive provenance graph.
type Ingredient struct {
	// Label uniquely identifies the ingredient within its manifest.
	Label string `json:"label"`

	// Title is the ingredient asset's human-readable title.
	Title string `json:"dc:title,omitempty"`

	// Format is the ingredient asset's media type.
	Format string `json:"dc:format,omitempty"`

	// Relationship is parentOf or componentOf.
	Relationship Relationship `json:"relationship"`

	// Alg is the digest algorithm for ContentHash.
	Alg hash.Algorithm `json:"alg"`

	// ContentHash is the digest of the prior asset's bytes.
	ContentHash []byte `json:"hash"`

	// ActiveManifest is the label of the active manifest inside
	// StoreBytes, when an embedded store is present.
	ActiveManifest string `json:"active_manifest,omitempty"`

	// Required marks that this manifest's validity depends on the
	// ingredient's validity. An invalid ingredient does not
	// invalidate its consumer unless Required is set.
	Required bool `json:"required,omitempty"`

	// StoreBytes is the ingredient asset's own encoded manifest
	// store, verbatim. Nil when the prior asset carried no store.
	// Carried in its own box, not in the ingredient's CBOR metadata.
	StoreBytes []byte `json:"-"`
}

// Databox holds resource content embedded into a manifest by the
// resolver: a thumbnail, a referenced payload, anything that was a
// local-file or working-store reference during build. Addressed by
// resolver-assigned label.
type Databox struct {
	// Label is the resolver-assigned store-unique label.
	Label string `json:"label"`

	// Format is the content's media type, when known.
	Format string `json:"format,omitempty"`

	// Data is the resource content.
	Data []byte `json:"data"`
}

// Manifest is a claim plus its detached signature, with the decoded
// assertion and ingredient content. Owned exclusively by the Store
// that contains it.
type Manifest struct {
	// Claim is the decoded claim.
	Claim Claim

	// ClaimBytes is the claim's CBOR exactly as signed. Verification
	// operates on these bytes, never on a re-encoding of Claim.
	ClaimBytes []byte

	// Signature is the CBOR signature envelope produced by the
	// signer.
	Signature []byte

	// Assertions holds the assertion store content in declaration
	// order.
	Assertions []Assertion

	// Ingredients holds the ingredient list in declaration order.
	Ingredients []Ingredient

	// Databoxes holds embedded resource content in resolver order.
	Databoxes []Databox

	// unknownBoxes preserves boxes of unrecognized type found inside
	// the manifest superbox, in their original positions relative to
	// the end of the known content.
	unknownBoxes []*jumbf.Box
}

// Label returns the manifest's store-unique label.
func (m *Manifest) Label() string {
	return m.Claim.Label
}

// ClaimURI returns the self-referential address of the claim box.
func (m *Manifest) ClaimURI() string {
	return selfPrefix + storePathPrefix + m.Label() + "/" + claimSegment
}

// SignatureURI returns the self-referential address of the claim
// signature box.
func (m *Manifest) SignatureURI() string {
	return selfPrefix + storePathPrefix + m.Label() + "/" + signatureSegment
}

// AssertionURI returns the self-referential address of an assertion.
func (m *Manifest) AssertionURI(a Assertion) string {
	return selfPrefix + storePathPrefix + m.Label() + "/" + assertionsSegment + "/" + a.AddressLabel()
}

// IngredientURI returns the self-referential address of an
// ingredient.
func (m *Manifest) IngredientURI(ing Ingredient) string {
	return selfPrefix + storePathPrefix + m.Label() + "/" + ingredientsSegment + "/" + ing.Label
}

// FindAssertion returns the assertion with the given address label
// (label plus optional instance suffix), or nil.
func (m *Manifest) FindAssertion(addressLabel string) *Assertion {
	for i := range m.Assertions {
		if m.Assertions[i].AddressLabel() == addressLabel {
			return &m.Assertions[i]
		}
	}
	return nil
}

// DataboxURI returns the self-referential address of a databox.
func (m *Manifest) DataboxURI(d Databox) string {
	return selfPrefix + storePathPrefix + m.Label() + "/" + databoxesSegment + "/" + d.Label
}

// FindDatabox returns the databox with the given label, or nil.
func (m *Manifest) FindDatabox(label string) *Databox {
	for i := range m.Databoxes {
		if m.Databoxes[i].Label == label {
			return &m.Databoxes[i]
		}
	}
	return nil
}

// FindIngredient returns the ingredient with the given label, or nil.
func (m *Manifest) FindIngredient(label string) *Ingredient {
	for i := range m.Ingredients {
		if m.Ingredients[i].Label == label {
			return &m.Ingredients[i]
		}
	}
	return nil
}

// ParentIngredient returns the manifest's parent ingredient, or nil
// when the manifest declares none.
func (m *Manifest) ParentIngredient() *Ingredient {
	for i := range m.Ingredients {
		if m.Ingredients[i].Relationship == RelationshipParent {
			return &m.Ingredients[i]
		}
	}
	return nil
}
