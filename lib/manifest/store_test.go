// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/jumbf"
)

// buildTestManifest assembles a structurally valid manifest with one
// assertion and one ingredient, with all claim references pointing
// into the store.
func buildTestManifest(t *testing.T, label string) *Manifest {
	t.Helper()

	assertionData, err := codec.Marshal(map[string]any{"action": "c2pa.edited"})
	if err != nil {
		t.Fatalf("marshaling assertion data: %v", err)
	}
	assertion := Assertion{Label: "c2pa.actions", Data: codec.RawMessage(assertionData)}

	ingredientHash, err := hash.Digest(hash.SHA256, []byte("prior asset bytes"))
	if err != nil {
		t.Fatalf("hashing ingredient: %v", err)
	}
	ingredient := Ingredient{
		Label:        "ingredient-1",
		Title:        "original.jpg",
		Relationship: RelationshipParent,
		Alg:          hash.SHA256,
		ContentHash:  ingredientHash,
	}

	m := &Manifest{
		Assertions:  []Assertion{assertion},
		Ingredients: []Ingredient{ingredient},
		Signature:   []byte("signature-envelope"),
	}
	m.Claim = Claim{
		Label:  label,
		Title:  "edited.jpg",
		Format: "image/jpeg",
		Alg:    hash.SHA256,
	}

	assertionPayload, err := codec.Marshal(assertion)
	if err != nil {
		t.Fatalf("marshaling assertion: %v", err)
	}
	assertionDigest, err := hash.Digest(hash.SHA256, assertionPayload)
	if err != nil {
		t.Fatalf("hashing assertion: %v", err)
	}
	m.Claim.Assertions = []HashedURI{{URI: m.AssertionURI(assertion), Alg: hash.SHA256, Hash: assertionDigest}}

	metadataPayload, err := codec.Marshal(ingredient)
	if err != nil {
		t.Fatalf("marshaling ingredient: %v", err)
	}
	metadataDigest, err := hash.Digest(hash.SHA256, metadataPayload)
	if err != nil {
		t.Fatalf("hashing ingredient metadata: %v", err)
	}
	m.Claim.Ingredients = []HashedURI{{URI: m.IngredientURI(ingredient), Alg: hash.SHA256, Hash: metadataDigest}}

	m.Claim.SignatureRef = m.SignatureURI()

	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		t.Fatalf("marshaling claim: %v", err)
	}
	m.ClaimBytes = claimBytes
	return m
}

func TestStoreEncodeDecodeRoundTrip(t *testing.T) {
	store := &Store{Manifests: []*Manifest{buildTestManifest(t, "urn:uuid:test-manifest")}}

	encoded, err := store.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeStore(encoded)
	if err != nil {
		t.Fatalf("DecodeStore failed: %v", err)
	}

	if len(decoded.Manifests) != 1 {
		t.Fatalf("manifest count = %d, want 1", len(decoded.Manifests))
	}
	m := decoded.Manifests[0]
	if m.Label() != "urn:uuid:test-manifest" {
		t.Errorf("label = %q, want urn:uuid:test-manifest", m.Label())
	}
	if m.Claim.Title != "edited.jpg" {
		t.Errorf("title = %q, want edited.jpg", m.Claim.Title)
	}
	if len(m.Assertions) != 1 || m.Assertions[0].Label != "c2pa.actions" {
		t.Errorf("assertions not preserved: %+v", m.Assertions)
	}
	if len(m.Ingredients) != 1 || m.Ingredients[0].Relationship != RelationshipParent {
		t.Errorf("ingredients not preserved: %+v", m.Ingredients)
	}
	if !bytes.Equal(m.Signature, []byte("signature-envelope")) {
		t.Error("signature bytes not preserved")
	}

	// Decoded stores re-encode to the exact bytes they came from.
	reencoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Error("decoded store does not re-encode byte-exactly")
	}
}

func TestClaimBytesPreservedVerbatim(t *testing.T) {
	// The claim box payload is the signed bytes; decoding must return
	// them untouched, not a re-encoding of the parsed claim.
	store := &Store{Manifests: []*Manifest{buildTestManifest(t, "urn:uuid:claim-bytes")}}
	original := store.Manifests[0].ClaimBytes

	encoded, err := store.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeStore(encoded)
	if err != nil {
		t.Fatalf("DecodeStore failed: %v", err)
	}
	if !bytes.Equal(decoded.Manifests[0].ClaimBytes, original) {
		t.Error("claim bytes were not preserved verbatim")
	}
}

func TestEmbeddedStoreBytesVerbatim(t *testing.T) {
	// An ingredient's nested store travels as opaque bytes.
	inner := &Store{Manifests: []*Manifest{buildTestManifest(t, "urn:uuid:inner")}}
	innerBytes, err := inner.Encode()
	if err != nil {
		t.Fatalf("encoding inner store: %v", err)
	}

	outerManifest := buildTestManifest(t, "urn:uuid:outer")
	outerManifest.Ingredients[0].StoreBytes = innerBytes
	outer := &Store{Manifests: []*Manifest{outerManifest}}

	encoded, err := outer.Encode()
	if err != nil {
		t.Fatalf("encoding outer store: %v", err)
	}
	decoded, err := DecodeStore(encoded)
	if err != nil {
		t.Fatalf("DecodeStore failed: %v", err)
	}

	nested := decoded.Manifests[0].Ingredients[0].StoreBytes
	if !bytes.Equal(nested, innerBytes) {
		t.Fatal("nested store bytes not preserved verbatim")
	}
	if _, err := DecodeStore(nested); err != nil {
		t.Errorf("nested store bytes do not decode: %v", err)
	}
}

func TestUnknownStoreBoxesPreserved(t *testing.T) {
	store := &Store{
		Manifests:    []*Manifest{buildTestManifest(t, "urn:uuid:with-unknown")},
		unknownBoxes: []*jumbf.Box{{Type: jumbf.BoxType{'p', 'r', 'o', 'p'}, Payload: []byte("vendor extension")}},
	}

	encoded, err := store.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeStore(encoded)
	if err != nil {
		t.Fatalf("DecodeStore failed: %v", err)
	}

	unknown := decoded.UnknownBoxes()
	if len(unknown) != 1 {
		t.Fatalf("unknown box count = %d, want 1", len(unknown))
	}
	if string(unknown[0].Payload) != "vendor extension" {
		t.Error("unknown box payload not preserved")
	}

	reencoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Error("store with unknown boxes did not round trip byte-exactly")
	}
}

func TestActiveManifestIsLast(t *testing.T) {
	store := &Store{Manifests: []*Manifest{
		buildTestManifest(t, "urn:uuid:older"),
		buildTestManifest(t, "urn:uuid:newest"),
	}}
	active := store.ActiveManifest()
	if active == nil || active.Label() != "urn:uuid:newest" {
		t.Errorf("active manifest = %v, want urn:uuid:newest", active)
	}
}

func TestValidateAcceptsClosedStore(t *testing.T) {
	store := &Store{Manifests: []*Manifest{buildTestManifest(t, "urn:uuid:valid")}}
	if err := store.Validate(); err != nil {
		t.Errorf("Validate failed on a closed store: %v", err)
	}
}

func TestValidateRejectsEmptyStore(t *testing.T) {
	if err := (&Store{}).Validate(); !errors.Is(err, ErrEmptyStore) {
		t.Errorf("error = %v, want ErrEmptyStore", err)
	}
}

func TestValidateRejectsNonSelfReference(t *testing.T) {
	m := buildTestManifest(t, "urn:uuid:leaky")
	m.Claim.Assertions[0].URI = "file:///tmp/assertion.cbor"
	store := &Store{Manifests: []*Manifest{m}}

	if err := store.Validate(); !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidateRejectsDanglingReference(t *testing.T) {
	m := buildTestManifest(t, "urn:uuid:dangling")
	m.Claim.Ingredients[0].URI = "self#jumbf=/c2pa/urn:uuid:dangling/c2pa.ingredients/no-such-ingredient"
	store := &Store{Manifests: []*Manifest{m}}

	if err := store.Validate(); !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidateRejectsUnboundIngredient(t *testing.T) {
	// An ingredient appended after signing has no claim reference.
	// The claim bytes are untouched, so only the binding check can
	// catch it.
	m := buildTestManifest(t, "urn:uuid:injected")
	m.Ingredients = append(m.Ingredients, Ingredient{
		Label:        "injected",
		Relationship: RelationshipComponent,
		Alg:          hash.SHA256,
		ContentHash:  []byte{0x01},
	})
	store := &Store{Manifests: []*Manifest{m}}

	if err := store.Validate(); !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidateRejectsUnboundDatabox(t *testing.T) {
	m := buildTestManifest(t, "urn:uuid:injected-databox")
	m.Databoxes = append(m.Databoxes, Databox{Label: "databox-0", Data: []byte("smuggled")})
	store := &Store{Manifests: []*Manifest{m}}

	if err := store.Validate(); !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidateRejectsMislabeledBinding(t *testing.T) {
	// Claim reference count matches the ingredient count, but the
	// reference binds a different element than the one the manifest
	// carries: the carried ingredient is still unsigned.
	m := buildTestManifest(t, "urn:uuid:swapped")
	m.Ingredients[0].Label = "renamed-after-signing"
	store := &Store{Manifests: []*Manifest{m}}

	if err := store.Validate(); !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("error = %v, want ErrUnresolvedReference", err)
	}
}

func TestValidateRejectsDuplicateLabels(t *testing.T) {
	store := &Store{Manifests: []*Manifest{
		buildTestManifest(t, "urn:uuid:dup"),
		buildTestManifest(t, "urn:uuid:dup"),
	}}
	if err := store.Validate(); err == nil {
		t.Error("duplicate manifest labels accepted")
	}
}

func TestParseReferenceSchemes(t *testing.T) {
	cases := []struct {
		uri        string
		scheme     Scheme
		identifier string
	}{
		{"self#jumbf=/c2pa/label/c2pa.claim", SchemeSelf, "/c2pa/label/c2pa.claim"},
		{"file:///home/user/thumb.jpg", SchemeFile, "/home/user/thumb.jpg"},
		{"app://contentauth/token-42", SchemeWorkingStore, "token-42"},
		{"https://example.com/manifests/a", SchemeRemote, "https://example.com/manifests/a"},
		{"http://example.com/manifests/b", SchemeRemote, "http://example.com/manifests/b"},
		{"bare-identifier", Scheme(""), "bare-identifier"},
	}
	for _, c := range cases {
		reference := ParseReference(c.uri)
		if reference.Scheme != c.scheme || reference.Identifier != c.identifier {
			t.Errorf("ParseReference(%q) = {%q, %q}, want {%q, %q}",
				c.uri, reference.Scheme, reference.Identifier, c.scheme, c.identifier)
		}
		if c.scheme != "" && reference.URI() != c.uri {
			t.Errorf("URI() = %q, want %q", reference.URI(), c.uri)
		}
	}
}

func TestHashedURIVerify(t *testing.T) {
	content := []byte("assertion payload bytes")
	digest, err := hash.Digest(hash.SHA256, content)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	hashedURI := HashedURI{URI: "self#jumbf=/c2pa/x/c2pa.assertions/a", Alg: hash.SHA256, Hash: digest}

	if err := hashedURI.Verify(content); err != nil {
		t.Errorf("Verify of matching content failed: %v", err)
	}
	if err := hashedURI.Verify([]byte("tampered")); !errors.Is(err, hash.ErrMismatch) {
		t.Errorf("error = %v, want hash.ErrMismatch", err)
	}
}

func TestAssertionInstanceAddressing(t *testing.T) {
	first := Assertion{Label: "c2pa.actions"}
	second := Assertion{Label: "c2pa.actions", Instance: 1}
	if first.AddressLabel() != "c2pa.actions" {
		t.Errorf("AddressLabel = %q, want c2pa.actions", first.AddressLabel())
	}
	if second.AddressLabel() != "c2pa.actions__1" {
		t.Errorf("AddressLabel = %q, want c2pa.actions__1", second.AddressLabel())
	}
}
