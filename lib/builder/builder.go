// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/cose"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
	"github.com/bureau-foundation/provenance/lib/resource"
)

// ErrInvalidDefinition indicates a build definition the pipeline
// rejects before any hashing or signing work.
var ErrInvalidDefinition = errors.New("invalid build definition")

// Options configures a Builder. The zero value builds an embeddable
// store with SHA-256 and no file or network access.
type Options struct {
	// NoEmbed skips reserving an embed region in the asset: the store
	// is produced as sidecar bytes only and the asset hash covers the
	// whole asset.
	NoEmbed bool

	// RemoteURL, when set, is recorded in the claim as the location
	// where a copy of the store can be fetched.
	RemoteURL string

	// Generator identifies the producing software in the claim.
	Generator string

	// HashAlg is the digest algorithm for the claim and every
	// HashedURI the build emits. Empty means SHA-256.
	HashAlg hash.Algorithm

	// StrictRemoteResolution turns remote ingredient-store fetch
	// failures into build failures. Off, a failed fetch logs and the
	// ingredient carries no provenance.
	StrictRemoteResolution bool

	// AllowFileAccess lets the session resolver read local-file
	// resource references from disk.
	AllowFileAccess bool

	// Parallel fans ingredient hashing and fetching out over
	// goroutines. Signing is never concurrent.
	Parallel bool

	// RetryLimit is the number of additional attempts for a failed
	// remote fetch.
	RetryLimit int

	// Logger receives build diagnostics. Nil discards them.
	Logger *slog.Logger
}

// AssertionDef is one assertion in a build definition. Data is
// marshaled to CBOR by the builder.
type AssertionDef struct {
	Label string
	Data  any
}

// ResourceDef is one resource to register with the session resolver:
// a thumbnail, a referenced payload. The identifier may carry a
// scheme prefix; a bare identifier follows the session's precedence.
type ResourceDef struct {
	Identifier string
	Payload    []byte
	Format     string
}

// IngredientDef is one ingredient in a build definition. Exactly one
// of Asset and ContentHash supplies the content digest; StoreURI
// optionally names a remote manifest store for the ingredient's
// provenance.
type IngredientDef struct {
	Label        string
	Title        string
	Format       string
	Relationship manifest.Relationship
	Required     bool

	// Asset is the ingredient's content, hashed by the builder. Its
	// ExistingStore, when present, becomes the embedded provenance.
	Asset *Asset

	// ContentHash is a precomputed digest (with the session's
	// algorithm) for ingredients whose bytes are not at hand.
	ContentHash []byte

	// StoreURI names a remote manifest store fetched through the
	// builder's Fetcher. Ignored when Asset carries an ExistingStore.
	StoreURI string
}

// Definition is the caller-supplied description of the manifest to
// build.
type Definition struct {
	Title       string
	Format      string
	Assertions  []AssertionDef
	Ingredients []IngredientDef
	Resources   []ResourceDef
}

// Asset is the content a manifest describes: a random-access view of
// its bytes plus the store it may already carry.
type Asset struct {
	// Reader provides random access to the asset bytes.
	Reader io.ReaderAt

	// Size is the asset's total length in bytes.
	Size int64

	// Format is the asset's media type.
	Format string

	// Exclusions are byte ranges the asset hash must skip, beyond the
	// embed region the adapter reserves.
	Exclusions []hash.Range

	// ExistingStore is the manifest store the asset already carries,
	// when it has prior provenance.
	ExistingStore []byte
}

// Result is a completed build.
type Result struct {
	// Store is the assembled store, already validated.
	Store *manifest.Store

	// StoreBytes is the encoded store. These are the bytes to embed;
	// Sidecar returns an identical copy for detached delivery.
	StoreBytes []byte

	// ManifestLabel is the new manifest's store-unique label.
	ManifestLabel string

	// RemoteURL echoes the claim's recorded remote location, when set.
	RemoteURL string

	// EmbedRegion is the asset region reserved for the store, when the
	// build ran with an adapter. The asset hash excluded it.
	EmbedRegion *hash.Range
}

// Sidecar returns a copy of the encoded store for detached delivery.
// Sidecar bytes and embedded bytes are always identical.
func (r *Result) Sidecar() []byte {
	sidecar := make([]byte, len(r.StoreBytes))
	copy(sidecar, r.StoreBytes)
	return sidecar
}

// Builder drives build sessions. Safe for sequential reuse; each
// Build call is one session with its own resolver.
type Builder struct {
	Options Options

	// Adapter reserves the embed region and splices the encoded store
	// into the asset. Nil builds sidecar-only.
	Adapter EmbedAdapter

	// Fetcher retrieves remote ingredient stores. Nil makes every
	// remote StoreURI a fetch failure.
	Fetcher Fetcher
}

// New creates a builder with the given options.
func New(options Options) *Builder {
	return &Builder{Options: options}
}

func (b *Builder) logger() *slog.Logger {
	if b.Options.Logger != nil {
		return b.Options.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (b *Builder) hashAlg() hash.Algorithm {
	if b.Options.HashAlg != "" {
		return b.Options.HashAlg
	}
	return hash.SHA256
}

// Build runs the pipeline: validate the definition, resolve
// resources, hash ingredients, infer a missing parent, assemble and
// sign the claim, and encode the store.
func (b *Builder) Build(ctx context.Context, def Definition, asset *Asset, signer cose.Signer) (*Result, error) {
	if err := b.validate(def, asset, signer); err != nil {
		return nil, err
	}
	alg := b.hashAlg()
	logger := b.logger()

	resolver := resource.NewResolver(resource.Options{
		AllowFileAccess: b.Options.AllowFileAccess,
		Logger:          b.Options.Logger,
	})
	for _, resourceDef := range def.Resources {
		if _, err := resolver.Register(resourceDef.Identifier, resourceDef.Payload, resourceDef.Format); err != nil {
			return nil, err
		}
	}

	ingredients, err := b.buildIngredients(ctx, def.Ingredients)
	if err != nil {
		return nil, err
	}
	ingredients, err = b.inferParent(asset, def, ingredients)
	if err != nil {
		return nil, err
	}

	m := &manifest.Manifest{Ingredients: ingredients}
	m.Claim = manifest.Claim{
		Label:     "urn:uuid:" + uuid.NewString(),
		Title:     def.Title,
		Format:    def.Format,
		Generator: b.Options.Generator,
		Alg:       alg,
		RemoteURL: b.Options.RemoteURL,
	}
	m.Claim.SignatureRef = m.SignatureURI()

	for _, assertionDef := range def.Assertions {
		data, err := codec.Marshal(assertionDef.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding assertion %s: %w", assertionDef.Label, err)
		}
		assertion := manifest.Assertion{Label: assertionDef.Label, Data: codec.RawMessage(data)}
		assertion.Instance = instanceFor(m.Assertions, assertionDef.Label)
		m.Assertions = append(m.Assertions, assertion)
	}

	// Rewrite before claim assembly: assertion payload bytes change
	// here, and the claim's digests must cover the final bytes.
	if err := resolver.RewriteManifest(m, alg); err != nil {
		return nil, err
	}
	if err := b.assembleClaim(m, alg); err != nil {
		return nil, err
	}

	var embedRegion *hash.Range
	exclusions := asset.Exclusions
	if b.Adapter != nil && !b.Options.NoEmbed {
		region, err := b.Adapter.ReserveRegion(asset)
		if err != nil {
			return nil, fmt.Errorf("reserving embed region: %w", err)
		}
		embedRegion = &region
		exclusions = append(append([]hash.Range(nil), exclusions...), region)
	}
	assetHash, err := hash.DigestRanges(alg, asset.Reader, asset.Size, exclusions)
	if err != nil {
		return nil, fmt.Errorf("hashing asset: %w", err)
	}
	m.Claim.AssetHash = assetHash

	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		return nil, fmt.Errorf("encoding claim: %w", err)
	}
	m.ClaimBytes = claimBytes

	signature, err := cose.SignClaim(ctx, signer, claimBytes, time.Now())
	if err != nil {
		return nil, err
	}
	m.Signature = signature

	store := &manifest.Store{Manifests: []*manifest.Manifest{m}}
	if err := store.Validate(); err != nil {
		return nil, err
	}
	encoded, err := store.Encode()
	if err != nil {
		return nil, err
	}
	if embedRegion != nil && int64(len(encoded)) > embedRegion.Length {
		return nil, fmt.Errorf("encoded store is %d bytes, reserved region holds %d", len(encoded), embedRegion.Length)
	}

	logger.Info("built manifest store",
		"manifest", m.Label(),
		"bytes", len(encoded),
		"assertions", len(m.Assertions),
		"ingredients", len(m.Ingredients))

	return &Result{
		Store:         store,
		StoreBytes:    encoded,
		ManifestLabel: m.Label(),
		RemoteURL:     b.Options.RemoteURL,
		EmbedRegion:   embedRegion,
	}, nil
}

// Embed splices a build result into the asset through the configured
// adapter, writing the embedded asset to out.
func (b *Builder) Embed(asset *Asset, result *Result, out io.Writer) error {
	if b.Adapter == nil {
		return fmt.Errorf("%w: no embed adapter configured", ErrInvalidDefinition)
	}
	if result.EmbedRegion == nil {
		return fmt.Errorf("%w: build reserved no embed region", ErrInvalidDefinition)
	}
	return b.Adapter.Splice(asset, result.StoreBytes, *result.EmbedRegion, out)
}

func (b *Builder) validate(def Definition, asset *Asset, signer cose.Signer) error {
	if asset == nil || asset.Reader == nil {
		return fmt.Errorf("%w: no asset", ErrInvalidDefinition)
	}
	if asset.Size < 0 {
		return fmt.Errorf("%w: negative asset size", ErrInvalidDefinition)
	}
	if signer == nil {
		return fmt.Errorf("%w: no signer", ErrInvalidDefinition)
	}
	if err := b.hashAlg().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := signer.Alg().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	for _, assertionDef := range def.Assertions {
		if assertionDef.Label == "" {
			return fmt.Errorf("%w: assertion with empty label", ErrInvalidDefinition)
		}
	}
	parents := 0
	for _, ingredientDef := range def.Ingredients {
		if ingredientDef.Asset == nil && ingredientDef.ContentHash == nil {
			return fmt.Errorf("%w: ingredient %q has neither asset nor content hash", ErrInvalidDefinition, ingredientDef.Label)
		}
		if ingredientDef.Relationship == manifest.RelationshipParent {
			parents++
		}
	}
	if parents > 1 {
		return fmt.Errorf("%w: %d parent ingredients, at most one allowed", ErrInvalidDefinition, parents)
	}
	return nil
}

// buildIngredients resolves every ingredient definition: content
// hashing, provenance store acquisition, label assignment. With
// Parallel set the per-ingredient work fans out and joins here.
func (b *Builder) buildIngredients(ctx context.Context, defs []IngredientDef) ([]manifest.Ingredient, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	ingredients := make([]manifest.Ingredient, len(defs))
	errs := make([]error, len(defs))

	if b.Options.Parallel {
		var group sync.WaitGroup
		for i := range defs {
			i := i
			group.Add(1)
			go func() {
				defer group.Done()
				ingredients[i], errs[i] = b.buildIngredient(ctx, defs[i], i)
			}()
		}
		group.Wait()
	} else {
		for i := range defs {
			ingredients[i], errs[i] = b.buildIngredient(ctx, defs[i], i)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ingredients, nil
}

func (b *Builder) buildIngredient(ctx context.Context, def IngredientDef, index int) (manifest.Ingredient, error) {
	ingredient := manifest.Ingredient{
		Label:        def.Label,
		Title:        def.Title,
		Format:       def.Format,
		Relationship: def.Relationship,
		Required:     def.Required,
		Alg:          b.hashAlg(),
	}
	if ingredient.Label == "" {
		ingredient.Label = fmt.Sprintf("ingredient-%d", index+1)
	}
	if ingredient.Relationship == "" {
		ingredient.Relationship = manifest.RelationshipComponent
	}

	if def.Asset != nil {
		contentHash, err := hash.DigestRanges(b.hashAlg(), def.Asset.Reader, def.Asset.Size, def.Asset.Exclusions)
		if err != nil {
			return ingredient, fmt.Errorf("hashing ingredient %s: %w", ingredient.Label, err)
		}
		ingredient.ContentHash = contentHash
	} else {
		ingredient.ContentHash = def.ContentHash
	}

	storeBytes, err := b.ingredientStore(ctx, def)
	if err != nil {
		return ingredient, err
	}
	if storeBytes == nil {
		return ingredient, nil
	}

	embedded, err := manifest.DecodeStore(storeBytes)
	if err != nil {
		return ingredient, fmt.Errorf("ingredient %s: decoding provenance store: %w", ingredient.Label, err)
	}
	active := embedded.ActiveManifest()
	if active == nil {
		return ingredient, fmt.Errorf("ingredient %s: provenance store contains no manifests", ingredient.Label)
	}
	ingredient.StoreBytes = storeBytes
	ingredient.ActiveManifest = active.Label()
	return ingredient, nil
}

// ingredientStore returns the ingredient's provenance store bytes: a
// store carried by the ingredient asset wins over a remote reference.
// A failed remote fetch is fatal only under strict resolution.
func (b *Builder) ingredientStore(ctx context.Context, def IngredientDef) ([]byte, error) {
	if def.Asset != nil && def.Asset.ExistingStore != nil {
		return def.Asset.ExistingStore, nil
	}
	if def.StoreURI == "" {
		return nil, nil
	}

	storeBytes, err := b.fetchWithRetry(ctx, def.StoreURI)
	if err != nil {
		if b.Options.StrictRemoteResolution {
			return nil, fmt.Errorf("ingredient %s: %w", def.Label, err)
		}
		b.logger().Warn("remote ingredient store unavailable",
			"ingredient", def.Label, "uri", def.StoreURI, "error", err)
		return nil, nil
	}
	return storeBytes, nil
}

func (b *Builder) fetchWithRetry(ctx context.Context, uri string) ([]byte, error) {
	if b.Fetcher == nil {
		return nil, fmt.Errorf("fetching %s: no fetcher configured", uri)
	}
	var lastErr error
	for attempt := 0; attempt <= b.Options.RetryLimit; attempt++ {
		storeBytes, err := b.Fetcher.Fetch(ctx, uri)
		if err == nil {
			return storeBytes, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchTimeout, uri, lastErr)
	}
	return nil, fmt.Errorf("fetching %s: %w", uri, lastErr)
}

// inferParent synthesizes a parent ingredient when the asset carries
// a prior store but the definition declares no parent. Exactly one
// parent is synthesized: the prior store's bytes are the content it
// hashes.
func (b *Builder) inferParent(asset *Asset, def Definition, ingredients []manifest.Ingredient) ([]manifest.Ingredient, error) {
	if asset.ExistingStore == nil {
		return ingredients, nil
	}
	for _, ingredient := range ingredients {
		if ingredient.Relationship == manifest.RelationshipParent {
			return ingredients, nil
		}
	}

	prior, err := manifest.DecodeStore(asset.ExistingStore)
	if err != nil {
		return nil, fmt.Errorf("decoding asset's existing store: %w", err)
	}
	active := prior.ActiveManifest()
	if active == nil {
		return nil, fmt.Errorf("asset's existing store contains no manifests: %w", manifest.ErrEmptyStore)
	}

	contentHash, err := hash.Digest(b.hashAlg(), asset.ExistingStore)
	if err != nil {
		return nil, err
	}
	parent := manifest.Ingredient{
		Label:          "parent",
		Title:          active.Claim.Title,
		Format:         asset.Format,
		Relationship:   manifest.RelationshipParent,
		Alg:            b.hashAlg(),
		ContentHash:    contentHash,
		ActiveManifest: active.Label(),
		StoreBytes:     asset.ExistingStore,
	}
	b.logger().Debug("inferred parent ingredient", "active_manifest", active.Label())
	return append([]manifest.Ingredient{parent}, ingredients...), nil
}

// assembleClaim fills the claim's reference lists: one HashedURI per
// assertion, ingredient, and databox, each digesting the element's
// serialized bytes.
func (b *Builder) assembleClaim(m *manifest.Manifest, alg hash.Algorithm) error {
	for _, assertion := range m.Assertions {
		hashedURI, err := bindURI(m.AssertionURI(assertion), alg, assertion)
		if err != nil {
			return fmt.Errorf("binding assertion %s: %w", assertion.AddressLabel(), err)
		}
		m.Claim.Assertions = append(m.Claim.Assertions, hashedURI)
	}
	for _, ingredient := range m.Ingredients {
		hashedURI, err := bindURI(m.IngredientURI(ingredient), alg, ingredient)
		if err != nil {
			return fmt.Errorf("binding ingredient %s: %w", ingredient.Label, err)
		}
		m.Claim.Ingredients = append(m.Claim.Ingredients, hashedURI)
	}
	for _, databox := range m.Databoxes {
		hashedURI, err := bindURI(m.DataboxURI(databox), alg, databox)
		if err != nil {
			return fmt.Errorf("binding databox %s: %w", databox.Label, err)
		}
		m.Claim.Databoxes = append(m.Claim.Databoxes, hashedURI)
	}
	return nil
}

// bindURI digests an element's serialized bytes into a HashedURI.
func bindURI(uri string, alg hash.Algorithm, element any) (manifest.HashedURI, error) {
	serialized, err := codec.Marshal(element)
	if err != nil {
		return manifest.HashedURI{}, err
	}
	digest, err := hash.Digest(alg, serialized)
	if err != nil {
		return manifest.HashedURI{}, err
	}
	return manifest.HashedURI{URI: uri, Alg: alg, Hash: digest}, nil
}

// instanceFor returns the instance index for a new assertion with the
// given label: zero for the first occurrence, then counting up.
func instanceFor(existing []manifest.Assertion, label string) int {
	count := 0
	for _, assertion := range existing {
		if assertion.Label == label {
			count++
		}
	}
	return count
}
