// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/cose"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
	"github.com/bureau-foundation/provenance/lib/trust"
)

// ErrCyclicIngredientReference indicates an embedded store whose
// active manifest is already being walked on the current path. A
// well-formed provenance graph is acyclic; this only occurs in
// deliberately malformed data.
var ErrCyclicIngredientReference = errors.New("cyclic ingredient reference")

// ErrIngredientDepthExceeded indicates ingredient nesting beyond the
// configured maximum. Bounds the walk against adversarially deep
// stores.
var ErrIngredientDepthExceeded = errors.New("ingredient nesting exceeds maximum depth")

// Walker verifies a manifest store and every embedded ingredient
// store reachable from it.
type Walker struct {
	// Verifier validates each manifest the walk reaches. Required.
	Verifier *cose.Verifier

	// MaxDepth bounds ingredient nesting. The asset's own store is
	// depth zero. Zero means trust.DefaultMaxIngredientDepth.
	MaxDepth int

	// Logger receives walk diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Node is one manifest's position in the provenance tree.
type Node struct {
	// ManifestLabel identifies the verified manifest. Empty for an
	// ingredient that carried no embedded store.
	ManifestLabel string `json:"manifest,omitempty"`

	// IngredientLabel is the label the consuming manifest gave this
	// ingredient. Empty at the root.
	IngredientLabel string `json:"ingredient,omitempty"`

	// Relationship is the ingredient's declared relationship to its
	// consumer. Empty at the root.
	Relationship manifest.Relationship `json:"relationship,omitempty"`

	// Depth is the nesting level; the asset's own store is zero.
	Depth int `json:"depth"`

	// Required marks that the consumer's validity depends on this
	// node's validity.
	Required bool `json:"required,omitempty"`

	// HasProvenance reports whether the ingredient carried an embedded
	// store. An ingredient without one is a leaf, not a failure.
	HasProvenance bool `json:"has_provenance"`

	// Outcome is the manifest's verification result, when
	// HasProvenance.
	Outcome *cose.Outcome `json:"outcome,omitempty"`

	// Problem records a defect local to this node: tampered ingredient
	// metadata, an unreadable embedded store, a dangling active
	// manifest reference.
	Problem string `json:"problem,omitempty"`

	// Ingredients holds child nodes in declaration order.
	Ingredients []*Node `json:"ingredients,omitempty"`
}

// Valid reports whether this node and every Required descendant
// verified cleanly. Non-required descendants may fail without
// invalidating their consumer.
func (n *Node) Valid() bool {
	if n.Problem != "" {
		return false
	}
	if n.HasProvenance && (n.Outcome == nil || !n.Outcome.Valid()) {
		return false
	}
	for _, child := range n.Ingredients {
		if child.Required && !child.Valid() {
			return false
		}
	}
	return true
}

// Report is the result of walking one store's provenance.
type Report struct {
	// Root is the asset's active manifest.
	Root *Node `json:"root"`

	// ManifestCount is the number of manifests verified across the
	// whole tree.
	ManifestCount int `json:"manifest_count"`
}

// Valid reports whether the active manifest and every Required
// ancestor in its provenance verified cleanly.
func (r *Report) Valid() bool {
	return r.Root.Valid()
}

func (w *Walker) maxDepth() int {
	if w.MaxDepth > 0 {
		return w.MaxDepth
	}
	return trust.DefaultMaxIngredientDepth
}

// WalkStore verifies the store's active manifest and recurses through
// every embedded ingredient store. Structural problems — an invalid
// store, a reference cycle, nesting beyond MaxDepth — return an
// error; verification failures are reported per node in the tree.
//
// The VerifyOptions apply to the root manifest. Ingredient manifests
// are verified without an asset digest (the prior asset's bytes are
// not available) but inherit the Strict setting.
func (w *Walker) WalkStore(ctx context.Context, store *manifest.Store, opts cose.VerifyOptions) (*Report, error) {
	if err := store.Validate(); err != nil {
		return nil, err
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	report := &Report{}
	path := make(map[string]bool)
	root, err := w.walkManifest(ctx, store.ActiveManifest(), 0, path, opts, report)
	if err != nil {
		return nil, err
	}
	report.Root = root

	logger.Debug("walked provenance graph",
		"root", root.ManifestLabel,
		"manifests", report.ManifestCount,
		"valid", report.Valid())
	return report, nil
}

func (w *Walker) walkManifest(ctx context.Context, m *manifest.Manifest, depth int, path map[string]bool, opts cose.VerifyOptions, report *Report) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > w.maxDepth() {
		return nil, fmt.Errorf("%w: nesting level %d, maximum %d", ErrIngredientDepthExceeded, depth, w.maxDepth())
	}

	key := manifestKey(m)
	if path[key] {
		return nil, fmt.Errorf("%w: manifest %s is already on the current path", ErrCyclicIngredientReference, m.Label())
	}
	path[key] = true
	defer delete(path, key)

	outcome, err := w.Verifier.VerifyManifest(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	report.ManifestCount++

	node := &Node{
		ManifestLabel: m.Label(),
		Depth:         depth,
		HasProvenance: true,
		Outcome:       outcome,
	}

	for i := range m.Ingredients {
		child, err := w.walkIngredient(ctx, m, &m.Ingredients[i], depth, path, opts, report)
		if err != nil {
			return nil, err
		}
		node.Ingredients = append(node.Ingredients, child)
	}
	return node, nil
}

func (w *Walker) walkIngredient(ctx context.Context, consumer *manifest.Manifest, ingredient *manifest.Ingredient, depth int, path map[string]bool, opts cose.VerifyOptions, report *Report) (*Node, error) {
	node := &Node{
		IngredientLabel: ingredient.Label,
		Relationship:    ingredient.Relationship,
		Depth:           depth + 1,
		Required:        ingredient.Required,
	}

	// The consumer's claim binds the ingredient metadata to a digest;
	// a mismatch means the metadata was altered after signing.
	if problem := checkIngredientDigest(consumer, ingredient); problem != "" {
		node.Problem = problem
		return node, nil
	}

	if ingredient.StoreBytes == nil {
		// The prior asset carried no provenance. A leaf, not a defect.
		return node, nil
	}

	embedded, err := manifest.DecodeStore(ingredient.StoreBytes)
	if err != nil {
		node.Problem = fmt.Sprintf("embedded store is unreadable: %v", err)
		return node, nil
	}

	target := embedded.ActiveManifest()
	if ingredient.ActiveManifest != "" {
		target = embedded.FindManifest(ingredient.ActiveManifest)
		if target == nil {
			node.Problem = fmt.Sprintf("embedded store has no manifest %q", ingredient.ActiveManifest)
			return node, nil
		}
	}
	if target == nil {
		node.Problem = "embedded store contains no manifests"
		return node, nil
	}

	// No asset digest for ingredient manifests: the prior asset's
	// bytes are not part of the store.
	childOpts := cose.VerifyOptions{Strict: opts.Strict}
	child, err := w.walkManifest(ctx, target, depth+1, path, childOpts, report)
	if err != nil {
		return nil, err
	}
	child.IngredientLabel = ingredient.Label
	child.Relationship = ingredient.Relationship
	child.Required = ingredient.Required
	child.HasProvenance = true
	return child, nil
}

// checkIngredientDigest verifies the ingredient's metadata against
// the digest the consumer's claim binds it to. An ingredient no claim
// reference binds is unsigned content and fails here even though the
// store validation also rejects it.
func checkIngredientDigest(consumer *manifest.Manifest, ingredient *manifest.Ingredient) string {
	for _, hashedURI := range consumer.Claim.Ingredients {
		_, _, elementLabel, err := manifest.SplitSelfPath(hashedURI.Reference().Identifier)
		if err != nil || elementLabel != ingredient.Label {
			continue
		}
		metadata, err := codec.Marshal(*ingredient)
		if err != nil {
			return fmt.Sprintf("encoding ingredient metadata: %v", err)
		}
		if err := hashedURI.Verify(metadata); err != nil {
			return fmt.Sprintf("ingredient metadata does not match the claim's recorded digest: %v", err)
		}
		return ""
	}
	return fmt.Sprintf("ingredient %q is not referenced by the claim", ingredient.Label)
}

// manifestKey identifies a manifest for cycle detection: the label
// plus the digest of the signed claim bytes. Two manifests with the
// same key are the same signed claim regardless of how they were
// reached.
func manifestKey(m *manifest.Manifest) string {
	digest, err := hash.Digest(hash.SHA256, m.ClaimBytes)
	if err != nil {
		return m.Label()
	}
	return m.Label() + "@" + hash.FormatDigest(digest)
}
