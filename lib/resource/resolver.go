// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
)

// ErrRemoteReference indicates a reference the resolver never
// resolves itself: http/https references belong to the caller's fetch
// collaborator.
var ErrRemoteReference = errors.New("remote reference is resolved by the fetch collaborator, not the resolver")

// Options configures a build-session resolver.
type Options struct {
	// AllowFileAccess enables reading local-file references from
	// disk. It also drives scheme precedence: a bare identifier with
	// no scheme is interpreted as a local-file reference when file
	// access is enabled, otherwise as a working-store reference.
	AllowFileAccess bool

	// Logger receives resolution diagnostics. Nil discards them.
	Logger *slog.Logger
}

// entry is one registered resource.
type entry struct {
	reference manifest.ResourceReference
	payload   []byte
	format    string

	// selfURI is assigned by the rewrite pass. Empty until then.
	selfURI string
}

// Resolver maps build-time identifiers to finalized self-referential
// addresses. Scoped to one build session; not safe for concurrent
// use across builds.
type Resolver struct {
	options Options
	logger  *slog.Logger

	// entries in registration order. Order determines databox labels,
	// keeping builds reproducible.
	entries []*entry

	// byURI indexes entries by their reference URI string.
	byURI map[string]*entry
}

// NewResolver creates a resolver for one build session.
func NewResolver(options Options) *Resolver {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		options: options,
		logger:  logger,
		byURI:   make(map[string]*entry),
	}
}

// Register records a resource under the given identifier and returns
// its build-time reference. The identifier may carry an explicit
// scheme prefix; a bare identifier gets the session's precedence
// scheme (file when file access is enabled, working-store otherwise).
//
// For local-file references a nil payload means "read the file now";
// that requires file access. Remote references are recorded so the
// builder can surface them to its fetch collaborator, but the
// resolver never fetches.
func (r *Resolver) Register(identifier string, payload []byte, format string) (manifest.ResourceReference, error) {
	reference := manifest.ParseReference(identifier)
	if reference.Scheme == "" {
		if r.options.AllowFileAccess {
			reference.Scheme = manifest.SchemeFile
		} else {
			reference.Scheme = manifest.SchemeWorkingStore
		}
	}

	switch reference.Scheme {
	case manifest.SchemeSelf:
		return manifest.ResourceReference{}, fmt.Errorf("registering %q: self-referential addresses are assigned by the resolver, not registered", identifier)
	case manifest.SchemeFile:
		if !r.options.AllowFileAccess {
			return manifest.ResourceReference{}, fmt.Errorf("registering %q: file access is disabled for this build session", identifier)
		}
		if payload == nil {
			content, err := os.ReadFile(reference.Identifier)
			if err != nil {
				return manifest.ResourceReference{}, fmt.Errorf("reading resource file %s: %w", reference.Identifier, err)
			}
			payload = content
		}
	case manifest.SchemeWorkingStore:
		if payload == nil {
			return manifest.ResourceReference{}, fmt.Errorf("registering %q: working-store references require a payload", identifier)
		}
	}

	if existing, ok := r.byURI[reference.URI()]; ok {
		return existing.reference, nil
	}

	registered := &entry{reference: reference, payload: payload, format: format}
	r.entries = append(r.entries, registered)
	r.byURI[reference.URI()] = registered
	r.logger.Debug("registered resource", "uri", reference.URI(), "bytes", len(payload))
	return reference, nil
}

// RegisterFile records a local file as a resource, reading it
// immediately. Requires file access.
func (r *Resolver) RegisterFile(identifier, path string, format string) (manifest.ResourceReference, error) {
	if !r.options.AllowFileAccess {
		return manifest.ResourceReference{}, fmt.Errorf("registering %q: file access is disabled for this build session", identifier)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return manifest.ResourceReference{}, fmt.Errorf("reading resource file %s: %w", path, err)
	}
	return r.Register(identifier, payload, format)
}

// Resolve returns the canonical self-referential address assigned to
// a reference during the rewrite pass. Referencing an identifier that
// was never registered is fatal to the build.
func (r *Resolver) Resolve(reference manifest.ResourceReference) (string, error) {
	if reference.Scheme == manifest.SchemeRemote {
		return "", fmt.Errorf("%w: %s", ErrRemoteReference, reference.URI())
	}
	registered, ok := r.byURI[reference.URI()]
	if !ok {
		return "", fmt.Errorf("%w: %q was never registered", manifest.ErrUnresolvedReference, reference.URI())
	}
	if registered.selfURI == "" {
		return "", fmt.Errorf("resolving %q: rewrite pass has not run", reference.URI())
	}
	return registered.selfURI, nil
}

// RewriteManifest is the finalization pass. It embeds every
// registered resource into the manifest as a databox, assigns each
// its self-referential address, and rewrites every HashedUri inside
// the manifest's assertion payloads that pointed at a local-file or
// working-store reference — updating the digest to cover the embedded
// content. After this pass no build-time scheme remains anywhere in
// the manifest.
//
// Must run before claim assembly: assertion payload bytes change
// here, and the claim's assertion digests cover the final bytes.
func (r *Resolver) RewriteManifest(m *manifest.Manifest, alg hash.Algorithm) error {
	// Phase one: assign addresses. Databox labels are ordinal in
	// registration order.
	for i, registered := range r.entries {
		if registered.reference.Scheme == manifest.SchemeRemote {
			continue
		}
		databox := manifest.Databox{
			Label:  fmt.Sprintf("databox-%d", i),
			Format: registered.format,
			Data:   registered.payload,
		}
		m.Databoxes = append(m.Databoxes, databox)
		registered.selfURI = m.DataboxURI(databox)
		r.logger.Debug("assigned self address", "uri", registered.reference.URI(), "self", registered.selfURI)
	}

	// Phase two: rewrite references inside assertion payloads.
	for i := range m.Assertions {
		rewritten, changed, err := r.rewritePayload(m.Assertions[i].Data, alg)
		if err != nil {
			return fmt.Errorf("assertion %s: %w", m.Assertions[i].AddressLabel(), err)
		}
		if changed {
			m.Assertions[i].Data = rewritten
		}
	}
	return nil
}

// rewritePayload decodes an assertion payload, rewrites every
// embedded HashedUri that uses a build-time scheme, and re-encodes.
// Returns the original bytes unchanged when nothing needed rewriting.
func (r *Resolver) rewritePayload(payload codec.RawMessage, alg hash.Algorithm) (codec.RawMessage, bool, error) {
	var decoded any
	if err := codec.Unmarshal(payload, &decoded); err != nil {
		return nil, false, fmt.Errorf("decoding assertion payload: %w", err)
	}

	changed, err := r.rewriteValue(decoded, alg)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return payload, false, nil
	}

	reencoded, err := codec.Marshal(decoded)
	if err != nil {
		return nil, false, fmt.Errorf("re-encoding assertion payload: %w", err)
	}
	return codec.RawMessage(reencoded), true, nil
}

// rewriteValue walks a decoded CBOR value. A map carrying a "url"
// string is treated as a HashedUri: a build-time scheme is rewritten
// to the registered resource's self address and the digest is
// recomputed over the embedded content.
func (r *Resolver) rewriteValue(value any, alg hash.Algorithm) (bool, error) {
	switch typed := value.(type) {
	case map[string]any:
		changed := false
		if url, ok := typed["url"].(string); ok {
			reference := manifest.ParseReference(url)
			switch reference.Scheme {
			case manifest.SchemeFile, manifest.SchemeWorkingStore:
				registered, ok := r.byURI[reference.URI()]
				if !ok {
					return false, fmt.Errorf("%w: %q", manifest.ErrUnresolvedReference, url)
				}
				digest, err := hash.Digest(alg, registered.payload)
				if err != nil {
					return false, err
				}
				typed["url"] = registered.selfURI
				typed["alg"] = string(alg)
				typed["hash"] = digest
				changed = true
			}
		}
		for key, nested := range typed {
			nestedChanged, err := r.rewriteValue(nested, alg)
			if err != nil {
				return false, fmt.Errorf("at key %q: %w", key, err)
			}
			changed = changed || nestedChanged
		}
		return changed, nil
	case []any:
		changed := false
		for _, element := range typed {
			elementChanged, err := r.rewriteValue(element, alg)
			if err != nil {
				return false, err
			}
			changed = changed || elementChanged
		}
		return changed, nil
	default:
		return false, nil
	}
}

// Lookup returns the payload registered under a self-referential
// address assigned during this session's rewrite pass.
func (r *Resolver) Lookup(selfURI string) ([]byte, error) {
	for _, registered := range r.entries {
		if registered.selfURI == selfURI {
			return registered.payload, nil
		}
	}
	return nil, fmt.Errorf("%w: no resource at %q", manifest.ErrUnresolvedReference, selfURI)
}

// LookupInManifest is the read-side lookup: it resolves a
// self-referential databox address against a decoded manifest.
func LookupInManifest(m *manifest.Manifest, selfURI string) ([]byte, error) {
	reference := manifest.ParseReference(selfURI)
	if !reference.SelfReferential() {
		return nil, fmt.Errorf("%w: %q is not a self-referential address", manifest.ErrUnresolvedReference, selfURI)
	}
	for _, databox := range m.Databoxes {
		if m.DataboxURI(databox) == selfURI {
			return databox.Data, nil
		}
	}
	return nil, fmt.Errorf("%w: no databox at %q", manifest.ErrUnresolvedReference, selfURI)
}
