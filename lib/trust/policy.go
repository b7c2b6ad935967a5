// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMaxIngredientDepth bounds the ingredient graph walk when the
// policy does not set one.
const DefaultMaxIngredientDepth = 20

// Policy is the verification policy loaded from a YAML file: the
// trust anchors plus the knobs that govern ingredient traversal and
// remote resolution.
type Policy struct {
	// Anchors is the configured root set.
	Anchors *Anchors

	// MaxIngredientDepth bounds recursive ingredient traversal.
	MaxIngredientDepth int

	// StrictRemoteResolution escalates transient remote failures
	// (fetch timeouts, unavailable revocation providers) from
	// "inconclusive" to integrity failures.
	StrictRemoteResolution bool
}

// policyFile is the YAML wire form.
type policyFile struct {
	Anchors []anchorEntry `yaml:"anchors"`

	MaxIngredientDepth     int  `yaml:"max_ingredient_depth"`
	StrictRemoteResolution bool `yaml:"strict_remote_resolution"`
}

// anchorEntry names one anchor source: an inline PEM block or a path
// to a PEM file. Exactly one must be set.
type anchorEntry struct {
	PEM  string `yaml:"pem,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// LoadPolicy reads and validates a policy file. A policy with no
// anchors fails with ErrNoAnchors — there are no fallbacks or
// automatic discovery.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust policy %s: %w", path, err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing trust policy %s: %w", path, err)
	}

	var pemData []byte
	for i, entry := range file.Anchors {
		switch {
		case entry.PEM != "" && entry.Path != "":
			return nil, fmt.Errorf("trust policy %s: anchor %d sets both pem and path", path, i)
		case entry.PEM != "":
			pemData = append(pemData, entry.PEM...)
			pemData = append(pemData, '\n')
		case entry.Path != "":
			fileData, err := os.ReadFile(entry.Path)
			if err != nil {
				return nil, fmt.Errorf("reading anchor file %s: %w", entry.Path, err)
			}
			pemData = append(pemData, fileData...)
			pemData = append(pemData, '\n')
		default:
			return nil, fmt.Errorf("trust policy %s: anchor %d sets neither pem nor path", path, i)
		}
	}
	if len(pemData) == 0 {
		return nil, fmt.Errorf("trust policy %s: %w", path, ErrNoAnchors)
	}

	anchors, err := ParseAnchorsPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("trust policy %s: %w", path, err)
	}

	policy := &Policy{
		Anchors:                anchors,
		MaxIngredientDepth:     file.MaxIngredientDepth,
		StrictRemoteResolution: file.StrictRemoteResolution,
	}
	if policy.MaxIngredientDepth <= 0 {
		policy.MaxIngredientDepth = DefaultMaxIngredientDepth
	}
	return policy, nil
}
