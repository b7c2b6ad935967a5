// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrNoAnchors indicates verification was attempted with no
// configured trust anchors. Configuration error — fatal before any
// cryptographic work.
var ErrNoAnchors = errors.New("no trust anchors configured")

// Anchors is the set of certificates configured as roots of trust for
// chain validation. Immutable after construction.
type Anchors struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// NewAnchors builds an anchor set from parsed certificates.
func NewAnchors(certs ...*x509.Certificate) *Anchors {
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return &Anchors{pool: pool, certs: certs}
}

// ParseAnchorsPEM builds an anchor set from PEM data holding one or
// more CERTIFICATE blocks.
func ParseAnchorsPEM(pemData []byte) (*Anchors, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing trust anchor certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: PEM data contains no certificates", ErrNoAnchors)
	}
	return NewAnchors(certs...), nil
}

// Empty reports whether the set holds no anchors.
func (a *Anchors) Empty() bool {
	return a == nil || len(a.certs) == 0
}

// Pool returns the anchor set as an x509.CertPool for chain
// verification.
func (a *Anchors) Pool() *x509.CertPool {
	if a == nil {
		return x509.NewCertPool()
	}
	return a.pool.Clone()
}

// Certificates returns the anchor certificates.
func (a *Anchors) Certificates() []*x509.Certificate {
	if a == nil {
		return nil
	}
	return a.certs
}
