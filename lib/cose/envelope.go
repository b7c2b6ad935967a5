// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
)

// Envelope is the detached signature carried in a manifest's claim
// signature box: the algorithm, the signing certificate chain, the
// claim hash the signature covers (with its digest algorithm), the
// signature itself, and the signing time used for chain validation.
type Envelope struct {
	// Alg is the signature algorithm.
	Alg SigningAlg `json:"alg"`

	// CertChain is the signing certificate chain as DER bytes, leaf
	// first.
	CertChain [][]byte `json:"x5chain"`

	// HashAlg is the digest algorithm that produced PayloadHash.
	HashAlg hash.Algorithm `json:"payload_hash_alg"`

	// PayloadHash is the digest of the claim bytes the signature
	// covers. Recorded so hash verification and signature
	// verification report independently.
	PayloadHash []byte `json:"payload_hash"`

	// Signature is the detached signature over PayloadHash.
	Signature []byte `json:"signature"`

	// SigningTime is when the claim was signed. Chain validity
	// windows are checked at this time, not verification time.
	SigningTime time.Time `json:"signing_time"`

	// OCSPResponse is an optional pre-fetched DER OCSP response for
	// the leaf certificate.
	OCSPResponse []byte `json:"ocsp,omitempty"`
}

// SignClaim computes the claim hash with the signer's paired digest
// algorithm, drives the signer, and returns the encoded envelope.
// The signing time is recorded in the envelope; pass time.Now() for
// normal builds.
func SignClaim(ctx context.Context, signer Signer, claimBytes []byte, signingTime time.Time) ([]byte, error) {
	if err := signer.Alg().Validate(); err != nil {
		return nil, err
	}
	hashAlg := signer.Alg().HashAlg()

	claimHash, err := hash.Digest(hashAlg, claimBytes)
	if err != nil {
		return nil, fmt.Errorf("hashing claim: %w", err)
	}

	signature, err := signer.Sign(ctx, claimHash)
	if err != nil {
		return nil, fmt.Errorf("signing claim: %w", err)
	}

	chain, err := signer.CertChain()
	if err != nil {
		return nil, fmt.Errorf("fetching signing certificate chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("signer returned an empty certificate chain")
	}

	envelope := Envelope{
		Alg:          signer.Alg(),
		CertChain:    chain,
		HashAlg:      hashAlg,
		PayloadHash:  claimHash,
		Signature:    signature,
		SigningTime:  signingTime.UTC(),
		OCSPResponse: signer.OCSPResponse(),
	}
	encoded, err := codec.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding signature envelope: %w", err)
	}
	return encoded, nil
}

// DecodeEnvelope parses an encoded signature envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding signature envelope: %w", err)
	}
	return &envelope, nil
}
