// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/ocsp"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
	"github.com/bureau-foundation/provenance/lib/trust"
)

// Verifier validates manifests against a configured trust anchor
// set. Stateless apart from configuration; safe for concurrent use.
type Verifier struct {
	// Anchors is the root set for chain validation. Required.
	Anchors *trust.Anchors

	// Logger receives verification diagnostics. Nil discards them.
	Logger *slog.Logger
}

// VerifyOptions supplies per-call inputs the engine cannot compute
// itself.
type VerifyOptions struct {
	// AssetDigest is the asset's content hash recomputed by the
	// caller over the embedding adapter's exclusion ranges. Nil skips
	// the asset hash comparison (claim hash is still checked).
	AssetDigest []byte

	// AssetDigestAlg is the algorithm that produced AssetDigest. A
	// mismatch with the claim's recorded algorithm is an explicit
	// failure, never silently ignored.
	AssetDigestAlg hash.Algorithm

	// OCSPResponse is an externally supplied DER revocation response
	// for the signing certificate. When nil, the envelope's embedded
	// response is used; when that is also nil the revocation check is
	// skipped.
	OCSPResponse []byte

	// Strict escalates inconclusive checks (unparseable revocation
	// response, unknown revocation status) to failures.
	Strict bool
}

// VerifyManifest runs the four verification steps over one manifest
// and reports each independently. Configuration problems (no trust
// anchors) return an error before any cryptographic work; everything
// else is reported in the Outcome, and a failed step never suppresses
// the remaining steps.
func (v *Verifier) VerifyManifest(ctx context.Context, m *manifest.Manifest, opts VerifyOptions) (*Outcome, error) {
	if v.Anchors.Empty() {
		return nil, trust.ErrNoAnchors
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	outcome := &Outcome{ManifestLabel: m.Label()}

	envelope, err := DecodeEnvelope(m.Signature)
	if err != nil {
		// Without a decodable envelope there is no recorded hash, no
		// signature, and no chain: the signature check fails and the
		// others cannot run.
		outcome.add(CodeHashMismatch, StatusSkipped, "signature envelope is unreadable")
		outcome.add(CodeSignatureInvalid, StatusFail, err.Error())
		outcome.add(CodeTrustChainInvalid, StatusSkipped, "signature envelope is unreadable")
		outcome.add(CodeCertificateRevoked, StatusSkipped, "signature envelope is unreadable")
		return outcome, nil
	}
	signingTime := envelope.SigningTime
	outcome.SigningTime = &signingTime

	v.checkHashes(outcome, m, envelope, opts)
	v.checkAssertions(outcome, m)

	leaf, issuer, parseErr := parseChain(envelope.CertChain)
	if parseErr != nil {
		outcome.add(CodeSignatureInvalid, StatusFail, parseErr.Error())
		outcome.add(CodeTrustChainInvalid, StatusFail, parseErr.Error())
		outcome.add(CodeCertificateRevoked, StatusSkipped, "certificate chain is unreadable")
		return outcome, nil
	}
	if len(leaf.Issuer.Organization) > 0 {
		outcome.IssuerOrganization = leaf.Issuer.Organization[0]
	}

	v.checkSignature(outcome, envelope, leaf)
	v.checkChain(outcome, envelope, leaf)
	v.checkRevocation(outcome, envelope, leaf, issuer, opts)

	logger.Debug("verified manifest",
		"manifest", m.Label(),
		"valid", outcome.Valid(),
		"alg", string(envelope.Alg))
	return outcome, nil
}

// checkHashes recomputes the claim hash against the envelope's
// recorded hash, and the asset hash against the claim's recorded
// asset hash when the caller supplied one.
func (v *Verifier) checkHashes(outcome *Outcome, m *manifest.Manifest, envelope *Envelope, opts VerifyOptions) {
	if err := envelope.HashAlg.Validate(); err != nil {
		outcome.add(CodeHashMismatch, StatusFail, err.Error())
		return
	}

	claimHash, err := hash.Digest(envelope.HashAlg, m.ClaimBytes)
	if err != nil {
		outcome.add(CodeHashMismatch, StatusFail, err.Error())
		return
	}
	if !bytes.Equal(claimHash, envelope.PayloadHash) {
		outcome.add(CodeHashMismatch, StatusFail, fmt.Sprintf(
			"claim hash %s does not match recorded %s",
			hash.FormatDigest(claimHash), hash.FormatDigest(envelope.PayloadHash)))
		return
	}

	if opts.AssetDigest != nil {
		if opts.AssetDigestAlg != m.Claim.Alg {
			outcome.add(CodeHashMismatch, StatusFail, fmt.Sprintf(
				"%v: asset digest computed with %s, claim records %s",
				hash.ErrAlgorithmMismatch, opts.AssetDigestAlg, m.Claim.Alg))
			return
		}
		if !bytes.Equal(opts.AssetDigest, m.Claim.AssetHash) {
			outcome.add(CodeHashMismatch, StatusFail, "asset content hash does not match the claim's recorded hash")
			return
		}
	}

	outcome.add(CodeHashMismatch, StatusPass, "")
}

// checkAssertions verifies every assertion's content against the
// digest its claim reference binds it to. Each failing assertion gets
// its own step so a report names every mismatch, not just the first.
func (v *Verifier) checkAssertions(outcome *Outcome, m *manifest.Manifest) {
	failed := false
	for _, hashedURI := range m.Claim.Assertions {
		reference := hashedURI.Reference()
		_, _, elementLabel, err := manifest.SplitSelfPath(reference.Identifier)
		if err != nil {
			outcome.add(CodeAssertionMismatch, StatusFail, err.Error())
			failed = true
			continue
		}
		assertion := m.FindAssertion(elementLabel)
		if assertion == nil {
			outcome.add(CodeAssertionMismatch, StatusFail, fmt.Sprintf("claim references missing assertion %q", elementLabel))
			failed = true
			continue
		}
		payload, err := codec.Marshal(*assertion)
		if err != nil {
			outcome.add(CodeAssertionMismatch, StatusFail, fmt.Sprintf("assertion %q: %v", elementLabel, err))
			failed = true
			continue
		}
		if err := hashedURI.Verify(payload); err != nil {
			outcome.add(CodeAssertionMismatch, StatusFail, fmt.Sprintf("assertion %q: %v", elementLabel, err))
			failed = true
			continue
		}
	}
	if !failed {
		outcome.add(CodeAssertionMismatch, StatusPass, "")
	}
}

// checkSignature validates the detached signature against the
// recorded claim hash and the leaf certificate's public key.
func (v *Verifier) checkSignature(outcome *Outcome, envelope *Envelope, leaf *x509.Certificate) {
	var valid bool
	var reason string
	switch publicKey := leaf.PublicKey.(type) {
	case *ecdsa.PublicKey:
		valid = ecdsa.VerifyASN1(publicKey, envelope.PayloadHash, envelope.Signature)
	case *rsa.PublicKey:
		err := rsa.VerifyPSS(publicKey, cryptoHashFor(envelope.Alg), envelope.PayloadHash, envelope.Signature, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
		})
		valid = err == nil
		if err != nil {
			reason = err.Error()
		}
	case ed25519.PublicKey:
		valid = ed25519.Verify(publicKey, envelope.PayloadHash, envelope.Signature)
	default:
		reason = fmt.Sprintf("unsupported public key type %T", leaf.PublicKey)
	}

	if valid {
		outcome.add(CodeSignatureInvalid, StatusPass, "")
		return
	}
	if reason == "" {
		reason = "detached signature does not verify against the leaf certificate"
	}
	outcome.add(CodeSignatureInvalid, StatusFail, reason)
}

// checkChain validates the certificate chain up to the configured
// trust anchors. Validity windows are checked at the claim's signing
// time, not verification time: a certificate that expired after
// signing does not invalidate signatures made while it was valid.
func (v *Verifier) checkChain(outcome *Outcome, envelope *Envelope, leaf *x509.Certificate) {
	intermediates := x509.NewCertPool()
	for _, der := range envelope.CertChain[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			outcome.add(CodeTrustChainInvalid, StatusFail, fmt.Sprintf("parsing intermediate certificate: %v", err))
			return
		}
		intermediates.AddCert(cert)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.Anchors.Pool(),
		Intermediates: intermediates,
		CurrentTime:   envelope.SigningTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		outcome.add(CodeTrustChainInvalid, StatusFail, err.Error())
		return
	}
	outcome.add(CodeTrustChainInvalid, StatusPass, "")
}

// checkRevocation evaluates an externally supplied (or
// envelope-embedded) OCSP response. No response means the check is
// skipped; an unreadable response or unknown status is inconclusive
// unless strict mode escalates it.
func (v *Verifier) checkRevocation(outcome *Outcome, envelope *Envelope, leaf, issuer *x509.Certificate, opts VerifyOptions) {
	response := opts.OCSPResponse
	if response == nil {
		response = envelope.OCSPResponse
	}
	if response == nil {
		outcome.add(CodeCertificateRevoked, StatusSkipped, "no revocation response supplied")
		return
	}

	parsed, err := ocsp.ParseResponseForCert(response, leaf, issuer)
	if err != nil {
		status := StatusInconclusive
		if opts.Strict {
			status = StatusFail
		}
		outcome.add(CodeCertificateRevoked, status, fmt.Sprintf("parsing revocation response: %v", err))
		return
	}

	switch parsed.Status {
	case ocsp.Good:
		outcome.add(CodeCertificateRevoked, StatusPass, "")
	case ocsp.Revoked:
		outcome.add(CodeCertificateRevoked, StatusFail, fmt.Sprintf("certificate revoked at %s", parsed.RevokedAt.UTC().Format("2006-01-02T15:04:05Z")))
	default:
		status := StatusInconclusive
		if opts.Strict {
			status = StatusFail
		}
		outcome.add(CodeCertificateRevoked, status, "revocation status unknown")
	}
}

// parseChain parses the envelope's DER chain and returns the leaf and
// the issuer to use for revocation checks (the leaf itself for
// self-signed single-certificate chains).
func parseChain(chain [][]byte) (leaf, issuer *x509.Certificate, err error) {
	if len(chain) == 0 {
		return nil, nil, fmt.Errorf("signature envelope carries no certificates")
	}
	leaf, err = x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing leaf certificate: %w", err)
	}
	issuer = leaf
	if len(chain) > 1 {
		issuer, err = x509.ParseCertificate(chain[1])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing issuer certificate: %w", err)
		}
	}
	return leaf, issuer, nil
}
