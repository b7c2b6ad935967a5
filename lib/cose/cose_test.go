// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
	"github.com/bureau-foundation/provenance/lib/trust"
)

// testAuthority is a generated CA with one leaf signing certificate.
type testAuthority struct {
	caCert  *x509.Certificate
	caKey   crypto.Signer
	leaf    *x509.Certificate
	leafKey crypto.Signer
	chain   [][]byte
	anchors *trust.Anchors
}

// newTestAuthority generates a CA and a leaf certificate for the
// given signing algorithm's key type.
func newTestAuthority(t *testing.T, alg SigningAlg) *testAuthority {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Provenance Root", Organization: []string{"Test Org"}},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, caKey.Public(), caKey)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}

	var leafKey crypto.Signer
	switch alg {
	case Ed25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generating leaf key: %v", err)
		}
		leafKey = key
	default:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatalf("generating leaf key: %v", err)
		}
		leafKey = key
	}

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Signer", Organization: []string{"Test Org"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, leafKey.Public(), caKey)
	if err != nil {
		t.Fatalf("creating leaf certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		t.Fatalf("parsing leaf certificate: %v", err)
	}

	return &testAuthority{
		caCert:  caCert,
		caKey:   caKey,
		leaf:    leaf,
		leafKey: leafKey,
		chain:   [][]byte{leafDER, caDER},
		anchors: trust.NewAnchors(caCert),
	}
}

// newSignedManifest builds a minimal manifest and signs its claim.
func newSignedManifest(t *testing.T, signer Signer, label string) *manifest.Manifest {
	t.Helper()

	assetHash, err := hash.Digest(signer.Alg().HashAlg(), []byte("asset bytes"))
	if err != nil {
		t.Fatalf("hashing asset: %v", err)
	}
	m := &manifest.Manifest{}
	m.Claim = manifest.Claim{
		Label:     label,
		Alg:       signer.Alg().HashAlg(),
		AssetHash: assetHash,
	}
	m.Claim.SignatureRef = m.SignatureURI()

	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		t.Fatalf("marshaling claim: %v", err)
	}
	m.ClaimBytes = claimBytes

	signature, err := SignClaim(context.Background(), signer, claimBytes, time.Now())
	if err != nil {
		t.Fatalf("SignClaim failed: %v", err)
	}
	m.Signature = signature
	return m
}

func TestSignAndVerify(t *testing.T) {
	for _, alg := range []SigningAlg{ES256, Ed25519} {
		t.Run(string(alg), func(t *testing.T) {
			authority := newTestAuthority(t, alg)
			signer, err := NewLocalSigner(alg, authority.leafKey, authority.chain)
			if err != nil {
				t.Fatalf("NewLocalSigner failed: %v", err)
			}

			m := newSignedManifest(t, signer, "urn:uuid:signed")
			verifier := &Verifier{Anchors: authority.anchors}
			outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
			if err != nil {
				t.Fatalf("VerifyManifest failed: %v", err)
			}
			if !outcome.Valid() {
				t.Fatalf("valid manifest reported invalid: %+v", outcome.Steps)
			}
			if outcome.StatusOf(CodeHashMismatch) != StatusPass {
				t.Error("hash check did not pass")
			}
			if outcome.StatusOf(CodeSignatureInvalid) != StatusPass {
				t.Error("signature check did not pass")
			}
			if outcome.StatusOf(CodeTrustChainInvalid) != StatusPass {
				t.Error("chain check did not pass")
			}
			if outcome.IssuerOrganization != "Test Org" {
				t.Errorf("issuer organization = %q, want Test Org", outcome.IssuerOrganization)
			}
		})
	}
}

func TestTamperedClaimDetected(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	m := newSignedManifest(t, signer, "urn:uuid:tampered")

	// Flip one byte of the signed claim payload.
	tampered := append([]byte(nil), m.ClaimBytes...)
	tampered[len(tampered)-1] ^= 0x01
	m.ClaimBytes = tampered

	verifier := &Verifier{Anchors: authority.anchors}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if outcome.Valid() {
		t.Fatal("tampered manifest reported valid")
	}
	if !outcome.Failed(CodeHashMismatch) {
		t.Errorf("hash mismatch not reported: %+v", outcome.Steps)
	}
	// The signature step still runs — failures are independent.
	if outcome.StatusOf(CodeSignatureInvalid) == StatusSkipped {
		t.Error("signature check was skipped after hash failure")
	}
}

func TestUnanchoredChainRejected(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	otherAuthority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	m := newSignedManifest(t, signer, "urn:uuid:unanchored")

	// Verified against a different root set: trust chain fails but
	// the signature itself is still good.
	verifier := &Verifier{Anchors: otherAuthority.anchors}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeTrustChainInvalid) {
		t.Errorf("unanchored chain not reported: %+v", outcome.Steps)
	}
	if outcome.StatusOf(CodeSignatureInvalid) != StatusPass {
		t.Error("signature check should pass independently of trust")
	}

	// Against the correct anchors the same manifest has no trust
	// error.
	correctVerifier := &Verifier{Anchors: authority.anchors}
	correctOutcome, err := correctVerifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if correctOutcome.Failed(CodeTrustChainInvalid) {
		t.Error("anchored chain reported invalid")
	}
}

func TestChainValidityAtSigningTime(t *testing.T) {
	// Validity windows are checked at the claim's recorded signing
	// time: a signing time outside the leaf's window fails the chain
	// even though the certificate is valid right now.
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	m := &manifest.Manifest{}
	m.Claim = manifest.Claim{Label: "urn:uuid:time-travel", Alg: hash.SHA256}
	m.Claim.SignatureRef = m.SignatureURI()
	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		t.Fatalf("marshaling claim: %v", err)
	}
	m.ClaimBytes = claimBytes

	// Signing time far in the future, outside the leaf's validity.
	signature, err := SignClaim(context.Background(), signer, claimBytes, time.Now().Add(10*365*24*time.Hour))
	if err != nil {
		t.Fatalf("SignClaim failed: %v", err)
	}
	m.Signature = signature

	verifier := &Verifier{Anchors: authority.anchors}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeTrustChainInvalid) {
		t.Error("signing time outside validity window not reported")
	}
}

func TestAssetDigestComparison(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	m := newSignedManifest(t, signer, "urn:uuid:asset-check")
	verifier := &Verifier{Anchors: authority.anchors}

	correctDigest, err := hash.Digest(hash.SHA256, []byte("asset bytes"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{
		AssetDigest:    correctDigest,
		AssetDigestAlg: hash.SHA256,
	})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Valid() {
		t.Fatalf("matching asset digest reported invalid: %+v", outcome.Steps)
	}

	wrongDigest, err := hash.Digest(hash.SHA256, []byte("different asset"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{
		AssetDigest:    wrongDigest,
		AssetDigestAlg: hash.SHA256,
	})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeHashMismatch) {
		t.Error("asset hash mismatch not reported")
	}

	// Algorithm mismatch is an explicit failure, never silently
	// ignored.
	blake3Digest, err := hash.Digest(hash.BLAKE3, []byte("asset bytes"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{
		AssetDigest:    blake3Digest,
		AssetDigestAlg: hash.BLAKE3,
	})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeHashMismatch) {
		t.Error("asset digest algorithm mismatch not reported")
	}
}

func TestAssertionTamperDetected(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	// Manifest with one assertion, properly referenced by the claim.
	assertionData, err := codec.Marshal(map[string]any{"action": "c2pa.edited"})
	if err != nil {
		t.Fatalf("marshaling assertion data: %v", err)
	}
	m := &manifest.Manifest{
		Assertions: []manifest.Assertion{{Label: "c2pa.actions", Data: codec.RawMessage(assertionData)}},
	}
	m.Claim = manifest.Claim{Label: "urn:uuid:assertion-tamper", Alg: hash.SHA256}
	m.Claim.SignatureRef = m.SignatureURI()

	assertionPayload, err := codec.Marshal(m.Assertions[0])
	if err != nil {
		t.Fatalf("marshaling assertion: %v", err)
	}
	assertionDigest, err := hash.Digest(hash.SHA256, assertionPayload)
	if err != nil {
		t.Fatalf("hashing assertion: %v", err)
	}
	m.Claim.Assertions = []manifest.HashedURI{{
		URI:  m.AssertionURI(m.Assertions[0]),
		Alg:  hash.SHA256,
		Hash: assertionDigest,
	}}

	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		t.Fatalf("marshaling claim: %v", err)
	}
	m.ClaimBytes = claimBytes
	signature, err := SignClaim(context.Background(), signer, claimBytes, time.Now())
	if err != nil {
		t.Fatalf("SignClaim failed: %v", err)
	}
	m.Signature = signature

	verifier := &Verifier{Anchors: authority.anchors}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Valid() {
		t.Fatalf("untampered assertion reported invalid: %+v", outcome.Steps)
	}

	// Replace the assertion content after signing.
	replacement, err := codec.Marshal(map[string]any{"action": "c2pa.nothing_happened"})
	if err != nil {
		t.Fatalf("marshaling replacement: %v", err)
	}
	m.Assertions[0].Data = codec.RawMessage(replacement)

	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeAssertionMismatch) {
		t.Errorf("tampered assertion not reported: %+v", outcome.Steps)
	}
}

func TestEveryTamperedAssertionReported(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}

	// Manifest with three assertions, all referenced by the claim.
	m := &manifest.Manifest{}
	m.Claim = manifest.Claim{Label: "urn:uuid:multi-tamper", Alg: hash.SHA256}
	m.Claim.SignatureRef = m.SignatureURI()
	for _, label := range []string{"c2pa.actions", "c2pa.hash.data", "stds.schema-org.CreativeWork"} {
		data, err := codec.Marshal(map[string]any{"label": label})
		if err != nil {
			t.Fatalf("marshaling assertion data: %v", err)
		}
		assertion := manifest.Assertion{Label: label, Data: codec.RawMessage(data)}
		m.Assertions = append(m.Assertions, assertion)

		payload, err := codec.Marshal(assertion)
		if err != nil {
			t.Fatalf("marshaling assertion: %v", err)
		}
		digest, err := hash.Digest(hash.SHA256, payload)
		if err != nil {
			t.Fatalf("hashing assertion: %v", err)
		}
		m.Claim.Assertions = append(m.Claim.Assertions, manifest.HashedURI{
			URI:  m.AssertionURI(assertion),
			Alg:  hash.SHA256,
			Hash: digest,
		})
	}

	claimBytes, err := codec.Marshal(m.Claim)
	if err != nil {
		t.Fatalf("marshaling claim: %v", err)
	}
	m.ClaimBytes = claimBytes
	signature, err := SignClaim(context.Background(), signer, claimBytes, time.Now())
	if err != nil {
		t.Fatalf("SignClaim failed: %v", err)
	}
	m.Signature = signature

	// Tamper with the first and third assertions; the second stays
	// intact. The report must name both mismatches.
	for _, i := range []int{0, 2} {
		replacement, err := codec.Marshal(map[string]any{"label": "altered"})
		if err != nil {
			t.Fatalf("marshaling replacement: %v", err)
		}
		m.Assertions[i].Data = codec.RawMessage(replacement)
	}

	verifier := &Verifier{Anchors: authority.anchors}
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}

	failures := 0
	for _, step := range outcome.Steps {
		if step.Code == CodeAssertionMismatch && step.Status == StatusFail {
			failures++
			if step.Reason == "" {
				t.Error("assertion mismatch step carries no reason")
			}
		}
	}
	if failures != 2 {
		t.Errorf("assertion mismatch failures = %d, want 2: %+v", failures, outcome.Steps)
	}
	if outcome.StatusOf(CodeAssertionMismatch) != StatusFail {
		t.Error("assertion check did not fail")
	}
}

func TestRevocation(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	m := newSignedManifest(t, signer, "urn:uuid:revocation")
	verifier := &Verifier{Anchors: authority.anchors}

	// No response: check is skipped, manifest still valid.
	outcome, err := verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if outcome.StatusOf(CodeCertificateRevoked) != StatusSkipped {
		t.Error("revocation check should be skipped without a response")
	}

	// Good response: pass.
	goodResponse := buildOCSPResponse(t, authority, ocsp.Good)
	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{OCSPResponse: goodResponse})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if outcome.StatusOf(CodeCertificateRevoked) != StatusPass {
		t.Errorf("good revocation status = %s, want pass", outcome.StatusOf(CodeCertificateRevoked))
	}

	// Revoked response: fail.
	revokedResponse := buildOCSPResponse(t, authority, ocsp.Revoked)
	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{OCSPResponse: revokedResponse})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeCertificateRevoked) {
		t.Error("revoked certificate not reported")
	}

	// Garbage response: inconclusive by default, failure in strict
	// mode.
	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{OCSPResponse: []byte("not an ocsp response")})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if outcome.StatusOf(CodeCertificateRevoked) != StatusInconclusive {
		t.Errorf("garbage response status = %s, want inconclusive", outcome.StatusOf(CodeCertificateRevoked))
	}
	if !outcome.Valid() {
		t.Error("inconclusive revocation invalidated the manifest")
	}

	outcome, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{
		OCSPResponse: []byte("not an ocsp response"),
		Strict:       true,
	})
	if err != nil {
		t.Fatalf("VerifyManifest failed: %v", err)
	}
	if !outcome.Failed(CodeCertificateRevoked) {
		t.Error("strict mode did not escalate inconclusive revocation")
	}
}

// buildOCSPResponse creates a signed OCSP response for the
// authority's leaf certificate.
func buildOCSPResponse(t *testing.T, authority *testAuthority, status int) []byte {
	t.Helper()
	template := ocsp.Response{
		Status:       status,
		SerialNumber: authority.leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Hour),
		NextUpdate:   time.Now().Add(24 * time.Hour),
	}
	if status == ocsp.Revoked {
		template.RevokedAt = time.Now().Add(-time.Minute)
		template.RevocationReason = ocsp.KeyCompromise
	}
	response, err := ocsp.CreateResponse(authority.caCert, authority.caCert, template, authority.caKey)
	if err != nil {
		t.Fatalf("creating OCSP response: %v", err)
	}
	return response
}

func TestVerifyWithoutAnchorsIsConfigError(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	m := newSignedManifest(t, signer, "urn:uuid:no-anchors")

	verifier := &Verifier{}
	_, err = verifier.VerifyManifest(context.Background(), m, VerifyOptions{})
	if !errors.Is(err, trust.ErrNoAnchors) {
		t.Errorf("error = %v, want trust.ErrNoAnchors", err)
	}
}

func TestSerializedSignerExclusion(t *testing.T) {
	authority := newTestAuthority(t, Ed25519)
	inner, err := NewLocalSigner(Ed25519, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	signer := NewSerializedSigner(inner)

	claimHash, err := hash.Digest(hash.SHA256, []byte("claim"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}

	// Concurrent signing through the wrapper must serialize without
	// deadlock and every call must succeed.
	var group sync.WaitGroup
	errs := make(chan error, 16)
	for n := 0; n < 16; n++ {
		group.Add(1)
		go func() {
			defer group.Done()
			if _, err := signer.Sign(context.Background(), claimHash); err != nil {
				errs <- err
			}
		}()
	}
	group.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Sign failed: %v", err)
	}
}

func TestSignerReserveSize(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	claimHash, err := hash.Digest(hash.SHA256, []byte("claim"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	signature, err := signer.Sign(context.Background(), claimHash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(signature) > signer.ReserveSize() {
		t.Errorf("signature %d bytes exceeds reserve size %d", len(signature), signer.ReserveSize())
	}
}

func TestSignRejectsWrongHashLength(t *testing.T) {
	authority := newTestAuthority(t, ES256)
	signer, err := NewLocalSigner(ES256, authority.leafKey, authority.chain)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	if _, err := signer.Sign(context.Background(), []byte("too short")); err == nil {
		t.Error("wrong-length claim hash accepted")
	}
}
