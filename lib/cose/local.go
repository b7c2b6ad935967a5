// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LocalSigner signs with an in-process private key. The common case
// for tests and single-host deployments; production setups with HSMs
// or signing services implement Signer directly.
type LocalSigner struct {
	alg   SigningAlg
	key   crypto.PrivateKey
	chain [][]byte

	// ocspResponse is an optional pre-fetched OCSP response for the
	// leaf certificate, embedded into envelopes this signer produces.
	ocspResponse []byte
}

// NewLocalSigner builds a signer from a parsed private key and a DER
// certificate chain, leaf first. The key type must match the
// algorithm.
func NewLocalSigner(alg SigningAlg, key crypto.PrivateKey, chain [][]byte) (*LocalSigner, error) {
	if err := alg.Validate(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("local signer requires a certificate chain")
	}

	switch alg {
	case ES256, ES384, ES512:
		if _, ok := key.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("algorithm %s requires an ECDSA key, got %T", alg, key)
		}
	case PS256, PS384, PS512:
		if _, ok := key.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("algorithm %s requires an RSA key, got %T", alg, key)
		}
	case Ed25519:
		if _, ok := key.(ed25519.PrivateKey); !ok {
			return nil, fmt.Errorf("algorithm %s requires an Ed25519 key, got %T", alg, key)
		}
	}

	return &LocalSigner{alg: alg, key: key, chain: chain}, nil
}

// LocalSignerFromPEM builds a signer from PEM-encoded certificate
// chain and private key data.
func LocalSignerFromPEM(alg SigningAlg, certPEM, keyPEM []byte) (*LocalSigner, error) {
	chain, err := parseCertChainPEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(alg, key, chain)
}

// LocalSignerFromFiles builds a signer from certificate chain and
// private key files.
func LocalSignerFromFiles(alg SigningAlg, certPath, keyPath string) (*LocalSigner, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing certificate %s: %w", certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key %s: %w", keyPath, err)
	}
	return LocalSignerFromPEM(alg, certPEM, keyPEM)
}

// SetOCSPResponse attaches a pre-fetched OCSP response for the leaf
// certificate.
func (s *LocalSigner) SetOCSPResponse(response []byte) {
	s.ocspResponse = response
}

// Sign produces the detached signature over claimHash.
func (s *LocalSigner) Sign(ctx context.Context, claimHash []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expectedSize := s.alg.HashAlg().Size()
	if len(claimHash) != expectedSize {
		return nil, fmt.Errorf("claim hash is %d bytes, algorithm %s requires %d", len(claimHash), s.alg, expectedSize)
	}

	var signature []byte
	var err error
	switch key := s.key.(type) {
	case *ecdsa.PrivateKey:
		signature, err = ecdsa.SignASN1(rand.Reader, key, claimHash)
	case *rsa.PrivateKey:
		signature, err = rsa.SignPSS(rand.Reader, key, cryptoHashFor(s.alg), claimHash, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
		})
	case ed25519.PrivateKey:
		signature = ed25519.Sign(key, claimHash)
	default:
		err = fmt.Errorf("unsupported key type %T", s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("signing claim hash: %w", err)
	}

	if len(signature) > s.ReserveSize() {
		return nil, fmt.Errorf("signature is %d bytes, exceeds reserve size %d", len(signature), s.ReserveSize())
	}
	return signature, nil
}

// Alg returns the configured algorithm.
func (s *LocalSigner) Alg() SigningAlg { return s.alg }

// CertChain returns the DER certificate chain, leaf first.
func (s *LocalSigner) CertChain() ([][]byte, error) { return s.chain, nil }

// ReserveSize returns the largest signature this signer can produce.
func (s *LocalSigner) ReserveSize() int {
	switch key := s.key.(type) {
	case *ecdsa.PrivateKey:
		// ASN.1 DER: two integers of curve size, each possibly with a
		// leading zero byte, plus sequence framing.
		curveBytes := (key.Curve.Params().BitSize + 7) / 8
		return 2*(curveBytes+1) + 9
	case *rsa.PrivateKey:
		return key.Size()
	case ed25519.PrivateKey:
		return ed25519.SignatureSize
	default:
		return 0
	}
}

// OCSPResponse returns the attached pre-fetched response, or nil.
func (s *LocalSigner) OCSPResponse() []byte { return s.ocspResponse }

// cryptoHashFor maps a signing algorithm to the stdlib crypto.Hash
// used by RSA-PSS.
func cryptoHashFor(alg SigningAlg) crypto.Hash {
	switch alg {
	case ES256, PS256, Ed25519:
		return crypto.SHA256
	case ES384, PS384:
		return crypto.SHA384
	default:
		return crypto.SHA512
	}
}

// parseCertChainPEM extracts every CERTIFICATE block as DER bytes.
func parseCertChainPEM(pemData []byte) ([][]byte, error) {
	var chain [][]byte
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
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("PEM data contains no certificates")
	}
	return chain, nil
}

// parsePrivateKeyPEM parses the first private key block, trying
// PKCS#8 first, then the legacy EC and PKCS#1 encodings.
func parsePrivateKeyPEM(pemData []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("PEM data contains no private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("private key is not PKCS#8, SEC 1, or PKCS#1")
}
