// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cose

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/provenance/lib/hash"
)

// SigningAlg identifies a signature algorithm. The supported set is
// the COSE algorithm families used for claim signatures.
type SigningAlg string

const (
	// ES256, ES384, ES512: ECDSA over P-256/P-384/P-521 with the
	// matching SHA-2 digest.
	ES256 SigningAlg = "es256"
	ES384 SigningAlg = "es384"
	ES512 SigningAlg = "es512"

	// PS256, PS384, PS512: RSASSA-PSS with the matching SHA-2 digest
	// and MGF1.
	PS256 SigningAlg = "ps256"
	PS384 SigningAlg = "ps384"
	PS512 SigningAlg = "ps512"

	// Ed25519: pure Ed25519 over the claim hash bytes.
	Ed25519 SigningAlg = "ed25519"
)

// Validate checks that the algorithm is in the supported set.
func (a SigningAlg) Validate() error {
	switch a {
	case ES256, ES384, ES512, PS256, PS384, PS512, Ed25519:
		return nil
	default:
		return fmt.Errorf("unsupported signing algorithm %q", string(a))
	}
}

// HashAlg returns the digest algorithm paired with the signing
// algorithm. The claim hash handed to Sign must be produced with this
// algorithm.
func (a SigningAlg) HashAlg() hash.Algorithm {
	switch a {
	case ES256, PS256, Ed25519:
		return hash.SHA256
	case ES384, PS384:
		return hash.SHA384
	case ES512, PS512:
		return hash.SHA512
	default:
		return ""
	}
}

// Signer produces a detached signature over a claim hash. The
// cryptographic backend behind it is opaque: a local key, an HSM, a
// remote signing service. Implementations must be safe for sequential
// use; wrap non-reentrant backends in a SerializedSigner.
type Signer interface {
	// Sign returns a signature over claimHash. claimHash must be a
	// digest produced with Alg().HashAlg(). Signing fails if the
	// resulting signature would exceed ReserveSize().
	Sign(ctx context.Context, claimHash []byte) ([]byte, error)

	// Alg returns the signature algorithm.
	Alg() SigningAlg

	// CertChain returns the signing certificate chain as DER bytes,
	// leaf first.
	CertChain() ([][]byte, error)

	// ReserveSize returns the size in bytes of the largest possible
	// signature this signer can produce.
	ReserveSize() int

	// OCSPResponse returns a pre-fetched OCSP response for the
	// signing certificate, or nil. Pre-querying lets the response be
	// embedded in the envelope and cached, keeping verification
	// offline.
	OCSPResponse() []byte
}

// backendLock is the process-wide serialization lock for
// non-reentrant cryptographic backends. One lock for the whole
// process: the backend is the shared resource, not the signer
// instance.
var backendLock sync.Mutex

// SerializedSigner wraps a Signer whose backend is known to be
// non-reentrant. Sign acquires the process-wide lock for the duration
// of the backend call and releases it unconditionally. The lock is
// never held across I/O the caller performs around signing.
type SerializedSigner struct {
	inner Signer
}

// NewSerializedSigner wraps signer with process-wide call
// serialization.
func NewSerializedSigner(signer Signer) *SerializedSigner {
	return &SerializedSigner{inner: signer}
}

// Sign calls the wrapped backend under the process-wide lock.
func (s *SerializedSigner) Sign(ctx context.Context, claimHash []byte) ([]byte, error) {
	backendLock.Lock()
	defer backendLock.Unlock()
	return s.inner.Sign(ctx, claimHash)
}

// Alg returns the wrapped signer's algorithm.
func (s *SerializedSigner) Alg() SigningAlg { return s.inner.Alg() }

// CertChain returns the wrapped signer's certificate chain.
func (s *SerializedSigner) CertChain() ([][]byte, error) { return s.inner.CertChain() }

// ReserveSize returns the wrapped signer's reserve size.
func (s *SerializedSigner) ReserveSize() int { return s.inner.ReserveSize() }

// OCSPResponse returns the wrapped signer's pre-fetched OCSP
// response.
func (s *SerializedSigner) OCSPResponse() []byte { return s.inner.OCSPResponse() }
