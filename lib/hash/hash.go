// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	stdhash "hash"
	"io"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a digest algorithm. The string form is what is
// recorded in claims and HashedUri fields.
type Algorithm string

// Supported digest algorithms.
const (
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
	BLAKE3 Algorithm = "blake3"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrUnsupportedAlgorithm indicates an algorithm outside the
	// supported set. This is a configuration error — it is reported
	// before any digest work begins.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

	// ErrAlgorithmMismatch indicates that a verification was asked to
	// check a digest with a different algorithm than the one recorded
	// when the digest was produced.
	ErrAlgorithmMismatch = errors.New("hash algorithm mismatch")

	// ErrMismatch indicates that a recomputed digest does not equal
	// the recorded digest.
	ErrMismatch = errors.New("hash mismatch")
)

// Validate checks that the algorithm is supported. Call before any
// cryptographic work so unsupported configurations fail early.
func (a Algorithm) Validate() error {
	switch a {
	case SHA256, SHA384, SHA512, BLAKE3:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Size returns the digest length in bytes, or 0 for an unsupported
// algorithm.
func (a Algorithm) Size() int {
	switch a {
	case SHA256, BLAKE3:
		return 32
	case SHA384:
		return 48
	case SHA512:
		return 64
	default:
		return 0
	}
}

// New returns a fresh hasher for the algorithm.
func New(algorithm Algorithm) (stdhash.Hash, error) {
	switch algorithm {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(algorithm))
	}
}

// Digest computes the digest of data with the given algorithm.
func Digest(algorithm Algorithm, data []byte) ([]byte, error) {
	hasher, err := New(algorithm)
	if err != nil {
		return nil, err
	}
	hasher.Write(data)
	return hasher.Sum(nil), nil
}

// DigestReader streams r through the hash function in chunks (via
// io.Copy) to keep memory usage constant regardless of input size.
func DigestReader(algorithm Algorithm, r io.Reader) ([]byte, error) {
	hasher, err := New(algorithm)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("hashing stream: %w", err)
	}
	return hasher.Sum(nil), nil
}

// Verify recomputes the digest of content with the recorded algorithm
// and compares it to the recorded digest.
func Verify(recordedAlg Algorithm, recorded []byte, content []byte) error {
	if err := recordedAlg.Validate(); err != nil {
		return err
	}
	actual, err := Digest(recordedAlg, content)
	if err != nil {
		return err
	}
	if !bytes.Equal(actual, recorded) {
		return fmt.Errorf("%w: recorded %s, computed %s (alg %s)",
			ErrMismatch, FormatDigest(recorded), FormatDigest(actual), recordedAlg)
	}
	return nil
}

// FormatDigest returns the hex-encoded string representation of a
// digest. This is the canonical format used in reports and log
// output.
func FormatDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}

// ParseDigest parses a hex-encoded digest string.
func ParseDigest(hexString string) ([]byte, error) {
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, fmt.Errorf("parsing digest: %w", err)
	}
	return decoded, nil
}
