// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func TestDigestKnownAnswer(t *testing.T) {
	data := []byte("provenance")

	digest, err := Digest(SHA256, data)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	expected := sha256.Sum256(data)
	if !bytes.Equal(digest, expected[:]) {
		t.Errorf("sha256 digest = %s, want %s", FormatDigest(digest), FormatDigest(expected[:]))
	}
}

func TestDigestSizes(t *testing.T) {
	for _, algorithm := range []Algorithm{SHA256, SHA384, SHA512, BLAKE3} {
		digest, err := Digest(algorithm, []byte("data"))
		if err != nil {
			t.Fatalf("Digest(%s) failed: %v", algorithm, err)
		}
		if len(digest) != algorithm.Size() {
			t.Errorf("%s digest length = %d, want %d", algorithm, len(digest), algorithm.Size())
		}
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := Digest(Algorithm("md5"), []byte("data"))
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("error = %v, want ErrUnsupportedAlgorithm", err)
	}
	if err := Algorithm("md5").Validate(); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("Validate error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	content := []byte("original content")
	digest, err := Digest(SHA256, content)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}

	if err := Verify(SHA256, digest, content); err != nil {
		t.Errorf("Verify of unmodified content failed: %v", err)
	}

	tampered := append([]byte(nil), content...)
	tampered[0] ^= 0x01
	if err := Verify(SHA256, digest, tampered); !errors.Is(err, ErrMismatch) {
		t.Errorf("error = %v, want ErrMismatch", err)
	}
}

func TestVerifyRejectsUnsupportedRecordedAlgorithm(t *testing.T) {
	err := Verify(Algorithm("sha1"), []byte{0x01}, []byte("content"))
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestDigestRangesExcludesReservedRegion(t *testing.T) {
	// An asset with a reserved manifest region in the middle. The
	// range digest must equal a direct digest of the bytes around the
	// region.
	prefix := []byte("asset bytes before the manifest region ")
	reserved := bytes.Repeat([]byte{0x00}, 64)
	suffix := []byte(" asset bytes after the manifest region")

	asset := append(append(append([]byte(nil), prefix...), reserved...), suffix...)
	exclusion := Range{Start: int64(len(prefix)), Length: int64(len(reserved))}

	digest, err := DigestRanges(SHA256, bytes.NewReader(asset), int64(len(asset)), []Range{exclusion})
	if err != nil {
		t.Fatalf("DigestRanges failed: %v", err)
	}

	direct, err := Digest(SHA256, append(append([]byte(nil), prefix...), suffix...))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !bytes.Equal(digest, direct) {
		t.Error("range digest does not match direct digest of non-excluded bytes")
	}

	// Changing bytes inside the excluded region must not change the
	// digest — this is what lets the manifest be spliced in after
	// hashing.
	modified := append([]byte(nil), asset...)
	copy(modified[len(prefix):], []byte("spliced manifest bytes"))
	afterSplice, err := DigestRanges(SHA256, bytes.NewReader(modified), int64(len(modified)), []Range{exclusion})
	if err != nil {
		t.Fatalf("DigestRanges after splice failed: %v", err)
	}
	if !bytes.Equal(digest, afterSplice) {
		t.Error("digest changed when only the excluded region changed")
	}
}

func TestDigestRangesNormalization(t *testing.T) {
	asset := []byte("0123456789abcdef")

	// Overlapping and out-of-order exclusions covering [2, 8).
	messy := []Range{
		{Start: 5, Length: 3},
		{Start: 2, Length: 4},
		{Start: 3, Length: 0},
	}
	clean := []Range{{Start: 2, Length: 6}}

	messyDigest, err := DigestRanges(SHA256, bytes.NewReader(asset), int64(len(asset)), messy)
	if err != nil {
		t.Fatalf("DigestRanges(messy) failed: %v", err)
	}
	cleanDigest, err := DigestRanges(SHA256, bytes.NewReader(asset), int64(len(asset)), clean)
	if err != nil {
		t.Fatalf("DigestRanges(clean) failed: %v", err)
	}
	if !bytes.Equal(messyDigest, cleanDigest) {
		t.Error("normalized exclusions produce a different digest")
	}
}

func TestDigestRangesRejectsOutOfBounds(t *testing.T) {
	asset := []byte("short")
	_, err := DigestRanges(SHA256, bytes.NewReader(asset), int64(len(asset)), []Range{{Start: 2, Length: 100}})
	if err == nil {
		t.Error("out-of-bounds exclusion accepted")
	}
}

func TestDigestRangesNoExclusions(t *testing.T) {
	asset := []byte("plain asset with no manifest region")
	ranged, err := DigestRanges(SHA256, bytes.NewReader(asset), int64(len(asset)), nil)
	if err != nil {
		t.Fatalf("DigestRanges failed: %v", err)
	}
	direct, err := Digest(SHA256, asset)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !bytes.Equal(ranged, direct) {
		t.Error("range digest with no exclusions differs from direct digest")
	}
}

func TestParseFormatDigestRoundTrip(t *testing.T) {
	digest, err := Digest(SHA384, []byte("data"))
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	parsed, err := ParseDigest(FormatDigest(digest))
	if err != nil {
		t.Fatalf("ParseDigest failed: %v", err)
	}
	if !bytes.Equal(parsed, digest) {
		t.Error("digest format/parse round trip failed")
	}
}
