// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"fmt"
	"io"
	"sort"
)

// Range is a half-open byte range [Start, Start+Length) within an
// asset. The embedding adapter reports the region it reserved for the
// manifest as a Range; asset hashing skips it.
type Range struct {
	Start  int64 `json:"start"`
	Length int64 `json:"length"`
}

// End returns the exclusive end offset.
func (r Range) End() int64 { return r.Start + r.Length }

// normalizeRanges sorts the exclusions by start offset, merges
// overlapping or adjacent ranges, drops empty ones, and validates
// that every range lies within [0, size).
func normalizeRanges(exclusions []Range, size int64) ([]Range, error) {
	sorted := make([]Range, 0, len(exclusions))
	for _, r := range exclusions {
		if r.Length < 0 || r.Start < 0 {
			return nil, fmt.Errorf("invalid exclusion range [%d, %d)", r.Start, r.End())
		}
		if r.Length == 0 {
			continue
		}
		if r.End() > size {
			return nil, fmt.Errorf("exclusion range [%d, %d) exceeds asset size %d", r.Start, r.End(), size)
		}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var merged []Range
	for _, r := range sorted {
		if len(merged) > 0 && r.Start <= merged[len(merged)-1].End() {
			last := &merged[len(merged)-1]
			if r.End() > last.End() {
				last.Length = r.End() - last.Start
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged, nil
}

// DigestRanges computes the digest of an asset's bytes, skipping the
// exclusion ranges. Exclusions are normalized (sorted, merged,
// bounds-checked) before hashing, so callers may pass them in any
// order. The typical single exclusion is the region the embedding
// adapter reserved for the manifest itself.
func DigestRanges(algorithm Algorithm, asset io.ReaderAt, size int64, exclusions []Range) ([]byte, error) {
	hasher, err := New(algorithm)
	if err != nil {
		return nil, err
	}

	merged, err := normalizeRanges(exclusions, size)
	if err != nil {
		return nil, err
	}

	copyRange := func(start, end int64) error {
		if start >= end {
			return nil
		}
		section := io.NewSectionReader(asset, start, end-start)
		if _, err := io.Copy(hasher, section); err != nil {
			return fmt.Errorf("hashing asset bytes [%d, %d): %w", start, end, err)
		}
		return nil
	}

	position := int64(0)
	for _, exclusion := range merged {
		if err := copyRange(position, exclusion.Start); err != nil {
			return nil, err
		}
		position = exclusion.End()
	}
	if err := copyRange(position, size); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}
