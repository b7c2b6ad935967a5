// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/provenance/lib/hash"
)

// EmbedAdapter is the format-specific collaborator that places an
// encoded store inside an asset. The builder hashes the asset with
// the reserved region excluded, so the spliced bytes never disturb
// the recorded asset hash.
type EmbedAdapter interface {
	// ReserveRegion returns the byte range inside the asset reserved
	// for the encoded store. Called once per build, before hashing.
	ReserveRegion(asset *Asset) (hash.Range, error)

	// Splice writes the asset to out with storeBytes placed in the
	// reserved region, padding the remainder of the region.
	Splice(asset *Asset, storeBytes []byte, region hash.Range, out io.Writer) error
}

// FixedRegionAdapter embeds into a caller-designated region of the
// asset. Formats with a native metadata segment implement their own
// adapter; this one serves containers that pre-allocate space.
type FixedRegionAdapter struct {
	// Region is the asset range reserved for the store.
	Region hash.Range
}

// ReserveRegion returns the configured region after bounds-checking
// it against the asset.
func (a FixedRegionAdapter) ReserveRegion(asset *Asset) (hash.Range, error) {
	if a.Region.Length <= 0 {
		return hash.Range{}, fmt.Errorf("embed region has length %d", a.Region.Length)
	}
	if a.Region.Start < 0 || a.Region.End() > asset.Size {
		return hash.Range{}, fmt.Errorf("embed region [%d, %d) exceeds asset size %d", a.Region.Start, a.Region.End(), asset.Size)
	}
	return a.Region, nil
}

// Splice writes the asset with storeBytes in the region, zero-padding
// the region's remainder.
func (a FixedRegionAdapter) Splice(asset *Asset, storeBytes []byte, region hash.Range, out io.Writer) error {
	if int64(len(storeBytes)) > region.Length {
		return fmt.Errorf("store is %d bytes, region holds %d", len(storeBytes), region.Length)
	}

	before := io.NewSectionReader(asset.Reader, 0, region.Start)
	if _, err := io.Copy(out, before); err != nil {
		return fmt.Errorf("copying asset bytes before region: %w", err)
	}
	if _, err := out.Write(storeBytes); err != nil {
		return fmt.Errorf("writing store bytes: %w", err)
	}
	padding := make([]byte, region.Length-int64(len(storeBytes)))
	if _, err := out.Write(padding); err != nil {
		return fmt.Errorf("padding embed region: %w", err)
	}
	after := io.NewSectionReader(asset.Reader, region.End(), asset.Size-region.End())
	if _, err := io.Copy(out, after); err != nil {
		return fmt.Errorf("copying asset bytes after region: %w", err)
	}
	return nil
}
