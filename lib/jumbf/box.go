// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jumbf

import (
	"fmt"

	"github.com/google/uuid"
)

// Box format constants.
const (
	// headerSize is the fixed box header: 4-byte length + 4-byte type.
	headerSize = 8

	// extendedHeaderSize is the header when the 64-bit extended
	// length form is used: 4-byte length marker (value 1) + 4-byte
	// type + 8-byte length.
	extendedHeaderSize = 16

	// uuidSize is the size of the optional UUID discriminator that
	// follows the header on UUID-bearing box types.
	uuidSize = 16

	// extendedLengthMarker in the 32-bit length field signals that
	// the real length follows the type tag as a 64-bit value.
	extendedLengthMarker = 1

	// DefaultMaxDepth is the nesting depth limit applied by Encode
	// and Decode. Manifest stores in practice nest four or five
	// levels deep; the limit exists to reject adversarial input, not
	// to constrain legitimate trees.
	DefaultMaxDepth = 32
)

// BoxType is the 4-byte type tag identifying a box's role.
type BoxType [4]byte

// Box types used by manifest store serialization. Types outside this
// set decode as opaque leaves and survive round trips verbatim.
var (
	// TypeManifestStore is the root superbox holding the ordered
	// manifest sequence.
	TypeManifestStore = BoxType{'c', '2', 'm', 's'}

	// TypeManifest is the per-manifest superbox.
	TypeManifest = BoxType{'c', '2', 'm', 'a'}

	// TypeClaim holds the CBOR-encoded claim, exactly as signed.
	TypeClaim = BoxType{'c', '2', 'c', 'l'}

	// TypeClaimSignature holds the CBOR signature envelope.
	TypeClaimSignature = BoxType{'c', '2', 'c', 's'}

	// TypeAssertionStore is the superbox holding one box per
	// assertion.
	TypeAssertionStore = BoxType{'c', '2', 'a', 's'}

	// TypeCBOR is a CBOR content box. Carries the UUID discriminator
	// identifying the payload's content type.
	TypeCBOR = BoxType{'c', 'b', 'o', 'r'}

	// TypeIngredient is the per-ingredient superbox.
	TypeIngredient = BoxType{'c', '2', 'i', 'g'}

	// TypeEmbeddedStore holds a nested manifest store as an opaque
	// payload. The nested bytes are a complete encoded store; keeping
	// them opaque at this layer preserves them verbatim and defers
	// parsing to the ingredient walk.
	TypeEmbeddedStore = BoxType{'c', '2', 'e', 's'}

	// TypeDatabox holds resource content (thumbnails, referenced
	// payloads) that the resolver embedded into the store during
	// finalization.
	TypeDatabox = BoxType{'c', '2', 'd', 'b'}
)

// ContentTypeCBOR is the UUID discriminator for CBOR payloads inside
// TypeCBOR boxes.
var ContentTypeCBOR = uuid.MustParse("63626f72-0011-0010-8000-00aa00389b71")

// superboxTypes are the types whose payload is a nested box sequence.
var superboxTypes = map[BoxType]bool{
	TypeManifestStore:  true,
	TypeManifest:       true,
	TypeAssertionStore: true,
	TypeIngredient:     true,
}

// uuidBoxTypes are the types that carry a 16-byte UUID discriminator
// between the header and the payload.
var uuidBoxTypes = map[BoxType]bool{
	TypeCBOR: true,
}

// knownTypes is the full registry. Decoding a type outside this set
// is recorded on the box (Known reports false) but is never an error.
var knownTypes = map[BoxType]bool{
	TypeManifestStore:  true,
	TypeManifest:       true,
	TypeClaim:          true,
	TypeClaimSignature: true,
	TypeAssertionStore: true,
	TypeCBOR:           true,
	TypeIngredient:     true,
	TypeEmbeddedStore:  true,
	TypeDatabox:        true,
}

// String returns the type tag as a 4-character string. Non-printable
// bytes are rendered as hex escapes so log output stays readable.
func (t BoxType) String() string {
	for _, b := range t {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%#x", t[:])
		}
	}
	return string(t[:])
}

// Box is one node of the box tree. Superbox types carry their content
// in Children; all other types carry opaque Payload bytes. A box never
// has both.
type Box struct {
	// Type is the 4-byte type tag.
	Type BoxType

	// UUID is the content-type discriminator, present only on
	// UUID-bearing box types (TypeCBOR).
	UUID *uuid.UUID

	// Payload is the opaque content of a leaf box. Nil for
	// superboxes.
	Payload []byte

	// Children is the nested box sequence of a superbox. Nil for
	// leaves.
	Children []*Box

	// ExtendedLength records that this box was decoded from (or must
	// be encoded in) the 64-bit length form. Set automatically during
	// encoding when the content size requires it; preserved from
	// decoding so that a box which arrived in extended form
	// round-trips byte-exactly even when a 32-bit length would have
	// sufficed.
	ExtendedLength bool
}

// Known reports whether the box type is in the codec's registry.
// Unknown boxes are preserved verbatim through decode/encode.
func (b *Box) Known() bool {
	return knownTypes[b.Type]
}

// Superbox reports whether this box's content is a nested box
// sequence rather than an opaque payload.
func (b *Box) Superbox() bool {
	return superboxTypes[b.Type]
}

// Child returns the first child with the given type, or nil.
func (b *Box) Child(boxType BoxType) *Box {
	for _, child := range b.Children {
		if child.Type == boxType {
			return child
		}
	}
	return nil
}

// ChildrenOfType returns all children with the given type, in
// declaration order.
func (b *Box) ChildrenOfType(boxType BoxType) []*Box {
	var matched []*Box
	for _, child := range b.Children {
		if child.Type == boxType {
			matched = append(matched, child)
		}
	}
	return matched
}

// contentSize returns the byte length of everything after the length
// fields and type tag: the optional UUID plus the payload or encoded
// children.
func (b *Box) contentSize() (int64, error) {
	var size int64
	if b.UUID != nil {
		size += uuidSize
	}
	if b.Superbox() {
		for _, child := range b.Children {
			childSize, err := child.encodedSize()
			if err != nil {
				return 0, err
			}
			size += childSize
		}
		return size, nil
	}
	return size + int64(len(b.Payload)), nil
}

// encodedSize returns the total on-wire size of the box including its
// header.
func (b *Box) encodedSize() (int64, error) {
	content, err := b.contentSize()
	if err != nil {
		return 0, err
	}
	if b.needsExtendedLength(content) {
		return extendedHeaderSize + content, nil
	}
	return headerSize + content, nil
}

// needsExtendedLength reports whether the box must use the 64-bit
// length form: either the content does not fit a 32-bit length or the
// box is pinned to extended form for round-trip fidelity.
func (b *Box) needsExtendedLength(contentSize int64) bool {
	return b.ExtendedLength || headerSize+contentSize > int64(^uint32(0))
}
