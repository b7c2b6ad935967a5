// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jumbf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors. Wrapped with position detail; match with errors.Is.
var (
	// ErrMalformedBox indicates a structural defect: a truncated
	// header, a declared length that exceeds the remaining buffer, or
	// children that do not exactly fill their superbox.
	ErrMalformedBox = errors.New("malformed box")

	// ErrBoxDepthExceeded indicates nesting beyond the configured
	// limit. Returned instead of recursing into adversarial input.
	ErrBoxDepthExceeded = errors.New("box nesting depth exceeded")
)

// Decode parses a single box (and its nested children) from data. The
// box must span the entire buffer; trailing bytes are malformed. Use
// DecodeSequence for buffers holding sibling boxes.
func Decode(data []byte) (*Box, error) {
	return DecodeWithDepth(data, DefaultMaxDepth)
}

// DecodeWithDepth parses a single box with an explicit nesting limit.
func DecodeWithDepth(data []byte, maxDepth int) (*Box, error) {
	box, consumed, err := decodeBox(data, 0, 0, maxDepth)
	if err != nil {
		return nil, err
	}
	if consumed != int64(len(data)) {
		return nil, fmt.Errorf("%w: %d trailing bytes after box %s", ErrMalformedBox, int64(len(data))-consumed, box.Type)
	}
	return box, nil
}

// DecodeSequence parses a flat sequence of sibling boxes spanning the
// entire buffer.
func DecodeSequence(data []byte) ([]*Box, error) {
	return decodeSequence(data, 0, 0, DefaultMaxDepth)
}

func decodeSequence(data []byte, offset int64, depth, maxDepth int) ([]*Box, error) {
	var boxes []*Box
	var position int64
	for position < int64(len(data)) {
		box, consumed, err := decodeBox(data[position:], offset+position, depth, maxDepth)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
		position += consumed
	}
	return boxes, nil
}

// decodeBox parses one box starting at data[0]. The offset is the
// box's absolute position in the original buffer, used only for error
// messages. Returns the box and the number of bytes consumed.
func decodeBox(data []byte, offset int64, depth, maxDepth int) (*Box, int64, error) {
	if depth >= maxDepth {
		return nil, 0, fmt.Errorf("%w: at offset %d (limit %d)", ErrBoxDepthExceeded, offset, maxDepth)
	}
	if len(data) < headerSize {
		return nil, 0, fmt.Errorf("%w: truncated header at offset %d (%d bytes remaining, want %d)", ErrMalformedBox, offset, len(data), headerSize)
	}

	var box Box
	copy(box.Type[:], data[4:8])

	length32 := binary.BigEndian.Uint32(data[0:4])
	var boxLength int64
	var contentStart int64
	switch {
	case length32 == extendedLengthMarker:
		if len(data) < extendedHeaderSize {
			return nil, 0, fmt.Errorf("%w: truncated extended header for box %s at offset %d", ErrMalformedBox, box.Type, offset)
		}
		length64 := binary.BigEndian.Uint64(data[8:16])
		if length64 < extendedHeaderSize || length64 > uint64(int64(len(data))) {
			return nil, 0, fmt.Errorf("%w: box %s at offset %d declares %d bytes, %d remain", ErrMalformedBox, box.Type, offset, length64, len(data))
		}
		boxLength = int64(length64)
		contentStart = extendedHeaderSize
		box.ExtendedLength = true
	case length32 < headerSize:
		return nil, 0, fmt.Errorf("%w: box %s at offset %d declares impossible length %d", ErrMalformedBox, box.Type, offset, length32)
	default:
		if int64(length32) > int64(len(data)) {
			return nil, 0, fmt.Errorf("%w: box %s at offset %d declares %d bytes, %d remain", ErrMalformedBox, box.Type, offset, length32, len(data))
		}
		boxLength = int64(length32)
		contentStart = headerSize
	}

	content := data[contentStart:boxLength]

	if uuidBoxTypes[box.Type] {
		if len(content) < uuidSize {
			return nil, 0, fmt.Errorf("%w: box %s at offset %d too short for UUID discriminator", ErrMalformedBox, box.Type, offset)
		}
		discriminator, err := uuid.FromBytes(content[:uuidSize])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: box %s at offset %d: %v", ErrMalformedBox, box.Type, offset, err)
		}
		box.UUID = &discriminator
		content = content[uuidSize:]
		contentStart += uuidSize
	}

	if box.Superbox() {
		children, err := decodeSequence(content, offset+contentStart, depth+1, maxDepth)
		if err != nil {
			return nil, 0, err
		}
		box.Children = children
		return &box, boxLength, nil
	}

	// Leaf payload. Copied so the box does not alias the input
	// buffer; callers commonly reuse read buffers.
	box.Payload = make([]byte, len(content))
	copy(box.Payload, content)
	return &box, boxLength, nil
}
