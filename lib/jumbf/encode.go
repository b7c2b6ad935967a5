// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jumbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode serializes a box tree. Nesting beyond DefaultMaxDepth fails
// with ErrBoxDepthExceeded.
func Encode(box *Box) ([]byte, error) {
	return EncodeWithDepth(box, DefaultMaxDepth)
}

// EncodeWithDepth serializes a box tree with an explicit nesting
// limit.
func EncodeWithDepth(box *Box, maxDepth int) ([]byte, error) {
	var buffer bytes.Buffer
	if err := encodeBox(&buffer, box, 0, maxDepth); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// EncodeSequence serializes a flat sequence of sibling boxes, in
// order, with no enclosing superbox.
func EncodeSequence(boxes []*Box) ([]byte, error) {
	var buffer bytes.Buffer
	for _, box := range boxes {
		if err := encodeBox(&buffer, box, 0, DefaultMaxDepth); err != nil {
			return nil, err
		}
	}
	return buffer.Bytes(), nil
}

func encodeBox(buffer *bytes.Buffer, box *Box, depth, maxDepth int) error {
	if depth >= maxDepth {
		return fmt.Errorf("%w: box %s at depth %d (limit %d)", ErrBoxDepthExceeded, box.Type, depth, maxDepth)
	}
	if box.Superbox() && box.Payload != nil {
		return fmt.Errorf("encoding box %s: superbox carries a raw payload", box.Type)
	}
	if !box.Superbox() && len(box.Children) > 0 {
		return fmt.Errorf("encoding box %s: leaf box carries children", box.Type)
	}
	if uuidBoxTypes[box.Type] && box.UUID == nil {
		return fmt.Errorf("encoding box %s: missing required UUID discriminator", box.Type)
	}

	contentSize, err := box.contentSize()
	if err != nil {
		return err
	}

	if box.needsExtendedLength(contentSize) {
		var header [extendedHeaderSize]byte
		binary.BigEndian.PutUint32(header[0:4], extendedLengthMarker)
		copy(header[4:8], box.Type[:])
		binary.BigEndian.PutUint64(header[8:16], uint64(extendedHeaderSize)+uint64(contentSize))
		buffer.Write(header[:])
	} else {
		var header [headerSize]byte
		binary.BigEndian.PutUint32(header[0:4], uint32(headerSize+contentSize))
		copy(header[4:8], box.Type[:])
		buffer.Write(header[:])
	}

	if box.UUID != nil {
		buffer.Write(box.UUID[:])
	}

	if box.Superbox() {
		for _, child := range box.Children {
			if err := encodeBox(buffer, child, depth+1, maxDepth); err != nil {
				return err
			}
		}
		return nil
	}

	buffer.Write(box.Payload)
	return nil
}
