// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package attstream implements the attribute stream codec: an ordered run of
// (row id, value-or-null) entries for one column, packed into a compact,
// self-contained byte sequence with optional whole-payload compression.
//
// A stream is a fixed header followed by a payload. The payload, once
// decompressed, is a sequence of chunks; each chunk covers a contiguous
// row-id sub-range and stores the element count, a delta-encoded row-id
// sequence, a null bitmap, and tightly packed values. Row ids are strictly
// increasing within and across chunks; each chunk's deltas are anchored at
// the previous chunk's last row id, so chunks decode without backtracking.
package attstream

import (
	"encoding/binary"

	"github.com/colstore/colstore"
)

// Attr describes the value shape of one attribute, which decides how values
// are packed in stream chunks.
//
// Len > 0 with ByVal set is a fixed-width by-value type stored as raw bytes
// inline. Len > 0 without ByVal is a fixed-length by-reference type, stored
// as a byte copy of that length. Len < 0 is a variable-length type, stored
// with a length prefix.
type Attr struct {
	No    colstore.AttrNo
	Len   int
	ByVal bool
}

// Element is one decoded stream entry. Value is nil when Null is set; a null
// entry stores no value bytes but still occupies a slot in the row-id
// sequence and the null bitmap.
type Element struct {
	RowID colstore.RowID
	Value []byte
	Null  bool
}

// Stream header layout, LittleEndian:
//
//	[0:4]   size               uint32  total encoded size, header included
//	[4:6]   flags              uint16
//	[6:10]  decompressedSize   uint32  payload size once decompressed
//	[10:14] decompressedBufSize uint32 declared decode buffer bound
//	[14:22] lastRowID          uint64  highest row id covered
const HeaderSize = 22

const (
	// FlagCompressed marks a stream whose whole payload is one compressed block.
	FlagCompressed uint16 = 1 << 0
)

// maxChunkElems bounds the element count of a single chunk. Splitting the
// run keeps chunk-at-a-time decoding cheap for point lookups.
const maxChunkElems = 128

// Size returns the total encoded size of the stream, or 0 for an empty or
// truncated prefix.
func Size(stream []byte) int {
	if len(stream) < HeaderSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(stream))
}

// Flags returns the stream header flags.
func Flags(stream []byte) uint16 {
	return binary.LittleEndian.Uint16(stream[4:])
}

// IsCompressed reports whether the stream payload is compressed.
func IsCompressed(stream []byte) bool {
	return Flags(stream)&FlagCompressed != 0
}

// DecompressedSize returns the payload size after decompression.
func DecompressedSize(stream []byte) int {
	return int(binary.LittleEndian.Uint32(stream[6:]))
}

// LastRowID returns the highest row id covered by the stream.
func LastRowID(stream []byte) colstore.RowID {
	return colstore.RowID(binary.LittleEndian.Uint64(stream[14:]))
}

func putHeader(dst []byte, flags uint16, encodedSize, decodedSize int, last colstore.RowID) {
	binary.LittleEndian.PutUint32(dst, uint32(HeaderSize+encodedSize))
	binary.LittleEndian.PutUint16(dst[4:], flags)
	binary.LittleEndian.PutUint32(dst[6:], uint32(decodedSize))
	binary.LittleEndian.PutUint32(dst[10:], uint32(decodedSize))
	binary.LittleEndian.PutUint64(dst[14:], uint64(last))
}
