// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package attstream

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/colstore/colstore"
)

// Encode merges an ordered run of elements into an existing stream (or an
// empty one) and returns the re-encoded stream, uncompressed. Row ids in run
// must be strictly increasing; an element whose row id already exists in the
// stream replaces the old entry.
func Encode(attr Attr, existing []byte, run []Element, comp colstore.Compressor) (stream []byte, err error) {
	for i := 1; i < len(run); i++ {
		if run[i].RowID <= run[i-1].RowID {
			return nil, fmt.Errorf("%w: run row ids not strictly increasing at %d",
				colstore.ErrBadStream, run[i].RowID)
		}
	}

	if len(existing) == 0 {
		return EncodeElements(attr, run), nil
	}

	base, err := Decode(attr, existing, comp)
	if err != nil {
		return
	}
	return EncodeElements(attr, mergeRuns(base, run)), nil
}

// mergeRuns merges two strictly increasing runs; over wins on equal row ids.
func mergeRuns(base, over []Element) []Element {
	merged := make([]Element, 0, len(base)+len(over))
	i, j := 0, 0
	for i < len(base) && j < len(over) {
		switch {
		case base[i].RowID < over[j].RowID:
			merged = append(merged, base[i])
			i++
		case base[i].RowID > over[j].RowID:
			merged = append(merged, over[j])
			j++
		default:
			merged = append(merged, over[j])
			i++
			j++
		}
	}
	merged = append(merged, base[i:]...)
	merged = append(merged, over[j:]...)
	return merged
}

// EncodeElements encodes a strictly increasing run into a fresh uncompressed
// stream. An empty run encodes to nil.
func EncodeElements(attr Attr, elems []Element) (stream []byte) {
	if len(elems) == 0 {
		return nil
	}

	payload := make([]byte, 0, encodedSizeHint(elems))
	prev := colstore.InvalidRowID
	for beg := 0; beg < len(elems); beg += maxChunkElems {
		chunk := elems[beg:min(beg+maxChunkElems, len(elems))]
		payload = appendChunk(payload, attr, chunk, prev)
		prev = chunk[len(chunk)-1].RowID
	}

	stream = make([]byte, HeaderSize+len(payload))
	putHeader(stream, 0, len(payload), len(payload), prev)
	copy(stream[HeaderSize:], payload)
	return
}

func encodedSizeHint(elems []Element) (size int) {
	for i := range elems {
		size += 2 + len(elems[i].Value) + 1
	}
	return
}

// appendChunk appends one encoded chunk. Layout:
//
//	uvarint count        >= 1
//	uvarint delta[0]     first row id minus anchor (previous chunk's last), >= 1
//	uvarint delta[1..]   each >= 1
//	null bitmap          ceil(count/8) bytes, bit set = null
//	values               fixed-length: attr.Len raw bytes; varlen: uvarint length + bytes
func appendChunk(payload []byte, attr Attr, chunk []Element, prev colstore.RowID) []byte {
	payload = binary.AppendUvarint(payload, uint64(len(chunk)))
	for i := range chunk {
		payload = binary.AppendUvarint(payload, uint64(chunk[i].RowID-prev))
		prev = chunk[i].RowID
	}

	bitmap := make([]byte, (len(chunk)+7)/8)
	for i := range chunk {
		if chunk[i].Null {
			bitmap[i/8] |= 1 << (i % 8)
		}
	}
	payload = append(payload, bitmap...)

	for i := range chunk {
		if chunk[i].Null {
			continue
		}
		if attr.Len < 0 {
			payload = binary.AppendUvarint(payload, uint64(len(chunk[i].Value)))
		}
		payload = append(payload, chunk[i].Value...)
	}
	return payload
}

// Compress re-encodes an uncompressed stream with its payload compressed as
// one block. Streams whose payload does not shrink are returned unchanged.
func Compress(stream []byte, comp colstore.Compressor) (compressed []byte, err error) {
	if len(stream) == 0 || IsCompressed(stream) {
		return stream, nil
	}

	payload := stream[HeaderSize:Size(stream)]
	packed, err := comp.Compress(payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", colstore.ErrBadCompression, err)
		return
	}
	if len(packed) >= len(payload) {
		return stream, nil
	}

	compressed = make([]byte, HeaderSize+len(packed))
	putHeader(compressed, FlagCompressed, len(packed), len(payload), LastRowID(stream))
	copy(compressed[HeaderSize:], packed)
	return
}

// Append appends a run past the end of a stream without decoding it, which
// is the cheap path for insert buffers. The run's first row id must exceed
// the stream's last row id and the stream must be uncompressed.
func Append(attr Attr, stream []byte, run []Element) (appended []byte, err error) {
	if len(stream) == 0 {
		return EncodeElements(attr, run), nil
	}
	if IsCompressed(stream) {
		return nil, fmt.Errorf("%w: append to compressed stream", colstore.ErrBadStream)
	}
	if len(run) == 0 {
		return stream, nil
	}
	last := LastRowID(stream)
	if run[0].RowID <= last {
		return nil, fmt.Errorf("%w: append row id %d not past %d",
			colstore.ErrBadStream, run[0].RowID, last)
	}

	payload := slices.Clone(stream[HeaderSize:Size(stream)])
	prev := last
	for beg := 0; beg < len(run); beg += maxChunkElems {
		chunk := run[beg:min(beg+maxChunkElems, len(run))]
		payload = appendChunk(payload, attr, chunk, prev)
		prev = chunk[len(chunk)-1].RowID
	}

	appended = make([]byte, HeaderSize+len(payload))
	putHeader(appended, 0, len(payload), len(payload), prev)
	copy(appended[HeaderSize:], payload)
	return
}
