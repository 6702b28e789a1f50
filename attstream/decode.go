// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package attstream

import (
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
)

// Decoder iterates a stream chunk at a time. A zero Decoder is not usable;
// start with Begin.
//
//	var dec attstream.Decoder
//	if err := dec.Begin(attr, stream, comp); err != nil { ... }
//	for {
//		chunk, ok, err := dec.NextChunk()
//		if err != nil || !ok {
//			break
//		}
//		elems, err := DecodeChunk(attr, chunk.Raw, chunk.Prev)
//		...
//	}
type Decoder struct {
	attr    Attr
	payload []byte
	pos     int
	prev    colstore.RowID
	last    colstore.RowID
}

// Chunk is one raw chunk cut out of the payload. Prev anchors the chunk's
// delta sequence: it equals the previous chunk's Last (or InvalidRowID for
// the first chunk). Raw aliases the decode buffer and stays valid until the
// next Begin.
type Chunk struct {
	Prev  colstore.RowID
	First colstore.RowID
	Last  colstore.RowID
	Raw   []byte
}

// Begin prepares the decoder for a stream. If the header's compressed flag
// is set the payload is decompressed first; a decompressed size that
// disagrees with the declared buffer bound is a corruption signal.
func (dec *Decoder) Begin(attr Attr, stream []byte, comp colstore.Compressor) (err error) {
	dec.attr = attr
	dec.payload = nil
	dec.pos = 0
	dec.prev = colstore.InvalidRowID
	dec.last = colstore.InvalidRowID

	if len(stream) == 0 {
		return
	}
	if len(stream) < HeaderSize || Size(stream) > len(stream) {
		return fmt.Errorf("%w: truncated header (%d bytes)", colstore.ErrBadStream, len(stream))
	}

	payload := stream[HeaderSize:Size(stream)]
	if IsCompressed(stream) {
		declared := DecompressedSize(stream)
		bound := int(binary.LittleEndian.Uint32(stream[10:]))
		if declared > bound {
			return fmt.Errorf("%w: decompressed size %d exceeds declared bufsize %d",
				colstore.ErrBadStream, declared, bound)
		}
		payload, err = comp.Decompress(payload, declared)
		if err != nil {
			return fmt.Errorf("%w: %w", colstore.ErrBadCompression, err)
		}
		if len(payload) != declared {
			return fmt.Errorf("%w: decompressed to %d bytes, declared %d",
				colstore.ErrBadStream, len(payload), declared)
		}
	}

	dec.payload = payload
	dec.last = LastRowID(stream)
	return
}

// Pos returns the decoder's byte position within the decompressed payload.
func (dec *Decoder) Pos() int {
	return dec.pos
}

// NextChunk cuts the next raw chunk out of the payload, returning its row-id
// bounds without materializing elements. ok is false at the end of the
// stream. A zero-length chunk is rejected as corruption.
func (dec *Decoder) NextChunk() (chunk Chunk, ok bool, err error) {
	if dec.pos >= len(dec.payload) {
		return
	}

	rest := dec.payload[dec.pos:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		err = fmt.Errorf("%w: unreadable element count at %d", colstore.ErrBadChunk, dec.pos)
		return
	}
	if count == 0 {
		err = fmt.Errorf("%w: zero-length chunk at %d", colstore.ErrBadChunk, dec.pos)
		return
	}

	chunk.Prev = dec.prev
	rowid := dec.prev
	off := n
	for i := uint64(0); i < count; i++ {
		delta, dn := binary.Uvarint(rest[off:])
		if dn <= 0 || delta == 0 {
			err = fmt.Errorf("%w: bad row-id delta at %d", colstore.ErrBadChunk, dec.pos+off)
			return
		}
		off += dn
		rowid += colstore.RowID(delta)
		if i == 0 {
			chunk.First = rowid
		}
	}
	chunk.Last = rowid

	bitmap := rest[off:]
	bitmapSize := (int(count) + 7) / 8
	if len(bitmap) < bitmapSize {
		err = fmt.Errorf("%w: truncated null bitmap at %d", colstore.ErrBadChunk, dec.pos+off)
		return
	}
	bitmap = bitmap[:bitmapSize]
	off += bitmapSize

	for i := 0; i < int(count); i++ {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			continue
		}
		if dec.attr.Len < 0 {
			vlen, vn := binary.Uvarint(rest[off:])
			if vn <= 0 {
				err = fmt.Errorf("%w: bad value length at %d", colstore.ErrBadChunk, dec.pos+off)
				return
			}
			off += vn + int(vlen)
		} else {
			off += dec.attr.Len
		}
		if off > len(rest) {
			err = fmt.Errorf("%w: values overrun payload at %d", colstore.ErrBadChunk, dec.pos+off)
			return
		}
	}

	chunk.Raw = rest[:off]
	dec.pos += off
	dec.prev = chunk.Last
	ok = true
	return
}

// DecodeChunk materializes the elements of one raw chunk, as previously cut
// by NextChunk with the same anchor row id.
func DecodeChunk(attr Attr, raw []byte, prev colstore.RowID) (elems []Element, err error) {
	count, n := binary.Uvarint(raw)
	if n <= 0 || count == 0 {
		return nil, fmt.Errorf("%w: zero-length chunk", colstore.ErrBadChunk)
	}

	elems = make([]Element, 0, count)
	rowid := prev
	off := n
	for i := uint64(0); i < count; i++ {
		delta, dn := binary.Uvarint(raw[off:])
		if dn <= 0 || delta == 0 {
			return nil, fmt.Errorf("%w: bad row-id delta", colstore.ErrBadChunk)
		}
		off += dn
		rowid += colstore.RowID(delta)
		elems = append(elems, Element{RowID: rowid})
	}

	bitmapSize := (int(count) + 7) / 8
	if off+bitmapSize > len(raw) {
		return nil, fmt.Errorf("%w: truncated null bitmap", colstore.ErrBadChunk)
	}
	bitmap := raw[off : off+bitmapSize]
	off += bitmapSize

	for i := range elems {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			elems[i].Null = true
			continue
		}
		vlen := attr.Len
		if attr.Len < 0 {
			v, vn := binary.Uvarint(raw[off:])
			if vn <= 0 {
				return nil, fmt.Errorf("%w: bad value length", colstore.ErrBadChunk)
			}
			off += vn
			vlen = int(v)
		}
		if off+vlen > len(raw) {
			return nil, fmt.Errorf("%w: value overruns chunk", colstore.ErrBadChunk)
		}
		elems[i].Value = raw[off : off+vlen : off+vlen]
		off += vlen
	}
	return
}

// Decode materializes every element of a stream in row-id order.
func Decode(attr Attr, stream []byte, comp colstore.Compressor) (elems []Element, err error) {
	var dec Decoder
	if err = dec.Begin(attr, stream, comp); err != nil {
		return
	}
	for {
		chunk, ok, cerr := dec.NextChunk()
		if cerr != nil {
			err = cerr
			return
		}
		if !ok {
			return
		}
		part, cerr := DecodeChunk(attr, chunk.Raw, chunk.Prev)
		if cerr != nil {
			err = cerr
			return
		}
		elems = append(elems, part...)
	}
}

// CountElements walks an uncompressed stream's chunks and sums their
// element counts without materializing values. Compressed streams are
// rejected; decompress first or use Decode.
func CountElements(attr Attr, stream []byte) (n int, err error) {
	if len(stream) == 0 {
		return
	}
	if len(stream) >= HeaderSize && IsCompressed(stream) {
		return 0, fmt.Errorf("%w: counting a compressed stream", colstore.ErrBadCompression)
	}
	var dec Decoder
	if err = dec.Begin(attr, stream, nil); err != nil {
		return
	}
	for {
		chunk, ok, cerr := dec.NextChunk()
		if cerr != nil || !ok {
			return n, cerr
		}
		count, _ := binary.Uvarint(chunk.Raw)
		n += int(count)
	}
}

// Find returns the element with the given row id, decoding only the chunk
// that covers it. found is false when the stream does not contain the id.
func Find(attr Attr, stream []byte, comp colstore.Compressor, rowid colstore.RowID) (elem Element, found bool, err error) {
	var dec Decoder
	if err = dec.Begin(attr, stream, comp); err != nil {
		return
	}
	for {
		chunk, ok, cerr := dec.NextChunk()
		if cerr != nil {
			err = cerr
			return
		}
		if !ok || chunk.First > rowid {
			return
		}
		if chunk.Last < rowid {
			continue
		}
		elems, cerr := DecodeChunk(attr, chunk.Raw, chunk.Prev)
		if cerr != nil {
			err = cerr
			return
		}
		for i := range elems {
			if elems[i].RowID == rowid {
				return elems[i], true, nil
			}
		}
		return
	}
}
