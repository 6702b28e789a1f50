// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/page"
)

// ChunkInfo describes one chunk of an attribute stream.
type ChunkInfo struct {
	First colstore.RowID
	Last  colstore.RowID
	Count int
	Size  int
}

// LeafStreams describes the two streams of one B-tree leaf.
type LeafStreams struct {
	BaseSize       int
	BaseCompressed bool
	Base           []ChunkInfo
	BufferSize     int
	Buffer         []ChunkInfo
}

// DumpLeaf decodes the chunk structure of a stream leaf. comp is needed
// for compressed base streams; the attribute's width must be registered.
func (in *Inspector) DumpLeaf(ctx context.Context, no colstore.PageNo, comp colstore.Compressor) (dump LeafStreams, err error) {
	if err = in.check(ctx); err != nil {
		return
	}

	ref, err := in.store.Acquire(ctx, no, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, no, page.KindBtree); err != nil {
		return
	}
	t := page.BtreeTrailer(p.Trailer())
	if t.Level() != 0 {
		err = fmt.Errorf("%w: page %d is an internal page", colstore.ErrUnsupported, no)
		return
	}
	attno := t.AttrNo()
	width, ok := in.widths[attno]
	if !ok {
		err = fmt.Errorf("%w: attribute %d", colstore.ErrUnknownAttribute, attno)
		return
	}
	attr := attstream.Attr{No: attno, Len: width}

	base := p.LowerRegion()
	dump.BaseSize = len(base)
	dump.BaseCompressed = len(base) >= attstream.HeaderSize && attstream.IsCompressed(base)
	if dump.Base, err = streamChunks(attr, base, comp); err != nil {
		err = fmt.Errorf("page %d base stream: %w", no, err)
		return
	}

	buffer := p.UpperRegion()
	dump.BufferSize = len(buffer)
	if dump.Buffer, err = streamChunks(attr, buffer, comp); err != nil {
		err = fmt.Errorf("page %d insert buffer: %w", no, err)
	}
	return
}

func streamChunks(attr attstream.Attr, stream []byte, comp colstore.Compressor) (chunks []ChunkInfo, err error) {
	var dec attstream.Decoder
	if err = dec.Begin(attr, stream, comp); err != nil {
		return
	}
	for {
		chunk, ok, cerr := dec.NextChunk()
		if cerr != nil || !ok {
			return chunks, cerr
		}
		count, _ := binary.Uvarint(chunk.Raw)
		chunks = append(chunks, ChunkInfo{
			First: chunk.First,
			Last:  chunk.Last,
			Count: int(count),
			Size:  len(chunk.Raw),
		})
	}
}
