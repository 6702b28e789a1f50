// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package toast stores oversized attribute values on chains of dedicated
// pages. The value is cut into page-sized slices, each optionally
// compressed on its own; slices link to their neighbors in offset order and
// every slice replicates the value's total logical size so a chain can be
// verified from any link.
//
// Values below the engine's inline threshold never enter this path; they
// are encoded inline by the stream codec.
package toast

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

// SliceCapacity returns the logical bytes one toast page can hold.
func SliceCapacity(pageSize int) int {
	return pageSize - page.HeadSize - page.ToastTrailerSize
}

// Store writes value to a fresh chain owned by rowid and returns the head
// page. The compressor may be nil to force raw slices; a slice is stored
// compressed only when that actually saves space.
func Store(ctx context.Context, store colstore.BlockStore, rowid colstore.RowID, value []byte, comp colstore.Compressor) (head colstore.PageNo, err error) {
	head = colstore.InvalidPageNo
	if len(value) == 0 {
		err = fmt.Errorf("%w: empty toast value for row %d", colstore.ErrBadToastChain, rowid)
		return
	}

	capacity := SliceCapacity(store.PageSize())
	prev := colstore.InvalidPageNo
	var prevRef colstore.PageRef
	defer func() {
		if prevRef != nil {
			prevRef.Release()
		}
	}()

	for offset := 0; offset < len(value); offset += capacity {
		slice := value[offset:min(offset+capacity, len(value))]

		stored := slice
		compressed := false
		if comp != nil {
			var packed []byte
			if packed, err = comp.Compress(slice); err != nil {
				err = fmt.Errorf("%w: %w", colstore.ErrBadCompression, err)
				return
			}
			if len(packed) < len(slice) {
				stored = packed
				compressed = true
			}
		}

		var no colstore.PageNo
		if no, err = meta.Allocate(ctx, store); err != nil {
			return
		}

		var ref colstore.PageRef
		if ref, err = store.Acquire(ctx, no, colstore.LockExclusive); err != nil {
			return
		}

		p := page.Page(ref.Data())
		p.Init(page.KindToast, page.ToastTrailerSize)
		copy(p[page.HeadSize:], stored)
		p.SetLower(page.HeadSize + len(stored))

		t := page.ToastTrailer(p.Trailer())
		t.SetRowID(rowid)
		t.SetTotalSize(uint64(len(value)))
		t.SetSliceOffset(uint64(offset))
		t.SetPrev(prev)
		t.SetNext(colstore.InvalidPageNo)
		t.SetUncompressedSize(len(slice))
		t.SetCompressed(compressed)
		ref.MarkDirty()

		if prevRef != nil {
			page.ToastTrailer(page.Page(prevRef.Data()).Trailer()).SetNext(no)
			prevRef.MarkDirty()
			prevRef.Release()
		} else {
			head = no
		}
		prev = no
		prevRef = ref
	}
	return
}

// Read walks the chain from head in offset order and returns the complete
// value. A slice whose recorded offset disagrees with the running offset,
// or whose replicated total size disagrees with the head's, is a corruption
// signal.
func Read(ctx context.Context, store colstore.BlockStore, head colstore.PageNo, comp colstore.Compressor) (value []byte, err error) {
	no := head
	var total uint64
	var owner colstore.RowID
	offset := 0

	for no != colstore.InvalidPageNo {
		if err = ctx.Err(); err != nil {
			return
		}

		var ref colstore.PageRef
		if ref, err = store.Acquire(ctx, no, colstore.LockShared); err != nil {
			return
		}

		var next colstore.PageNo
		next, err = func() (colstore.PageNo, error) {
			defer ref.Release()

			p := page.Page(ref.Data())
			if err := page.Verify(p, no, page.KindToast); err != nil {
				return colstore.InvalidPageNo, err
			}
			t := page.ToastTrailer(p.Trailer())

			if no == head {
				total = t.TotalSize()
				owner = t.RowID()
				value = make([]byte, 0, total)
			} else {
				if t.TotalSize() != total {
					return colstore.InvalidPageNo, fmt.Errorf("%w: page %d: total size %d, chain says %d",
						colstore.ErrBadToastChain, no, t.TotalSize(), total)
				}
				if t.RowID() != owner {
					return colstore.InvalidPageNo, fmt.Errorf("%w: page %d: owner %d, chain says %d",
						colstore.ErrBadToastChain, no, t.RowID(), owner)
				}
			}
			if t.SliceOffset() != uint64(offset) {
				return colstore.InvalidPageNo, fmt.Errorf("%w: page %d: slice offset %d, expected %d",
					colstore.ErrBadToastChain, no, t.SliceOffset(), offset)
			}

			slice := p.LowerRegion()
			if t.Compressed() {
				decoded, err := comp.Decompress(slice, t.UncompressedSize())
				if err != nil {
					return colstore.InvalidPageNo, fmt.Errorf("%w: page %d: %w",
						colstore.ErrBadCompression, no, err)
				}
				slice = decoded
			}
			if len(slice) != t.UncompressedSize() {
				return colstore.InvalidPageNo, fmt.Errorf("%w: page %d: slice decoded to %d bytes, declared %d",
					colstore.ErrBadToastChain, no, len(slice), t.UncompressedSize())
			}

			value = append(value, slice...)
			offset += len(slice)
			return t.Next(), nil
		}()
		if err != nil {
			return
		}
		no = next
	}

	if uint64(len(value)) != total {
		err = fmt.Errorf("%w: chain at %d: read %d bytes, total size says %d",
			colstore.ErrBadToastChain, head, len(value), total)
		value = nil
	}
	return
}

// Delete unlinks the chain at head and returns every slice page to the
// free-page list. Chains are verified while walking; a mis-linked chain is
// reported rather than partially freed.
func Delete(ctx context.Context, store colstore.BlockStore, head colstore.PageNo) (err error) {
	var pages []colstore.PageNo
	no := head
	offset := uint64(0)

	for no != colstore.InvalidPageNo {
		if err = ctx.Err(); err != nil {
			return
		}

		var ref colstore.PageRef
		if ref, err = store.Acquire(ctx, no, colstore.LockShared); err != nil {
			return
		}

		p := page.Page(ref.Data())
		if err = page.Verify(p, no, page.KindToast); err != nil {
			ref.Release()
			return
		}
		t := page.ToastTrailer(p.Trailer())
		if t.SliceOffset() != offset {
			err = fmt.Errorf("%w: page %d: slice offset %d, expected %d",
				colstore.ErrBadToastChain, no, t.SliceOffset(), offset)
			ref.Release()
			return
		}
		offset += uint64(t.UncompressedSize())
		pages = append(pages, no)
		no = t.Next()
		ref.Release()
	}

	for _, no := range pages {
		if err = meta.Free(ctx, store, no); err != nil {
			return
		}
	}
	return
}

// PointerSize is the encoded size of a chain reference stored in an
// attribute stream in place of the value bytes.
const PointerSize = 4 + 8

// EncodePointer encodes a chain reference for embedding in a stream value.
func EncodePointer(head colstore.PageNo, totalSize uint64) []byte {
	ptr := make([]byte, PointerSize)
	binary.LittleEndian.PutUint32(ptr, uint32(head))
	binary.LittleEndian.PutUint64(ptr[4:], totalSize)
	return ptr
}

// DecodePointer decodes a chain reference previously encoded by EncodePointer.
func DecodePointer(ptr []byte) (head colstore.PageNo, totalSize uint64, err error) {
	if len(ptr) != PointerSize {
		err = fmt.Errorf("%w: toast pointer of %d bytes", colstore.ErrBadToastChain, len(ptr))
		return
	}
	head = colstore.PageNo(binary.LittleEndian.Uint32(ptr))
	totalSize = binary.LittleEndian.Uint64(ptr[4:])
	return
}
