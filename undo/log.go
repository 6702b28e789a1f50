// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package undo

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

// Append writes a record at the log tail and returns its pointer. The
// record's Ptr field is assigned here; Prev, XID, RowID, Op and Payload are
// taken as given.
//
// The whole append happens inside one exclusive metapage scope: the
// metapage coordinates the tail, and sealing plus relinking must be atomic
// against concurrent appenders.
func Append(ctx context.Context, store colstore.BlockStore, rec *Record) (ptr Ptr, err error) {
	metaRef, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer metaRef.Release()

	mp := page.Page(metaRef.Data())
	if err = page.Verify(mp, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	t := page.MetaTrailer(mp.Trailer())

	tail := t.UndoTail()
	if tail == colstore.InvalidPageNo {
		if tail, err = newTailPage(ctx, store, mp); err != nil {
			return
		}
		t.SetUndoHead(tail)
		t.SetUndoTail(tail)
		// first counter of an empty log is already recorded
	}

	ref, err := store.Acquire(ctx, tail, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer func() { ref.Release() }()

	p := page.Page(ref.Data())
	if err = page.Verify(p, tail, page.KindUndo); err != nil {
		return
	}

	counter, lower, err := tailState(p, tail, t.UndoTailFirstCounter())
	if err != nil {
		return
	}

	size := rec.size()
	if lower+size > p.Upper() {
		if size > store.PageSize()-page.HeadSize-page.UndoTrailerSize {
			err = fmt.Errorf("%w: undo record of %d bytes", colstore.ErrValueTooLarge, size)
			return
		}

		// seal the tail and link a fresh one
		var next colstore.PageNo
		if next, err = newTailPage(ctx, store, mp); err != nil {
			return
		}
		page.UndoTrailer(p.Trailer()).SetNext(next)
		ref.MarkDirty()

		t.SetUndoTail(next)
		t.SetUndoTailFirstCounter(counter)
		metaRef.MarkDirty()

		ref.Release()
		if ref, err = store.Acquire(ctx, next, colstore.LockExclusive); err != nil {
			return
		}
		p = page.Page(ref.Data())
		tail = next
		lower = page.HeadSize
	}

	rec.Ptr = Ptr{Counter: counter, Page: tail, Offset: uint16(lower)}
	encodeRecord(p[lower:lower+size], rec)
	p.SetLower(lower + size)
	ref.MarkDirty()
	metaRef.MarkDirty()

	ptr = rec.Ptr
	return
}

func newTailPage(ctx context.Context, store colstore.BlockStore, metaPage page.Page) (no colstore.PageNo, err error) {
	no, err = meta.AllocateWithin(ctx, store, metaPage)
	if err != nil {
		return
	}

	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	p.Init(page.KindUndo, page.UndoTrailerSize)
	page.UndoTrailer(p.Trailer()).SetNext(colstore.InvalidPageNo)
	ref.MarkDirty()
	return
}

// tailState walks the records packed on the tail page and returns the
// counter for the next record plus the append offset. Records are
// self-describing, so the walk needs only the size prefix of each.
func tailState(p page.Page, no colstore.PageNo, firstCounter uint64) (counter uint64, lower int, err error) {
	counter = firstCounter
	lower = p.Lower()
	for off := page.HeadSize; off < lower; {
		size := int(binary.LittleEndian.Uint16(p[off:]))
		if size < recordHeadSize || off+size > lower {
			err = fmt.Errorf("%w: page %d offset %d: record size %d out of bounds",
				colstore.ErrBadUndoRecord, no, off, size)
			return
		}
		counter++
		off += size
	}
	return
}

// Read fetches the record at ptr. ok is false when the record is gone: the
// pointer lies below the oldest-retained watermark, past the tail, or in a
// page hole left by concurrent truncation. A record whose self-pointer
// disagrees with ptr is corruption, not absence.
func Read(ctx context.Context, store colstore.BlockStore, ptr Ptr) (rec Record, ok bool, err error) {
	if !ptr.Valid() {
		return
	}

	data, err := meta.Read(ctx, store)
	if err != nil {
		return
	}
	if ptr.Counter < data.OldestCounter {
		return
	}

	n, err := store.NumPages()
	if err != nil {
		return
	}
	if ptr.Page >= n {
		return
	}

	ref, err := store.Acquire(ctx, ptr.Page, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if p.Kind() == page.KindFree {
		// recycled between the watermark check and the page read
		return
	}
	if err = page.Verify(p, ptr.Page, page.KindUndo); err != nil {
		return
	}

	lower := p.Lower()
	for off := page.HeadSize; off < lower; {
		size := int(binary.LittleEndian.Uint16(p[off:]))
		if size < recordHeadSize || off+size > lower {
			err = fmt.Errorf("%w: page %d offset %d: record size %d out of bounds",
				colstore.ErrBadUndoRecord, ptr.Page, off, size)
			return
		}
		if off == int(ptr.Offset) {
			if rec, err = decodeRecord(p[off:off+size], ptr.Page, off); err != nil {
				return
			}
			if rec.Ptr != ptr {
				err = fmt.Errorf("%w: page %d offset %d: self pointer %+v disagrees with %+v",
					colstore.ErrBadUndoRecord, ptr.Page, off, rec.Ptr, ptr)
				rec = Record{}
				return
			}
			ok = true
			return
		}
		off += size
	}
	return
}

// AdvanceOldestRetained moves the oldest-retained watermark forward and
// unlinks head pages whose entire record range lies below it, returning
// them to the free-page list. The watermark never moves backwards.
//
// Each unlink is one complete metapage mutation; a cancellation between
// pages leaves the log fully linked.
func AdvanceOldestRetained(ctx context.Context, store colstore.BlockStore, watermark Ptr) (freed []colstore.PageNo, err error) {
	err = meta.Update(ctx, store, func(data *meta.Data) {
		if watermark.Counter > data.OldestCounter {
			data.OldestCounter = watermark.Counter
			data.OldestPage = watermark.Page
			data.OldestOffset = watermark.Offset
		}
	})
	if err != nil {
		return
	}

	for {
		if err = ctx.Err(); err != nil {
			return
		}

		var no colstore.PageNo
		no, err = truncateHead(ctx, store)
		if err != nil || no == colstore.InvalidPageNo {
			return
		}
		freed = append(freed, no)
	}
}

// truncateHead unlinks the oldest undo page if all its records lie below
// the watermark. Returns InvalidPageNo once the head must be kept.
func truncateHead(ctx context.Context, store colstore.BlockStore) (no colstore.PageNo, err error) {
	no = colstore.InvalidPageNo

	metaRef, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer metaRef.Release()

	mp := page.Page(metaRef.Data())
	if err = page.Verify(mp, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	t := page.MetaTrailer(mp.Trailer())

	head := t.UndoHead()
	if head == colstore.InvalidPageNo || head == t.UndoTail() {
		// never truncate the tail, even when empty of retained records
		return
	}

	ref, err := store.Acquire(ctx, head, colstore.LockShared)
	if err != nil {
		return
	}

	p := page.Page(ref.Data())
	if err = page.Verify(p, head, page.KindUndo); err != nil {
		ref.Release()
		return
	}

	last, _, err := lastCounter(p, head)
	if err != nil {
		ref.Release()
		return
	}
	next := page.UndoTrailer(p.Trailer()).Next()
	ref.Release()

	if last >= t.OldestCounter() {
		return
	}
	if next == colstore.InvalidPageNo {
		err = fmt.Errorf("%w: page %d: sealed head page without successor",
			colstore.ErrBadUndoRecord, head)
		return
	}

	if err = meta.FreeWithin(ctx, store, mp, head); err != nil {
		return
	}
	t.SetUndoHead(next)
	metaRef.MarkDirty()
	no = head
	return
}

// NextCounter returns the counter the next appended record will receive.
func NextCounter(ctx context.Context, store colstore.BlockStore) (counter uint64, err error) {
	data, err := meta.Read(ctx, store)
	if err != nil {
		return
	}
	if data.UndoTail == colstore.InvalidPageNo {
		return data.UndoTailFirstCounter, nil
	}

	ref, err := store.Acquire(ctx, data.UndoTail, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, data.UndoTail, page.KindUndo); err != nil {
		return
	}
	counter, _, err = tailState(p, data.UndoTail, data.UndoTailFirstCounter)
	return
}

// lastCounter returns the counter of the page's last record and the record
// count, using the self-describing pointers.
func lastCounter(p page.Page, no colstore.PageNo) (last uint64, n int, err error) {
	lower := p.Lower()
	for off := page.HeadSize; off < lower; {
		size := int(binary.LittleEndian.Uint16(p[off:]))
		if size < recordHeadSize || off+size > lower {
			err = fmt.Errorf("%w: page %d offset %d: record size %d out of bounds",
				colstore.ErrBadUndoRecord, no, off, size)
			return
		}
		var rec Record
		if rec, err = decodeRecord(p[off:off+size], no, off); err != nil {
			return
		}
		last = rec.Ptr.Counter
		n++
		off += size
	}
	return
}
