// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"context"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/btree"
	"github.com/colstore/colstore/page"
	"github.com/colstore/colstore/undo"
)

// BtreePageInfo describes one B-tree page. Items is the element count of
// a leaf's uncompressed streams; compressed streams are not decoded, so
// the count is approximate and -1 marks a page with a compressed stream.
type BtreePageInfo struct {
	No     colstore.PageNo
	AttrNo colstore.AttrNo
	Level  int
	LoKey  colstore.RowID
	HiKey  colstore.RowID
	Next   colstore.PageNo
	Items  int
	Free   int
}

// UndoPageInfo describes one undo page. First and Last are the self
// pointers of the page's first and last records, zero on an empty page.
type UndoPageInfo struct {
	No      colstore.PageNo
	Next    colstore.PageNo
	Records int
	Used    int
	Free    int
	First   undo.Ptr
	Last    undo.Ptr
}

// ToastPageInfo describes one overflow page.
type ToastPageInfo struct {
	No          colstore.PageNo
	RowID       colstore.RowID
	TotalSize   uint64
	SliceOffset uint64
	Prev        colstore.PageNo
	Next        colstore.PageNo
	SliceSize   int
	Compressed  bool
}

// BtreePages enumerates every B-tree page in page-number order.
// Cancellable between pages.
func (in *Inspector) BtreePages(ctx context.Context) (infos []BtreePageInfo, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	err = in.eachPage(ctx, page.KindBtree, func(no colstore.PageNo, p page.Page) error {
		t := page.BtreeTrailer(p.Trailer())
		info := BtreePageInfo{
			No:     no,
			AttrNo: t.AttrNo(),
			Level:  t.Level(),
			LoKey:  t.LoKey(),
			HiKey:  t.HiKey(),
			Next:   t.Next(),
			Free:   p.FreeSpace(),
		}
		if t.Level() == 0 {
			info.Items = in.leafItems(p, t.AttrNo())
		}
		infos = append(infos, info)
		return nil
	})
	return
}

// leafItems counts a leaf's elements. Row directory leaves hold fixed
// items and count exactly. Stream leaves are counted only when the
// attribute's width is registered and the streams are uncompressed;
// compressed or unknown streams report -1, so the count is a diagnostic,
// not an invariant.
func (in *Inspector) leafItems(p page.Page, attno colstore.AttrNo) int {
	if attno == colstore.MetaAttrNo {
		return (p.Lower() - page.HeadSize) / btree.RowItemSize
	}
	width, ok := in.widths[attno]
	if !ok {
		return -1
	}
	attr := attstream.Attr{No: attno, Len: width}

	total := 0
	for _, stream := range [][]byte{p.LowerRegion(), p.UpperRegion()} {
		if len(stream) == 0 {
			continue
		}
		if len(stream) < attstream.HeaderSize || attstream.IsCompressed(stream) {
			return -1
		}
		n, err := attstream.CountElements(attr, stream)
		if err != nil {
			return -1
		}
		total += n
	}
	return total
}

// UndoPages enumerates every undo page. Records counts the self-describing
// records packed on each page.
func (in *Inspector) UndoPages(ctx context.Context) (infos []UndoPageInfo, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	err = in.eachPage(ctx, page.KindUndo, func(no colstore.PageNo, p page.Page) error {
		info := UndoPageInfo{
			No:   no,
			Next: page.UndoTrailer(p.Trailer()).Next(),
			Used: p.Lower() - page.HeadSize,
			Free: p.FreeSpace(),
		}
		info.Records, info.First, info.Last = walkRecords(p)
		infos = append(infos, info)
		return nil
	})
	return
}

// walkRecords counts the records packed on an undo page using their size
// prefixes and collects the first and last self pointers. A malformed
// size reports -1.
func walkRecords(p page.Page) (n int, first, last undo.Ptr) {
	lower := p.Lower()
	for off := page.HeadSize; off+2 <= lower; {
		size := int(uint16(p[off]) | uint16(p[off+1])<<8)
		if size < 3+undo.PtrSize || off+size > lower {
			return -1, undo.Ptr{}, undo.Ptr{}
		}
		last = undo.GetPtr(p[off+3:])
		if n == 0 {
			first = last
		}
		n++
		off += size
	}
	return
}

// ToastPages enumerates every overflow page.
func (in *Inspector) ToastPages(ctx context.Context) (infos []ToastPageInfo, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	err = in.eachPage(ctx, page.KindToast, func(no colstore.PageNo, p page.Page) error {
		t := page.ToastTrailer(p.Trailer())
		infos = append(infos, ToastPageInfo{
			No:          no,
			RowID:       t.RowID(),
			TotalSize:   t.TotalSize(),
			SliceOffset: t.SliceOffset(),
			Prev:        t.Prev(),
			Next:        t.Next(),
			SliceSize:   p.Lower() - page.HeadSize,
			Compressed:  t.Compressed(),
		})
		return nil
	})
	return
}

func (in *Inspector) eachPage(ctx context.Context, kind page.Kind, fn func(colstore.PageNo, page.Page) error) error {
	n, err := in.store.NumPages()
	if err != nil {
		return err
	}
	for no := colstore.PageNo(0); no < n; no++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref, err := in.store.Acquire(ctx, no, colstore.LockShared)
		if err != nil {
			return err
		}
		p := page.Page(ref.Data())
		if p.Kind() != kind {
			ref.Release()
			continue
		}
		err = fn(no, p)
		ref.Release()
		if err != nil {
			return err
		}
	}
	return nil
}
