// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package meta manages the metapage (page 0): the undo log head/tail
// pointers, the oldest-retained undo position, the free-page-list head, the
// engine flags, and the per-attribute B-tree root directory kept in the
// metapage item area.
//
// The metapage is the single shared hot resource of the engine. Every
// mutation happens inside one exclusive lock scope and leaves the page
// internally consistent; there are no multi-step updates split across
// separate acquisitions.
package meta

import (
	"context"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/page"
)

// Data is a decoded snapshot of the metapage trailer.
type Data struct {
	UndoHead             colstore.PageNo
	UndoTail             colstore.PageNo
	UndoTailFirstCounter uint64
	OldestCounter        uint64
	OldestPage           colstore.PageNo
	OldestOffset         uint16
	FreeHead             colstore.PageNo
	Flags                uint32
}

// Init formats page 0 of an empty store as the metapage, with no undo pages,
// an empty free list and an empty attribute directory.
func Init(ctx context.Context, store colstore.BlockStore) (err error) {
	n, err := store.NumPages()
	if err != nil {
		return
	}
	if n == 0 {
		var no colstore.PageNo
		if no, err = store.Allocate(); err != nil {
			return
		}
		if no != colstore.MetaPageNo {
			return fmt.Errorf("%w: first allocation returned page %d", colstore.ErrBadMeta, no)
		}
	}

	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	p.Init(page.KindMeta, page.MetaTrailerSize)

	t := page.MetaTrailer(p.Trailer())
	t.SetUndoHead(colstore.InvalidPageNo)
	t.SetUndoTail(colstore.InvalidPageNo)
	t.SetUndoTailFirstCounter(1)
	t.SetOldestCounter(1)
	t.SetOldestPage(colstore.InvalidPageNo)
	t.SetFreeHead(colstore.InvalidPageNo)
	ref.MarkDirty()
	return
}

func read(p page.Page) Data {
	t := page.MetaTrailer(p.Trailer())
	return Data{
		UndoHead:             t.UndoHead(),
		UndoTail:             t.UndoTail(),
		UndoTailFirstCounter: t.UndoTailFirstCounter(),
		OldestCounter:        t.OldestCounter(),
		OldestPage:           t.OldestPage(),
		OldestOffset:         t.OldestOffset(),
		FreeHead:             t.FreeHead(),
		Flags:                t.EngineFlags(),
	}
}

func write(p page.Page, data Data) {
	t := page.MetaTrailer(p.Trailer())
	t.SetUndoHead(data.UndoHead)
	t.SetUndoTail(data.UndoTail)
	t.SetUndoTailFirstCounter(data.UndoTailFirstCounter)
	t.SetOldestCounter(data.OldestCounter)
	t.SetOldestPage(data.OldestPage)
	t.SetOldestOffset(data.OldestOffset)
	t.SetFreeHead(data.FreeHead)
	t.SetEngineFlags(data.Flags)
}

// Read returns a consistent snapshot of the metapage under a shared lock.
func Read(ctx context.Context, store colstore.BlockStore) (data Data, err error) {
	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	data = read(p)
	return
}

// Update applies fn to the metapage fields within one exclusive lock scope.
func Update(ctx context.Context, store colstore.BlockStore, fn func(*Data)) (err error) {
	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	data := read(p)
	fn(&data)
	write(p, data)
	ref.MarkDirty()
	return
}
