// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"context"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/page"
)

// Allocate returns a page for a new structure, recycling the free-page list
// before extending the store. The returned page is unlocked and unformatted;
// the caller tags it.
func Allocate(ctx context.Context, store colstore.BlockStore) (no colstore.PageNo, err error) {
	no = colstore.InvalidPageNo

	meta, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer meta.Release()

	p := page.Page(meta.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	no, err = AllocateWithin(ctx, store, p)
	if err == nil {
		meta.MarkDirty()
	}
	return
}

// AllocateWithin is Allocate for callers already holding the metapage
// exclusively, so a page grab can join a larger single-scope meta mutation.
// The caller marks the metapage dirty.
//
// Lock order is metapage first, then the candidate free page, matching Free.
func AllocateWithin(ctx context.Context, store colstore.BlockStore, metaPage page.Page) (no colstore.PageNo, err error) {
	no = colstore.InvalidPageNo
	t := page.MetaTrailer(metaPage.Trailer())

	head := t.FreeHead()
	if head == colstore.InvalidPageNo {
		return store.Allocate()
	}

	ref, err := store.Acquire(ctx, head, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	fp := page.Page(ref.Data())
	if err = page.Verify(fp, head, page.KindFree); err != nil {
		return
	}
	t.SetFreeHead(page.FreeTrailer(fp.Trailer()).Next())
	no = head
	return
}

// Free retags a page FREE and pushes it onto the free-page list. Freed pages
// are never handed back to the block store, so stale pointers held by
// concurrent readers keep resolving to a page of a recognizable kind.
func Free(ctx context.Context, store colstore.BlockStore, no colstore.PageNo) (err error) {
	meta, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer meta.Release()

	p := page.Page(meta.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}
	if err = FreeWithin(ctx, store, p, no); err != nil {
		return
	}
	meta.MarkDirty()
	return
}

// FreeWithin is Free for callers already holding the metapage exclusively.
// The caller marks the metapage dirty.
func FreeWithin(ctx context.Context, store colstore.BlockStore, metaPage page.Page, no colstore.PageNo) (err error) {
	t := page.MetaTrailer(metaPage.Trailer())

	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	fp := page.Page(ref.Data())
	fp.Init(page.KindFree, page.FreeTrailerSize)
	page.FreeTrailer(fp.Trailer()).SetNext(t.FreeHead())
	ref.MarkDirty()

	t.SetFreeHead(no)
	return
}
