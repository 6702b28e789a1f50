// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package inspect provides read-only views of the on-disk structures for
// tooling: page classification, per-kind page tables, metapage snapshots
// and raw stream dumps. It never mutates a page.
//
// Every entry point consults the authorizer before touching any page.
package inspect

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

// Authorizer gates inspection. Authorize runs before the first page of an
// inspection call is read.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// Inspector reads a store's structures without interpreting row data.
type Inspector struct {
	store  colstore.BlockStore
	auth   Authorizer
	widths map[colstore.AttrNo]int
}

// New returns an Inspector. A nil auth allows every caller.
func New(store colstore.BlockStore, auth Authorizer) *Inspector {
	return &Inspector{store: store, auth: auth, widths: make(map[colstore.AttrNo]int)}
}

// SetAttrWidth registers an attribute's value width so stream leaves can
// be counted and dumped. Negative widths mark variable-length attributes.
func (in *Inspector) SetAttrWidth(attno colstore.AttrNo, width int) {
	in.widths[attno] = width
}

func (in *Inspector) check(ctx context.Context) error {
	if in.auth == nil {
		return nil
	}
	if err := in.auth.Authorize(ctx); err != nil {
		return fmt.Errorf("%w: %w", colstore.ErrNotAuthorized, err)
	}
	return nil
}

// PageKind classifies a single page by its trailer tag.
func (in *Inspector) PageKind(ctx context.Context, no colstore.PageNo) (kind page.Kind, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	ref, err := in.store.Acquire(ctx, no, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()
	return page.Page(ref.Data()).Kind(), nil
}

// Summary counts pages per kind across the whole store.
type Summary struct {
	NumPages colstore.PageNo
	ByKind   map[page.Kind]int
}

// Summarize walks every page and tallies kinds. Cancellable between pages.
func (in *Inspector) Summarize(ctx context.Context) (sum Summary, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	n, err := in.store.NumPages()
	if err != nil {
		return
	}
	sum = Summary{NumPages: n, ByKind: make(map[page.Kind]int)}
	for no := colstore.PageNo(0); no < n; no++ {
		if err = ctx.Err(); err != nil {
			return
		}
		var ref colstore.PageRef
		if ref, err = in.store.Acquire(ctx, no, colstore.LockShared); err != nil {
			return
		}
		sum.ByKind[page.Page(ref.Data()).Kind()]++
		ref.Release()
	}
	return
}

// MetaInfo is a decoded snapshot of the metapage, including the attribute
// root directory.
type MetaInfo struct {
	meta.Data
	Roots []RootInfo
}

// RootInfo is one attribute directory entry.
type RootInfo struct {
	AttrNo colstore.AttrNo
	Root   colstore.PageNo
}

// Meta snapshots the metapage.
func (in *Inspector) Meta(ctx context.Context) (info MetaInfo, err error) {
	if err = in.check(ctx); err != nil {
		return
	}
	ref, err := in.store.Acquire(ctx, colstore.MetaPageNo, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}

	t := page.MetaTrailer(p.Trailer())
	info.Data = meta.Data{
		UndoHead:             t.UndoHead(),
		UndoTail:             t.UndoTail(),
		UndoTailFirstCounter: t.UndoTailFirstCounter(),
		OldestCounter:        t.OldestCounter(),
		OldestPage:           t.OldestPage(),
		OldestOffset:         t.OldestOffset(),
		FreeHead:             t.FreeHead(),
		Flags:                t.EngineFlags(),
	}

	items := p.LowerRegion()
	for off := 0; off+6 <= len(items); off += 6 {
		info.Roots = append(info.Roots, RootInfo{
			AttrNo: colstore.AttrNo(binary.LittleEndian.Uint16(items[off:])),
			Root:   colstore.PageNo(binary.LittleEndian.Uint32(items[off+2:])),
		})
	}
	return
}
