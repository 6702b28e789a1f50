// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"context"
	"encoding/binary"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/page"
)

// The metapage item area holds the attribute root directory: fixed 6-byte
// items {attno uint16, root uint32} packed from the header end, in no
// particular order. The directory is small (one item per column plus the
// row-existence tree) and rewritten in place.

const rootItemSize = 6

// Root returns the B-tree root page of an attribute, or InvalidPageNo when
// the attribute has no tree yet.
func Root(ctx context.Context, store colstore.BlockStore, attno colstore.AttrNo) (no colstore.PageNo, err error) {
	no = colstore.InvalidPageNo

	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockShared)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}

	items := p.LowerRegion()
	for off := 0; off+rootItemSize <= len(items); off += rootItemSize {
		if colstore.AttrNo(binary.LittleEndian.Uint16(items[off:])) == attno {
			no = colstore.PageNo(binary.LittleEndian.Uint32(items[off+2:]))
			return
		}
	}
	return
}

// SetRoot records the root page of an attribute's tree, replacing an
// existing directory entry or appending a new one.
func SetRoot(ctx context.Context, store colstore.BlockStore, attno colstore.AttrNo, no colstore.PageNo) (err error) {
	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}

	items := p.LowerRegion()
	for off := 0; off+rootItemSize <= len(items); off += rootItemSize {
		if colstore.AttrNo(binary.LittleEndian.Uint16(items[off:])) == attno {
			binary.LittleEndian.PutUint32(items[off+2:], uint32(no))
			ref.MarkDirty()
			return
		}
	}

	lower := p.Lower()
	if lower+rootItemSize > p.Upper() {
		return colstore.ErrNoSpace
	}
	binary.LittleEndian.PutUint16(p[lower:], uint16(attno))
	binary.LittleEndian.PutUint32(p[lower+2:], uint32(no))
	p.SetLower(lower + rootItemSize)
	ref.MarkDirty()
	return
}

// SetRootIfAbsent records no as the attribute's root only when the
// directory holds no entry for it yet, and returns the root in effect
// afterwards. Racing bootstraps resolve here under the metapage lock: the
// caller whose page lost must free it and descend from the returned root.
func SetRootIfAbsent(ctx context.Context, store colstore.BlockStore, attno colstore.AttrNo, no colstore.PageNo) (root colstore.PageNo, err error) {
	root = no

	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockExclusive)
	if err != nil {
		return
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, colstore.MetaPageNo, page.KindMeta); err != nil {
		return
	}

	items := p.LowerRegion()
	for off := 0; off+rootItemSize <= len(items); off += rootItemSize {
		if colstore.AttrNo(binary.LittleEndian.Uint16(items[off:])) == attno {
			root = colstore.PageNo(binary.LittleEndian.Uint32(items[off+2:]))
			return
		}
	}

	lower := p.Lower()
	if lower+rootItemSize > p.Upper() {
		return colstore.InvalidPageNo, colstore.ErrNoSpace
	}
	binary.LittleEndian.PutUint16(p[lower:], uint16(attno))
	binary.LittleEndian.PutUint32(p[lower+2:], uint32(no))
	p.SetLower(lower + rootItemSize)
	ref.MarkDirty()
	return
}
