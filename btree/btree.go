// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package btree implements the per-attribute B-tree: one independent tree
// per column, keyed purely by row id, so column-at-a-time scans touch only
// the columns they reference.
//
// Internal pages route by row-id range. Leaf pages of attribute trees embed
// up to two attribute streams: a larger base stream in the lower region,
// append-mostly and possibly compressed, and a small mutable insert buffer
// in the upper region that absorbs new writes cheaply. Compaction merges
// the buffer into the base and re-applies compression. The leaf of the
// shared row-existence tree (attribute 0) stores fixed-size items instead.
//
// Pages at the same level are chained by right-links; a page's key range is
// [LoKey, HiKey), low inclusive, high exclusive. Readers that observe the
// tree mid-split recover by following the right-link, so splits appear
// atomic from a reader's perspective.
package btree

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

// Tree operates one attribute's B-tree. The root page travels through the
// metapage attribute directory, so independent Tree values for the same
// attribute see each other's structural changes.
type Tree struct {
	store colstore.BlockStore
	comp  colstore.Compressor
	log   *zap.Logger
	attr  attstream.Attr
}

// New returns a Tree over the given attribute. logger may be nil.
func New(store colstore.BlockStore, attr attstream.Attr, comp colstore.Compressor, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{
		store: store,
		comp:  comp,
		log:   logger,
		attr:  attr,
	}
}

// Attr returns the attribute descriptor the tree was opened with.
func (tree *Tree) Attr() attstream.Attr {
	return tree.attr
}

// root returns the tree's root page, or InvalidPageNo before first insert.
func (tree *Tree) root(ctx context.Context) (colstore.PageNo, error) {
	return meta.Root(ctx, tree.store, tree.attr.No)
}

// bootstrap creates the first leaf covering the whole key domain and
// records it as root. Races with a concurrent bootstrap resolve through
// the directory: the loser frees its page and retries.
func (tree *Tree) bootstrap(ctx context.Context) (no colstore.PageNo, err error) {
	if no, err = meta.Root(ctx, tree.store, tree.attr.No); err != nil {
		return
	}
	if no != colstore.InvalidPageNo {
		return
	}

	if no, err = meta.Allocate(ctx, tree.store); err != nil {
		return
	}

	ref, err := tree.store.Acquire(ctx, no, colstore.LockExclusive)
	if err != nil {
		_ = meta.Free(ctx, tree.store, no)
		return
	}
	p := page.Page(ref.Data())
	p.Init(page.KindBtree, page.BtreeTrailerSize)
	t := page.BtreeTrailer(p.Trailer())
	t.SetAttrNo(tree.attr.No)
	t.SetLevel(0)
	t.SetNext(colstore.InvalidPageNo)
	t.SetLoKey(colstore.MinRowID)
	t.SetHiKey(colstore.MaxRowID)
	ref.MarkDirty()
	ref.Release()

	root, err := meta.SetRootIfAbsent(ctx, tree.store, tree.attr.No, no)
	if err != nil {
		return
	}
	if root != no {
		// lost the race: hand the page back and use the winner's root
		err = meta.Free(ctx, tree.store, no)
		no = root
		return
	}
	tree.log.Debug("btree bootstrap",
		zap.Uint16("attno", uint16(tree.attr.No)),
		zap.Uint32("root", uint32(no)))
	return
}

// descend walks from the root to the leaf whose range covers rowid,
// recording the internal path top-down for later split propagation. Pages
// are locked shared one at a time; the leaf itself is left unlocked.
func (tree *Tree) descend(ctx context.Context, rowid colstore.RowID) (leaf colstore.PageNo, path []colstore.PageNo, err error) {
	leaf = colstore.InvalidPageNo

	no, err := tree.root(ctx)
	if err != nil || no == colstore.InvalidPageNo {
		return
	}

	for {
		if err = ctx.Err(); err != nil {
			return
		}

		var ref colstore.PageRef
		if ref, err = tree.store.Acquire(ctx, no, colstore.LockShared); err != nil {
			return
		}

		p := page.Page(ref.Data())
		if err = page.Verify(p, no, page.KindBtree); err != nil {
			ref.Release()
			return
		}
		t := page.BtreeTrailer(p.Trailer())

		if rowid >= t.HiKey() && t.Next() != colstore.InvalidPageNo {
			// concurrent split moved our range right
			next := t.Next()
			ref.Release()
			no = next
			continue
		}

		if t.Level() == 0 {
			ref.Release()
			leaf = no
			return
		}

		child, ok := findChild(p, rowid)
		ref.Release()
		if !ok {
			err = fmt.Errorf("%w: page %d: no child for row id %d",
				colstore.ErrBadPageKind, no, rowid)
			return
		}
		path = append(path, no)
		no = child
	}
}
