// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/page"
)

// Insert writes one element, creating the tree on first use. An element
// with an existing row id replaces the stored one.
//
// New writes land in the leaf's insert buffer. When the buffer no longer
// fits, the leaf is compacted: both streams merge into a fresh compressed
// base. When even the compacted form exceeds the page, the leaf splits.
func (tree *Tree) Insert(ctx context.Context, rowid colstore.RowID, value []byte, null bool) (err error) {
	if rowid < colstore.MinRowID {
		return fmt.Errorf("%w: row id %d", colstore.ErrOutOfRange, rowid)
	}

	leaf, path, err := tree.descend(ctx, rowid)
	if err != nil {
		return
	}
	if leaf == colstore.InvalidPageNo {
		if _, err = tree.bootstrap(ctx); err != nil {
			return
		}
		if leaf, path, err = tree.descend(ctx, rowid); err != nil {
			return
		}
		if leaf == colstore.InvalidPageNo {
			return fmt.Errorf("%w: bootstrap produced no leaf", colstore.ErrBadPageKind)
		}
	}

	elem := attstream.Element{RowID: rowid, Value: value, Null: null}

	no := leaf
	for {
		var ref colstore.PageRef
		if ref, err = tree.store.Acquire(ctx, no, colstore.LockExclusive); err != nil {
			return
		}

		p := page.Page(ref.Data())
		if err = page.Verify(p, no, page.KindBtree); err != nil {
			ref.Release()
			return
		}
		t := page.BtreeTrailer(p.Trailer())

		if rowid >= t.HiKey() {
			next := t.Next()
			ref.Release()
			if next == colstore.InvalidPageNo {
				return fmt.Errorf("%w: page %d: right-link chain ends before row id %d",
					colstore.ErrBadPageKind, no, rowid)
			}
			no = next
			continue
		}

		err = tree.insertInLeaf(ctx, ref, p, no, path, elem)
		return
	}
}

// insertInLeaf owns ref and releases it on all paths.
func (tree *Tree) insertInLeaf(ctx context.Context, ref colstore.PageRef, p page.Page, no colstore.PageNo, path []colstore.PageNo, elem attstream.Element) (err error) {
	buf := bufferStream(p)

	var newBuf []byte
	if len(buf) == 0 || elem.RowID > attstream.LastRowID(buf) {
		newBuf, err = attstream.Append(tree.attr, buf, []attstream.Element{elem})
	} else {
		newBuf, err = attstream.Encode(tree.attr, buf, []attstream.Element{elem}, tree.comp)
	}
	if err != nil {
		ref.Release()
		return
	}

	if p.Lower()+len(newBuf) <= p.Special() {
		setBufferStream(p, newBuf)
		ref.MarkDirty()
		ref.Release()
		return
	}

	// buffer no longer fits: compact both streams into one base
	elems, err := tree.leafElements(p, no, elem)
	if err != nil {
		ref.Release()
		return
	}

	compacted, err := attstream.Compress(attstream.EncodeElements(tree.attr, elems), tree.comp)
	if err != nil {
		ref.Release()
		return
	}

	if page.HeadSize+len(compacted) <= p.Special() {
		setBaseStream(p, compacted)
		p.SetUpper(p.Special())
		ref.MarkDirty()
		ref.Release()
		tree.log.Debug("leaf compacted",
			zap.Uint16("attno", uint16(tree.attr.No)),
			zap.Uint32("page", uint32(no)),
			zap.Int("elements", len(elems)),
			zap.Int("size", len(compacted)))
		return
	}

	return tree.splitLeaf(ctx, ref, p, no, path, elems)
}

// leafElements decodes and merges both leaf streams plus one pending
// element into a single strictly increasing run.
func (tree *Tree) leafElements(p page.Page, no colstore.PageNo, pending attstream.Element) (elems []attstream.Element, err error) {
	elems, err = tree.decodeLeaf(p, no)
	if err != nil {
		return
	}
	elems = mergeElements(elems, []attstream.Element{pending})
	return
}

// decodeLeaf decodes and merges both leaf streams into a single strictly
// increasing run.
func (tree *Tree) decodeLeaf(p page.Page, no colstore.PageNo) (elems []attstream.Element, err error) {
	base, err := attstream.Decode(tree.attr, baseStream(p), tree.comp)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", no, err)
	}
	over, err := attstream.Decode(tree.attr, bufferStream(p), tree.comp)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", no, err)
	}
	return mergeElements(base, over), nil
}

// mergeElements merges two strictly increasing runs; over wins on equal ids.
func mergeElements(base, over []attstream.Element) []attstream.Element {
	merged := make([]attstream.Element, 0, len(base)+len(over))
	i, j := 0, 0
	for i < len(base) && j < len(over) {
		switch {
		case base[i].RowID < over[j].RowID:
			merged = append(merged, base[i])
			i++
		case base[i].RowID > over[j].RowID:
			merged = append(merged, over[j])
			j++
		default:
			merged = append(merged, over[j])
			i++
			j++
		}
	}
	merged = append(merged, base[i:]...)
	merged = append(merged, over[j:]...)
	return merged
}
