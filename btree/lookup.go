// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"context"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/page"
)

// Lookup returns the element stored for rowid. found is false when the
// tree holds nothing for that id; absence is a normal outcome, not an
// error.
//
// The insert buffer is consulted before the base stream, since it holds
// the newer write for a row id present in both.
func (tree *Tree) Lookup(ctx context.Context, rowid colstore.RowID) (elem attstream.Element, found bool, err error) {
	leaf, _, err := tree.descend(ctx, rowid)
	if err != nil || leaf == colstore.InvalidPageNo {
		return
	}

	no := leaf
	for {
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

		if rowid >= t.HiKey() {
			next := t.Next()
			ref.Release()
			if next == colstore.InvalidPageNo {
				return
			}
			no = next
			continue
		}
		if rowid < t.LoKey() {
			ref.Release()
			return
		}

		elem, found, err = tree.findInLeaf(p, rowid)
		ref.Release()
		return
	}
}

func (tree *Tree) findInLeaf(p page.Page, rowid colstore.RowID) (elem attstream.Element, found bool, err error) {
	if buf := bufferStream(p); len(buf) > 0 {
		elem, found, err = attstream.Find(tree.attr, buf, tree.comp, rowid)
		if err != nil || found {
			elem = copyElement(elem)
			return
		}
	}
	if base := baseStream(p); len(base) > 0 {
		elem, found, err = attstream.Find(tree.attr, base, tree.comp, rowid)
		if found {
			elem = copyElement(elem)
		}
	}
	return
}

// copyElement detaches a decoded element from the page buffer it aliases,
// which is about to be unlocked.
func copyElement(elem attstream.Element) attstream.Element {
	if elem.Value != nil {
		elem.Value = append([]byte(nil), elem.Value...)
	}
	return elem
}
