// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

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

// splitLeaf cuts the leaf's merged elements at a row-id boundary balancing
// encoded size, keeps the left half in place, moves the right half to a
// fresh page linked as successor, and propagates the separator upwards.
// ref (exclusively locked left page) is owned and released here.
//
// The order of mutations keeps the tree navigable for concurrent readers
// at every point: the right page is fully built before the left page
// shrinks its range, and a reader that still descends to the left page
// recovers via the right-link.
func (tree *Tree) splitLeaf(ctx context.Context, ref colstore.PageRef, p page.Page, no colstore.PageNo, path []colstore.PageNo, elems []attstream.Element) (err error) {
	defer func() { ref.Release() }()

	if len(elems) < 2 {
		return fmt.Errorf("%w: single element exceeds leaf capacity on page %d",
			colstore.ErrValueTooLarge, no)
	}

	splitAt := splitPoint(elems)
	sep := elems[splitAt].RowID
	left, right := elems[:splitAt], elems[splitAt:]

	leftStream, err := attstream.Compress(attstream.EncodeElements(tree.attr, left), tree.comp)
	if err != nil {
		return
	}
	rightStream, err := attstream.Compress(attstream.EncodeElements(tree.attr, right), tree.comp)
	if err != nil {
		return
	}

	capacity := p.Special() - page.HeadSize
	if len(leftStream) > capacity || len(rightStream) > capacity {
		return fmt.Errorf("%w: split halves of page %d still exceed capacity",
			colstore.ErrValueTooLarge, no)
	}

	t := page.BtreeTrailer(p.Trailer())
	hikey := t.HiKey()
	next := t.Next()

	rightNo, err := meta.Allocate(ctx, tree.store)
	if err != nil {
		return
	}
	rightRef, err := tree.store.Acquire(ctx, rightNo, colstore.LockExclusive)
	if err != nil {
		_ = meta.Free(ctx, tree.store, rightNo)
		return
	}

	rp := page.Page(rightRef.Data())
	rp.Init(page.KindBtree, page.BtreeTrailerSize)
	rt := page.BtreeTrailer(rp.Trailer())
	rt.SetAttrNo(tree.attr.No)
	rt.SetLevel(0)
	rt.SetNext(next)
	rt.SetLoKey(sep)
	rt.SetHiKey(hikey)
	setBaseStream(rp, rightStream)
	rightRef.MarkDirty()
	rightRef.Release()

	setBaseStream(p, leftStream)
	p.SetUpper(p.Special())
	t.SetHiKey(sep)
	t.SetNext(rightNo)
	ref.MarkDirty()

	tree.log.Debug("leaf split",
		zap.Uint16("attno", uint16(tree.attr.No)),
		zap.Uint32("left", uint32(no)),
		zap.Uint32("right", uint32(rightNo)),
		zap.Uint64("separator", uint64(sep)))

	// the left page's lock is no longer needed for propagation
	ref.Release()
	ref = noopRef{}

	return tree.propagate(ctx, path, 0, no, sep, rightNo)
}

// splitPoint picks the element index splitting the run into halves of
// roughly equal encoded size.
func splitPoint(elems []attstream.Element) int {
	var total int
	sizes := make([]int, len(elems))
	for i := range elems {
		sizes[i] = 10 + len(elems[i].Value)
		total += sizes[i]
	}
	var sum int
	for i := range sizes {
		sum += sizes[i]
		if sum >= total/2 {
			return max(1, min(i+1, len(elems)-1))
		}
	}
	return len(elems) / 2
}

type noopRef struct{}

func (noopRef) Data() []byte { return nil }
func (noopRef) MarkDirty()   {}
func (noopRef) Release()     {}

// propagate inserts (sep, right) into the parent of the split page at
// level, splitting upwards as needed. path holds the descent's internal
// pages; when it runs dry either the split page was the root, or the root
// moved under us and the parent is found by a fresh partial descent.
func (tree *Tree) propagate(ctx context.Context, path []colstore.PageNo, level int, leftNo colstore.PageNo, sep colstore.RowID, right colstore.PageNo) (err error) {
	for {
		var parentNo colstore.PageNo
		if len(path) > 0 {
			parentNo = path[len(path)-1]
			path = path[:len(path)-1]
		} else {
			var rootNo colstore.PageNo
			if rootNo, err = tree.root(ctx); err != nil {
				return
			}
			if rootNo == leftNo {
				return tree.growRoot(ctx, leftNo, sep, right, level+1)
			}
			if parentNo, err = tree.findAtLevel(ctx, level+1, sep); err != nil {
				return
			}
		}

		var done bool
		var nextSep colstore.RowID
		var nextRight colstore.PageNo
		done, parentNo, nextSep, nextRight, err = tree.insertOrSplitInternal(ctx, parentNo, sep, right)
		if err != nil || done {
			return
		}

		leftNo = parentNo
		sep = nextSep
		right = nextRight
		level++
	}
}

// insertOrSplitInternal adds a routing entry to the internal page at no
// (moving right past concurrent splits first). When the page is full it
// splits, the entry lands in the proper half, and the new separator must
// be propagated by the caller.
func (tree *Tree) insertOrSplitInternal(ctx context.Context, no colstore.PageNo, sep colstore.RowID, child colstore.PageNo) (done bool, splitNo colstore.PageNo, nextSep colstore.RowID, nextRight colstore.PageNo, err error) {
	var ref colstore.PageRef
	p := page.Page(nil)
	var t page.BtreeTrailer

	for {
		if ref, err = tree.store.Acquire(ctx, no, colstore.LockExclusive); err != nil {
			return
		}
		p = page.Page(ref.Data())
		if err = page.Verify(p, no, page.KindBtree); err != nil {
			ref.Release()
			return
		}
		t = page.BtreeTrailer(p.Trailer())
		if sep >= t.HiKey() {
			next := t.Next()
			ref.Release()
			if next == colstore.InvalidPageNo {
				err = fmt.Errorf("%w: page %d: internal right-link chain ends before separator %d",
					colstore.ErrBadPageKind, no, sep)
				return
			}
			no = next
			continue
		}
		break
	}
	defer func() { ref.Release() }()

	if insertEntry(p, sep, child) {
		ref.MarkDirty()
		done = true
		return
	}

	// full internal page: split entries at the midpoint
	n := entryCount(p)
	mid := n / 2
	midSep := entrySep(p, mid)

	var rightNo colstore.PageNo
	if rightNo, err = meta.Allocate(ctx, tree.store); err != nil {
		return
	}
	var rightRef colstore.PageRef
	if rightRef, err = tree.store.Acquire(ctx, rightNo, colstore.LockExclusive); err != nil {
		_ = meta.Free(ctx, tree.store, rightNo)
		return
	}

	oldHi := t.HiKey()
	oldNext := t.Next()

	rp := page.Page(rightRef.Data())
	rp.Init(page.KindBtree, page.BtreeTrailerSize)
	rt := page.BtreeTrailer(rp.Trailer())
	rt.SetAttrNo(tree.attr.No)
	rt.SetLevel(t.Level())
	rt.SetNext(oldNext)
	rt.SetLoKey(midSep)
	rt.SetHiKey(oldHi)
	for i := mid; i < n; i++ {
		putEntry(rp, i-mid, entrySep(p, i), entryChild(p, i))
	}
	rp.SetLower(page.HeadSize + (n-mid)*entrySize)

	// the right half is complete before the left page links to it
	if sep >= midSep && !insertEntry(rp, sep, child) {
		err = fmt.Errorf("%w: page %d: no room after internal split", colstore.ErrNoSpace, rightNo)
		rightRef.Release()
		_ = meta.Free(ctx, tree.store, rightNo)
		return
	}

	p.SetLower(page.HeadSize + mid*entrySize)
	t.SetHiKey(midSep)
	t.SetNext(rightNo)

	if sep < midSep && !insertEntry(p, sep, child) {
		// restore the left page before abandoning the right half
		p.SetLower(page.HeadSize + n*entrySize)
		t.SetHiKey(oldHi)
		t.SetNext(oldNext)
		err = fmt.Errorf("%w: page %d: no room after internal split", colstore.ErrNoSpace, no)
		rightRef.Release()
		_ = meta.Free(ctx, tree.store, rightNo)
		return
	}

	rightRef.MarkDirty()
	rightRef.Release()
	ref.MarkDirty()

	tree.log.Debug("internal split",
		zap.Uint16("attno", uint16(tree.attr.No)),
		zap.Uint32("left", uint32(no)),
		zap.Uint32("right", uint32(rightNo)),
		zap.Uint64("separator", uint64(midSep)))

	splitNo = no
	nextSep = midSep
	nextRight = rightNo
	return
}

// growRoot replaces the root with a new internal page routing to the two
// halves of the old one, increasing tree height by one level.
func (tree *Tree) growRoot(ctx context.Context, left colstore.PageNo, sep colstore.RowID, right colstore.PageNo, level int) (err error) {
	no, err := meta.Allocate(ctx, tree.store)
	if err != nil {
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
	t.SetLevel(level)
	t.SetNext(colstore.InvalidPageNo)
	t.SetLoKey(colstore.MinRowID)
	t.SetHiKey(colstore.MaxRowID)
	putEntry(p, 0, colstore.MinRowID, left)
	putEntry(p, 1, sep, right)
	p.SetLower(page.HeadSize + 2*entrySize)
	ref.MarkDirty()
	ref.Release()

	if err = meta.SetRoot(ctx, tree.store, tree.attr.No, no); err != nil {
		return
	}
	tree.log.Debug("root grown",
		zap.Uint16("attno", uint16(tree.attr.No)),
		zap.Uint32("root", uint32(no)),
		zap.Int("level", level))
	return
}

// findAtLevel descends to the internal page at the given level whose range
// covers sep, for propagation after the root moved.
func (tree *Tree) findAtLevel(ctx context.Context, level int, sep colstore.RowID) (no colstore.PageNo, err error) {
	no, err = tree.root(ctx)
	if err != nil {
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

		if sep >= t.HiKey() && t.Next() != colstore.InvalidPageNo {
			next := t.Next()
			ref.Release()
			no = next
			continue
		}
		if t.Level() < level {
			ref.Release()
			err = fmt.Errorf("%w: no internal page at level %d for separator %d",
				colstore.ErrBadPageKind, level, sep)
			return
		}
		if t.Level() == level {
			ref.Release()
			return
		}

		child, ok := findChild(p, sep)
		ref.Release()
		if !ok {
			err = fmt.Errorf("%w: page %d: no child for separator %d",
				colstore.ErrBadPageKind, no, sep)
			return
		}
		no = child
	}
}
