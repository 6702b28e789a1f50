// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/compress"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
	"github.com/colstore/colstore/undo"
)

// RowTree is the row directory: the tree at attribute number zero whose
// leaves hold one fixed-size item per row, pairing the row id with the
// head of its version chain in the undo log. A row id exists in the table
// iff it has an item here; attribute trees are consulted only for rows
// the directory admits.
//
// Routing pages are shared with Tree, so splits propagate through the
// same machinery; only the leaf payload differs.
type RowTree struct {
	tree *Tree
}

// Item is one row directory entry.
type Item struct {
	RowID   colstore.RowID
	UndoPtr undo.Ptr
}

// RowItemSize is the encoded width of a directory item.
const RowItemSize = 8 + undo.PtrSize

// NewRowTree returns the row directory over store. A nil logger disables
// logging.
func NewRowTree(store colstore.BlockStore, logger *zap.Logger) *RowTree {
	attr := attstream.Attr{No: colstore.MetaAttrNo, Len: RowItemSize, ByVal: false}
	return &RowTree{tree: New(store, attr, compress.None{}, logger)}
}

func itemCount(p page.Page) int {
	return (p.Lower() - page.HeadSize) / RowItemSize
}

func itemAt(p page.Page, i int) Item {
	off := page.HeadSize + i*RowItemSize
	return Item{
		RowID:   colstore.RowID(binary.LittleEndian.Uint64(p[off:])),
		UndoPtr: undo.GetPtr(p[off+8:]),
	}
}

func putItem(p page.Page, i int, item Item) {
	off := page.HeadSize + i*RowItemSize
	binary.LittleEndian.PutUint64(p[off:], uint64(item.RowID))
	undo.PutPtr(p[off+8:], item.UndoPtr)
}

// findItem returns the index of rowid, or the insertion index with found
// false.
func findItem(p page.Page, rowid colstore.RowID) (i int, found bool) {
	n := itemCount(p)
	i = sort.Search(n, func(k int) bool {
		return itemAt(p, k).RowID >= rowid
	})
	found = i < n && itemAt(p, i).RowID == rowid
	return
}

// Lookup returns the version chain head for rowid. found is false when
// the row does not exist.
func (rt *RowTree) Lookup(ctx context.Context, rowid colstore.RowID) (ptr undo.Ptr, found bool, err error) {
	ref, p, _, err := rt.leafFor(ctx, rowid, colstore.LockShared)
	if err != nil || ref == nil {
		return
	}
	defer ref.Release()

	i, found := findItem(p, rowid)
	if found {
		ptr = itemAt(p, i).UndoPtr
	}
	return
}

// Insert records a new row with the given version chain head. Inserting
// a row id that already exists is a caller error.
func (rt *RowTree) Insert(ctx context.Context, rowid colstore.RowID, ptr undo.Ptr) (err error) {
	ref, p, no, err := rt.leafFor(ctx, rowid, colstore.LockExclusive)
	if err != nil {
		return
	}
	if ref == nil {
		if _, err = rt.tree.bootstrap(ctx); err != nil {
			return
		}
		if ref, p, no, err = rt.leafFor(ctx, rowid, colstore.LockExclusive); err != nil || ref == nil {
			return
		}
	}

	i, found := findItem(p, rowid)
	if found {
		ref.Release()
		return fmt.Errorf("row %d already exists on page %d", rowid, no)
	}

	if p.FreeSpace() >= RowItemSize {
		n := itemCount(p)
		for k := n; k > i; k-- {
			putItem(p, k, itemAt(p, k-1))
		}
		putItem(p, i, Item{RowID: rowid, UndoPtr: ptr})
		p.SetLower(p.Lower() + RowItemSize)
		ref.MarkDirty()
		ref.Release()
		return
	}

	return rt.splitLeaf(ctx, ref, p, no, Item{RowID: rowid, UndoPtr: ptr})
}

// Update replaces the version chain head of an existing row. found is
// false when the row does not exist.
func (rt *RowTree) Update(ctx context.Context, rowid colstore.RowID, ptr undo.Ptr) (found bool, err error) {
	ref, p, _, err := rt.leafFor(ctx, rowid, colstore.LockExclusive)
	if err != nil || ref == nil {
		return
	}
	defer ref.Release()

	i, found := findItem(p, rowid)
	if found {
		putItem(p, i, Item{RowID: rowid, UndoPtr: ptr})
		ref.MarkDirty()
	}
	return
}

// Remove deletes a row's directory item. found is false when the row
// does not exist. Used when a dead row's versions are all reclaimed.
func (rt *RowTree) Remove(ctx context.Context, rowid colstore.RowID) (found bool, err error) {
	ref, p, _, err := rt.leafFor(ctx, rowid, colstore.LockExclusive)
	if err != nil || ref == nil {
		return
	}
	defer ref.Release()

	i, found := findItem(p, rowid)
	if !found {
		return
	}
	n := itemCount(p)
	for k := i; k < n-1; k++ {
		putItem(p, k, itemAt(p, k+1))
	}
	p.SetLower(p.Lower() - RowItemSize)
	ref.MarkDirty()
	return
}

// LastRowID returns the highest row id present, or InvalidRowID on an
// empty directory. Row id assignment starts past it.
func (rt *RowTree) LastRowID(ctx context.Context) (rowid colstore.RowID, err error) {
	rowid = colstore.InvalidRowID
	ref, p, _, err := rt.leafFor(ctx, colstore.MaxRowID-1, colstore.LockShared)
	if err != nil || ref == nil {
		return
	}
	if n := itemCount(p); n > 0 {
		rowid = itemAt(p, n-1).RowID
		ref.Release()
		return
	}
	ref.Release()

	// the rightmost leaf can be empty after removals; fall back to a
	// full scan and keep the last item seen
	var sc RowScanner
	if err = sc.Begin(ctx, rt, colstore.MinRowID, colstore.MaxRowID); err != nil {
		return
	}
	for sc.Next(ctx) {
		rowid = sc.Item().RowID
	}
	err = sc.Err()
	return
}

// leafFor descends to the leaf whose range covers rowid and locks it,
// moving right past concurrent splits. A nil ref with nil err means the
// tree has no root yet.
func (rt *RowTree) leafFor(ctx context.Context, rowid colstore.RowID, mode colstore.LockMode) (ref colstore.PageRef, p page.Page, no colstore.PageNo, err error) {
	leaf, _, err := rt.tree.descend(ctx, rowid)
	if err != nil || leaf == colstore.InvalidPageNo {
		return
	}

	no = leaf
	for {
		if ref, err = rt.tree.store.Acquire(ctx, no, mode); err != nil {
			return
		}
		p = page.Page(ref.Data())
		if err = page.Verify(p, no, page.KindBtree); err != nil {
			ref.Release()
			ref = nil
			return
		}
		t := page.BtreeTrailer(p.Trailer())
		if rowid >= t.HiKey() {
			next := t.Next()
			ref.Release()
			ref = nil
			if next == colstore.InvalidPageNo {
				err = fmt.Errorf("%w: page %d: right-link chain ends before row %d",
					colstore.ErrBadPageKind, no, rowid)
				return
			}
			no = next
			continue
		}
		return
	}
}

// splitLeaf moves the upper half of a full item leaf to a fresh page and
// propagates the separator. ref is owned and released here.
func (rt *RowTree) splitLeaf(ctx context.Context, ref colstore.PageRef, p page.Page, no colstore.PageNo, pending Item) (err error) {
	defer func() { ref.Release() }()

	n := itemCount(p)
	items := make([]Item, 0, n+1)
	for i := 0; i < n; i++ {
		items = append(items, itemAt(p, i))
	}
	i := sort.Search(n, func(k int) bool { return items[k].RowID >= pending.RowID })
	items = append(items[:i], append([]Item{pending}, items[i:]...)...)

	mid := len(items) / 2
	sep := items[mid].RowID

	t := page.BtreeTrailer(p.Trailer())
	hikey := t.HiKey()
	next := t.Next()
	tree := rt.tree

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
	rt2 := page.BtreeTrailer(rp.Trailer())
	rt2.SetAttrNo(tree.attr.No)
	rt2.SetLevel(0)
	rt2.SetNext(next)
	rt2.SetLoKey(sep)
	rt2.SetHiKey(hikey)
	for k := mid; k < len(items); k++ {
		putItem(rp, k-mid, items[k])
	}
	rp.SetLower(page.HeadSize + (len(items)-mid)*RowItemSize)
	rightRef.MarkDirty()
	rightRef.Release()

	for k := 0; k < mid; k++ {
		putItem(p, k, items[k])
	}
	p.SetLower(page.HeadSize + mid*RowItemSize)
	t.SetHiKey(sep)
	t.SetNext(rightNo)
	ref.MarkDirty()

	tree.log.Debug("row directory leaf split",
		zap.Uint32("left", uint32(no)),
		zap.Uint32("right", uint32(rightNo)),
		zap.Uint64("separator", uint64(sep)))

	ref.Release()
	ref = noopRef{}

	_, path, err := tree.descend(ctx, items[0].RowID)
	if err != nil {
		return
	}
	return tree.propagate(ctx, path, 0, no, sep, rightNo)
}

// RowScanner iterates directory items in row-id order over [lo, hi).
type RowScanner struct {
	rt   *RowTree
	hi   colstore.RowID
	next colstore.PageNo
	pos  colstore.RowID
	buf  []Item
	i    int
	err  error
}

// Begin positions the scanner at the first item with rowid >= lo.
func (s *RowScanner) Begin(ctx context.Context, rt *RowTree, lo, hi colstore.RowID) error {
	s.rt = rt
	s.hi = hi
	s.pos = lo
	s.buf = nil
	s.i = 0
	s.err = nil

	leaf, _, err := rt.tree.descend(ctx, lo)
	if err != nil {
		s.err = err
		return err
	}
	s.next = leaf
	return nil
}

// Next advances to the next item. It returns false at the end of the
// range or on error; check Err afterwards.
func (s *RowScanner) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	for {
		if s.i < len(s.buf) {
			item := s.buf[s.i]
			if item.RowID >= s.hi {
				return false
			}
			s.i++
			if item.RowID < s.pos {
				continue
			}
			s.pos = item.RowID + 1
			return true
		}
		if s.next == colstore.InvalidPageNo || s.pos >= s.hi {
			return false
		}
		if !s.fill(ctx) {
			return false
		}
	}
}

// Item returns the item Next advanced to.
func (s *RowScanner) Item() Item {
	return s.buf[s.i-1]
}

// Err returns the error that stopped the scan, if any.
func (s *RowScanner) Err() error {
	return s.err
}

func (s *RowScanner) fill(ctx context.Context) bool {
	if s.err = ctx.Err(); s.err != nil {
		return false
	}

	no := s.next
	ref, err := s.rt.tree.store.Acquire(ctx, no, colstore.LockShared)
	if err != nil {
		s.err = err
		return false
	}

	p := page.Page(ref.Data())
	if s.err = page.Verify(p, no, page.KindBtree); s.err != nil {
		ref.Release()
		return false
	}
	t := page.BtreeTrailer(p.Trailer())

	n := itemCount(p)
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		items[i] = itemAt(p, i)
	}
	next := t.Next()
	ref.Release()

	s.buf = items
	s.i = 0
	s.next = next
	return true
}
