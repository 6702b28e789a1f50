// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package table is the engine facade: rows spread across per-attribute
// trees, versioned through the undo log, with oversized values redirected
// to overflow chains.
//
// A row exists iff the row directory (the tree at attribute number zero)
// holds an item for it; the item points at the head of the row's version
// chain in the undo log. Attribute trees store only values. Readers
// resolve visibility by walking the chain and applying recorded
// pre-images of versions newer than their snapshot.
package table

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/btree"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
	"github.com/colstore/colstore/toast"
	"github.com/colstore/colstore/undo"
)

// Column describes one attribute. Len > 0 is a fixed width in bytes;
// Len < 0 is variable length. ByVal marks fixed widths decoded by value.
type Column struct {
	Name  string
	Len   int
	ByVal bool
}

// Table is one table's engine instance over a block store. Safe for
// concurrent use.
type Table struct {
	store  colstore.BlockStore
	opts   Options
	schema []Column
	comp   colstore.Compressor
	rows   *btree.RowTree
	trees  []*btree.Tree
	vis    colstore.Visibility
	log    *zap.Logger

	xid     atomic.Uint64
	nextRow atomic.Uint64
}

// Create formats an empty store and returns the table over it. A nil
// logger disables logging.
func Create(ctx context.Context, store colstore.BlockStore, schema []Column, opts Options, logger *zap.Logger) (*Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store.PageSize() != opts.PageSize {
		return nil, fmt.Errorf("%w: store serves %d, options say %d",
			colstore.ErrInvalidPageSize, store.PageSize(), opts.PageSize)
	}
	if err := meta.Init(ctx, store); err != nil {
		return nil, err
	}
	return Open(ctx, store, schema, opts, logger)
}

// Open returns the table over an already formatted store.
func Open(ctx context.Context, store colstore.BlockStore, schema []Column, opts Options, logger *zap.Logger) (*Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: empty schema", colstore.ErrUnsupported)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ref, err := store.Acquire(ctx, colstore.MetaPageNo, colstore.LockShared)
	if err != nil {
		return nil, err
	}
	err = page.Verify(page.Page(ref.Data()), colstore.MetaPageNo, page.KindMeta)
	ref.Release()
	if err != nil {
		return nil, err
	}

	comp := opts.compressor()
	t := &Table{
		store:  store,
		opts:   opts,
		schema: schema,
		comp:   comp,
		rows:   btree.NewRowTree(store, logger),
		trees:  make([]*btree.Tree, len(schema)),
		log:    logger,
	}
	t.vis = latestVisibility{store: store}
	for i, col := range schema {
		attr := attstream.Attr{No: colstore.AttrNo(i + 1), Len: col.Len, ByVal: col.ByVal}
		t.trees[i] = btree.New(store, attr, comp, logger)
	}

	counter, err := undo.NextCounter(ctx, store)
	if err != nil {
		return nil, err
	}
	t.xid.Store(counter)

	last, err := t.rows.LastRowID(ctx)
	if err != nil {
		return nil, err
	}
	t.nextRow.Store(uint64(last))
	return t, nil
}

// SetVisibility replaces the visibility collaborator. The default treats
// every version at or below the snapshot counter as visible.
func (t *Table) SetVisibility(vis colstore.Visibility) {
	t.vis = vis
}

// Snapshot returns a snapshot covering everything written so far.
func (t *Table) Snapshot(ctx context.Context) (colstore.Snapshot, error) {
	return undo.NextCounter(ctx, t.store)
}

// Insert stores a new row and returns its assigned row id.
func (t *Table) Insert(ctx context.Context, row Row) (rowid colstore.RowID, err error) {
	if err = t.checkRow(row); err != nil {
		return
	}

	rowid = colstore.RowID(t.nextRow.Add(1))
	xid := t.xid.Add(1)

	stored, err := t.prepareRow(ctx, rowid, row)
	if err != nil {
		return
	}
	for i := range stored {
		if err = t.trees[i].Insert(ctx, rowid, stored[i], stored[i] == nil); err != nil {
			return
		}
	}

	rec := undo.Record{XID: xid, RowID: rowid, Op: undo.OpInsert}
	ptr, err := undo.Append(ctx, t.store, &rec)
	if err != nil {
		return
	}
	if err = t.rows.Insert(ctx, rowid, ptr); err != nil {
		return
	}

	t.log.Debug("row inserted",
		zap.Uint64("rowid", uint64(rowid)), zap.Uint64("xid", xid))
	return
}

// Get returns the row visible to snap. found is false when the row does
// not exist or no version of it is visible. A nil snap reads the latest
// state.
func (t *Table) Get(ctx context.Context, snap colstore.Snapshot, rowid colstore.RowID) (row Row, found bool, err error) {
	if snap == nil {
		snap = t.vis.CurrentSnapshot()
	}

	ptr, exists, err := t.rows.Lookup(ctx, rowid)
	if err != nil || !exists {
		return
	}

	stored, found, err := t.resolve(ctx, snap, rowid, ptr, nil)
	if err != nil || !found {
		return
	}
	row, err = t.unwrapRow(ctx, stored)
	return
}

// resolve walks the version chain from ptr and returns the stored column
// values visible to snap. current, when non-nil, supplies the newest
// stored values; otherwise they are fetched from the attribute trees on
// demand.
func (t *Table) resolve(ctx context.Context, snap colstore.Snapshot, rowid colstore.RowID, ptr undo.Ptr, current Row) (stored Row, found bool, err error) {
	stored = current

	for {
		rec, ok, rerr := undo.Read(ctx, t.store, ptr)
		if rerr != nil {
			err = rerr
			return
		}
		if !ok {
			// reclaimed below the oldest-retained watermark: the version
			// predates every live snapshot and is visible as written
			break
		}

		if t.vis.IsVisible(snap, rec.Meta()) {
			if rec.Op == undo.OpDelete {
				return nil, false, nil
			}
			break
		}

		switch rec.Op {
		case undo.OpInsert:
			// the row's creation is invisible
			return nil, false, nil
		case undo.OpUpdate:
			if stored, err = decodeRow(rec.Payload, len(t.schema)); err != nil {
				return nil, false, err
			}
		case undo.OpDelete:
			// an invisible deletion leaves the prior version in place
		default:
			return nil, false, fmt.Errorf("%w: op %d in record %d",
				colstore.ErrBadUndoRecord, rec.Op, rec.Ptr.Counter)
		}

		if !rec.Prev.Valid() {
			return nil, false, nil
		}
		ptr = rec.Prev
	}

	if stored == nil {
		if stored, err = t.fetchStored(ctx, rowid); err != nil {
			return nil, false, err
		}
	}
	found = true
	return
}

// fetchStored reads the newest stored value of every column from the
// attribute trees.
func (t *Table) fetchStored(ctx context.Context, rowid colstore.RowID) (stored Row, err error) {
	stored = make(Row, len(t.schema))
	for i := range t.trees {
		elem, ok, lerr := t.trees[i].Lookup(ctx, rowid)
		if lerr != nil {
			return nil, lerr
		}
		if !ok || elem.Null {
			continue
		}
		stored[i] = elem.Value
	}
	return
}

// unwrapRow turns stored column values into logical ones, following
// overflow pointers on variable-length columns.
func (t *Table) unwrapRow(ctx context.Context, stored Row) (row Row, err error) {
	row = make(Row, len(stored))
	for i, v := range stored {
		if v == nil {
			continue
		}
		if t.schema[i].Len > 0 {
			row[i] = v
			continue
		}
		inline, head, _, uerr := unwrap(v)
		if uerr != nil {
			return nil, uerr
		}
		if head == colstore.InvalidPageNo {
			row[i] = inline
			continue
		}
		if row[i], err = toast.Read(ctx, t.store, head, t.comp); err != nil {
			return nil, err
		}
	}
	return
}

// deleted reports whether the newest version at ptr is a deletion. The
// directory item outlives a delete until Vacuum, so existence checks must
// consult the chain head, not the directory alone.
func (t *Table) deleted(ctx context.Context, ptr undo.Ptr) (bool, error) {
	rec, ok, err := undo.Read(ctx, t.store, ptr)
	if err != nil || !ok {
		return false, err
	}
	return rec.Op == undo.OpDelete, nil
}

// Update replaces the row's values. found is false when the row does not
// exist.
func (t *Table) Update(ctx context.Context, rowid colstore.RowID, row Row) (found bool, err error) {
	if err = t.checkRow(row); err != nil {
		return
	}

	prev, found, err := t.rows.Lookup(ctx, rowid)
	if err != nil || !found {
		return
	}
	dead, err := t.deleted(ctx, prev)
	if err != nil || dead {
		found = false
		return
	}

	old, err := t.fetchStored(ctx, rowid)
	if err != nil {
		return
	}

	stored, err := t.prepareRow(ctx, rowid, row)
	if err != nil {
		return
	}
	for i := range stored {
		if err = t.trees[i].Insert(ctx, rowid, stored[i], stored[i] == nil); err != nil {
			return
		}
	}

	xid := t.xid.Add(1)
	rec := undo.Record{
		Prev:    prev,
		XID:     xid,
		RowID:   rowid,
		Op:      undo.OpUpdate,
		Payload: encodeRow(old),
	}
	ptr, err := undo.Append(ctx, t.store, &rec)
	if err != nil {
		return
	}
	if found, err = t.rows.Update(ctx, rowid, ptr); err != nil || !found {
		return
	}

	t.log.Debug("row updated",
		zap.Uint64("rowid", uint64(rowid)), zap.Uint64("xid", xid))
	return
}

// Delete marks the row deleted. Its values and overflow chains stay until
// Vacuum. found is false when the row does not exist.
func (t *Table) Delete(ctx context.Context, rowid colstore.RowID) (found bool, err error) {
	prev, found, err := t.rows.Lookup(ctx, rowid)
	if err != nil || !found {
		return
	}
	dead, err := t.deleted(ctx, prev)
	if err != nil || dead {
		found = false
		return
	}

	old, err := t.fetchStored(ctx, rowid)
	if err != nil {
		return
	}

	xid := t.xid.Add(1)
	rec := undo.Record{
		Prev:    prev,
		XID:     xid,
		RowID:   rowid,
		Op:      undo.OpDelete,
		Payload: encodeRow(old),
	}
	ptr, err := undo.Append(ctx, t.store, &rec)
	if err != nil {
		return
	}
	if found, err = t.rows.Update(ctx, rowid, ptr); err != nil || !found {
		return
	}

	t.log.Debug("row deleted",
		zap.Uint64("rowid", uint64(rowid)), zap.Uint64("xid", xid))
	return
}

// checkRow validates arity and fixed-width lengths.
func (t *Table) checkRow(row Row) error {
	if len(row) != len(t.schema) {
		return fmt.Errorf("%w: %d values for %d columns",
			colstore.ErrUnsupported, len(row), len(t.schema))
	}
	for i, col := range t.schema {
		if row[i] != nil && col.Len > 0 && len(row[i]) != col.Len {
			return fmt.Errorf("%w: column %q wants %d bytes, got %d",
				colstore.ErrUnsupported, col.Name, col.Len, len(row[i]))
		}
	}
	return nil
}

// prepareRow produces the stored form of every column value, redirecting
// oversized variable-length values to overflow chains.
func (t *Table) prepareRow(ctx context.Context, rowid colstore.RowID, row Row) (stored Row, err error) {
	stored = make(Row, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		if t.schema[i].Len > 0 {
			stored[i] = v
			continue
		}
		if len(v) < t.opts.ToastThreshold {
			stored[i] = wrapInline(v)
			continue
		}
		var head colstore.PageNo
		if head, err = toast.Store(ctx, t.store, rowid, v, t.comp); err != nil {
			return
		}
		stored[i] = wrapToast(head, uint64(len(v)))
		t.log.Debug("value toasted",
			zap.Uint64("rowid", uint64(rowid)),
			zap.String("column", t.schema[i].Name),
			zap.Int("size", len(v)),
			zap.Uint32("head", uint32(head)))
	}
	return
}

// latestVisibility reads the newest committed state: a version is visible
// when its counter lies below the snapshot counter.
type latestVisibility struct {
	store colstore.BlockStore
}

func (v latestVisibility) CurrentSnapshot() colstore.Snapshot {
	counter, err := undo.NextCounter(context.Background(), v.store)
	if err != nil {
		return uint64(0)
	}
	return counter
}

func (v latestVisibility) IsVisible(snap colstore.Snapshot, m colstore.VersionMeta) bool {
	counter, ok := snap.(uint64)
	if !ok {
		return true
	}
	return m.Counter < counter
}
