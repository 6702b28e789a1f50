// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/undo"
)

func ptrFor(rowid colstore.RowID) undo.Ptr {
	return undo.Ptr{Counter: uint64(rowid) + 100, Page: 1, Offset: uint16(rowid)}
}

func TestRowTreeInsertLookup(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	require.NoError(t, rt.Insert(ctx, 30, ptrFor(30)))
	require.NoError(t, rt.Insert(ctx, 10, ptrFor(10)))
	require.NoError(t, rt.Insert(ctx, 20, ptrFor(20)))

	for _, rowid := range []colstore.RowID{10, 20, 30} {
		ptr, found, err := rt.Lookup(ctx, rowid)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, ptrFor(rowid), ptr)
	}

	_, found, err := rt.Lookup(ctx, 15)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRowTreeDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	require.NoError(t, rt.Insert(ctx, 7, ptrFor(7)))
	require.Error(t, rt.Insert(ctx, 7, ptrFor(7)))
}

func TestRowTreeUpdate(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	require.NoError(t, rt.Insert(ctx, 5, ptrFor(5)))

	newer := undo.Ptr{Counter: 999, Page: 4, Offset: 8}
	found, err := rt.Update(ctx, 5, newer)
	require.NoError(t, err)
	require.True(t, found)

	ptr, found, err := rt.Lookup(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, newer, ptr)

	found, err = rt.Update(ctx, 6, newer)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRowTreeRemove(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	require.NoError(t, rt.Insert(ctx, 1, ptrFor(1)))
	require.NoError(t, rt.Insert(ctx, 2, ptrFor(2)))
	require.NoError(t, rt.Insert(ctx, 3, ptrFor(3)))

	found, err := rt.Remove(ctx, 2)
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = rt.Lookup(ctx, 2)
	require.NoError(t, err)
	require.False(t, found)

	// neighbors untouched
	for _, rowid := range []colstore.RowID{1, 3} {
		ptr, found, err := rt.Lookup(ctx, rowid)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, ptrFor(rowid), ptr)
	}

	found, err = rt.Remove(ctx, 2)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRowTreeSplits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 512)
	rt := NewRowTree(store, zap.NewNop())

	// a 512-byte leaf holds around twenty items, so this spans many leaves
	const n = 500
	for i := 0; i < n; i++ {
		rowid := colstore.RowID(1 + (i*13)%n) // 13 coprime with 500
		require.NoError(t, rt.Insert(ctx, rowid, ptrFor(rowid)))
	}

	pages, err := store.NumPages()
	require.NoError(t, err)
	require.Greater(t, int(pages), 10)

	for rowid := colstore.RowID(1); rowid <= n; rowid++ {
		ptr, found, err := rt.Lookup(ctx, rowid)
		require.NoError(t, err)
		require.True(t, found, "row %d", rowid)
		require.Equal(t, ptrFor(rowid), ptr)
	}
}

func TestRowTreeLastRowID(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	rowid, err := rt.LastRowID(ctx)
	require.NoError(t, err)
	require.Equal(t, colstore.InvalidRowID, rowid)

	require.NoError(t, rt.Insert(ctx, 42, ptrFor(42)))
	require.NoError(t, rt.Insert(ctx, 17, ptrFor(17)))

	rowid, err = rt.LastRowID(ctx)
	require.NoError(t, err)
	require.Equal(t, colstore.RowID(42), rowid)
}

func TestRowScanner(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, 512)
	rt := NewRowTree(store, zap.NewNop())

	const n = 200
	for i := n; i >= 1; i-- {
		require.NoError(t, rt.Insert(ctx, colstore.RowID(i), ptrFor(colstore.RowID(i))))
	}

	var s RowScanner
	require.NoError(t, s.Begin(ctx, rt, 20, 180))
	want := colstore.RowID(20)
	for s.Next(ctx) {
		item := s.Item()
		require.Equal(t, want, item.RowID)
		require.Equal(t, ptrFor(want), item.UndoPtr)
		want++
	}
	require.NoError(t, s.Err())
	require.Equal(t, colstore.RowID(180), want)
}

func TestRowScannerEmptyTree(t *testing.T) {
	ctx := context.Background()
	rt := NewRowTree(newStore(t, 8192), zap.NewNop())

	var s RowScanner
	require.NoError(t, s.Begin(ctx, rt, 0, colstore.MaxRowID))
	require.False(t, s.Next(ctx))
	require.NoError(t, s.Err())
}
