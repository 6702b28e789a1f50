// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/mem"
	"github.com/colstore/colstore/page"
)

func newStore(t *testing.T) *mem.Store {
	t.Helper()
	store := mem.NewStore(1024)
	require.NoError(t, Init(context.Background(), store))
	return store
}

func TestInitDefaults(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	data, err := Read(ctx, store)
	require.NoError(t, err)
	require.Equal(t, colstore.InvalidPageNo, data.UndoHead)
	require.Equal(t, colstore.InvalidPageNo, data.UndoTail)
	require.Equal(t, uint64(1), data.UndoTailFirstCounter)
	require.Equal(t, uint64(1), data.OldestCounter)
	require.Equal(t, colstore.InvalidPageNo, data.FreeHead)

	n, err := store.NumPages()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(1), n)
}

func TestUpdateSingleScope(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	err := Update(ctx, store, func(data *Data) {
		data.OldestCounter = 77
		data.UndoTailFirstCounter = 78
	})
	require.NoError(t, err)

	data, err := Read(ctx, store)
	require.NoError(t, err)
	require.Equal(t, uint64(77), data.OldestCounter)
	require.Equal(t, uint64(78), data.UndoTailFirstCounter)
}

func TestAllocateExtends(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	no, err := Allocate(ctx, store)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(1), no)

	no, err = Allocate(ctx, store)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(2), no)
}

func TestFreeRecycles(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	a, err := Allocate(ctx, store)
	require.NoError(t, err)
	b, err := Allocate(ctx, store)
	require.NoError(t, err)

	require.NoError(t, Free(ctx, store, a))
	require.NoError(t, Free(ctx, store, b))

	// freed pages are tagged and chained
	ref, err := store.Acquire(ctx, b, colstore.LockShared)
	require.NoError(t, err)
	p := page.Page(ref.Data())
	require.Equal(t, page.KindFree, p.Kind())
	require.Equal(t, a, page.FreeTrailer(p.Trailer()).Next())
	ref.Release()

	// LIFO reuse, no store growth
	got, err := Allocate(ctx, store)
	require.NoError(t, err)
	require.Equal(t, b, got)
	got, err = Allocate(ctx, store)
	require.NoError(t, err)
	require.Equal(t, a, got)

	n, err := store.NumPages()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(3), n)
}

func TestRootDirectory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	no, err := Root(ctx, store, 1)
	require.NoError(t, err)
	require.Equal(t, colstore.InvalidPageNo, no)

	require.NoError(t, SetRoot(ctx, store, 1, 10))
	require.NoError(t, SetRoot(ctx, store, 2, 20))

	no, err = Root(ctx, store, 1)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(10), no)

	// replace in place
	require.NoError(t, SetRoot(ctx, store, 1, 11))
	no, err = Root(ctx, store, 1)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(11), no)

	no, err = Root(ctx, store, 2)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(20), no)
}

func TestSetRootIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// no entry yet: the caller's page wins
	root, err := SetRootIfAbsent(ctx, store, 1, 10)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(10), root)

	// entry present: the existing root wins, the directory is untouched
	root, err = SetRootIfAbsent(ctx, store, 1, 99)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(10), root)

	no, err := Root(ctx, store, 1)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(10), no)
}
