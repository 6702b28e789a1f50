// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package toast

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/compress"
	"github.com/colstore/colstore/mem"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

const testPageSize = 1024

func newStore(t *testing.T) *mem.Store {
	t.Helper()
	store := mem.NewStore(testPageSize)
	require.NoError(t, meta.Init(context.Background(), store))
	return store
}

// incompressible returns n bytes of pseudo-random data, so slices stay raw
// and sizing tests can reason in slice capacities.
func incompressible(n int) []byte {
	value := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(value)
	return value
}

func TestRoundTripSingleSlice(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	value := incompressible(SliceCapacity(testPageSize) / 2)
	head, err := Store(ctx, store, 5, value, nil)
	require.NoError(t, err)
	require.NotEqual(t, colstore.InvalidPageNo, head)

	got, err := Read(ctx, store, head, nil)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestRoundTripMultiSlice(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	capacity := SliceCapacity(testPageSize)
	for _, n := range []int{capacity, capacity + 1, 2*capacity + 17, 5*capacity - 1} {
		value := incompressible(n)
		head, err := Store(ctx, store, 9, value, nil)
		require.NoError(t, err)

		got, err := Read(ctx, store, head, nil)
		require.NoError(t, err)
		if !bytes.Equal(value, got) {
			t.Fatalf("%d-byte value mangled by chain round trip", n)
		}
	}
}

func TestCompressedSlices(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// highly repetitive, so every slice compresses
	value := bytes.Repeat([]byte("colstore"), 1000)
	head, err := Store(ctx, store, 3, value, compress.S2{})
	require.NoError(t, err)

	ref, err := store.Acquire(ctx, head, colstore.LockShared)
	require.NoError(t, err)
	p := page.Page(ref.Data())
	tr := page.ToastTrailer(p.Trailer())
	require.True(t, tr.Compressed())
	require.Equal(t, uint64(len(value)), tr.TotalSize())
	require.Equal(t, colstore.RowID(3), tr.RowID())
	ref.Release()

	got, err := Read(ctx, store, head, compress.S2{})
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestIncompressibleStaysRaw(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	value := incompressible(SliceCapacity(testPageSize))
	head, err := Store(ctx, store, 3, value, compress.S2{})
	require.NoError(t, err)

	ref, err := store.Acquire(ctx, head, colstore.LockShared)
	require.NoError(t, err)
	require.False(t, page.ToastTrailer(page.Page(ref.Data()).Trailer()).Compressed())
	ref.Release()

	got, err := Read(ctx, store, head, compress.S2{})
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestStoreRejectsEmptyValue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := Store(ctx, store, 1, nil, nil)
	require.ErrorIs(t, err, colstore.ErrBadToastChain)
}

func TestChainLinks(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	capacity := SliceCapacity(testPageSize)
	value := incompressible(3 * capacity)
	head, err := Store(ctx, store, 8, value, nil)
	require.NoError(t, err)

	prev := colstore.InvalidPageNo
	no := head
	offset := uint64(0)
	slices := 0
	for no != colstore.InvalidPageNo {
		ref, err := store.Acquire(ctx, no, colstore.LockShared)
		require.NoError(t, err)
		tr := page.ToastTrailer(page.Page(ref.Data()).Trailer())
		require.Equal(t, prev, tr.Prev())
		require.Equal(t, offset, tr.SliceOffset())
		require.Equal(t, uint64(len(value)), tr.TotalSize())
		offset += uint64(tr.UncompressedSize())
		prev = no
		no = tr.Next()
		ref.Release()
		slices++
	}
	require.Equal(t, 3, slices)
	require.Equal(t, uint64(len(value)), offset)
}

func TestDeleteFreesChain(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	value := incompressible(3 * SliceCapacity(testPageSize))
	head, err := Store(ctx, store, 8, value, nil)
	require.NoError(t, err)

	before, err := store.NumPages()
	require.NoError(t, err)

	require.NoError(t, Delete(ctx, store, head))

	// the head page is retagged, not returned to the block store
	ref, err := store.Acquire(ctx, head, colstore.LockShared)
	require.NoError(t, err)
	require.Equal(t, page.KindFree, page.Page(ref.Data()).Kind())
	ref.Release()

	// the next chain reuses the freed pages
	head2, err := Store(ctx, store, 9, value, nil)
	require.NoError(t, err)
	after, err := store.NumPages()
	require.NoError(t, err)
	require.Equal(t, before, after)

	got, err := Read(ctx, store, head2, nil)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestPointerCodec(t *testing.T) {
	ptr := EncodePointer(42, 123456)
	require.Len(t, ptr, PointerSize)

	head, total, err := DecodePointer(ptr)
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(42), head)
	require.Equal(t, uint64(123456), total)

	_, _, err = DecodePointer(ptr[:5])
	require.ErrorIs(t, err, colstore.ErrBadToastChain)
}
