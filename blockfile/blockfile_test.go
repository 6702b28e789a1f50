// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package blockfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/mem"
)

func TestOpenValidatesPageSize(t *testing.T) {
	for _, size := range []int{0, 100, 511, 1000} {
		_, err := Open(new(mem.File), size, nil)
		require.ErrorIs(t, err, colstore.ErrInvalidPageSize, "page size %d", size)
	}
}

func TestOpenRejectsPartialPage(t *testing.T) {
	file := new(mem.File)
	require.NoError(t, file.Truncate(512 + 100))

	_, err := Open(file, 512, nil)
	require.ErrorIs(t, err, colstore.ErrFileTruncated)
}

func TestAllocateWriteRead(t *testing.T) {
	ctx := context.Background()
	store, err := Open(new(mem.File), 512, nil)
	require.NoError(t, err)

	no, err := store.Allocate()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(0), no)
	n, err := store.NumPages()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(1), n)

	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	require.NoError(t, err)
	require.Len(t, ref.Data(), 512)
	copy(ref.Data(), "frame zero")
	ref.MarkDirty()
	ref.Release()

	ref, err = store.Acquire(ctx, no, colstore.LockShared)
	require.NoError(t, err)
	require.Equal(t, []byte("frame zero"), ref.Data()[:10])
	ref.Release()
}

func TestAcquireOutOfRange(t *testing.T) {
	ctx := context.Background()
	store, err := Open(new(mem.File), 512, nil)
	require.NoError(t, err)

	_, err = store.Acquire(ctx, 0, colstore.LockShared)
	require.ErrorIs(t, err, colstore.ErrOutOfRange)
}

func TestDirtyFramePersists(t *testing.T) {
	ctx := context.Background()
	file := new(mem.File)

	store, err := Open(file, 512, nil)
	require.NoError(t, err)

	no, err := store.Allocate()
	require.NoError(t, err)
	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	require.NoError(t, err)
	copy(ref.Data(), "durable")
	ref.MarkDirty()
	ref.Release()

	require.NoError(t, store.Sync())

	// reopen over the same file: the bytes came from disk, not the cache
	store2, err := Open(file, 512, nil)
	require.NoError(t, err)
	n, err := store2.NumPages()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(1), n)

	ref, err = store2.Acquire(ctx, no, colstore.LockShared)
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), ref.Data()[:7])
	ref.Release()
}

func TestCleanFrameNotWritten(t *testing.T) {
	ctx := context.Background()
	file := new(mem.File)

	store, err := Open(file, 512, nil)
	require.NoError(t, err)
	no, err := store.Allocate()
	require.NoError(t, err)
	require.NoError(t, store.Sync()) // settle the freshly allocated frame

	// exclusive release without MarkDirty leaves the file untouched
	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	require.NoError(t, err)
	copy(ref.Data(), "scribble")
	ref.Release()
	require.NoError(t, store.Sync())

	store2, err := Open(file, 512, nil)
	require.NoError(t, err)
	ref, err = store2.Acquire(ctx, no, colstore.LockShared)
	require.NoError(t, err)
	require.NotEqual(t, []byte("scribble"), ref.Data()[:8])
	ref.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := Open(new(mem.File), 512, nil)
	require.NoError(t, err)
	no, err := store.Allocate()
	require.NoError(t, err)

	ref, err := store.Acquire(ctx, no, colstore.LockExclusive)
	require.NoError(t, err)
	ref.Release()
	ref.Release()

	// the lock really is free again
	ref, err = store.Acquire(ctx, no, colstore.LockExclusive)
	require.NoError(t, err)
	ref.Release()
}

func TestUseAfterClose(t *testing.T) {
	store, err := Open(new(mem.File), 512, nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.NumPages()
	require.ErrorIs(t, err, colstore.ErrClosed)
	_, err = store.Allocate()
	require.ErrorIs(t, err, colstore.ErrClosed)
}

func TestFileSizeProbe(t *testing.T) {
	// hide mem.File's Size method to exercise the ReadAt probe
	file := struct{ colstore.File }{new(mem.File)}
	require.NoError(t, file.Truncate(3 * 512))

	store, err := Open(file, 512, nil)
	require.NoError(t, err)
	n, err := store.NumPages()
	require.NoError(t, err)
	require.Equal(t, colstore.PageNo(3), n)
}
