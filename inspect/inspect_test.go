// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/compress"
	"github.com/colstore/colstore/mem"
	"github.com/colstore/colstore/page"
	"github.com/colstore/colstore/table"
	"github.com/colstore/colstore/toast"
)

// populated builds a small table with rows, versions and one overflow
// chain, so every page kind shows up.
func populated(t *testing.T) *mem.Store {
	t.Helper()
	ctx := context.Background()
	opts := table.DefaultOptions()
	store := mem.NewStore(opts.PageSize)

	schema := []table.Column{
		{Name: "id", Len: 8, ByVal: true},
		{Name: "body", Len: -1},
	}
	tbl, err := table.Create(ctx, store, schema, opts, nil)
	require.NoError(t, err)

	id := func(v uint64) []byte {
		b := make([]byte, 8)
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * i))
		}
		return b
	}
	for i := uint64(1); i <= 20; i++ {
		_, err := tbl.Insert(ctx, table.Row{id(i), []byte("body text")})
		require.NoError(t, err)
	}
	big := bytes.Repeat([]byte{0xcd}, 3*opts.PageSize)
	_, err = tbl.Insert(ctx, table.Row{id(21), big})
	require.NoError(t, err)
	return store
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)

	sum, err := in.Summarize(ctx)
	require.NoError(t, err)
	require.Greater(t, int(sum.NumPages), 3)
	require.Equal(t, 1, sum.ByKind[page.KindMeta])
	require.Greater(t, sum.ByKind[page.KindBtree], 0)
	require.Greater(t, sum.ByKind[page.KindUndo], 0)
	require.Greater(t, sum.ByKind[page.KindToast], 0)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)

	info, err := in.Meta(ctx)
	require.NoError(t, err)
	require.NotEqual(t, colstore.InvalidPageNo, info.UndoTail)

	// directory: the row tree plus one tree per column
	require.Len(t, info.Roots, 3)
	seen := map[colstore.AttrNo]bool{}
	for _, root := range info.Roots {
		require.NotEqual(t, colstore.InvalidPageNo, root.Root)
		seen[root.AttrNo] = true
	}
	require.True(t, seen[colstore.MetaAttrNo])
	require.True(t, seen[1])
	require.True(t, seen[2])
}

func TestPageKind(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)

	kind, err := in.PageKind(ctx, colstore.MetaPageNo)
	require.NoError(t, err)
	require.Equal(t, page.KindMeta, kind)
}

func TestBtreePages(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)
	in.SetAttrWidth(1, 8)
	in.SetAttrWidth(2, -1)

	infos, err := in.BtreePages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	var rowLeaf bool
	for _, info := range infos {
		if info.AttrNo == colstore.MetaAttrNo && info.Level == 0 {
			rowLeaf = true
			require.Equal(t, 21, info.Items)
		}
	}
	require.True(t, rowLeaf)
}

func TestUndoPages(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)

	infos, err := in.UndoPages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	records := 0
	for _, info := range infos {
		records += info.Records
		require.True(t, info.First.Valid())
		require.True(t, info.Last.Valid())
		require.False(t, info.Last.Less(info.First))
		require.Equal(t, info.No, info.First.Page)
	}
	require.Equal(t, 21, records)
}

func TestToastPages(t *testing.T) {
	ctx := context.Background()
	opts := table.DefaultOptions()
	in := New(populated(t), nil)

	infos, err := in.ToastPages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	capacity := uint64(toast.SliceCapacity(opts.PageSize))
	offsets := map[uint64]bool{}
	for _, info := range infos {
		require.Equal(t, colstore.RowID(21), info.RowID)
		require.Equal(t, uint64(3*opts.PageSize), info.TotalSize)
		require.Zero(t, info.SliceOffset%capacity)
		offsets[info.SliceOffset] = true
	}
	// one slice per full capacity step, no gaps
	require.Len(t, offsets, len(infos))
	want := (3*opts.PageSize + toast.SliceCapacity(opts.PageSize) - 1) / toast.SliceCapacity(opts.PageSize)
	require.Len(t, infos, want)
}

func TestDumpLeaf(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), nil)
	in.SetAttrWidth(2, -1)

	infos, err := in.BtreePages(ctx)
	require.NoError(t, err)

	var leaf colstore.PageNo = colstore.InvalidPageNo
	for _, info := range infos {
		if info.AttrNo == 2 && info.Level == 0 {
			leaf = info.No
		}
	}
	require.NotEqual(t, colstore.InvalidPageNo, leaf)

	dump, err := in.DumpLeaf(ctx, leaf, compress.S2{})
	require.NoError(t, err)
	elems := 0
	for _, chunk := range append(dump.Base, dump.Buffer...) {
		elems += chunk.Count
	}
	require.Equal(t, 21, elems)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context) error {
	return errors.New("no access")
}

func TestAuthorizer(t *testing.T) {
	ctx := context.Background()
	in := New(populated(t), denyAll{})

	_, err := in.Summarize(ctx)
	require.ErrorIs(t, err, colstore.ErrNotAuthorized)
	_, err = in.Meta(ctx)
	require.ErrorIs(t, err, colstore.ErrNotAuthorized)
	_, err = in.PageKind(ctx, 0)
	require.ErrorIs(t, err, colstore.ErrNotAuthorized)
}
