// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
)

func TestRowCodec(t *testing.T) {
	row := Row{
		[]byte("first"),
		nil,
		{},
		[]byte{0, 1, 2},
	}
	got, err := decodeRow(encodeRow(row), len(row))
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got[0])
	require.Nil(t, got[1])
	require.NotNil(t, got[2])
	require.Empty(t, got[2])
	require.Equal(t, []byte{0, 1, 2}, got[3])
}

func TestDecodeRowTruncated(t *testing.T) {
	payload := encodeRow(Row{[]byte("abc"), []byte("def")})

	_, err := decodeRow(payload[:2], 2)
	require.ErrorIs(t, err, colstore.ErrBadUndoRecord)

	_, err = decodeRow(payload, 1)
	require.ErrorIs(t, err, colstore.ErrBadUndoRecord)
}

func TestWrapUnwrap(t *testing.T) {
	inline, head, _, err := unwrap(wrapInline([]byte("short")))
	require.NoError(t, err)
	require.Equal(t, []byte("short"), inline)
	require.Equal(t, colstore.InvalidPageNo, head)

	inline, head, total, err := unwrap(wrapToast(17, 99999))
	require.NoError(t, err)
	require.Nil(t, inline)
	require.Equal(t, colstore.PageNo(17), head)
	require.Equal(t, uint64(99999), total)
}

func TestUnwrapRejectsGarbage(t *testing.T) {
	_, _, _, err := unwrap(nil)
	require.ErrorIs(t, err, colstore.ErrBadStream)

	_, _, _, err = unwrap([]byte{0x7f, 1, 2})
	require.ErrorIs(t, err, colstore.ErrBadStream)
}
