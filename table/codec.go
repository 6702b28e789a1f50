// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/toast"
)

// Row holds one value per column, in schema order. A nil entry is NULL;
// an empty non-nil entry is an empty value.
type Row [][]byte

// Variable-length stream values carry a one-byte tag so an overflow
// pointer can be told apart from inline bytes of the same length.
const (
	tagInline byte = 0x00
	tagToast  byte = 0x01
)

const toastWrapSize = 1 + toast.PointerSize

func wrapInline(v []byte) []byte {
	w := make([]byte, 1+len(v))
	w[0] = tagInline
	copy(w[1:], v)
	return w
}

func wrapToast(head colstore.PageNo, totalSize uint64) []byte {
	w := make([]byte, 1, toastWrapSize)
	w[0] = tagToast
	return append(w, toast.EncodePointer(head, totalSize)...)
}

// unwrap splits a stored variable-length value into its inline bytes or
// its overflow chain head. head is InvalidPageNo for inline values.
func unwrap(stored []byte) (inline []byte, head colstore.PageNo, totalSize uint64, err error) {
	head = colstore.InvalidPageNo
	if len(stored) == 0 {
		err = fmt.Errorf("%w: empty stored value", colstore.ErrBadStream)
		return
	}
	switch stored[0] {
	case tagInline:
		inline = stored[1:]
	case tagToast:
		head, totalSize, err = toast.DecodePointer(stored[1:])
	default:
		err = fmt.Errorf("%w: value tag 0x%02x", colstore.ErrBadStream, stored[0])
	}
	return
}

// encodeRow packs stored column values into one undo payload. Layout per
// column: uvarint length+1 (0 encodes NULL), then the stored bytes.
func encodeRow(row Row) []byte {
	var size int
	for _, v := range row {
		size += binary.MaxVarintLen64 + len(v)
	}
	buf := make([]byte, 0, size)
	for _, v := range row {
		if v == nil {
			buf = binary.AppendUvarint(buf, 0)
			continue
		}
		buf = binary.AppendUvarint(buf, uint64(len(v))+1)
		buf = append(buf, v...)
	}
	return buf
}

func decodeRow(payload []byte, columns int) (row Row, err error) {
	row = make(Row, columns)
	for i := 0; i < columns; i++ {
		n, c := binary.Uvarint(payload)
		if c <= 0 {
			return nil, fmt.Errorf("%w: truncated row payload at column %d",
				colstore.ErrBadUndoRecord, i)
		}
		payload = payload[c:]
		if n == 0 {
			continue
		}
		size := int(n - 1)
		if size > len(payload) {
			return nil, fmt.Errorf("%w: row payload column %d overruns by %d",
				colstore.ErrBadUndoRecord, i, size-len(payload))
		}
		row[i] = append(make([]byte, 0, size), payload[:size]...)
		payload = payload[size:]
	}
	if len(payload) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after row payload",
			colstore.ErrBadUndoRecord, len(payload))
	}
	return
}
