// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package undo implements the append-only version log: fixed-format records
// threaded across dedicated pages, recording prior row versions for MVCC
// visibility and rollback.
//
// Records are appended only at the tail page; a page that cannot hold the
// next record is sealed by setting its successor pointer, and a new tail is
// linked. The counter component of a record pointer increases strictly
// across the whole log, independent of physical page placement, so it gives
// a total version order even after page recycling.
package undo

import (
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
)

// Ptr uniquely identifies one undo record: the page holding it, the byte
// offset of the record within the page, and the monotonic counter that
// orders it against every other record in the log.
type Ptr struct {
	Counter uint64
	Page    colstore.PageNo
	Offset  uint16
}

// InvalidPtr marks the absence of a prior version.
var InvalidPtr = Ptr{}

// Valid reports whether the pointer references a record. Counter 0 is never
// assigned.
func (ptr Ptr) Valid() bool {
	return ptr.Counter != 0
}

// Less orders pointers by their counter.
func (ptr Ptr) Less(other Ptr) bool {
	return ptr.Counter < other.Counter
}

// PtrSize is the encoded width of a Ptr.
const PtrSize = 8 + 4 + 2

// PutPtr encodes ptr into dst, which must hold PtrSize bytes.
func PutPtr(dst []byte, ptr Ptr) {
	binary.LittleEndian.PutUint64(dst, ptr.Counter)
	binary.LittleEndian.PutUint32(dst[8:], uint32(ptr.Page))
	binary.LittleEndian.PutUint16(dst[12:], ptr.Offset)
}

// GetPtr decodes a Ptr from src.
func GetPtr(src []byte) Ptr {
	return Ptr{
		Counter: binary.LittleEndian.Uint64(src),
		Page:    colstore.PageNo(binary.LittleEndian.Uint32(src[8:])),
		Offset:  binary.LittleEndian.Uint16(src[12:]),
	}
}

// Op describes which operation created a record.
type Op uint8

const (
	OpInsert Op = 1 + iota
	OpUpdate
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Record is one logged row version. Ptr is the record's own location,
// carried in the record for self-description during forward scans. Prev
// points at the row's previous version, InvalidPtr at the oldest. Payload
// carries the prior state needed for rollback and may be empty.
type Record struct {
	Ptr     Ptr
	Prev    Ptr
	XID     uint64
	RowID   colstore.RowID
	Op      Op
	Payload []byte
}

// Meta returns the version metadata consulted by visibility checks.
func (rec *Record) Meta() colstore.VersionMeta {
	return colstore.VersionMeta{
		XID:     rec.XID,
		Counter: rec.Ptr.Counter,
		Deleted: rec.Op == OpDelete,
	}
}

// Record layout, LittleEndian:
//
//	[0:2]   size   uint16  total record size
//	[2:3]   op     uint8
//	[3:17]  ptr    self pointer
//	[17:31] prev   previous version pointer
//	[31:39] xid    uint64
//	[39:47] rowid  uint64
//	[47:]   payload
const recordHeadSize = 2 + 1 + 2*PtrSize + 8 + 8

func (rec *Record) size() int {
	return recordHeadSize + len(rec.Payload)
}

func encodeRecord(dst []byte, rec *Record) {
	binary.LittleEndian.PutUint16(dst, uint16(rec.size()))
	dst[2] = byte(rec.Op)
	PutPtr(dst[3:], rec.Ptr)
	PutPtr(dst[17:], rec.Prev)
	binary.LittleEndian.PutUint64(dst[31:], rec.XID)
	binary.LittleEndian.PutUint64(dst[39:], uint64(rec.RowID))
	copy(dst[recordHeadSize:], rec.Payload)
}

func decodeRecord(src []byte, no colstore.PageNo, offset int) (rec Record, err error) {
	if len(src) < recordHeadSize {
		err = fmt.Errorf("%w: page %d offset %d: truncated record",
			colstore.ErrBadUndoRecord, no, offset)
		return
	}
	size := int(binary.LittleEndian.Uint16(src))
	if size < recordHeadSize || size > len(src) {
		err = fmt.Errorf("%w: page %d offset %d: record size %d out of bounds",
			colstore.ErrBadUndoRecord, no, offset, size)
		return
	}
	rec.Op = Op(src[2])
	rec.Ptr = GetPtr(src[3:])
	rec.Prev = GetPtr(src[17:])
	rec.XID = binary.LittleEndian.Uint64(src[31:])
	rec.RowID = colstore.RowID(binary.LittleEndian.Uint64(src[39:]))
	if size > recordHeadSize {
		rec.Payload = append([]byte(nil), src[recordHeadSize:size]...)
	}
	return
}
