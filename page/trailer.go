package page

import (
	"encoding/binary"
	"fmt"

	"github.com/colstore/colstore"
)

// Trailer overlays are read and written through fixed-offset accessors over
// the trailer bytes. Every overlay ends with the kind tag; the tag is

// written by Page.Init and never rewritten afterwards, except when a page
// is retagged FREE on reclamation.

// BtreeTrailer overlays the trailer of a B-tree page.
//
// attno 0 is the shared row-existence tree. Level 0 is a leaf. Next is the
// right-link to the successor page at the same level, InvalidPageNo at the
// rightmost page. [LoKey, HiKey) is the row-id range covered by the page,
// low inclusive, high exclusive.
type BtreeTrailer []byte

const BtreeTrailerSize = 2 + 2 + 4 + 8 + 8 + 2

func (t BtreeTrailer) AttrNo() colstore.AttrNo {
	return colstore.AttrNo(binary.LittleEndian.Uint16(t))
}

func (t BtreeTrailer) Level() int {
	return int(binary.LittleEndian.Uint16(t[2:]))
}

func (t BtreeTrailer) Next() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[4:]))
}

func (t BtreeTrailer) LoKey() colstore.RowID {
	return colstore.RowID(binary.LittleEndian.Uint64(t[8:]))
}

func (t BtreeTrailer) HiKey() colstore.RowID {
	return colstore.RowID(binary.LittleEndian.Uint64(t[16:]))
}

func (t BtreeTrailer) SetAttrNo(attno colstore.AttrNo) {
	binary.LittleEndian.PutUint16(t, uint16(attno))
}

func (t BtreeTrailer) SetLevel(level int) {
	binary.LittleEndian.PutUint16(t[2:], uint16(level))
}

func (t BtreeTrailer) SetNext(next colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[4:], uint32(next))
}

func (t BtreeTrailer) SetLoKey(lokey colstore.RowID) {
	binary.LittleEndian.PutUint64(t[8:], uint64(lokey))
}

func (t BtreeTrailer) SetHiKey(hikey colstore.RowID) {
	binary.LittleEndian.PutUint64(t[16:], uint64(hikey))
}

// UndoTrailer overlays the trailer of an undo page: just the successor link.
type UndoTrailer []byte

const UndoTrailerSize = 4 + 2

func (t UndoTrailer) Next() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t))
}

func (t UndoTrailer) SetNext(next colstore.PageNo) {
	binary.LittleEndian.PutUint32(t, uint32(next))
}

// ToastTrailer overlays the trailer of an overflow slice page.
//
// TotalSize is the logical size of the complete value, replicated on every
// slice so each can be verified independently. SliceOffset is this slice's
// byte offset within the logical value. UncompressedSize is the decoded
// size of this slice's bytes when Compressed is set.
type ToastTrailer []byte

const ToastTrailerSize = 8 + 8 + 8 + 4 + 4 + 4 + 2 + 2

const toastCompressed = 1 << 0

func (t ToastTrailer) RowID() colstore.RowID {
	return colstore.RowID(binary.LittleEndian.Uint64(t))
}

func (t ToastTrailer) TotalSize() uint64 {
	return binary.LittleEndian.Uint64(t[8:])
}

func (t ToastTrailer) SliceOffset() uint64 {
	return binary.LittleEndian.Uint64(t[16:])
}

func (t ToastTrailer) Prev() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[24:]))
}

func (t ToastTrailer) Next() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[28:]))
}

func (t ToastTrailer) UncompressedSize() int {
	return int(binary.LittleEndian.Uint32(t[32:]))
}

func (t ToastTrailer) Compressed() bool {
	return binary.LittleEndian.Uint16(t[36:])&toastCompressed != 0
}

func (t ToastTrailer) SetRowID(id colstore.RowID) {
	binary.LittleEndian.PutUint64(t, uint64(id))
}

func (t ToastTrailer) SetTotalSize(size uint64) {
	binary.LittleEndian.PutUint64(t[8:], size)
}

func (t ToastTrailer) SetSliceOffset(offset uint64) {
	binary.LittleEndian.PutUint64(t[16:], offset)
}

func (t ToastTrailer) SetPrev(prev colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[24:], uint32(prev))
}

func (t ToastTrailer) SetNext(next colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[28:], uint32(next))
}

func (t ToastTrailer) SetUncompressedSize(size int) {
	binary.LittleEndian.PutUint32(t[32:], uint32(size))
}

func (t ToastTrailer) SetCompressed(compressed bool) {
	var flags uint16
	if compressed {
		flags = toastCompressed
	}
	binary.LittleEndian.PutUint16(t[36:], flags)
}

// MetaTrailer overlays the trailer of the metapage (page 0).
type MetaTrailer []byte

const MetaTrailerSize = 4 + 4 + 8 + 8 + 4 + 2 + 4 + 4 + 2

func (t MetaTrailer) UndoHead() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t))
}

func (t MetaTrailer) UndoTail() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[4:]))
}

func (t MetaTrailer) UndoTailFirstCounter() uint64 {
	return binary.LittleEndian.Uint64(t[8:])
}

// OldestCounter, OldestPage and OldestOffset form the oldest-retained undo
// record pointer: records below it may be discarded.
func (t MetaTrailer) OldestCounter() uint64 {
	return binary.LittleEndian.Uint64(t[16:])
}

func (t MetaTrailer) OldestPage() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[24:]))
}

func (t MetaTrailer) OldestOffset() uint16 {
	return binary.LittleEndian.Uint16(t[28:])
}

func (t MetaTrailer) FreeHead() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t[30:]))
}

func (t MetaTrailer) EngineFlags() uint32 {
	return binary.LittleEndian.Uint32(t[34:])
}

func (t MetaTrailer) SetUndoHead(no colstore.PageNo) {
	binary.LittleEndian.PutUint32(t, uint32(no))
}

func (t MetaTrailer) SetUndoTail(no colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[4:], uint32(no))
}

func (t MetaTrailer) SetUndoTailFirstCounter(counter uint64) {
	binary.LittleEndian.PutUint64(t[8:], counter)
}

func (t MetaTrailer) SetOldestCounter(counter uint64) {
	binary.LittleEndian.PutUint64(t[16:], counter)
}

func (t MetaTrailer) SetOldestPage(no colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[24:], uint32(no))
}

func (t MetaTrailer) SetOldestOffset(offset uint16) {
	binary.LittleEndian.PutUint16(t[28:], offset)
}

func (t MetaTrailer) SetFreeHead(no colstore.PageNo) {
	binary.LittleEndian.PutUint32(t[30:], uint32(no))
}

func (t MetaTrailer) SetEngineFlags(flags uint32) {
	binary.LittleEndian.PutUint32(t[34:], flags)
}

// FreeTrailer overlays the trailer of a reclaimed page: the free-list link.
type FreeTrailer []byte

const FreeTrailerSize = 4 + 2

func (t FreeTrailer) Next() colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(t))
}

func (t FreeTrailer) SetNext(next colstore.PageNo) {
	binary.LittleEndian.PutUint32(t, uint32(next))
}

// Verify checks that the page carries the expected kind tag.
// A mismatch is a corruption signal, reported with both tags and the page
// number for diagnosis.
func Verify(page Page, no colstore.PageNo, want Kind) error {
	if got := page.Kind(); got != want {
		return fmt.Errorf("%w: page %d: expected %s (0x%04X), found 0x%04X",
			colstore.ErrBadPageKind, no, want, uint16(want), uint16(got))
	}
	return nil
}
