// Package page defines the fixed-size page layout shared by every on-disk
// structure of the engine: a generic header with the item-area watermarks,
// a growable item area, and a kind-tagged trailer at the end of the page.
//
//	+--------+------------------------+-------------------+---------+
//	| header | lower region ->        |   <- upper region | trailer |
//	+--------+------------------------+-------------------+---------+
//	         ^ HeadSize      Lower() ^ free     ^ Upper()  ^ Special()
//
// The lower region grows from the header end up to Lower; the upper region
// occupies [Upper, Special). Which region holds what depends on the page
// kind: B-tree attribute leaves keep the base stream below and the insert
// buffer above, undo pages pack records below only, and so on.
//
// The last two bytes of every page carry the kind tag. Readers must verify
// the tag before interpreting the trailer.
package page

import (
	"encoding/binary"
	"fmt"
)

// Page represents one fixed-size page.
// Accessors do not validate the kind tag; callers verify it via Kind.
type Page []byte

// Page uses LittleEndian encoding.
// Header is {byte[0:2]:Lower, byte[2:4]:Upper, byte[4:6]:Special, byte[6:8]:Flags}.
// Trailer occupies [Special, len) and ends with the kind tag uint16.

const HeadSize = 8

// Kind identifies how a page's trailer is to be interpreted.
type Kind uint16

const (
	KindMeta  Kind = 0xF101
	KindBtree Kind = 0xF102
	KindUndo  Kind = 0xF103
	KindToast Kind = 0xF104
	KindFree  Kind = 0xF105
)

func (kind Kind) String() string {
	switch kind {
	case KindMeta:
		return "META"
	case KindBtree:
		return "BTREE"
	case KindUndo:
		return "UNDO"
	case KindToast:
		return "TOAST"
	case KindFree:
		return "FREE"
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(kind))
}

// Kind returns the kind tag stored in the last two bytes of the page.
func (page Page) Kind() Kind {
	if len(page) < HeadSize+2 {
		return 0
	}
	return Kind(binary.LittleEndian.Uint16(page[len(page)-2:]))
}

// Lower returns the end of the lower region.
func (page Page) Lower() int {
	return int(binary.LittleEndian.Uint16(page))
}

// Upper returns the start of the upper region.
func (page Page) Upper() int {
	return int(binary.LittleEndian.Uint16(page[2:]))
}

// Special returns the start of the trailer.
func (page Page) Special() int {
	return int(binary.LittleEndian.Uint16(page[4:]))
}

// Flags returns the generic page flag bits.
func (page Page) Flags() uint16 {
	return binary.LittleEndian.Uint16(page[6:])
}

func (page Page) SetLower(lower int) {
	binary.LittleEndian.PutUint16(page, uint16(lower))
}

func (page Page) SetUpper(upper int) {
	binary.LittleEndian.PutUint16(page[2:], uint16(upper))
}

func (page Page) SetFlags(flags uint16) {
	binary.LittleEndian.PutUint16(page[6:], flags)
}

// FreeSpace returns the exact number of unused bytes between the regions.
func (page Page) FreeSpace() int {
	free := page.Upper() - page.Lower()
	if free < 0 {
		return 0
	}
	return free
}

// LowerRegion returns the bytes of the lower region.
func (page Page) LowerRegion() []byte {
	return page[HeadSize:page.Lower()]
}

// UpperRegion returns the bytes of the upper region.
func (page Page) UpperRegion() []byte {
	return page[page.Upper():page.Special()]
}

// Trailer returns the trailer bytes, kind tag included.
func (page Page) Trailer() []byte {
	return page[page.Special():]
}

// Init formats the page with an empty item area and a trailer of the given
// size, tagged with kind. The trailer bytes other than the tag are zeroed.
func (page Page) Init(kind Kind, trailerSize int) {
	clear(page)
	special := len(page) - trailerSize
	page.SetLower(HeadSize)
	page.SetUpper(special)
	binary.LittleEndian.PutUint16(page[4:], uint16(special))
	binary.LittleEndian.PutUint16(page[len(page)-2:], uint16(kind))
}
