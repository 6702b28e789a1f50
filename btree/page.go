// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"encoding/binary"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/page"
)

// Internal pages pack fixed 12-byte routing entries {separator uint64,
// child uint32} in the lower region, sorted ascending. Entry i routes
// [sep[i], sep[i+1]), the last entry up to the page's HiKey. The first
// separator always equals the page's LoKey.
const entrySize = 12

func entryCount(p page.Page) int {
	return (p.Lower() - page.HeadSize) / entrySize
}

func entrySep(p page.Page, i int) colstore.RowID {
	return colstore.RowID(binary.LittleEndian.Uint64(p[page.HeadSize+i*entrySize:]))
}

func entryChild(p page.Page, i int) colstore.PageNo {
	return colstore.PageNo(binary.LittleEndian.Uint32(p[page.HeadSize+i*entrySize+8:]))
}

func putEntry(p page.Page, i int, sep colstore.RowID, child colstore.PageNo) {
	off := page.HeadSize + i*entrySize
	binary.LittleEndian.PutUint64(p[off:], uint64(sep))
	binary.LittleEndian.PutUint32(p[off+8:], uint32(child))
}

// findChild locates the child routing rowid: the last entry whose
// separator is not above it.
func findChild(p page.Page, rowid colstore.RowID) (child colstore.PageNo, ok bool) {
	n := entryCount(p)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) >> 1
		if entrySep(p, mid) <= rowid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return
	}
	return entryChild(p, lo-1), true
}

// insertEntry splices (sep, child) into sorted position. Reports false when
// the page has no room, which triggers an internal split.
func insertEntry(p page.Page, sep colstore.RowID, child colstore.PageNo) bool {
	if p.FreeSpace() < entrySize {
		return false
	}
	n := entryCount(p)
	i := 0
	for i < n && entrySep(p, i) < sep {
		i++
	}
	beg := page.HeadSize + i*entrySize
	copy(p[beg+entrySize:], p[beg:p.Lower()])
	putEntry(p, i, sep, child)
	p.SetLower(p.Lower() + entrySize)
	return true
}

// Attribute leaves keep the base stream in the lower region and the insert
// buffer in the upper region. Either may be absent (zero length).

func baseStream(p page.Page) []byte {
	s := p.LowerRegion()
	if len(s) == 0 {
		return nil
	}
	return s
}

func bufferStream(p page.Page) []byte {
	s := p.UpperRegion()
	if len(s) == 0 {
		return nil
	}
	return s
}

// setBaseStream rewrites the lower region. The caller has checked capacity.
func setBaseStream(p page.Page, stream []byte) {
	copy(p[page.HeadSize:], stream)
	p.SetLower(page.HeadSize + len(stream))
}

// setBufferStream rewrites the upper region, growing it downwards from the
// trailer. The caller has checked capacity.
func setBufferStream(p page.Page, stream []byte) {
	upper := p.Special() - len(stream)
	copy(p[upper:], stream)
	p.SetUpper(upper)
}
