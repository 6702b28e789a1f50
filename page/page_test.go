// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package page

import (
	"errors"
	"testing"

	"github.com/colstore/colstore"
)

func TestInitWatermarks(t *testing.T) {
	p := make(Page, 512)
	p.Init(KindBtree, BtreeTrailerSize)

	if p.Lower() != HeadSize {
		t.Fatalf("lower = %d, want %d", p.Lower(), HeadSize)
	}
	if p.Special() != 512-BtreeTrailerSize {
		t.Fatalf("special = %d, want %d", p.Special(), 512-BtreeTrailerSize)
	}
	if p.Upper() != p.Special() {
		t.Fatalf("upper = %d, want %d", p.Upper(), p.Special())
	}
	if p.FreeSpace() != p.Special()-HeadSize {
		t.Fatalf("free = %d", p.FreeSpace())
	}
	if p.Kind() != KindBtree {
		t.Fatalf("kind = %v", p.Kind())
	}
	if len(p.Trailer()) != BtreeTrailerSize {
		t.Fatalf("trailer size = %d", len(p.Trailer()))
	}
}

func TestRegions(t *testing.T) {
	p := make(Page, 256)
	p.Init(KindUndo, UndoTrailerSize)

	p.SetLower(HeadSize + 10)
	p.SetUpper(p.Special() - 20)

	if len(p.LowerRegion()) != 10 {
		t.Fatalf("lower region = %d bytes", len(p.LowerRegion()))
	}
	if len(p.UpperRegion()) != 20 {
		t.Fatalf("upper region = %d bytes", len(p.UpperRegion()))
	}
	if p.FreeSpace() != p.Special()-20-(HeadSize+10) {
		t.Fatalf("free = %d", p.FreeSpace())
	}
}

func TestBtreeTrailerRoundTrip(t *testing.T) {
	p := make(Page, 512)
	p.Init(KindBtree, BtreeTrailerSize)

	tr := BtreeTrailer(p.Trailer())
	tr.SetAttrNo(7)
	tr.SetLevel(2)
	tr.SetNext(42)
	tr.SetLoKey(100)
	tr.SetHiKey(200)

	if tr.AttrNo() != 7 || tr.Level() != 2 || tr.Next() != 42 {
		t.Fatalf("trailer = %d %d %d", tr.AttrNo(), tr.Level(), tr.Next())
	}
	if tr.LoKey() != 100 || tr.HiKey() != 200 {
		t.Fatalf("keys = %d %d", tr.LoKey(), tr.HiKey())
	}
	// the tag survives every setter
	if p.Kind() != KindBtree {
		t.Fatalf("kind = %v", p.Kind())
	}
}

func TestToastTrailerRoundTrip(t *testing.T) {
	p := make(Page, 512)
	p.Init(KindToast, ToastTrailerSize)

	tr := ToastTrailer(p.Trailer())
	tr.SetRowID(9)
	tr.SetTotalSize(1 << 33)
	tr.SetSliceOffset(4096)
	tr.SetPrev(3)
	tr.SetNext(colstore.InvalidPageNo)
	tr.SetUncompressedSize(777)
	tr.SetCompressed(true)

	if tr.RowID() != 9 || tr.TotalSize() != 1<<33 || tr.SliceOffset() != 4096 {
		t.Fatal("toast trailer fields")
	}
	if tr.Prev() != 3 || tr.Next() != colstore.InvalidPageNo {
		t.Fatal("toast links")
	}
	if tr.UncompressedSize() != 777 || !tr.Compressed() {
		t.Fatal("toast compression fields")
	}

	tr.SetCompressed(false)
	if tr.Compressed() {
		t.Fatal("compressed flag did not clear")
	}
}

func TestVerify(t *testing.T) {
	p := make(Page, 256)
	p.Init(KindToast, ToastTrailerSize)

	if err := Verify(p, 5, KindToast); err != nil {
		t.Fatal(err)
	}
	err := Verify(p, 5, KindBtree)
	if !errors.Is(err, colstore.ErrBadPageKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{
		KindMeta: "META", KindBtree: "BTREE", KindUndo: "UNDO",
		KindToast: "TOAST", KindFree: "FREE", Kind(0): "UNKNOWN(0x0000)",
	} {
		if kind.String() != want {
			t.Fatalf("%d.String() = %q", kind, kind.String())
		}
	}
}
