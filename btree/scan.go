// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"context"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/page"
)

// Scanner iterates one attribute's elements in row-id order over the
// half-open range [lo, hi). It holds no page locks between Next calls:
// each leaf is decoded in one shared-lock window and the right-link is
// followed afterwards, so concurrent splits at most repeat elements the
// scanner already skips by position.
type Scanner struct {
	tree *Tree
	hi   colstore.RowID
	next colstore.PageNo
	pos  colstore.RowID
	buf  []attstream.Element
	i    int
	err  error
}

// Begin positions the scanner at the first element with rowid >= lo.
func (s *Scanner) Begin(ctx context.Context, tree *Tree, lo, hi colstore.RowID) error {
	s.tree = tree
	s.hi = hi
	s.pos = lo
	s.buf = nil
	s.i = 0
	s.err = nil

	leaf, _, err := tree.descend(ctx, lo)
	if err != nil {
		s.err = err
		return err
	}
	s.next = leaf
	return nil
}

// Next advances to the next element, filling leaves as needed. It returns
// false at the end of the range or on error; check Err afterwards.
func (s *Scanner) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	for {
		if s.i < len(s.buf) {
			elem := s.buf[s.i]
			if elem.RowID >= s.hi {
				return false
			}
			s.i++
			if elem.RowID < s.pos {
				continue
			}
			s.pos = elem.RowID + 1
			return true
		}
		if s.next == colstore.InvalidPageNo || s.pos >= s.hi {
			return false
		}
		if !s.fill(ctx) {
			return false
		}
	}
}

// Element returns the element Next advanced to. Values are detached from
// their page and stay valid across further calls.
func (s *Scanner) Element() attstream.Element {
	return s.buf[s.i-1]
}

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

func (s *Scanner) fill(ctx context.Context) bool {
	if s.err = ctx.Err(); s.err != nil {
		return false
	}

	no := s.next
	ref, err := s.tree.store.Acquire(ctx, no, colstore.LockShared)
	if err != nil {
		s.err = err
		return false
	}

	p := page.Page(ref.Data())
	if s.err = page.Verify(p, no, page.KindBtree); s.err != nil {
		ref.Release()
		return false
	}
	t := page.BtreeTrailer(p.Trailer())

	elems, err := s.tree.decodeLeaf(p, no)
	next := t.Next()
	if err == nil {
		// detach values from the page buffer before dropping the lock
		for i := range elems {
			elems[i] = copyElement(elems[i])
		}
	}
	ref.Release()
	if err != nil {
		s.err = err
		return false
	}
	s.buf = elems
	s.i = 0
	s.next = next
	return true
}
