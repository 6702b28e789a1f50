// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package undo

import (
	"context"
	"fmt"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/meta"
	"github.com/colstore/colstore/page"
)

// Scanner walks the log in ascending pointer order, terminating at the
// current tail. Records below the oldest-retained watermark are never
// yielded, even if their page has not been reclaimed yet.
//
//	var s undo.Scanner
//	if err := s.Begin(ctx, store, from); err != nil { ... }
//	for s.Next() {
//		rec := s.Record()
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner struct {
	ctx   context.Context
	store colstore.BlockStore
	buf   []Record
	err   error
	next  colstore.PageNo
	tail  colstore.PageNo
	from  uint64
	index int
	done  bool
}

// Begin positions the scanner at the first retained record with counter at
// least from.Counter. A zero from starts at the oldest retained record.
func (s *Scanner) Begin(ctx context.Context, store colstore.BlockStore, from Ptr) (err error) {
	data, err := meta.Read(ctx, store)
	if err != nil {
		return
	}

	s.ctx = ctx
	s.store = store
	s.buf = s.buf[:0]
	s.err = nil
	s.index = 0
	s.done = false
	s.tail = data.UndoTail
	s.next = data.UndoHead
	s.from = max(from.Counter, data.OldestCounter)

	// A counter-only pointer narrows the scan but cannot place it: page 0
	// is the metapage, so only a pointer naming a real undo page short-cuts
	// past the head.
	if from.Valid() && from.Counter >= data.OldestCounter &&
		from.Page != colstore.MetaPageNo && from.Page != colstore.InvalidPageNo {
		s.next = from.Page
	}
	if s.tail == colstore.InvalidPageNo {
		s.done = true
	}
	return
}

// Next advances to the next record. It returns false at the end of the log
// or on error; check Err to distinguish.
func (s *Scanner) Next() bool {
	for {
		if s.err != nil {
			return false
		}
		if s.index < len(s.buf) {
			s.index++
			return true
		}
		if s.done {
			return false
		}
		if !s.fill() {
			return false
		}
	}
}

// Record returns the record at the current position. It stays valid until
// the scanner advances past its page.
func (s *Scanner) Record() Record {
	return s.buf[s.index-1]
}

// Err returns the error that stopped the scan, if any. Corruption aborts
// the scan rather than silently skipping a page.
func (s *Scanner) Err() error {
	return s.err
}

// fill loads the records of the next page into the buffer. Cancellation is
// polled here, between pages.
func (s *Scanner) fill() bool {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}

	no := s.next
	if no == colstore.InvalidPageNo {
		s.done = true
		return false
	}

	ref, err := s.store.Acquire(s.ctx, no, colstore.LockShared)
	if err != nil {
		s.err = err
		return false
	}
	defer ref.Release()

	p := page.Page(ref.Data())
	if err = page.Verify(p, no, page.KindUndo); err != nil {
		s.err = err
		return false
	}

	s.buf = s.buf[:0]
	s.index = 0
	first := true
	lower := p.Lower()
	for off := page.HeadSize; off < lower; {
		rec, err := decodeRecord(p[off:], no, off)
		if err != nil {
			s.err = err
			return false
		}
		if off+rec.size() > lower {
			s.err = fmt.Errorf("%w: page %d offset %d: record overruns lower watermark",
				colstore.ErrBadUndoRecord, no, off)
			return false
		}
		if first {
			first = false
			if rec.Ptr.Page != no {
				s.err = fmt.Errorf("%w: page %d: first record claims page %d",
					colstore.ErrBadUndoRecord, no, rec.Ptr.Page)
				return false
			}
		}
		if rec.Ptr.Counter >= s.from {
			s.buf = append(s.buf, rec)
		}
		off += rec.size()
	}

	if no == s.tail {
		s.done = true
		s.next = colstore.InvalidPageNo
	} else {
		s.next = page.UndoTrailer(p.Trailer()).Next()
	}
	return len(s.buf) > 0 || !s.done
}
