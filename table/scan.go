// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"context"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/attstream"
	"github.com/colstore/colstore/btree"
)

// Scanner iterates the rows visible to one snapshot in row-id order over
// the half-open range [lo, hi). The row directory drives the scan; one
// stream scanner per attribute is advanced alongside it, so each leaf is
// decoded once per attribute for the whole range.
type Scanner struct {
	tbl   *Table
	snap  colstore.Snapshot
	rows  btree.RowScanner
	attrs []btree.Scanner
	held  []attstream.Element
	has   []bool

	rowid colstore.RowID
	row   Row
	err   error
}

// Begin positions the scanner at the first visible row with id >= lo.
// A nil snap reads the latest state.
func (s *Scanner) Begin(ctx context.Context, tbl *Table, snap colstore.Snapshot, lo, hi colstore.RowID) error {
	if snap == nil {
		snap = tbl.vis.CurrentSnapshot()
	}
	s.tbl = tbl
	s.snap = snap
	s.err = nil
	s.attrs = make([]btree.Scanner, len(tbl.trees))
	s.held = make([]attstream.Element, len(tbl.trees))
	s.has = make([]bool, len(tbl.trees))

	if err := s.rows.Begin(ctx, tbl.rows, lo, hi); err != nil {
		s.err = err
		return err
	}
	for i := range s.attrs {
		if err := s.attrs[i].Begin(ctx, tbl.trees[i], lo, hi); err != nil {
			s.err = err
			return err
		}
	}
	return nil
}

// Next advances to the next visible row. It returns false at the end of
// the range or on error; check Err afterwards.
func (s *Scanner) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	for s.rows.Next(ctx) {
		item := s.rows.Item()

		stored, err := s.storedAt(ctx, item.RowID)
		if err != nil {
			s.err = err
			return false
		}
		stored, found, err := s.tbl.resolve(ctx, s.snap, item.RowID, item.UndoPtr, stored)
		if err != nil {
			s.err = err
			return false
		}
		if !found {
			continue
		}

		row, err := s.tbl.unwrapRow(ctx, stored)
		if err != nil {
			s.err = err
			return false
		}
		s.rowid = item.RowID
		s.row = row
		return true
	}
	s.err = s.rows.Err()
	return false
}

// storedAt assembles the newest stored column values for rowid from the
// per-attribute scanners, holding back elements past it.
func (s *Scanner) storedAt(ctx context.Context, rowid colstore.RowID) (stored Row, err error) {
	stored = make(Row, len(s.attrs))
	for i := range s.attrs {
		for {
			if s.has[i] {
				if s.held[i].RowID > rowid {
					break
				}
				if s.held[i].RowID == rowid {
					if !s.held[i].Null {
						stored[i] = s.held[i].Value
					}
					s.has[i] = false
					break
				}
				s.has[i] = false
			}
			if !s.attrs[i].Next(ctx) {
				if err = s.attrs[i].Err(); err != nil {
					return
				}
				break
			}
			s.held[i] = s.attrs[i].Element()
			s.has[i] = true
		}
	}
	return
}

// RowID returns the id of the row Next advanced to.
func (s *Scanner) RowID() colstore.RowID {
	return s.rowid
}

// Row returns the row Next advanced to, with overflow values resolved.
func (s *Scanner) Row() Row {
	return s.row
}

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}
