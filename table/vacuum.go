// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/toast"
	"github.com/colstore/colstore/undo"
)

// Vacuum reclaims everything no snapshot at or after horizon can reach:
// overflow chains referenced only by pre-images below the horizon,
// directory items of rows whose deletion is below it, and finally undo
// pages wholly below the advanced oldest-retained watermark.
//
// horizon must be a snapshot obtained from Snapshot; a nil horizon
// reclaims up to the current state.
func (t *Table) Vacuum(ctx context.Context, horizon colstore.Snapshot) (freed int, err error) {
	if horizon == nil {
		if horizon, err = t.Snapshot(ctx); err != nil {
			return
		}
	}
	counter, ok := horizon.(uint64)
	if !ok {
		return 0, fmt.Errorf("%w: vacuum horizon %T", colstore.ErrUnsupported, horizon)
	}

	watermark := undo.Ptr{Counter: counter, Page: colstore.InvalidPageNo}

	// A zero pointer starts at the oldest retained record.
	var sc undo.Scanner
	if err = sc.Begin(ctx, t.store, undo.InvalidPtr); err != nil {
		return
	}
	for sc.Next() {
		rec := sc.Record()
		if rec.Ptr.Counter >= counter {
			watermark = rec.Ptr
			break
		}
		if err = t.reclaimRecord(ctx, rec); err != nil {
			return
		}
	}
	if err = sc.Err(); err != nil {
		return
	}

	pages, err := undo.AdvanceOldestRetained(ctx, t.store, watermark)
	if err != nil {
		return
	}
	freed = len(pages)
	if freed > 0 {
		t.log.Debug("undo log truncated",
			zap.Uint64("watermark", watermark.Counter),
			zap.Int("pages", freed))
	}
	return
}

// reclaimRecord releases what a single below-horizon record still pins:
// the overflow chains of its pre-image, and for deletions the row's
// directory item.
func (t *Table) reclaimRecord(ctx context.Context, rec undo.Record) error {
	if rec.Op == undo.OpInsert {
		return nil
	}

	stored, err := decodeRow(rec.Payload, len(t.schema))
	if err != nil {
		return err
	}
	for i, v := range stored {
		if v == nil || t.schema[i].Len > 0 {
			continue
		}
		_, head, _, err := unwrap(v)
		if err != nil {
			return err
		}
		if head == colstore.InvalidPageNo {
			continue
		}
		if err := toast.Delete(ctx, t.store, head); err != nil {
			return err
		}
		t.log.Debug("overflow chain reclaimed",
			zap.Uint64("rowid", uint64(rec.RowID)),
			zap.Uint32("head", uint32(head)))
	}

	if rec.Op == undo.OpDelete {
		if _, err := t.rows.Remove(ctx, rec.RowID); err != nil {
			return err
		}
	}
	return nil
}
