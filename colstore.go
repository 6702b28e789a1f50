// Package colstore defines the core types and interfaces of a columnar
// table-storage engine: per-attribute B-trees keyed by row id, an attribute
// stream codec with optional compression, an undo log for multi-version
// visibility, and overflow chains for oversized values.
//
// The engine operates on fixed-size pages served by a BlockStore. It never
// manages page locks itself; it acquires and releases them through the store
// in well-scoped regions.
package colstore

import (
	"context"
	"io"
)

// PageNo addresses a fixed-size page within a block store.
// Page 0 is always the metapage.
type PageNo uint32

const (
	// MetaPageNo is the reserved metadata page.
	MetaPageNo PageNo = 0

	// InvalidPageNo marks the absence of a page reference,
	// e.g. the successor of the last page in a chain.
	InvalidPageNo PageNo = 0xFFFFFFFF
)

// RowID is the logical, monotonically assigned identifier of a row.
// It is stable across physical reorganization and never reused while
// referenced by an active undo record.
type RowID uint64

const (
	// InvalidRowID is never assigned to a row.
	InvalidRowID RowID = 0

	// MinRowID is the first assignable row id.
	MinRowID RowID = 1

	// MaxRowID is an exclusive upper bound sentinel for key ranges.
	MaxRowID RowID = 0xFFFFFFFFFFFFFFFF
)

// AttrNo numbers the attributes (columns) of a table, starting at 1.
// MetaAttrNo is the shared row-existence tree, not a real column.
type AttrNo uint16

const MetaAttrNo AttrNo = 0

// LockMode selects how a page is locked on acquisition.
type LockMode int

const (
	// LockShared permits concurrent readers.
	LockShared LockMode = iota
	// LockExclusive is required for any mutation of the page.
	LockExclusive
)

// PageRef is a pinned, locked page. The referenced bytes stay valid until
// Release. Mutations require LockExclusive and must be announced with
// MarkDirty before Release, or they may not reach the store.
type PageRef interface {
	// Data returns the page bytes, of length BlockStore.PageSize.
	Data() []byte

	// MarkDirty records that the page bytes were modified.
	MarkDirty()

	// Release unlocks and unpins the page. It must be called exactly once
	// on every acquired reference, on every exit path.
	Release()
}

// BlockStore serves fixed-size pages. Implementations own the page-level
// locks; the engine only acquires them in scoped regions.
//
// Allocate and Free manage store growth only. The engine recycles its own
// pages through the metapage free list and does not call Free for them.
type BlockStore interface {
	// PageSize returns the fixed page size in bytes.
	PageSize() int

	// NumPages returns the current number of pages in the store.
	NumPages() (PageNo, error)

	// Acquire pins page no and takes its lock in the given mode.
	// It honors ctx cancellation while waiting for the lock.
	Acquire(ctx context.Context, no PageNo, mode LockMode) (PageRef, error)

	// Allocate extends the store by one zeroed page and returns its number.
	Allocate() (PageNo, error)

	// Free returns a page to the store. The page must not be referenced by
	// any live on-disk structure.
	Free(no PageNo) error
}

// Snapshot is an opaque token describing what a transaction may see.
// Snapshot management is external to the engine.
type Snapshot interface{}

// VersionMeta describes one recorded row version for visibility checks.
type VersionMeta struct {
	// XID is the transaction that created the version.
	XID uint64
	// Counter is the undo-log position of the version, totally ordered
	// across the whole log.
	Counter uint64
	// Deleted reports whether the version is a deletion.
	Deleted bool
}

// Visibility is the transaction-side collaborator consulted when a decoded
// value's visibility is uncertain.
type Visibility interface {
	// CurrentSnapshot returns the snapshot of the current transaction.
	CurrentSnapshot() Snapshot

	// IsVisible reports whether the version described by meta is visible
	// to the given snapshot.
	IsVisible(snap Snapshot, meta VersionMeta) bool
}

// Compressor compresses attribute streams and overflow slices.
// Both directions are fallible; Decompress is given the known decompressed
// size recorded next to the compressed bytes.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, decompressedSize int) ([]byte, error)
}

// File provides access to a storage backend for a file-backed block store.
// The File interface is the minimum implementation required.
//
// The *os.File type satisfies this interface.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Sync commits the current contents of the file to stable storage.
	Sync() error
}
