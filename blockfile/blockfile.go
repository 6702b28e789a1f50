// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package blockfile provides the file-backed page store. Pages are fixed-size
// frames cached in memory, locked individually for shared or exclusive
// access, and written back to the file when an exclusive holder that
// marked them dirty releases them.
package blockfile

import (
	"context"
	"fmt"
	"sync"

	lock "github.com/viney-shih/go-lock"
	"go.uber.org/zap"

	"github.com/colstore/colstore"
)

// Store implements colstore.BlockStore over a colstore.File. Every page
// touched stays resident until Close; callers bound the working set.
type Store struct {
	file     colstore.File
	pageSize int
	log      *zap.Logger

	mu     sync.Mutex
	frames map[colstore.PageNo]*frame
	pages  int
	closed bool
}

var _ colstore.BlockStore = (*Store)(nil)

type frame struct {
	lock    lock.RWMutex
	data    []byte
	dirty   bool
	load    sync.Once
	loadErr error
}

// Open wraps file as a page store. The file size must be a whole number
// of pages; pageSize must match the size the file was created with.
func Open(file colstore.File, pageSize int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize < 512 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d", colstore.ErrInvalidPageSize, pageSize)
	}
	size, err := fileSize(file)
	if err != nil {
		return nil, err
	}
	if size%int64(pageSize) != 0 {
		return nil, fmt.Errorf("%w: size %d not a multiple of page size %d",
			colstore.ErrFileTruncated, size, pageSize)
	}
	return &Store{
		file:     file,
		pageSize: pageSize,
		log:      logger,
		frames:   make(map[colstore.PageNo]*frame),
		pages:    int(size / int64(pageSize)),
	}, nil
}

func fileSize(file colstore.File) (int64, error) {
	type sizer interface{ Size() int64 }
	if s, ok := file.(sizer); ok {
		return s.Size(), nil
	}
	// probe by binary search over ReadAt
	var lo, hi int64 = 0, 1
	one := make([]byte, 1)
	for {
		if n, _ := file.ReadAt(one, hi-1); n == 0 {
			break
		}
		lo, hi = hi, hi*2
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if n, _ := file.ReadAt(one, mid); n == 1 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// PageSize returns the fixed page size.
func (s *Store) PageSize() int {
	return s.pageSize
}

// NumPages returns the number of pages currently in the store.
func (s *Store) NumPages() (colstore.PageNo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, colstore.ErrClosed
	}
	return colstore.PageNo(s.pages), nil
}

// Acquire locks page no in the requested mode and returns a reference to
// its frame. The reference must be released exactly once.
func (s *Store) Acquire(ctx context.Context, no colstore.PageNo, mode colstore.LockMode) (colstore.PageRef, error) {
	f, err := s.frame(no)
	if err != nil {
		return nil, err
	}

	switch mode {
	case colstore.LockShared:
		if !f.lock.RTryLockWithContext(ctx) {
			return nil, ctx.Err()
		}
	case colstore.LockExclusive:
		if !f.lock.TryLockWithContext(ctx) {
			return nil, ctx.Err()
		}
	default:
		return nil, fmt.Errorf("%w: lock mode %d", colstore.ErrUnsupported, mode)
	}
	return &ref{store: s, no: no, frame: f, mode: mode}, nil
}

func (s *Store) frame(no colstore.PageNo) (*frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, colstore.ErrClosed
	}
	if int(no) >= s.pages {
		pages := s.pages
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: page %d of %d", colstore.ErrOutOfRange, no, pages)
	}
	f, ok := s.frames[no]
	if !ok {
		f = &frame{lock: lock.NewCASMutex(), data: make([]byte, s.pageSize)}
		s.frames[no] = f
	}
	s.mu.Unlock()

	f.load.Do(func() {
		if _, err := s.file.ReadAt(f.data, int64(no)*int64(s.pageSize)); err != nil {
			f.loadErr = fmt.Errorf("read page %d: %w", no, err)
		}
	})
	return f, f.loadErr
}

// Allocate appends a zeroed page to the store and returns its number.
func (s *Store) Allocate() (colstore.PageNo, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return colstore.InvalidPageNo, colstore.ErrClosed
	}
	no := colstore.PageNo(s.pages)
	s.pages++
	f := &frame{lock: lock.NewCASMutex(), data: make([]byte, s.pageSize), dirty: true}
	f.load.Do(func() {}) // fresh page, nothing to read
	s.frames[no] = f
	s.mu.Unlock()

	if err := s.file.Truncate(int64(s.pages) * int64(s.pageSize)); err != nil {
		return colstore.InvalidPageNo, fmt.Errorf("%w: %w", colstore.ErrAllocateFailed, err)
	}
	s.log.Debug("page allocated", zap.Uint32("page", uint32(no)))
	return no, nil
}

// Free is a no-op at this layer. Reuse of freed pages is tracked in the
// metapage free list; the file never shrinks.
func (s *Store) Free(no colstore.PageNo) error {
	return nil
}

// Sync flushes every dirty resident frame and syncs the file. Frames
// locked by other holders are skipped; they flush on release.
func (s *Store) Sync() error {
	s.mu.Lock()
	frames := make(map[colstore.PageNo]*frame, len(s.frames))
	for no, f := range s.frames {
		frames[no] = f
	}
	s.mu.Unlock()

	for no, f := range frames {
		if !f.lock.RTryLock() {
			continue
		}
		if f.dirty {
			if _, err := s.file.WriteAt(f.data, int64(no)*int64(s.pageSize)); err != nil {
				f.lock.RUnlock()
				return fmt.Errorf("write page %d: %w", no, err)
			}
			f.dirty = false
		}
		f.lock.RUnlock()
	}
	return s.file.Sync()
}

// Close flushes and closes the underlying file. Acquire and Allocate
// fail with ErrClosed afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return colstore.ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

type ref struct {
	store *Store
	no    colstore.PageNo
	frame *frame
	mode  colstore.LockMode
	done  bool
}

func (r *ref) Data() []byte {
	return r.frame.data
}

func (r *ref) MarkDirty() {
	r.frame.dirty = true
}

func (r *ref) Release() {
	if r.done {
		return
	}
	r.done = true

	if r.mode == colstore.LockExclusive {
		if r.frame.dirty {
			off := int64(r.no) * int64(r.store.pageSize)
			if _, err := r.store.file.WriteAt(r.frame.data, off); err != nil {
				r.store.log.Error("page write-back failed",
					zap.Uint32("page", uint32(r.no)), zap.Error(err))
			} else {
				r.frame.dirty = false
			}
		}
		r.frame.lock.Unlock()
		return
	}
	r.frame.lock.RUnlock()
}
