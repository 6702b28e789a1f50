// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package mem

import (
	"context"
	"fmt"
	"sync"

	lock "github.com/viney-shih/go-lock"

	"github.com/colstore/colstore"
)

// Store is an in-memory colstore.BlockStore with one RW lock per page.
type Store struct {
	pageSize int

	mu    sync.Mutex
	pages []*memPage
}

type memPage struct {
	lock lock.RWMutex
	data []byte
}

// NewStore returns an empty store serving pages of the given size.
func NewStore(pageSize int) *Store {
	return &Store{pageSize: pageSize}
}

// PageSize returns the fixed page size.
func (s *Store) PageSize() int {
	return s.pageSize
}

var _ colstore.BlockStore = (*Store)(nil)

// NumPages returns the number of pages currently in the store.
func (s *Store) NumPages() (colstore.PageNo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return colstore.PageNo(len(s.pages)), nil
}

// Acquire locks page no in the requested mode.
func (s *Store) Acquire(ctx context.Context, no colstore.PageNo, mode colstore.LockMode) (colstore.PageRef, error) {
	s.mu.Lock()
	if int(no) >= len(s.pages) {
		n := len(s.pages)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: page %d of %d", colstore.ErrOutOfRange, no, n)
	}
	p := s.pages[no]
	s.mu.Unlock()

	switch mode {
	case colstore.LockShared:
		if !p.lock.RTryLockWithContext(ctx) {
			return nil, ctx.Err()
		}
	case colstore.LockExclusive:
		if !p.lock.TryLockWithContext(ctx) {
			return nil, ctx.Err()
		}
	default:
		return nil, fmt.Errorf("%w: lock mode %d", colstore.ErrUnsupported, mode)
	}
	return &memRef{page: p, mode: mode}, nil
}

// Allocate appends a zeroed page and returns its number.
func (s *Store) Allocate() (colstore.PageNo, error) {
	s.mu.Lock()
	no := colstore.PageNo(len(s.pages))
	s.pages = append(s.pages, &memPage{
		lock: lock.NewCASMutex(),
		data: make([]byte, s.pageSize),
	})
	s.mu.Unlock()
	return no, nil
}

// Free is a no-op. Reuse of freed pages is tracked in the metapage free
// list; the store never shrinks.
func (s *Store) Free(no colstore.PageNo) error {
	return nil
}

type memRef struct {
	page *memPage
	mode colstore.LockMode
	done bool
}

func (r *memRef) Data() []byte {
	return r.page.data
}

func (r *memRef) MarkDirty() {}

func (r *memRef) Release() {
	if r.done {
		return
	}
	r.done = true
	if r.mode == colstore.LockExclusive {
		r.page.lock.Unlock()
		return
	}
	r.page.lock.RUnlock()
}
