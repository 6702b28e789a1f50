// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package mem provides an in-memory colstore.File, mainly for tests.
package mem

import (
	"io"
	"sync"

	"github.com/colstore/colstore"
)

// File is an in-memory implementation of the colstore.File interface,
// safe for concurrent use. The zero value is an empty file:
//
//	var f mem.File
//	f.WriteAt(data, 0)
type File struct {
	rw   sync.RWMutex
	data []byte
}

var _ colstore.File = new(File)

// Size returns the current file size in bytes.
func (file *File) Size() int64 {
	file.rw.RLock()
	defer file.rw.RUnlock()
	return int64(len(file.data))
}

// ReadAt reads len(p) bytes starting at off. It returns io.EOF when the
// read reaches past the end of the file.
func (file *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	file.rw.RLock()
	defer file.rw.RUnlock()
	if off >= int64(len(file.data)) {
		return 0, io.EOF
	}
	n = copy(p, file.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// WriteAt writes len(p) bytes starting at off, growing the file and
// zero-filling any gap.
func (file *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	file.rw.Lock()
	defer file.rw.Unlock()
	if end := off + int64(len(p)); end > int64(len(file.data)) {
		grown := make([]byte, end)
		copy(grown, file.data)
		file.data = grown
	}
	return copy(file.data[off:], p), nil
}

// Truncate changes the file size, zero-filling when growing.
func (file *File) Truncate(size int64) error {
	if size < 0 {
		return io.ErrUnexpectedEOF
	}
	file.rw.Lock()
	defer file.rw.Unlock()
	if size <= int64(len(file.data)) {
		file.data = file.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, file.data)
	file.data = grown
	return nil
}

// Sync is a no-op.
func (file *File) Sync() error {
	return nil
}

// Close discards the contents. The file is empty and usable afterwards.
func (file *File) Close() error {
	file.rw.Lock()
	file.data = nil
	file.rw.Unlock()
	return nil
}
