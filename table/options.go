// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"fmt"

	"github.com/magiconair/properties"

	"github.com/colstore/colstore"
	"github.com/colstore/colstore/compress"
)

// Options configures a table engine. The zero value is not usable; start
// from DefaultOptions or LoadOptions.
type Options struct {
	// PageSize is the fixed page size of the store, a power of two.
	PageSize int `properties:"page_size,default=8192"`

	// ToastThreshold is the smallest variable-length value redirected to
	// an overflow chain instead of being stored inline in the stream.
	ToastThreshold int `properties:"toast_threshold,default=2048"`

	// Compression enables stream and overflow-slice compression.
	Compression bool `properties:"compression,default=true"`
}

// DefaultOptions returns the options used when no configuration file is
// given.
func DefaultOptions() Options {
	return Options{
		PageSize:       8192,
		ToastThreshold: 2048,
		Compression:    true,
	}
}

// LoadOptions reads options from a .properties file.
func LoadOptions(path string) (opts Options, err error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return
	}
	if err = p.Decode(&opts); err != nil {
		return
	}
	err = opts.validate()
	return
}

func (opts Options) validate() error {
	if opts.PageSize < 512 || opts.PageSize&(opts.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size %d", colstore.ErrInvalidPageSize, opts.PageSize)
	}
	if opts.ToastThreshold < toastWrapSize || opts.ToastThreshold > opts.PageSize/4 {
		return fmt.Errorf("toast threshold %d out of range for page size %d",
			opts.ToastThreshold, opts.PageSize)
	}
	return nil
}

func (opts Options) compressor() colstore.Compressor {
	if opts.Compression {
		return compress.S2{}
	}
	return compress.None{}
}
