// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

// Package compress provides the engine's Compressor implementations.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/colstore/colstore"
)

// S2 compresses with the s2 block format. Decompression verifies the
// declared decompressed size, since stream and toast headers record it.
type S2 struct{}

var _ colstore.Compressor = S2{}

func (S2) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (S2) Decompress(src []byte, decompressedSize int) ([]byte, error) {
	dst, err := s2.Decode(make([]byte, decompressedSize), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", colstore.ErrBadCompression, err)
	}
	if len(dst) != decompressedSize {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d",
			colstore.ErrBadCompression, len(dst), decompressedSize)
	}
	return dst, nil
}

// None is the disabled-compression policy: Compress never shrinks its
// input, so callers that only store compressed data when it saves space
// will store everything raw.
type None struct{}

var _ colstore.Compressor = None{}

func (None) Compress(src []byte) ([]byte, error) {
	return src, nil
}

func (None) Decompress(src []byte, decompressedSize int) ([]byte, error) {
	if len(src) != decompressedSize {
		return nil, fmt.Errorf("%w: %d raw bytes, expected %d",
			colstore.ErrBadCompression, len(src), decompressedSize)
	}
	return src, nil
}
