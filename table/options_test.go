// Copyright 2026 the colstore authors
// SPDX-License-Identifier: Apache-2.0

package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colstore/colstore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOptions(t *testing.T) {
	path := writeConfig(t, `
page_size = 4096
toast_threshold = 512
compression = false
`)
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	require.Equal(t, 4096, opts.PageSize)
	require.Equal(t, 512, opts.ToastThreshold)
	require.False(t, opts.Compression)
}

func TestLoadOptionsDefaults(t *testing.T) {
	path := writeConfig(t, "")

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	require.Equal(t, DefaultOptions(), opts)
}

func TestLoadOptionsBadPageSize(t *testing.T) {
	path := writeConfig(t, "page_size = 1000\n")

	_, err := LoadOptions(path)
	require.ErrorIs(t, err, colstore.ErrInvalidPageSize)
}

func TestLoadOptionsBadThreshold(t *testing.T) {
	// beyond a quarter page the wrap stops paying off
	path := writeConfig(t, "page_size = 4096\ntoast_threshold = 1025\n")

	_, err := LoadOptions(path)
	require.Error(t, err)
}

func TestDefaultOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().validate())
}

func TestValidateRejectsZeroValue(t *testing.T) {
	require.Error(t, Options{}.validate())
}
