package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.ErrorContains(t, err, "archive.base_dir")
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir, Prefix: "/raw/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "pages/v1/1.json", "application/json", []byte(`{"a":1}`))
	require.NoError(t, err)
	want := filepath.Join(dir, "raw", "pages", "v1", "1.json")
	assert.Equal(t, "file://"+want, uri)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	_, err = store.PutObject(context.Background(), "../../escape.json", "", []byte("x"))
	assert.ErrorContains(t, err, "escapes")

	_, err = store.PutObject(context.Background(), " ", "", []byte("x"))
	assert.Error(t, err)
}
