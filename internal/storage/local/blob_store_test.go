// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		path := "runs/r1/NOTION_TEMPLATES/detail/chunk-001.json"
		data := []byte(`[{"title":"A"}]`)
		uri, err := store.PutObject(ctx, path, "application/json", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, filepath.FromSlash(path)), uri)

		got, err := store.GetObject(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.txt", "text/plain", []byte("one"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.txt", "text/plain", []byte("two"))
		require.NoError(t, err)
		got, err := store.GetObject(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", []byte("data"))
		assert.ErrorContains(t, err, "path traversal")
		_, err = store.GetObject(ctx, "../../etc/passwd")
		assert.ErrorContains(t, err, "path traversal")
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "runs/none.json")
		assert.ErrorIs(t, err, market.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{
		"runs/r1/AI_PROMPTS/detail/chunk-002.json",
		"runs/r1/AI_PROMPTS/detail/chunk-001.json",
		"runs/r1/AI_PROMPTS/detail/chunk-003.error.txt",
		"runs/r1/AI_PROMPTS/reviews/chunk-001.json",
		"runs/r2/AI_PROMPTS/detail/chunk-001.json",
	} {
		_, err := store.PutObject(ctx, p, "application/json", []byte("[]"))
		require.NoError(t, err)
	}

	got, err := store.List(ctx, "runs/r1/AI_PROMPTS/detail/chunk-")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"runs/r1/AI_PROMPTS/detail/chunk-001.json",
		"runs/r1/AI_PROMPTS/detail/chunk-002.json",
		"runs/r1/AI_PROMPTS/detail/chunk-003.error.txt",
	}, got)

	got, err = store.List(ctx, "runs/r1/")
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = store.List(ctx, "runs/missing/")
	require.NoError(t, err)
	assert.Empty(t, got)
}
