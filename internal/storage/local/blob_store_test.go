// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
			_ = os.Chmod(tempDir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		path := "images/products/kettle.jpg"
		data := []byte("jpeg bytes")
		got, err := store.PutObject(ctx, path, "image/jpeg", data)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "images", "products", "kettle.jpg"), got)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("OverwriteLeavesNoTempFiles", func(t *testing.T) {
		_, err := store.PutObject(ctx, "text/a.txt", "text/plain", []byte("one"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "text/a.txt", "text/plain", []byte("two"))
		require.NoError(t, err)

		entries, err := os.ReadDir(filepath.Join(tempDir, "text"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "a.txt", entries[0].Name())

		data, err := store.ReadObject(ctx, "text/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "two", string(data))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", []byte("data"))
		assert.Error(t, err)
		assert.NoFileExists(t, filepath.Join(filepath.Dir(tempDir), "escape.txt"))
	})

	t.Run("Canceled", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "x.txt", "", []byte("data"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.PutObject(ctx, "race/same.bin", "", []byte("payload"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		data, err := store.ReadObject(ctx, "race/same.bin")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	})
}

func TestExistsAndRead(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "files/manual.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.ReadObject(ctx, "files/manual.pdf")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = store.PutObject(ctx, "files/manual.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	ok, err = store.Exists(ctx, "files/manual.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Exists(ctx, "../../etc/passwd")
	assert.Error(t, err)
}
