package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
)

// writeFile creates a file with parent directories as needed.
func writeFile(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestNewFromScope(t *testing.T) {
	t.Run("requires path", func(t *testing.T) {
		_, err := NewFromScope(context.Background(), domain.SyncScope{
			ID:     "scope-1",
			Config: map[string]string{},
		})
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("builds source with mime filter", func(t *testing.T) {
		src, err := NewFromScope(context.Background(), domain.SyncScope{
			ID:     "scope-1",
			Config: map[string]string{"path": t.TempDir(), "mime_types": "image/png, image/jpeg"},
		})
		require.NoError(t, err)
		assert.Equal(t, Type, src.Type())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts existing directory", func(t *testing.T) {
		src := New("scope-1", t.TempDir(), nil)
		assert.NoError(t, src.Validate(context.Background()))
	})

	t.Run("rejects missing path", func(t *testing.T) {
		src := New("scope-1", filepath.Join(t.TempDir(), "missing"), nil)
		assert.Error(t, src.Validate(context.Background()))
	})

	t.Run("rejects regular file", func(t *testing.T) {
		root := t.TempDir()
		path := writeFile(t, root, "file.png", []byte("x"))
		src := New("scope-1", path, nil)
		assert.Error(t, src.Validate(context.Background()))
	})
}

func TestList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sunset.jpg", []byte("jpg"))
	writeFile(t, root, "nested/diagram.png", []byte("png"))
	writeFile(t, root, "notes.txt", []byte("text"))
	writeFile(t, root, ".hidden/secret.png", []byte("png"))
	writeFile(t, root, ".DS_Store", []byte("junk"))

	src := New("scope-1", root, nil)
	defer src.Close()

	items, err := src.List(context.Background(), time.Time{})
	require.NoError(t, err)

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	assert.ElementsMatch(t, []string{"scope-1/sunset.jpg", "scope-1/nested/diagram.png"}, ids,
		"non-images and hidden entries are excluded")

	for _, item := range items {
		assert.NotZero(t, item.ModifiedAt)
		assert.NotZero(t, item.SizeBytes)
		assert.NotEmpty(t, item.MIMEType)
	}
}

// Two scopes rooted at directories containing the same relative path must
// produce distinct item IDs, or they would share one processing record and
// the second scope's file would never be indexed.
func TestList_ItemIDsNamespacedByScope(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, rootA, "photo.png", []byte("a"))
	writeFile(t, rootB, "photo.png", []byte("b"))

	srcA := New("scope-a", rootA, nil)
	defer srcA.Close()
	srcB := New("scope-b", rootB, nil)
	defer srcB.Close()

	itemsA, err := srcA.List(context.Background(), time.Time{})
	require.NoError(t, err)
	itemsB, err := srcB.List(context.Background(), time.Time{})
	require.NoError(t, err)

	require.Len(t, itemsA, 1)
	require.Len(t, itemsB, 1)
	assert.Equal(t, "scope-a/photo.png", itemsA[0].ID)
	assert.Equal(t, "scope-b/photo.png", itemsB[0].ID)
	assert.NotEqual(t, itemsA[0].ID, itemsB[0].ID)

	// Each source downloads its own item by its own ID.
	dataA, err := srcA.Download(context.Background(), itemsA[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), dataA)

	// A foreign scope's ID is rejected, not silently resolved.
	_, err = srcA.Download(context.Background(), itemsB[0].ID)
	assert.ErrorIs(t, err, domain.ErrPermanentItem)
}

func TestList_ModifiedAfterFilter(t *testing.T) {
	root := t.TempDir()
	oldPath := writeFile(t, root, "old.png", []byte("old"))
	writeFile(t, root, "new.png", []byte("new"))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	src := New("scope-1", root, nil)
	defer src.Close()

	items, err := src.List(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "scope-1/new.png", items[0].ID)
}

func TestList_MimeFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", []byte("png"))
	writeFile(t, root, "b.jpg", []byte("jpg"))

	src := New("scope-1", root, []string{"image/png"})
	defer src.Close()

	items, err := src.List(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "scope-1/a.png", items[0].ID)
}

func TestDownload(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "nested/a.png", []byte("png-bytes"))

	src := New("scope-1", root, nil)
	defer src.Close()

	t.Run("reads existing item", func(t *testing.T) {
		data, err := src.Download(context.Background(), "scope-1/nested/a.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)
	})

	t.Run("missing item is permanent", func(t *testing.T) {
		_, err := src.Download(context.Background(), "scope-1/gone.png")
		assert.ErrorIs(t, err, domain.ErrPermanentItem)
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := src.Download(context.Background(), "scope-1/../outside.png")
		assert.ErrorIs(t, err, domain.ErrPermanentItem)
	})

	t.Run("rejects foreign scope prefix", func(t *testing.T) {
		_, err := src.Download(context.Background(), "other-scope/nested/a.png")
		assert.ErrorIs(t, err, domain.ErrPermanentItem)
	})
}

func TestClose(t *testing.T) {
	src := New("scope-1", t.TempDir(), nil)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close(), "close is idempotent")

	_, err := src.List(context.Background(), time.Time{})
	assert.ErrorIs(t, err, domain.ErrSourceClosed)

	_, err = src.Download(context.Background(), "scope-1/a.png")
	assert.ErrorIs(t, err, domain.ErrSourceClosed)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	src := New("scope-1", root, nil)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Watch(ctx)
	require.NoError(t, err)

	// Give the watcher a moment to arm before writing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "fresh.png", []byte("png"))

	select {
	case item := <-events:
		assert.Equal(t, "scope-1/fresh.png", item.ID)
		assert.Equal(t, "image/png", item.MIMEType)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	cancel()
	// Channel drains and closes after cancellation
	for range events { //nolint:revive // drain until closed
	}
}

func TestCapabilities(t *testing.T) {
	src := New("scope-1", t.TempDir(), nil)
	caps := src.Capabilities()

	assert.True(t, caps.SupportsIncremental)
	assert.True(t, caps.SupportsWatch)
	assert.True(t, caps.SupportsHierarchy)
	assert.False(t, caps.SupportsVersionToken)
	assert.False(t, caps.RequiresAuth)
	assert.Empty(t, src.VersionToken())
}
