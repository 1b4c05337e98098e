package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	ended := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTask(ctx, Task{ID: "a", Seq: 1, Filename: "a.bin", Status: StatusCompleted, TotalBytes: 10, UploadedBytes: 10, EndedAt: &ended}))
	require.NoError(t, store.SaveTask(ctx, Task{ID: "b", Seq: 2, Filename: "b.bin", Status: StatusFailed, Error: "boom"}))

	// junk next to the records is ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uploads", "notes.txt"), []byte("x"), 0o600))

	loaded, err := store.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	byID := map[string]Task{}
	for _, tk := range loaded {
		byID[tk.ID] = tk
	}
	assert.Equal(t, "boom", byID["b"].Error)
	require.NotNil(t, byID["a"].EndedAt)
	assert.True(t, byID["a"].EndedAt.Equal(ended))

	require.NoError(t, store.DeleteTask(ctx, "a"))
	require.NoError(t, store.DeleteTask(ctx, "a"))
	loaded, err = store.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].ID)
}

func TestFileStoreMissingDirIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope"))
	loaded, err := store.LoadTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestManagerRestoresFromFileStore(t *testing.T) {
	dir := t.TempDir()
	tr := newFakeTransport()
	first := NewManagerWithOptions(Options{MaxConcurrent: 1, Transport: tr, Store: NewFileStore(dir)})
	done := first.Enqueue(memSource{name: "done", size: 5}, "/d")
	tr.call(t, done).hooks.OnSuccess()
	running := first.Enqueue(memSource{name: "running", size: 5}, "/d")

	second := NewManagerWithOptions(Options{MaxConcurrent: 1, Transport: newFakeTransport(), Store: NewFileStore(dir)})
	require.NoError(t, second.LoadFromStore(context.Background()))

	s := second.Snapshot()
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, StatusCompleted, s.Tasks[done].Status)
	assert.Equal(t, StatusFailed, s.Tasks[running].Status)
	assert.Equal(t, ErrInterrupted.Error(), s.Tasks[running].Error)
}
