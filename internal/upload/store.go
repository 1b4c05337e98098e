package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "nasupload/internal/file"
)

// TaskStore keeps the upload history across restarts.
// Progress ticks are never persisted, only lifecycle transitions.
type TaskStore interface {
	SaveTask(ctx context.Context, t Task) error
	LoadTasks(ctx context.Context) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// fileStore implements TaskStore as one JSON document per upload under dataDir/uploads.
type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) TaskStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) root() string {
	return filepath.Join(s.dataDir, "uploads")
}

func (s *fileStore) recordPath(id string) string {
	return filepath.Join(s.root(), id+".json")
}

func (s *fileStore) SaveTask(_ context.Context, t Task) error {
	return fileutil.WriteJSONAtomic(s.recordPath(t.ID), t) //nolint:wrapcheck
}

func (s *fileStore) DeleteTask(_ context.Context, id string) error {
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

func (s *fileStore) LoadTasks(_ context.Context) ([]Task, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	tasks := make([]Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.root(), e.Name())) //nolint:gosec // path is controlled by application
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(b, &t); err != nil || t.ID == "" {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
