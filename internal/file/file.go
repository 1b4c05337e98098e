package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals the value and atomically writes it to filename
// through a temporary file in the same directory followed by a rename.
func WriteJSONAtomic(filename string, v any) error {
	if filename == "" {
		return errors.New("empty filename")
	}

	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()

	if err := json.NewEncoder(tempFile).Encode(v); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode json: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(filename); err == nil {
		_ = os.Remove(filename)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// Local is a file on the local filesystem that can be uploaded.
type Local struct {
	path string
	name string
	size int64
}

// OpenLocal stats path and returns it as an upload source.
func OpenLocal(path string) (*Local, error) {
	if path == "" {
		return nil, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	return &Local{path: path, name: info.Name(), size: info.Size()}, nil
}

func (l *Local) Name() string { return l.name }

func (l *Local) Size() int64 { return l.size }

func (l *Local) Path() string { return l.path }

func (l *Local) Open() (io.ReadCloser, error) {
	f, err := os.Open(l.path) //nolint:gosec // path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return f, nil
}
