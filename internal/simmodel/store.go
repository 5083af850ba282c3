package simmodel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// FileStore persists the model as a single JSON artifact. Saves go to a temp
// file in the same directory which is fsynced and renamed over the target, so
// readers see either the old or the new model and never a partial write.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the artifact. A missing file is ErrModelUnavailable,
// anything unreadable or mis-shaped is ErrModelCorrupt.
func (s *FileStore) Load() (*Model, error) {
	if s == nil || s.path == "" {
		return nil, fmt.Errorf("%w: model path is not configured", ErrModelUnavailable)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrModelUnavailable, s.path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelUnavailable, s.path, err)
	}

	var model Model
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrModelCorrupt, s.path, err)
	}
	if err := model.init(); err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *FileStore) Save(model *Model) error {
	if s == nil || s.path == "" {
		return fmt.Errorf("model path is not configured")
	}
	if model == nil {
		return fmt.Errorf("model is nil")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := json.NewEncoder(tmp).Encode(model); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp model file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace model file: %w", err)
	}
	committed = true
	return nil
}
