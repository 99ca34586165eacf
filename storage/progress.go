package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"imovirtual-scraper/models"
)

// FileProgressStore keeps the page cursor in a small JSON file. Saves are
// atomic (temp file + rename) so a crash mid-write cannot corrupt the last
// good checkpoint.
type FileProgressStore struct {
	mu   sync.Mutex
	path string
}

// NewFileProgressStore creates a progress store backed by the given path.
// The file is created on first Save.
func NewFileProgressStore(path string) *FileProgressStore {
	return &FileProgressStore{path: path}
}

// Load reads the stored cursor. A missing file means "start from the
// beginning" and returns (nil, nil); an unreadable or corrupt file returns
// an error so the caller can decide to start fresh.
func (s *FileProgressStore) Load() (*models.PageCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress: read %s: %w", s.path, err)
	}

	var cursor models.PageCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("progress: corrupt checkpoint %s: %w", s.path, err)
	}
	return &cursor, nil
}

// Save durably writes the cursor. Called once per fully-processed page,
// after the page's listings have been acknowledged by the listing store.
func (s *FileProgressStore) Save(cursor *models.PageCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("progress: create dir: %w", err)
	}

	data, err := json.MarshalIndent(cursor, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("progress: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("progress: rename: %w", err)
	}
	return nil
}

// Reset discards the checkpoint. Only ever called on explicit user request.
func (s *FileProgressStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
