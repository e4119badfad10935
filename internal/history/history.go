// internal/history/history.go
// Persistent record of completed healing sessions.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mendloop/mendloop/internal/heal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxEntries bounds the on-disk history.
const maxEntries = 100

// Store keeps session records in one JSON file, newest last, trimmed to the
// most recent maxEntries. Implements heal.SessionStore.
type Store struct {
	logger *zap.Logger
	path   string
	mu     sync.Mutex
}

// NewStore builds a store writing to path. The parent directory is created on
// first append.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger.Named("history"), path: path}, nil
}

// Append adds one record and rewrites the file. Writes go through a temp file
// and rename so a crash cannot leave a half-written history.
func (s *Store) Append(rec heal.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	if len(records) > maxEntries {
		records = records[len(records)-maxEntries:]
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}

	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}

	s.logger.Debug("session recorded", zap.String("id", rec.ID), zap.Int("entries", len(records)))
	return nil
}

// Load returns all stored records, oldest first. A missing file is an empty
// history.
func (s *Store) Load() ([]heal.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Tail returns the most recent n records, oldest first.
func (s *Store) Tail(n int) ([]heal.SessionRecord, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (s *Store) load() ([]heal.SessionRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}
	var records []heal.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	return records, nil
}
