package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/atmx/weather-edge/internal/model"
)

// FileStore keeps the state document as a JSON file and the audit log as a
// JSON-lines file next to it. Writes go to a temp file that is synced and
// renamed into place; the previous document is kept as <path>.bak and used
// when the primary cannot be read.
type FileStore struct {
	mu        sync.Mutex
	path      string
	auditPath string
	logger    *slog.Logger
}

// NewFileStore creates a FileStore. auditPath defaults to <path>.audit.jsonl.
func NewFileStore(path, auditPath string, logger *slog.Logger) *FileStore {
	if auditPath == "" {
		auditPath = path + ".audit.jsonl"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, auditPath: auditPath, logger: logger}
}

// Path returns the state file path.
func (s *FileStore) Path() string { return s.path }

// BackupPath returns the path of the previous state document.
func (s *FileStore) BackupPath() string { return s.path + ".bak" }

// Load reads the state file, falling back to the backup when the primary is
// missing or undecodable.
func (s *FileStore) Load(_ context.Context) (*model.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, primaryErr := readState(s.path)
	if primaryErr == nil {
		return st, nil
	}

	st, backupErr := readState(s.BackupPath())
	if backupErr == nil {
		s.logger.Warn("state file unreadable, loaded backup",
			"path", s.path,
			"backup", s.BackupPath(),
			"err", primaryErr,
		)
		return st, nil
	}

	if errors.Is(primaryErr, fs.ErrNotExist) && errors.Is(backupErr, fs.ErrNotExist) {
		return nil, ErrNoState
	}
	return nil, fmt.Errorf("%w: %s: %v (backup: %v)", ErrCorruptState, s.path, primaryErr, backupErr)
}

// Save writes st atomically and rotates the previous document to the backup.
func (s *FileStore) Save(_ context.Context, st *model.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.BackupPath()); err != nil {
			return fmt.Errorf("rotate state backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Append writes one settled position as a JSON line.
func (s *FileStore) Append(_ context.Context, pos model.Position) error {
	line, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func readState(path string) (*model.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st model.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Positions == nil {
		st.Positions = make(map[string]model.Position)
	}
	return &st, nil
}
