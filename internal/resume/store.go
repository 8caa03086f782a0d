package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chunkwise/internal/fileutil"
)

var (
	// ErrNoState is returned by Load when no Run State exists.
	ErrNoState = errors.New("no run state")
	// ErrCorruptState is returned by Load when the Run State cannot be trusted.
	ErrCorruptState = errors.New("corrupt run state")
)

// Store reads and writes the Run State file. Saves are serialized.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a Store for the temp directory dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the temp directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the Run State file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

// Load reads the Run State. It returns ErrNoState when the file is absent
// and wraps ErrCorruptState when it cannot be decoded or fails validation.
func (s *Store) Load() (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := state.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &state, nil
}

// Save atomically replaces the Run State file.
func (s *Store) Save(state *RunState) error {
	if state == nil {
		return errors.New("save run state: nil state")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fileutil.WriteFileAtomic(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	return nil
}

// Remove deletes the Run State file if present.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
