package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileSink keeps a snapshot as an indented JSON file.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates the parent directory of path if needed.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return &FileSink{path: path}, nil
}

// Save writes s to disk through a temporary file so readers never see a
// partial snapshot.
func (f *FileSink) Save(_ context.Context, s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jsonData, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	log.Debug().
		Str("path", f.path).
		Int("users", len(s.Users)).
		Int("channels", len(s.Channels)).
		Int("members", countMembers(s.Channels)).
		Msg("Snapshot saved successfully")

	return nil
}

// Load reads the snapshot back. A missing file surfaces os.ErrNotExist.
func (f *FileSink) Load(_ context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, err
	}

	s := New()
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	log.Info().
		Str("path", f.path).
		Int("users", len(s.Users)).
		Int("channels", len(s.Channels)).
		Time("generatedAt", s.GeneratedAt).
		Msg("Loaded existing snapshot")

	return s, nil
}
