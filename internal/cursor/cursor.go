// Package cursor persists a process's change-log position outside the shared
// store, so each consumer's replay progress is independent and survives
// restarts.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File is a durable cursor backed by a small JSON file in the process's
// state directory. Writes go through a temp file and rename so a crash never
// leaves a torn cursor.
type File struct {
	path string
}

type state struct {
	Token     int64     `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFile returns a cursor persisted at dir/name.
func NewFile(dir, name string) *File {
	return &File{path: filepath.Join(dir, name)}
}

// Load returns the stored token. A missing file means the beginning of the
// log (token zero), not an error.
func (f *File) Load() (int64, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt cursor degrades to a from-scratch replay.
		return 0, nil
	}
	return st.Token, nil
}

// Store durably records token.
func (f *File) Store(token int64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	data, err := json.Marshal(state{Token: token, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit cursor: %w", err)
	}
	return nil
}

// Reset clears the cursor back to the beginning of the log.
func (f *File) Reset() error {
	return f.Store(0)
}
