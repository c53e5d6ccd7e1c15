package generator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Marker is the restart-needed sentinel. It is written before a model
// change touches the Schema Store and cleared once the registry has been
// invalidated; a marker found at startup means that sequence was interrupted.
type Marker struct {
	path string
}

func NewMarker(path string) *Marker {
	return &Marker{path: path}
}

func (m *Marker) Path() string { return m.path }

// Write records the models being changed, space separated. A rename
// records the new name followed by the old one.
func (m *Marker) Write(models ...string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, []byte(strings.Join(models, " ")+"\n"), 0o644)
}

// Consume reads and deletes the marker. ok is false when none is pending.
func (m *Marker) Consume() (string, bool, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Clear deletes the marker if present.
func (m *Marker) Clear() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Pending reports whether a marker exists.
func (m *Marker) Pending() bool {
	_, err := os.Stat(m.path)
	return err == nil
}
