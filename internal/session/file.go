package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parley-dev/parley/internal/nrepl"
)

// FileBackend persists one JSON record per target under a scope directory,
// e.g. ~/.parley/sessions/default/127.0.0.1_7888.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the storage directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the storage directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(t nrepl.Target) string {
	host := strings.ReplaceAll(t.Host, ":", "-") // IPv6 literals
	return filepath.Join(b.dir, fmt.Sprintf("%s_%d.json", host, t.Port))
}

// Load reads the record for t. A missing or unreadable file is an absent
// record, not an error: a half-written or corrupt file must never block an
// evaluation when a fresh clone can recover.
func (b *FileBackend) Load(t nrepl.Target) (*Record, error) {
	data, err := os.ReadFile(b.path(t))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (b *FileBackend) Save(t nrepl.Target, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(b.path(t), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(t nrepl.Target) error {
	if err := os.Remove(b.path(t)); err != nil {
		if os.IsNotExist(err) {
			return nil // already deleted
		}
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns all stored records, skipping entries that do not parse.
func (b *FileBackend) List() ([]*Record, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // skip invalid records
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (b *FileBackend) Close() error { return nil }
