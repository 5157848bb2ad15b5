package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"driftline/server/internal/state"
)

// FileBackend persists records in a single JSON document keyed by display
// name. The file is read fully on each access and rewritten fully on each
// save. There is no locking and no atomic replace; concurrent writers can
// interleave and lose entries, which is the accepted consistency level for
// the fallback tier.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend rooted at the given file path. The file is
// created lazily on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Load(ctx context.Context, name string) (Record, string, bool, error) {
	doc, err := f.read()
	if err != nil {
		return Record{}, "", false, err
	}
	if rec, ok := doc[name]; ok {
		return rec, name, true, nil
	}
	for stored, rec := range doc {
		if state.NamesEqualFold(stored, name) {
			return rec, stored, true, nil
		}
	}
	return Record{}, "", false, nil
}

func (f *FileBackend) Save(ctx context.Context, name string, rec Record) error {
	doc, err := f.read()
	if err != nil {
		return err
	}
	// Rewrite an existing entry under its stored casing.
	key := name
	if _, ok := doc[key]; !ok {
		for stored := range doc {
			if state.NamesEqualFold(stored, name) {
				key = stored
				break
			}
		}
	}
	doc[key] = rec

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback file: %w", err)
	}
	if err := os.WriteFile(f.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fallback file: %w", err)
	}
	return nil
}

func (f *FileBackend) read() (map[string]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("read fallback file: %w", err)
	}
	if len(data) == 0 {
		return make(map[string]Record), nil
	}
	doc := make(map[string]Record)
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode fallback file: %w", err)
	}
	return doc, nil
}
