package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xtxerr/gridrelay/internal/types"
)

// LastGood is the most recent successfully delivered batch, kept on disk for
// operators.
type LastGood struct {
	MinuteLabel string          `json:"minute_label"`
	Rows        []types.GridRow `json:"rows"`
	RawResponse string          `json:"raw_response"`
}

// LastGoodFile writes LastGood artifacts atomically.
type LastGoodFile struct {
	path string
	mu   sync.Mutex
}

// NewLastGoodFile returns a writer for path. An empty path disables it.
func NewLastGoodFile(path string) *LastGoodFile {
	return &LastGoodFile{path: path}
}

// Path returns the artifact path.
func (f *LastGoodFile) Path() string { return f.path }

// Save replaces the artifact with lg.
func (f *LastGoodFile) Save(lg LastGood) error {
	if f == nil || f.path == "" {
		return nil
	}
	if lg.Rows == nil {
		lg.Rows = []types.GridRow{}
	}

	data, err := json.MarshalIndent(lg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode last good: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lastsec-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Load reads the artifact.
func (f *LastGoodFile) Load() (LastGood, error) {
	var lg LastGood
	data, err := os.ReadFile(f.path)
	if err != nil {
		return lg, err
	}
	if err := json.Unmarshal(data, &lg); err != nil {
		return lg, fmt.Errorf("decode last good: %w", err)
	}
	return lg, nil
}
