// Package checkpoint persists the last fully synced block of a streaming task.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrRegression is returned when a save would move the checkpoint backwards.
var ErrRegression = errors.New("checkpoint cannot move backwards")

// Store is what the streamer needs from a checkpoint backend.
type Store interface {
	// Load returns the stored block and whether a checkpoint exists at all.
	Load() (int64, bool, error)
	Save(block int64) error
}

// File stores the checkpoint as a newline-terminated decimal integer.
// A File is owned by exactly one streamer; nothing here guards against a second writer.
type File struct {
	Path string

	mu   sync.Mutex
	last *int64
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Load() (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint %s: %w", f.Path, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, false, fmt.Errorf("checkpoint %s is empty", f.Path)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", f.Path, err)
	}
	f.last = &n
	return n, true, nil
}

// Save writes block through a temp file and rename, so a crash leaves either the old or the new value.
func (f *File) Save(block int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last != nil && block < *f.last {
		return fmt.Errorf("%w: %d < %d", ErrRegression, block, *f.last)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(strconv.FormatInt(block, 10) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	f.last = &block
	return nil
}
