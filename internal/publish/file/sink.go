// Package file publishes status documents to a local directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sink writes blobs as files. Writes go to a temporary file that is renamed
// over the target, so readers never observe a partial document.
type Sink struct {
	dir string
}

// NewSink creates the directory if needed.
func NewSink(dir string) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("file sink: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Name returns "file".
func (s *Sink) Name() string { return "file" }

// SaveBlob replaces the file named name with data.
func (s *Sink) SaveBlob(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid blob name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}
