package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink stores the bytes of one output file.
type Sink interface {
	Write(ctx context.Context, path string, data []byte) error
}

// FileSink writes to the local file system, creating missing parent directories.
type FileSink struct {
	Perm os.FileMode
}

// Write implements Sink.
func (s FileSink) Write(_ context.Context, path string, data []byte) error {
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
