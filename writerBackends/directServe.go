package writerbackends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirectServe writes objects below a local directory that a web server
// exposes as static files.
type DirectServe struct {
	baseDir string
	folder  string
}

// options: baseDir (defaults to serve_dir), folder.
func newDirectServe(opts map[string]string, serveDir string) (*DirectServe, error) {
	baseDir := opts["baseDir"]
	if baseDir == "" {
		baseDir = serveDir
	}
	if baseDir == "" {
		return nil, fmt.Errorf("directServe: baseDir is required")
	}
	return &DirectServe{baseDir: baseDir, folder: opts["folder"]}, nil
}

func (d *DirectServe) Name() string {
	return "directServe"
}

func (d *DirectServe) Put(ctx context.Context, name string, r io.Reader) error {
	fullDir := filepath.Join(d.baseDir, d.folder)
	fullPath := filepath.Join(fullDir, filepath.Base(name))

	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	// Written under a temporary name so a half-copied archive is never served.
	tmp := fullPath + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tmp, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write to file %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", fullPath, err)
	}
	return nil
}
