// Package local archives raw upstream pages on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the archive root.
	BaseDir string `mapstructure:"base_dir"`
	// Prefix is prepended to every object path.
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes artifacts under a base directory.
type BlobStore struct {
	baseDir string
	prefix  string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("archive.base_dir is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive path %s is not a directory", cfg.BaseDir)
	}

	check := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(check, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("archive dir is not writable: %w", err)
	}
	if err := os.Remove(check); err != nil {
		return nil, fmt.Errorf("remove write check: %w", err)
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir), prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// PutObject writes data to baseDir/prefix/path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, s.prefix, path))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes archive dir", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write archive object: %w", err)
	}
	return "file://" + full, nil
}
