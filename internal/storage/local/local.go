// Package local provides a local filesystem document root.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/internal/storage"
)

const tempPrefix = ".cbnote-"

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// LocalBackend implements storage.Backend on a single folder.
type LocalBackend struct {
	rootPath string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &LocalBackend{rootPath: cfg.RootPath}, nil
}

// Root returns the folder this backend serves.
func (b *LocalBackend) Root() string { return b.rootPath }

func (b *LocalBackend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.Base(key))
}

func (b *LocalBackend) record(op string, start time.Time, err error) {
	metrics.RecordBackendOperation("local", op, time.Since(start), err == nil)
}

// Ping checks that the root folder still exists.
func (b *LocalBackend) Ping(_ context.Context) (err error) {
	start := time.Now()
	defer func() { b.record("ping", start, err) }()
	info, err := os.Stat(b.rootPath)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path %s is not a directory", b.rootPath)
	}
	return nil
}

// List returns the regular, non-hidden files in the root folder. Names that
// are not valid UTF-8 are skipped since they cannot round-trip the wire.
func (b *LocalBackend) List(_ context.Context) (_ []storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { b.record("list", start, err) }()

	entries, err := os.ReadDir(b.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", b.rootPath, err)
	}

	objects := make([]storage.ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !utf8.ValidString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		objects = append(objects, storage.ObjectInfo{
			Key:     e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

// GetObject opens a file for reading.
func (b *LocalBackend) GetObject(_ context.Context, key string) (_ io.ReadCloser, err error) {
	start := time.Now()
	defer func() { b.record("get_object", start, err) }()

	f, err := os.Open(b.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// PutObject writes content to the local filesystem atomically.
func (b *LocalBackend) PutObject(_ context.Context, key string, body io.Reader, _ int64) (err error) {
	start := time.Now()
	defer func() { b.record("put_object", start, err) }()

	path := b.fullPath(key)

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(b.rootPath, tempPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes a file from the root folder.
func (b *LocalBackend) DeleteObject(_ context.Context, key string) (err error) {
	start := time.Now()
	defer func() { b.record("delete_object", start, err) }()

	err = os.Remove(b.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// RenameObject moves a file within the root folder.
func (b *LocalBackend) RenameObject(_ context.Context, srcKey, dstKey string) (err error) {
	start := time.Now()
	defer func() { b.record("rename_object", start, err) }()

	src, dst := b.fullPath(srcKey), b.fullPath(dstKey)
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rename %s: %w", srcKey, storage.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", srcKey, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("rename to %s: %w", dstKey, storage.ErrExists)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// ObjectExists checks if a file exists in the root folder.
func (b *LocalBackend) ObjectExists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }
