// Package storage defines the Backend interface for document roots.
// A document root is a flat folder of user files: names are keys, there is
// no hierarchy and no separate metadata store.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned when a rename target is already taken.
	ErrExists = errors.New("object already exists")
)

// ObjectInfo describes one file in a document root.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is the interface for document root backends (local folder, S3).
type Backend interface {
	// Ping reports whether the root is currently reachable.
	Ping(ctx context.Context) error

	// List returns the regular files directly inside the root.
	List(ctx context.Context) ([]ObjectInfo, error)

	// GetObject opens the object stored under key.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// PutObject replaces the content stored under key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Missing keys are not an error.
	DeleteObject(ctx context.Context, key string) error

	// RenameObject moves srcKey to dstKey, failing with ErrExists when
	// dstKey is taken.
	RenameObject(ctx context.Context, srcKey, dstKey string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
