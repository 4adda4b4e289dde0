// Package storage defines the FileStore interface for reading and writing
// blobs. It abstracts the backend so callers can target local disk for
// development and S3-compatible object stores for archival without
// changing application code.
//
// The primary use case is persisting per-turn audio tapes (raw PCM plus a
// JSON sidecar) written by the tape recorder.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading. The caller must close the
	// returned ReadCloser. If the file does not exist, an error wrapping
	// os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any existing
	// content. Parent directories are created automatically. The caller
	// must close the returned WriteCloser to flush data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Deleting a missing file is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Sub returns a FileStore that prefixes every path with dir. The tape
// recorder uses it to scope a shared store to one session.
func Sub(fs FileStore, dir string) FileStore {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return fs
	}
	return &subStore{parent: fs, dir: dir}
}

type subStore struct {
	parent FileStore
	dir    string
}

func (s *subStore) join(p string) (string, error) {
	joined := path.Join(s.dir, p)
	if !strings.HasPrefix(joined, s.dir+"/") && joined != s.dir {
		return "", fmt.Errorf("storage: path %q escapes prefix %q", p, s.dir)
	}
	return joined, nil
}

func (s *subStore) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := s.join(p)
	if err != nil {
		return nil, err
	}
	return s.parent.Read(ctx, full)
}

func (s *subStore) Write(ctx context.Context, p string) (io.WriteCloser, error) {
	full, err := s.join(p)
	if err != nil {
		return nil, err
	}
	return s.parent.Write(ctx, full)
}

func (s *subStore) Delete(ctx context.Context, p string) error {
	full, err := s.join(p)
	if err != nil {
		return err
	}
	return s.parent.Delete(ctx, full)
}

func (s *subStore) Exists(ctx context.Context, p string) (bool, error) {
	full, err := s.join(p)
	if err != nil {
		return false, err
	}
	return s.parent.Exists(ctx, full)
}
