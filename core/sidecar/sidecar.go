// Package sidecar manages the hidden ".afs" directory kept beside stored
// files. It holds derived data (content hashes and image previews) that is
// cached on disk and in memory and dropped whenever the source file changes.
package sidecar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/afs/core/fsio"
	"github.com/dgraph-io/ristretto"
)

const (
	DirName       = ".afs"
	HashSuffix    = "-hash.md5"
	PreviewSuffix = "-preview.jpg"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 20
	defaultBufferItems = 64
)

// Dir returns the sidecar directory holding derived data for path.
func Dir(path string) string {
	return filepath.Join(filepath.Dir(path), DirName)
}

func HashPath(path string) string {
	return filepath.Join(Dir(path), filepath.Base(path)+HashSuffix)
}

func PreviewPath(path string) string {
	return filepath.Join(Dir(path), filepath.Base(path)+PreviewSuffix)
}

// Options configures a Store.
type Options struct {
	Preview PreviewOptions
	Logger  *slog.Logger
}

// Store computes and caches derived data for files under a storage root.
type Store struct {
	hashes  *ristretto.Cache
	preview *Previewer
	logger  *slog.Logger
}

func NewStore(opts Options) (*Store, error) {
	hashes, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}

	preview, err := NewPreviewer(opts.Preview)
	if err != nil {
		hashes.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		hashes:  hashes,
		preview: preview,
		logger:  logger,
	}, nil
}

// Clear drops every cached artifact of path.
func (s *Store) Clear(path string) error {
	s.hashes.Del(path)
	for _, p := range []string{HashPath(path), PreviewPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Move relocates the cached artifacts of source so they belong to target.
// Entries of a moved directory travel with it and need no handling.
func (s *Store) Move(source, target string) error {
	s.hashes.Del(source)
	s.hashes.Del(target)

	moves := [][2]string{
		{HashPath(source), HashPath(target)},
		{PreviewPath(source), PreviewPath(target)},
	}
	for _, m := range moves {
		if !fsio.Exists(m[0]) {
			continue
		}
		if err := fsio.Move(m[0], m[1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() {
	s.hashes.Close()
}

// writeCache stores derived data on disk. Failures only cost a recomputation,
// so they are logged and dropped.
func (s *Store) writeCache(path string, data []byte) {
	if err := fsio.CreateDirectories(filepath.Dir(path)); err != nil {
		s.logger.Debug("sidecar directory not created", "path", path, "error", err)
		return
	}
	if err := fsio.WriteFileAtomic(path, data); err != nil {
		s.logger.Debug("sidecar not written", "path", path, "error", err)
	}
}

// freshCache returns the content of a cached artifact when it is at least as
// recent as the file it was derived from.
func freshCache(cachePath string, source fs.FileInfo) ([]byte, bool) {
	info, err := os.Stat(cachePath)
	if err != nil || info.ModTime().Before(source.ModTime()) {
		return nil, false
	}
	data, err := fsio.ReadFully(cachePath)
	if err != nil {
		return nil, false
	}
	return data, true
}
