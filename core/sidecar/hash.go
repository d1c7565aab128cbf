package sidecar

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"
)

type hashEntry struct {
	sum     string
	size    int64
	modTime time.Time
}

// Hash returns the hex MD5 digest of the regular file at path, served from
// memory or the sidecar file when neither is older than the file.
func (s *Store) Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if v, ok := s.hashes.Get(path); ok {
		entry := v.(hashEntry)
		if entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
			return entry.sum, nil
		}
	}

	if data, ok := freshCache(HashPath(path), info); ok {
		sum := strings.TrimSpace(string(data))
		s.remember(path, sum, info.Size(), info.ModTime())
		return sum, nil
	}

	sum, err := md5File(path)
	if err != nil {
		return "", err
	}
	s.writeCache(HashPath(path), []byte(sum))
	s.remember(path, sum, info.Size(), info.ModTime())
	return sum, nil
}

func (s *Store) remember(path, sum string, size int64, modTime time.Time) {
	s.hashes.Set(path, hashEntry{sum: sum, size: size, modTime: modTime}, 1)
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
