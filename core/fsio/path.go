// Package fsio provides the filesystem primitives the transactional store is
// built from: path validation, offset reads and writes, recursive copies,
// renames and volume queries.
package fsio

import (
	"path/filepath"
	"strings"
	"unicode"
)

const (
	Root     = "/"
	relative = ".."
)

const invalidFilenameChars = `*|<>:"\?`

// IsValidFilename reports whether name is acceptable as a single path
// component: non-empty, no leading or trailing space or dot, no reserved or
// control characters. Unicode letters are fine.
func IsValidFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	for _, r := range name {
		if r == '/' || unicode.IsControl(r) || strings.ContainsRune(invalidFilenameChars, r) {
			return false
		}
	}
	return true
}

// IsRelative reports whether path contains a ".." segment.
func IsRelative(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == relative {
			return true
		}
	}
	return false
}

// IsValidPath reports whether every component of an absolute store path is a
// valid file name. The root itself is valid.
func IsValidPath(path string) bool {
	if path == Root {
		return true
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, Root), "/")
	for _, part := range strings.Split(trimmed, "/") {
		if !IsValidFilename(part) {
			return false
		}
	}
	return true
}

// Clean normalizes an absolute store path: duplicate and trailing slashes are removed.
func Clean(path string) string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return Root + strings.Join(parts, "/")
}

// RealPath maps a store path onto the filesystem underneath root.
func RealPath(root, path string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, Root)))
}

// StorePath maps a filesystem path underneath root back to a store path.
func StorePath(root, realPath string) (string, bool) {
	rel, err := filepath.Rel(root, realPath)
	if err != nil || rel == relative || strings.HasPrefix(rel, relative+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return Root, true
	}
	return Root + filepath.ToSlash(rel), true
}

// ParentPath returns the parent store path, or "" for the root.
func ParentPath(path string) string {
	if path == Root || path == "" {
		return ""
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return Root
	}
	return path[:idx]
}
