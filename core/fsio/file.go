package fsio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

var errNotDirectory = errors.New("not a directory")

// Entry describes a file or directory on disk.
type Entry struct {
	Path         string
	Name         string
	Directory    bool
	Size         int64
	LastModified time.Time
}

func entryFromInfo(path string, info fs.FileInfo) Entry {
	e := Entry{
		Path:         path,
		Name:         info.Name(),
		Directory:    info.IsDir(),
		LastModified: info.ModTime(),
	}
	if !e.Directory {
		e.Size = info.Size()
	}
	return e
}

func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func GetFile(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(path, info), nil
}

// CreateFile creates an empty file. The parent directory must exist.
func CreateFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

// CreateDirectory creates a single directory. The parent directory must exist.
func CreateDirectory(path string) error {
	return os.Mkdir(path, dirPerm)
}

func CreateDirectories(path string) error {
	return os.MkdirAll(path, dirPerm)
}

// WriteFileAtomic replaces path with data through a synced temporary file and
// a rename, so readers see either the old content or the complete new one.
func WriteFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	if err := writeAndSync(f, data); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(filepath.Dir(path))
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some platforms refuse to fsync directories; the rename is still atomic.
	_ = d.Sync()
	return nil
}

// Read returns exactly limit bytes starting at offset.
func Read(path string, offset int64, limit int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 || offset+int64(limit) > info.Size() {
		return nil, fmt.Errorf("read %s [%d, %d) beyond size %d: %w", path, offset, offset+int64(limit), info.Size(), io.ErrUnexpectedEOF)
	}

	buf := make([]byte, limit)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

func ReadFully(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// List returns the entries of directory path, descending into subdirectories
// when recursive is set. Entries whose name is in exclude are skipped along
// with their contents.
func List(path string, recursive bool, exclude ...string) ([]Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w", path, errNotDirectory)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	var entries []Entry
	if recursive {
		entries, err = listRecursive(path, skip)
	} else {
		entries, err = listFlat(path, skip)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func listFlat(path string, skip map[string]struct{}) ([]Entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if _, ok := skip[de.Name()]; ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entryFromInfo(filepath.Join(path, de.Name()), info))
	}
	return entries, nil
}

func listRecursive(root string, skip map[string]struct{}) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if _, ok := skip[de.Name()]; ok {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entryFromInfo(p, info))
		return nil
	})
	return entries, err
}

// Copy copies a file or a directory tree to target, overwriting files that
// already exist there.
func Copy(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := CreateDirectories(filepath.Dir(target)); err != nil {
			return err
		}
		return copyFileContents(source, target, info.Mode().Perm())
	}

	return filepath.WalkDir(source, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(target, rel)
		if de.IsDir() {
			return CreateDirectories(dst)
		}
		fi, err := de.Info()
		if err != nil {
			return err
		}
		return copyFileContents(p, dst, fi.Mode().Perm())
	})
}

func copyFileContents(source, target string, perm fs.FileMode) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyFile copies length bytes of source starting at sourceOffset into target
// at targetOffset, creating target if needed.
func CopyFile(source string, sourceOffset, length int64, target string, targetOffset int64) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}

	section := io.NewSectionReader(in, sourceOffset, length)
	if _, err := io.Copy(io.NewOffsetWriter(out, targetOffset), section); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Move renames source to target, creating target's parent directories.
func Move(source, target string) error {
	if err := CreateDirectories(filepath.Dir(target)); err != nil {
		return err
	}
	return os.Rename(source, target)
}

// Delete removes a file or a directory tree. The path must exist.
func Delete(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}
	return os.RemoveAll(path)
}
