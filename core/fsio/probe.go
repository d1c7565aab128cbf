package fsio

import (
	"fmt"
	"os"
	"path/filepath"
)

const probeName = ".afs-probe"

// CheckAtomicRename verifies that dir accepts file creation, sync and an
// atomic replacing rename, which the write-ahead log relies on.
func CheckAtomicRename(dir string) error {
	source := filepath.Join(dir, probeName+".src")
	target := filepath.Join(dir, probeName+".dst")
	defer os.Remove(source)
	defer os.Remove(target)

	if err := os.WriteFile(target, []byte("old"), filePerm); err != nil {
		return err
	}
	if err := WriteFileAtomic(source, []byte("new")); err != nil {
		return err
	}
	if err := os.Rename(source, target); err != nil {
		return err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	if string(data) != "new" || Exists(source) {
		return fmt.Errorf("rename in %s did not replace the target", dir)
	}
	return nil
}
