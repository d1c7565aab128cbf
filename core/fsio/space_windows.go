//go:build windows

package fsio

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// Space returns the total and available bytes of the volume holding path.
func Space(path string) (total, free int64, err error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	var available, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &totalBytes, &totalFree); err != nil {
		return 0, 0, fmt.Errorf("disk free space %s: %w", path, err)
	}
	return int64(totalBytes), int64(available), nil
}

// SameVolume reports whether a and b live on the same volume.
func SameVolume(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(filepath.VolumeName(absA), filepath.VolumeName(absB)), nil
}
