//go:build !windows && !darwin

package storage

import "path/filepath"

func platformHome(getenv func(string) string) string {
	return getenv("HOME")
}

func platformConfigDefault(home string) string {
	return filepath.Join(home, ".config", appName)
}

func platformDataDefault(home string) string {
	return filepath.Join(home, ".local", "share", appName)
}
