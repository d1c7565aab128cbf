//go:build darwin

package storage

import "path/filepath"

func platformHome(getenv func(string) string) string {
	return getenv("HOME")
}

func platformConfigDefault(home string) string {
	return filepath.Join(home, "Library", "Application Support", appName, "config")
}

func platformDataDefault(home string) string {
	return filepath.Join(home, "Library", "Application Support", appName, "data")
}
