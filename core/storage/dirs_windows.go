//go:build windows

package storage

import "path/filepath"

// platformHome is the roaming application data folder.
func platformHome(getenv func(string) string) string {
	return getenv("APPDATA")
}

func platformConfigDefault(home string) string {
	return filepath.Join(home, appName, "config")
}

func platformDataDefault(home string) string {
	return filepath.Join(home, appName, "data")
}
