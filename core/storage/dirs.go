// Package storage resolves the per-user directories that hold the afs
// configuration file and the default storage and write-ahead-log roots.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const appName = "afs"

const (
	configFileName = "config.yaml"
	storeDirName   = "store"
	walDirName     = "wal"
)

// Dirs holds the per-user directories of afs.
type Dirs struct {
	Config string // config.yaml
	Data   string // default store and write-ahead-log roots
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs resolves the directories from the process environment once
// and returns the same result afterwards.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = Resolve(os.Getenv)
	})
	return globalDirs, globalDirsErr
}

// Resolve prefers $XDG_CONFIG_HOME/afs and $XDG_DATA_HOME/afs and falls back
// to the platform locations under the user's home.
func Resolve(getenv func(string) string) (*Dirs, error) {
	home := platformHome(getenv)

	config, err := resolveDir(getenv, "XDG_CONFIG_HOME", home, platformConfigDefault)
	if err != nil {
		return nil, err
	}
	data, err := resolveDir(getenv, "XDG_DATA_HOME", home, platformDataDefault)
	if err != nil {
		return nil, err
	}
	return &Dirs{Config: config, Data: data}, nil
}

func resolveDir(getenv func(string) string, envVar, home string, fallback func(string) string) (string, error) {
	if dir := getenv(envVar); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	if home == "" {
		return "", fmt.Errorf("%s is unset and the home directory is unknown", envVar)
	}
	return fallback(home), nil
}

func (d *Dirs) ConfigFile() string {
	return filepath.Join(d.Config, configFileName)
}

// StoreRoot is the default storage root.
func (d *Dirs) StoreRoot() string {
	return filepath.Join(d.Data, storeDirName)
}

// WriteAheadLogRoot is the default write-ahead-log root. It sits next to
// StoreRoot so both share a volume.
func (d *Dirs) WriteAheadLogRoot() string {
	return filepath.Join(d.Data, walDirName)
}
