package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/storage"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	configPtr atomic.Pointer[Config]
	dirs      *storage.Dirs
	path      string
	overrides *Config
	logger    *slog.Logger
	watchers  []func(*Config)
	watcherMu sync.RWMutex
	stopWatch chan struct{}
	watchOnce sync.Once
}

type Config struct {
	StorageRoot       string             `yaml:"storage_root"`
	WriteAheadLogRoot string             `yaml:"write_ahead_log_root"`
	Preview           PreviewConfig      `yaml:"preview"`
	Pool              PoolConfig         `yaml:"pool"`
	Recovery          errors.RetryPolicy `yaml:"recovery"`
	Log               LogConfig          `yaml:"log"`
}

type PreviewConfig struct {
	// EnabledFileTypes are glob patterns matched against the file name.
	EnabledFileTypes []string `yaml:"enabled_file_types"`
	MaxSizeBytes     int64    `yaml:"max_size_bytes"`
	MaxDimension     int      `yaml:"max_dimension"`
	JPEGQuality      int      `yaml:"jpeg_quality"`
}

type PoolConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxIdle       int           `yaml:"max_idle"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func NewManager(dirs *storage.Dirs) *Manager {
	m := &Manager{
		dirs:      dirs,
		logger:    slog.Default(),
		stopWatch: make(chan struct{}),
	}
	m.configPtr.Store(DefaultConfig(dirs))
	return m
}

func DefaultConfig(dirs *storage.Dirs) *Config {
	cfg := &Config{
		Preview: PreviewConfig{
			EnabledFileTypes: []string{"*.jpg", "*.jpeg", "*.png", "*.gif"},
			MaxSizeBytes:     10 * 1024 * 1024,
			MaxDimension:     1980,
			JPEGQuality:      50,
		},
		Pool: PoolConfig{
			IdleTimeout:   10 * time.Minute,
			MaxIdle:       1024,
			SweepInterval: time.Minute,
		},
		Recovery: *errors.DefaultReplayPolicy(),
		Log: LogConfig{
			Level: "info",
		},
	}
	if dirs != nil {
		cfg.StorageRoot = dirs.StoreRoot()
		cfg.WriteAheadLogRoot = dirs.WriteAheadLogRoot()
	}
	return cfg
}

// SetPath selects an explicit configuration file, read after the user one.
func (m *Manager) SetPath(path string) {
	m.path = path
}

// SetOverrides registers values, typically from command-line flags, applied
// after files and environment. Zero fields are ignored.
func (m *Manager) SetOverrides(cfg *Config) {
	m.overrides = cfg
}

func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

func (m *Manager) Get() *Config {
	return m.configPtr.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig(m.dirs)

	if m.dirs != nil {
		if err := loadYAMLFile(m.dirs.ConfigFile(), cfg); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}

	if m.path != "" {
		if err := loadYAMLFile(m.path, cfg); err != nil {
			return fmt.Errorf("config %s: %w", m.path, err)
		}
	}

	applyEnvironment(cfg)
	if m.overrides != nil {
		Overlay(cfg, m.overrides)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.configPtr.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("AFS_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("AFS_WRITE_AHEAD_LOG_ROOT"); v != "" {
		cfg.WriteAheadLogRoot = v
	}
	if v := os.Getenv("AFS_PREVIEW_FILE_TYPES"); v != "" {
		cfg.Preview.EnabledFileTypes = splitList(v)
	}
	if v := os.Getenv("AFS_PREVIEW_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Preview.MaxSizeBytes = n
		}
	}
	if v := os.Getenv("AFS_POOL_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.IdleTimeout = d
		}
	}
	if v := os.Getenv("AFS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the store can't start with.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root is required")
	}
	if c.WriteAheadLogRoot == "" {
		return fmt.Errorf("write_ahead_log_root is required")
	}
	if filepath.Clean(c.StorageRoot) == filepath.Clean(c.WriteAheadLogRoot) {
		return fmt.Errorf("storage_root and write_ahead_log_root must differ")
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality must be in [1, 100], got %d", c.Preview.JPEGQuality)
	}
	if c.Preview.MaxDimension <= 0 {
		return fmt.Errorf("preview.max_dimension must be positive, got %d", c.Preview.MaxDimension)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log level name onto slog.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

// Watch reloads the configuration whenever one of the files it was read
// from changes, until ctx is done or the manager is closed. A reload that
// fails keeps the previous configuration.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	files := m.watchedFiles()
	for dir := range watchedDirs(files) {
		if err := watcher.Add(dir); err != nil {
			m.logger.Debug("config directory not watched", "dir", dir, "error", err)
		}
	}

	go m.processEvents(ctx, watcher, files)
	return nil
}

func (m *Manager) watchedFiles() map[string]struct{} {
	files := make(map[string]struct{})
	if m.dirs != nil {
		files[filepath.Clean(m.dirs.ConfigFile())] = struct{}{}
	}
	if m.path != "" {
		files[filepath.Clean(m.path)] = struct{}{}
	}
	return files
}

func watchedDirs(files map[string]struct{}) map[string]struct{} {
	dirs := make(map[string]struct{}, len(files))
	for f := range files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	return dirs
}

func (m *Manager) processEvents(ctx context.Context, watcher *fsnotify.Watcher, files map[string]struct{}) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event, files)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event, files map[string]struct{}) {
	if _, ok := files[filepath.Clean(event.Name)]; !ok {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if err := m.Reload(); err != nil {
		m.logger.Warn("config reload failed", "path", event.Name, "error", err)
		return
	}
	m.logger.Info("config reloaded", "path", event.Name)
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}
