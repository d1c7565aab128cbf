// Package cmd provides the afs command line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adalundhe/afs/core/config"
	"github.com/adalundhe/afs/core/sidecar"
	"github.com/adalundhe/afs/core/storage"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// =============================================================================
// Root Command Flags
// =============================================================================

var (
	configPath      string
	storageRootFlag string
	walRootFlag     string
	logLevelFlag    string
	outputJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "afs",
	Short: "AFS - a transactional file store",
	Long: `AFS stores files under a storage root and changes them only through
transactions. Every change is journaled to a write-ahead log first, so a crash
never leaves a transaction half applied.

Each command runs crash recovery before touching the store. Commands that
modify the store run in a transaction of their own; use "afs exec" to group
several operations into one transaction.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file read after the user configuration")
	rootCmd.PersistentFlags().StringVar(&storageRootFlag, "storage-root", "", "Directory holding the stored files")
	rootCmd.PersistentFlags().StringVar(&walRootFlag, "wal-root", "", "Directory holding the write-ahead log")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// =============================================================================
// Store Access
// =============================================================================

// app bundles what a command needs to reach the store.
type app struct {
	config  *config.Manager
	logger  *slog.Logger
	level   *slog.LevelVar
	manager *transaction.Manager
}

// openApp loads the configuration, opens the store and recovers whatever
// a previous process left in the write-ahead log.
func openApp(cmd *cobra.Command) (*app, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfgManager := config.NewManager(dirs)
	cfgManager.SetLogger(logger)
	cfgManager.SetPath(configPath)
	cfgManager.SetOverrides(&config.Config{
		StorageRoot:       storageRootFlag,
		WriteAheadLogRoot: walRootFlag,
		Log:               config.LogConfig{Level: logLevelFlag},
	})
	if err := cfgManager.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	applyLevel(level, cfgManager.Get())
	cfgManager.OnChange(func(cfg *config.Config) {
		applyLevel(level, cfg)
	})

	cfg := cfgManager.Get()
	manager, err := transaction.NewManager(transaction.Options{
		WriteAheadLogRoot: cfg.WriteAheadLogRoot,
		StorageRoot:       cfg.StorageRoot,
		Replay:            &cfg.Recovery,
		Preview: sidecar.PreviewOptions{
			Patterns:     cfg.Preview.EnabledFileTypes,
			MaxSizeBytes: cfg.Preview.MaxSizeBytes,
			MaxDimension: cfg.Preview.MaxDimension,
			Quality:      cfg.Preview.JPEGQuality,
		},
		Logger: logger,
	})
	if err != nil {
		cfgManager.Close()
		return nil, err
	}

	if err := manager.RecommitTransactionsAfterCrash(cmd.Context()); err != nil {
		logger.Warn("some transactions could not be recovered", "error", err)
	}

	return &app{
		config:  cfgManager,
		logger:  logger,
		level:   level,
		manager: manager,
	}, nil
}

func applyLevel(level *slog.LevelVar, cfg *config.Config) {
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}
}

func (r *app) Close() error {
	r.config.Close()
	return r.manager.Close()
}

// withConnection opens the store and hands fn a connection outside any
// transaction, for queries.
func withConnection(cmd *cobra.Command, fn func(conn *transaction.Connection) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a.manager.NewConnection())
}

// inTransaction runs fn in a fresh transaction and commits it. The
// transaction is rolled back when fn fails.
func inTransaction(cmd *cobra.Command, fn func(conn *transaction.Connection) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	conn := a.manager.NewConnection()
	if err := conn.Begin(newTransactionID()); err != nil {
		return err
	}
	if err := fn(conn); err != nil {
		if rbErr := conn.Rollback(); rbErr != nil {
			a.logger.Warn("rollback failed", "tx", conn.TransactionID(), "error", rbErr)
		}
		return err
	}
	return conn.Commit()
}

// =============================================================================
// Output Helpers
// =============================================================================

// useJSON reports whether output to w should be JSON: when asked for, or
// when w is a file that is not a terminal.
func useJSON(w io.Writer) bool {
	if outputJSON {
		return true
	}
	f, ok := w.(*os.File)
	return ok && !term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatBytes formats a byte count with binary units.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
