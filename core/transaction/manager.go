package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
	"github.com/adalundhe/afs/core/lock"
	"github.com/adalundhe/afs/core/sidecar"
	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	WriteAheadLogRoot string
	StorageRoot       string
	// Replay retries a failed commit replay during recovery. Nil uses
	// coreerrors.DefaultReplayPolicy.
	Replay  *coreerrors.RetryPolicy
	Preview sidecar.PreviewOptions
	Logger  *slog.Logger
}

// Manager owns the state shared by every connection of a store: the lock
// table, the registry of recovered transactions and the sidecar caches.
type Manager struct {
	walRoot     string
	storageRoot string
	locks       *lock.Manager
	recovered   *RecoveredTransactions
	sidecars    *sidecar.Store
	replay      *coreerrors.RetryExecutor
	logger      *slog.Logger
}

// NewManager validates both roots, creating them when missing. They must
// support atomic renames and live on the same volume.
func NewManager(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	walRoot, err := prepareRoot(opts.WriteAheadLogRoot)
	if err != nil {
		return nil, err
	}
	storageRoot, err := prepareRoot(opts.StorageRoot)
	if err != nil {
		return nil, err
	}

	same, err := fsio.SameVolume(walRoot, storageRoot)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.CodeFileSystemNotSupported, err, storageRoot)
	}
	if !same {
		return nil, coreerrors.New(coreerrors.CodePathsOnDifferentVolumes, walRoot, storageRoot)
	}

	sidecars, err := sidecar.NewStore(sidecar.Options{Preview: opts.Preview, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("sidecar store: %w", err)
	}

	return &Manager{
		walRoot:     walRoot,
		storageRoot: storageRoot,
		locks:       lock.NewManager(),
		recovered:   NewRecoveredTransactions(),
		sidecars:    sidecars,
		replay:      coreerrors.NewRetryExecutor(opts.Replay),
		logger:      logger,
	}, nil
}

func prepareRoot(root string) (string, error) {
	if root == "" {
		return "", coreerrors.New(coreerrors.CodeFileSystemNotSupported, "empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.CodeFileSystemNotSupported, err, root)
	}
	if err := fsio.CreateDirectories(abs); err != nil {
		return "", coreerrors.Wrap(coreerrors.CodeFileSystemNotSupported, err, abs)
	}
	if err := fsio.CheckAtomicRename(abs); err != nil {
		return "", coreerrors.Wrap(coreerrors.CodeFileSystemNotSupported, err, abs)
	}
	return abs, nil
}

func (m *Manager) WriteAheadLogRoot() string { return m.walRoot }
func (m *Manager) StorageRoot() string       { return m.storageRoot }

// Recovered returns the registry of prepared transactions awaiting resolution.
func (m *Manager) Recovered() *RecoveredTransactions {
	return m.recovered
}

// NewConnection returns a connection in the New state.
func (m *Manager) NewConnection() *Connection {
	return newConnection(m)
}

// Lock grants all of locks or none of them, outside any connection.
func (m *Manager) Lock(locks []lock.Lock) bool {
	return m.locks.Add(locks)
}

func (m *Manager) Unlock(locks []lock.Lock) bool {
	return m.locks.Remove(locks)
}

// Locks returns a snapshot of every held lock.
func (m *Manager) Locks() []lock.Lock {
	return m.locks.All()
}

func (m *Manager) Close() error {
	m.sidecars.Close()
	return nil
}

func (m *Manager) environment(t *Transaction) *environment {
	return &environment{
		transaction: t,
		storageRoot: m.storageRoot,
		sidecars:    m.sidecars,
	}
}

// RecommitTransactionsAfterCrash inspects every transaction directory left in
// the write-ahead-log root. Committed transactions are replayed and cleaned
// up, prepared ones get their locks back and wait in the recovered registry,
// and directories without a log are removed. It must run before the store
// accepts traffic. Failures are logged and returned together once every
// directory was visited.
func (m *Manager) RecommitTransactionsAfterCrash(ctx context.Context) error {
	entries, err := os.ReadDir(m.walRoot)
	if err != nil {
		return coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Recover", m.walRoot)
	}

	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if !entry.IsDir() {
			continue
		}
		if err := m.recoverDir(ctx, entry.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) recoverDir(ctx context.Context, name string) error {
	dir := filepath.Join(m.walRoot, name)
	id, err := uuid.Parse(name)
	if err != nil {
		m.logger.Warn("skipping unknown directory in write-ahead-log root", "dir", dir)
		return nil
	}

	switch {
	case hasLog(dir, CommittedLog):
		return m.recommit(ctx, dir, id)
	case hasLog(dir, PreparedLog):
		if m.recovered.Contains(id) {
			return nil
		}
		if _, err := m.restore(dir, id); err != nil {
			m.logger.Error("prepared transaction not recovered", "tx", id, "error", err)
			return err
		}
		m.logger.Info("prepared transaction awaits commit or rollback", "tx", id)
		return nil
	default:
		m.logger.Info("removing orphaned transaction directory", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Recover", dir)
		}
		return nil
	}
}

// recommit finishes a transaction whose commit decision is journaled.
func (m *Manager) recommit(ctx context.Context, dir string, id uuid.UUID) error {
	t, err := m.loadLog(dir, id, CommittedLog)
	if err != nil {
		m.logger.Error("committed transaction log unreadable", "tx", id, "error", err)
		return err
	}

	if !m.recovered.Contains(id) {
		if !m.locks.Add(t.Locks()) {
			m.logger.Error("locks of committed transaction are held elsewhere, replay postponed", "tx", id)
			return coreerrors.New(coreerrors.CodeOperationCantBeRecovered, id, "Commit")
		}
		m.recovered.Add(t)
	}

	m.logger.Info("replaying committed transaction", "tx", id, "operations", len(t.Operations))
	err = m.replay.Execute(ctx, func() error {
		return m.apply(t)
	})
	if err != nil {
		m.logger.Error("replay of committed transaction failed, it stays pending", "tx", id, "error", err)
		return err
	}

	m.finish(t)
	return nil
}

// restore loads a prepared transaction, reacquires its locks operation by
// operation and registers it as recovered.
func (m *Manager) restore(dir string, id uuid.UUID) (*Transaction, error) {
	name := PreparedLog
	if hasLog(dir, CommittedLog) {
		name = CommittedLog
	}
	t, err := m.loadLog(dir, id, name)
	if err != nil {
		return nil, err
	}

	var granted []lock.Lock
	for _, op := range t.Operations {
		locks := op.Locks()
		if !m.locks.Add(locks) {
			m.locks.Remove(granted)
			return nil, coreerrors.New(coreerrors.CodeOperationCantBeRecovered, id, op.Kind())
		}
		granted = append(granted, locks...)
	}

	m.recovered.Add(t)
	return t, nil
}

// loadLog reads a log and binds it to this manager's roots, which win over
// the roots recorded when the log was written.
func (m *Manager) loadLog(dir string, id uuid.UUID, name string) (*Transaction, error) {
	t, err := readLog(dir, name)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Recover", filepath.Join(dir, name))
	}
	if t.ID != id {
		return nil, fmt.Errorf("log %s belongs to transaction %s", filepath.Join(dir, name), t.ID)
	}
	if t.StorageRoot != m.storageRoot {
		m.logger.Debug("log written for another storage root", "tx", id, "dir", t.StorageRoot)
	}
	t.WriteAheadLogRoot = m.walRoot
	t.StorageRoot = m.storageRoot
	return t, nil
}

// apply runs the commit step of every operation not yet applied, in order.
func (m *Manager) apply(t *Transaction) error {
	env := m.environment(t)
	dir := t.Dir()
	for i, op := range t.Operations {
		if isApplied(dir, i) {
			continue
		}
		if err := op.commit(env); err != nil {
			return err
		}
		if err := markApplied(dir, i); err != nil {
			return coreerrors.Wrap(coreerrors.CodeIOFailure, err, string(op.Kind()), dir)
		}
	}
	return nil
}

// finish drops every trace of a transaction once it is applied or rolled back.
func (m *Manager) finish(t *Transaction) {
	if err := os.RemoveAll(t.Dir()); err != nil {
		m.logger.Warn("transaction directory not removed", "tx", t.ID, "dir", t.Dir(), "error", err)
	}
	m.locks.Remove(t.Locks())
	m.recovered.Remove(t.ID)
}
