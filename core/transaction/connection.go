package transaction

import (
	"fmt"
	"log/slog"
	"sync"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
	"github.com/adalundhe/afs/core/lock"
	"github.com/google/uuid"
)

// Connection drives one transaction at a time through
// New -> Begin -> Prepare -> Commit -> Executed, or to Rollback from Begin
// and Prepare. A connection in a terminal state is reused by calling Begin
// again.
type Connection struct {
	mu          sync.Mutex
	manager     *Manager
	logger      *slog.Logger
	state       State
	transaction *Transaction

	// Paths touched earlier in the open transaction.
	written       map[string]struct{}
	deleted       map[string]struct{}
	movedSources  map[string]struct{}
	movedTargets  map[string]struct{}
	copiedTargets map[string]struct{}
}

func newConnection(m *Manager) *Connection {
	c := &Connection{
		manager: m,
		logger:  m.logger,
	}
	c.reset()
	return c
}

func (c *Connection) reset() {
	c.state = StateNew
	c.transaction = nil
	c.written = make(map[string]struct{})
	c.deleted = make(map[string]struct{})
	c.movedSources = make(map[string]struct{})
	c.movedTargets = make(map[string]struct{})
	c.copiedTargets = make(map[string]struct{})
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransactionID returns the id of the current transaction, or uuid.Nil.
func (c *Connection) TransactionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transaction == nil {
		return uuid.Nil
	}
	return c.transaction.ID
}

// IsTwoPhaseCommit reports whether the transaction is prepared, so a commit
// resumes it rather than running it in one phase.
func (c *Connection) IsTwoPhaseCommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePrepare
}

// Recover lists the transactions waiting for a commit or rollback, and those
// whose commit was journaled but not finished.
func (c *Connection) Recover() []uuid.UUID {
	return c.manager.recovered.IDs()
}

// Begin starts transaction id. A transaction that is already prepared, in
// the registry or on disk, is resumed in the Prepare state, or in Commit when
// its commit decision was journaled.
func (c *Connection) Begin(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateBegin || c.state == StateCommit {
		return coreerrors.New(coreerrors.CodeTransactionReuse, id, c.state)
	}
	c.reset()

	if t, ok := c.manager.recovered.Get(id); ok {
		c.transaction = t
		c.state = resumedState(t)
		c.logger.Debug("resumed recovered transaction", "tx", id, "state", c.state)
		return nil
	}

	t := newTransaction(id, c.manager.walRoot, c.manager.storageRoot)
	if hasLog(t.Dir(), PreparedLog) || hasLog(t.Dir(), CommittedLog) {
		restored, err := c.manager.restore(t.Dir(), id)
		if err != nil {
			return err
		}
		c.transaction = restored
		c.state = resumedState(restored)
		c.logger.Debug("resumed transaction from log", "tx", id, "state", c.state)
		return nil
	}

	if err := fsio.CreateDirectories(t.Dir()); err != nil {
		return coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Begin", t.Dir())
	}
	c.transaction = t
	c.state = StateBegin
	return nil
}

func resumedState(t *Transaction) State {
	if hasLog(t.Dir(), CommittedLog) {
		return StateCommit
	}
	return StatePrepare
}

// Prepare journals the transaction and moves it to Prepare. It reports false,
// without error, when the transaction is not in Begin.
func (c *Connection) Prepare() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBegin {
		return false, nil
	}
	if err := writeLog(c.transaction, PreparedLog); err != nil {
		return false, coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Prepare", c.transaction.Dir())
	}
	c.state = StatePrepare
	c.manager.recovered.Add(c.transaction)
	c.logger.Debug("prepared transaction", "tx", c.transaction.ID, "operations", len(c.transaction.Operations))
	return true, nil
}

// Commit journals the commit decision and applies every operation in order.
// Once the decision is journaled the transaction can no longer be rolled
// back: a failure while applying leaves it in Commit, and calling Commit
// again, on this connection or on another one that Begins the same id,
// resumes where it stopped.
func (c *Connection) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateBegin, StatePrepare:
		if err := writeLog(c.transaction, CommittedLog); err != nil {
			return coreerrors.Wrap(coreerrors.CodeIOFailure, err, "Commit", c.transaction.Dir())
		}
		c.state = StateCommit
		c.manager.recovered.Add(c.transaction)
	case StateCommit:
		c.logger.Info("resuming commit", "tx", c.transaction.ID)
	default:
		return coreerrors.New(coreerrors.CodeOperationNotAddedDueToState, "Commit", c.state, StateBegin)
	}

	if err := c.manager.apply(c.transaction); err != nil {
		c.logger.Error("commit not finished, retry the commit", "tx", c.transaction.ID, "error", err)
		return err
	}
	c.manager.finish(c.transaction)
	c.state = StateExecuted
	c.logger.Debug("committed transaction", "tx", c.transaction.ID)
	return nil
}

// Rollback discards a transaction in Begin or Prepare. The storage root was
// never touched, so only the log directory and the locks are released.
func (c *Connection) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBegin && c.state != StatePrepare {
		return coreerrors.New(coreerrors.CodeOperationNotAddedDueToState, "Rollback", c.state, StateBegin)
	}
	c.manager.finish(c.transaction)
	c.state = StateRollback
	c.logger.Debug("rolled back transaction", "tx", c.transaction.ID)
	return nil
}

func (c *Connection) Write(path string, offset int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := ValidatePath(KindWrite, path)
	if err != nil {
		return err
	}
	if offset < 0 {
		return coreerrors.New(coreerrors.CodeInvalidArgument, string(KindWrite), source, fmt.Sprintf("offset %d", offset))
	}
	op := &WriteOperation{ID: c.ownerID(), Source: source, Offset: offset, Data: data}
	if err := c.add(op, source, ""); err != nil {
		return err
	}
	c.written[source] = struct{}{}
	return nil
}

func (c *Connection) Create(path string, directory bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := ValidatePath(KindCreate, path)
	if err != nil {
		return err
	}
	op := &CreateOperation{ID: c.ownerID(), Source: source, Directory: directory}
	if err := c.add(op, source, ""); err != nil {
		return err
	}
	c.written[source] = struct{}{}
	return nil
}

func (c *Connection) Delete(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateMutable(KindDelete, path)
	if err != nil {
		return err
	}
	op := &DeleteOperation{ID: c.ownerID(), Source: source}
	if err := c.add(op, source, ""); err != nil {
		return err
	}
	c.deleted[source] = struct{}{}
	return nil
}

func (c *Connection) Copy(sourcePath, targetPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := ValidatePath(KindCopy, sourcePath)
	if err != nil {
		return err
	}
	target, err := c.validateMutable(KindCopy, targetPath)
	if err != nil {
		return err
	}
	op := &CopyOperation{ID: c.ownerID(), Source: source, Target: target}
	if err := c.add(op, source, target); err != nil {
		return err
	}
	c.copiedTargets[target] = struct{}{}
	return nil
}

func (c *Connection) Move(sourcePath, targetPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateMutable(KindMove, sourcePath)
	if err != nil {
		return err
	}
	target, err := c.validateMutable(KindMove, targetPath)
	if err != nil {
		return err
	}
	op := &MoveOperation{ID: c.ownerID(), Source: source, Target: target}
	if err := c.add(op, source, target); err != nil {
		return err
	}
	c.movedSources[source] = struct{}{}
	c.movedTargets[target] = struct{}{}
	return nil
}

// validateMutable rejects the storage root itself, which can't be deleted,
// moved or replaced.
func (c *Connection) validateMutable(kind Kind, path string) (string, error) {
	clean, err := ValidatePath(kind, path)
	if err != nil {
		return "", err
	}
	if clean == fsio.Root {
		return "", coreerrors.New(coreerrors.CodePathInvalid, string(kind), path)
	}
	return clean, nil
}

// add runs the prepare protocol of a modifying operation and appends it to
// the transaction. Nothing is recorded when it fails.
func (c *Connection) add(op ModifyingOperation, source, target string) error {
	if c.state != StateBegin {
		return coreerrors.New(coreerrors.CodeOperationNotAddedDueToState, string(op.Kind()), c.state, StateBegin)
	}
	if err := c.checkOrdering(op.Kind(), source, target); err != nil {
		return err
	}

	locks := op.Locks()
	if !c.manager.locks.Add(locks) {
		return coreerrors.New(coreerrors.CodePathBusy, string(op.Kind()), busyPath(source, target))
	}
	if err := op.prepare(c.manager.environment(c.transaction)); err != nil {
		c.manager.locks.Remove(locks)
		return err
	}

	c.transaction.Operations = append(c.transaction.Operations, op)
	c.logger.Debug("operation added", "tx", c.transaction.ID, "op", op.Kind(), "path", source)
	return nil
}

func busyPath(source, target string) string {
	if target == "" {
		return source
	}
	return source + " -> " + target
}

// checkOrdering rejects paths that overlap a path deleted or moved earlier
// in the transaction. Only the source is checked against earlier copy
// targets.
func (c *Connection) checkOrdering(kind Kind, source, target string) error {
	for _, p := range []string{source, target} {
		if p == "" {
			continue
		}
		if overlaps(p, c.deleted) {
			return coreerrors.New(coreerrors.CodePathCantBeOperatedAfterDeleted, string(kind), p)
		}
		if overlaps(p, c.movedSources) || overlaps(p, c.movedTargets) {
			return coreerrors.New(coreerrors.CodePathCantBeOperatedAfterMoved, string(kind), p)
		}
	}
	if overlaps(source, c.copiedTargets) {
		return coreerrors.New(coreerrors.CodePathCantBeOperatedAfterCopied, string(kind), source)
	}
	return nil
}

// overlaps reports whether path equals, contains or lies under a member of paths.
func overlaps(path string, paths map[string]struct{}) bool {
	for p := range paths {
		if p == path || lock.IsDescendant(path, p) || lock.IsDescendant(p, path) {
			return true
		}
	}
	return false
}

// checkWritten rejects reading a path whose ancestor or itself was written in
// the open transaction.
func (c *Connection) checkWritten(kind Kind, path string) error {
	for _, sub := range lock.ParentSubPaths(path) {
		if _, ok := c.written[sub]; ok {
			return coreerrors.New(coreerrors.CodePathCantBeReadAfterWritten, string(kind), path)
		}
	}
	return nil
}

// ownerID is the lock owner for operations issued on this connection. Reads
// outside a transaction get a one-off owner.
func (c *Connection) ownerID() uuid.UUID {
	if c.transaction == nil {
		return uuid.New()
	}
	return c.transaction.ID
}

// withLocks holds the locks of a non-modifying operation while fn runs.
func (c *Connection) withLocks(op Operation, path string, fn func() error) error {
	locks := op.Locks()
	if len(locks) > 0 {
		if !c.manager.locks.Add(locks) {
			return coreerrors.New(coreerrors.CodePathBusy, string(op.Kind()), path)
		}
		defer c.manager.locks.Remove(locks)
	}
	return fn()
}

// validateQuery runs the checks shared by every non-modifying operation.
func (c *Connection) validateQuery(kind Kind, path string) (string, error) {
	source, err := ValidatePath(kind, path)
	if err != nil {
		return "", err
	}
	if err := c.checkOrdering(kind, source, ""); err != nil {
		return "", err
	}
	if err := c.checkWritten(kind, source); err != nil {
		return "", err
	}
	return source, nil
}

// List returns the entries of a directory, or the entry itself for a file.
// Only directories are listed under a lock.
func (c *Connection) List(path string, recursive bool) ([]File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateQuery(KindList, path)
	if err != nil {
		return nil, err
	}
	env := c.manager.environment(c.transaction)
	file, ok, err := fileEntry(env, KindList, source)
	if err != nil {
		return nil, err
	}
	if ok {
		return []File{file}, nil
	}
	op := &ListOperation{ID: c.ownerID(), Source: source, Recursive: recursive}

	var files []File
	err = c.withLocks(op, source, func() error {
		files, err = listFiles(env, op)
		return err
	})
	return files, err
}

// Read returns limit bytes of a file starting at offset, as committed before
// the open transaction.
func (c *Connection) Read(path string, offset int64, limit int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateQuery(KindRead, path)
	if err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, coreerrors.New(coreerrors.CodeInvalidArgument, string(KindRead), source, fmt.Sprintf("offset %d limit %d", offset, limit))
	}
	op := &ReadOperation{ID: c.ownerID(), Source: source, Offset: offset, Limit: limit}

	var data []byte
	err = c.withLocks(op, source, func() error {
		data, err = readBytes(c.manager.environment(c.transaction), op)
		return err
	})
	return data, err
}

// Free reports the capacity of the volume holding path, or its nearest
// existing ancestor.
func (c *Connection) Free(path string) (FreeSpace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateQuery(KindFree, path)
	if err != nil {
		return FreeSpace{}, err
	}
	return freeSpace(c.manager.environment(c.transaction), &FreeOperation{ID: c.ownerID(), Source: source})
}

// Hash returns the MD5 digest of a file.
func (c *Connection) Hash(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateQuery(KindHash, path)
	if err != nil {
		return "", err
	}
	op := &HashOperation{ID: c.ownerID(), Source: source}

	var sum string
	err = c.withLocks(op, source, func() error {
		sum, err = hashFile(c.manager.environment(c.transaction), op)
		return err
	})
	return sum, err
}

// Preview returns a JPEG preview of an image file, or no bytes for files
// without previews.
func (c *Connection) Preview(path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, err := c.validateQuery(KindPreview, path)
	if err != nil {
		return nil, err
	}
	op := &PreviewOperation{ID: c.ownerID(), Source: source}

	var data []byte
	err = c.withLocks(op, source, func() error {
		data, err = previewFile(c.manager.environment(c.transaction), op)
		return err
	})
	return data, err
}
