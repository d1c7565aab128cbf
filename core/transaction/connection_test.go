package transaction_test

import (
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/lock"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_WriteIsInvisibleUntilCommit(t *testing.T) {
	m, r := newManager(t)
	conn, id := begin(t, m)

	require.NoError(t, conn.Write("/data/f1", 0, []byte("hello")))
	assert.False(t, inStore(r, "/data/f1"))

	ok, err := conn.Prepare()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, inStore(r, "/data/f1"))
	assert.FileExists(t, txDir(r, id)+"/"+transaction.PreparedLog)

	require.NoError(t, conn.Commit())
	assert.Equal(t, "hello", readStore(t, r, "/data/f1"))
	assert.Equal(t, transaction.StateExecuted, conn.State())
	assert.NoDirExists(t, txDir(r, id))
	assert.Empty(t, m.Locks())
	assert.Equal(t, 0, m.Recovered().Len())
}

func TestConnection_OnePhaseCommit(t *testing.T) {
	m, r := newManager(t)
	conn, _ := begin(t, m)

	require.NoError(t, conn.Create("/docs", true))
	require.NoError(t, conn.Create("/docs/empty.txt", false))
	require.NoError(t, conn.Write("/docs/a.txt", 0, []byte("abc")))
	require.NoError(t, conn.Commit())

	assert.DirExists(t, r.store+"/docs")
	assert.Equal(t, "", readStore(t, r, "/docs/empty.txt"))
	assert.Equal(t, "abc", readStore(t, r, "/docs/a.txt"))
}

func TestConnection_WriteAtOffset(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/f", "hello world")

	conn, _ := begin(t, m)
	require.NoError(t, conn.Write("/f", 6, []byte("there")))
	require.NoError(t, conn.Commit())

	assert.Equal(t, "hello there", readStore(t, r, "/f"))
}

func TestConnection_RollbackDiscardsEverything(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/keep", "x")
	conn, id := begin(t, m)

	require.NoError(t, conn.Write("/new", 0, []byte("data")))
	require.NoError(t, conn.Delete("/keep"))
	_, err := conn.Prepare()
	require.NoError(t, err)

	require.NoError(t, conn.Rollback())
	assert.Equal(t, transaction.StateRollback, conn.State())
	assert.False(t, inStore(r, "/new"))
	assert.Equal(t, "x", readStore(t, r, "/keep"))
	assert.NoDirExists(t, txDir(r, id))
	assert.Empty(t, m.Locks())
	assert.Empty(t, conn.Recover())
}

func TestConnection_StateRules(t *testing.T) {
	m, _ := newManager(t)
	conn := m.NewConnection()
	assert.Equal(t, transaction.StateNew, conn.State())
	assert.Equal(t, uuid.Nil, conn.TransactionID())

	err := conn.Write("/f", 0, []byte("x"))
	assert.ErrorIs(t, err, coreerrors.ErrOperationNotAddedDueToState)

	ok, err := conn.Prepare()
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, conn.Commit(), coreerrors.ErrOperationNotAddedDueToState)
	assert.ErrorIs(t, conn.Rollback(), coreerrors.ErrOperationNotAddedDueToState)

	id := uuid.New()
	require.NoError(t, conn.Begin(id))
	assert.Equal(t, id, conn.TransactionID())
	assert.ErrorIs(t, conn.Begin(uuid.New()), coreerrors.ErrTransactionReuse)

	require.NoError(t, conn.Write("/f", 0, []byte("x")))
	_, err = conn.Prepare()
	require.NoError(t, err)
	assert.True(t, conn.IsTwoPhaseCommit())
	assert.ErrorIs(t, conn.Write("/g", 0, []byte("y")), coreerrors.ErrOperationNotAddedDueToState)

	require.NoError(t, conn.Commit())
	assert.ErrorIs(t, conn.Rollback(), coreerrors.ErrOperationNotAddedDueToState)

	require.NoError(t, conn.Begin(uuid.New()))
	assert.Equal(t, transaction.StateBegin, conn.State())
}

func TestConnection_ConflictingTransactionIsBusy(t *testing.T) {
	m, r := newManager(t)
	a, _ := begin(t, m)
	b, _ := begin(t, m)

	require.NoError(t, a.Write("/data/f1", 0, []byte("one")))

	assert.ErrorIs(t, b.Delete("/data/f1"), coreerrors.ErrPathBusy)
	assert.ErrorIs(t, b.Delete("/data"), coreerrors.ErrPathBusy)
	_, err := b.Read("/data/f1", 0, 1)
	assert.ErrorIs(t, err, coreerrors.ErrPathBusy)

	require.NoError(t, a.Commit())

	require.NoError(t, b.Delete("/data/f1"))
	require.NoError(t, b.Commit())
	assert.False(t, inStore(r, "/data/f1"))
}

func TestConnection_QueriesSeeCommittedState(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/data/f1", "before")

	writer, _ := begin(t, m)
	require.NoError(t, writer.Write("/data/f2", 0, []byte("pending")))

	reader := m.NewConnection()
	files, err := reader.List("/data", false)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/data/f1", files[0].Path)

	data, err := reader.Read("/data/f1", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))
}

func TestConnection_FailedPrepareReleasesLocks(t *testing.T) {
	m, _ := newManager(t)
	conn, _ := begin(t, m)

	assert.ErrorIs(t, conn.Delete("/missing"), coreerrors.ErrPathNotInStore)
	assert.Empty(t, m.Locks())

	require.NoError(t, conn.Commit())
}

func TestConnection_PrepareChecks(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/a/f", "x")
	putFile(t, r, "/b", "y")

	tests := []struct {
		name    string
		run     func(c *transaction.Connection) error
		wantErr error
	}{
		{"write negative offset", func(c *transaction.Connection) error { return c.Write("/f", -1, nil) }, coreerrors.ErrInvalidArgument},
		{"write directory", func(c *transaction.Connection) error { return c.Write("/a", 0, []byte("x")) }, coreerrors.ErrPathIsDirectory},
		{"create existing", func(c *transaction.Connection) error { return c.Create("/b", false) }, coreerrors.ErrPathInStore},
		{"delete missing", func(c *transaction.Connection) error { return c.Delete("/nope") }, coreerrors.ErrPathNotInStore},
		{"delete root", func(c *transaction.Connection) error { return c.Delete("/") }, coreerrors.ErrPathInvalid},
		{"copy missing source", func(c *transaction.Connection) error { return c.Copy("/nope", "/c") }, coreerrors.ErrPathNotInStore},
		{"copy onto existing", func(c *transaction.Connection) error { return c.Copy("/a", "/b") }, coreerrors.ErrPathInStore},
		{"copy into itself", func(c *transaction.Connection) error { return c.Copy("/a", "/a/sub") }, coreerrors.ErrPathInvalid},
		{"copy onto root", func(c *transaction.Connection) error { return c.Copy("/a", "/") }, coreerrors.ErrPathInvalid},
		{"move root", func(c *transaction.Connection) error { return c.Move("/", "/c") }, coreerrors.ErrPathInvalid},
		{"move into itself", func(c *transaction.Connection) error { return c.Move("/a", "/a/sub") }, coreerrors.ErrPathInvalid},
		{"relative path", func(c *transaction.Connection) error { return c.Delete("/a/../b") }, coreerrors.ErrPathInStoreCantBeRelative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := begin(t, m)
			defer func() { _ = conn.Rollback() }()

			assert.ErrorIs(t, tt.run(conn), tt.wantErr)
			assert.Empty(t, m.Locks())
		})
	}
}

func TestConnection_OrderingWithinTransaction(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/a/f", "x")
	putFile(t, r, "/src/f", "y")
	putFile(t, r, "/docs/readme", "z")

	conn, _ := begin(t, m)

	require.NoError(t, conn.Delete("/a"))
	assert.ErrorIs(t, conn.Create("/a/b", false), coreerrors.ErrPathCantBeOperatedAfterDeleted)
	assert.ErrorIs(t, conn.Delete("/a/f"), coreerrors.ErrPathCantBeOperatedAfterDeleted)

	require.NoError(t, conn.Move("/src", "/dst"))
	assert.ErrorIs(t, conn.Write("/dst/g", 0, []byte("x")), coreerrors.ErrPathCantBeOperatedAfterMoved)
	assert.ErrorIs(t, conn.Write("/src/h", 0, []byte("x")), coreerrors.ErrPathCantBeOperatedAfterMoved)

	require.NoError(t, conn.Write("/docs/readme", 0, []byte("Z")))
	_, err := conn.Read("/docs/readme", 0, 1)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeReadAfterWritten)
	_, err = conn.Hash("/docs/readme")
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeReadAfterWritten)

	require.NoError(t, conn.Create("/made", true))
	_, err = conn.List("/made/inner", false)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeReadAfterWritten)

	_, err = conn.Read("/a/f", 0, 1)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterDeleted)
	_, err = conn.List("/a", false)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterDeleted)
	_, err = conn.Free("/a/f")
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterDeleted)
	_, err = conn.List("/dst", true)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterMoved)
	_, err = conn.Hash("/src/f")
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterMoved)
}

// A copy target blocks later operations that use it as a source, but not
// later operations that only write into it.
func TestConnection_CopyTargetOrdering(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/a/f", "x")
	putFile(t, r, "/c", "y")

	conn, _ := begin(t, m)
	require.NoError(t, conn.Copy("/a", "/b"))

	assert.ErrorIs(t, conn.Write("/b/x", 0, []byte("x")), coreerrors.ErrPathCantBeOperatedAfterCopied)
	assert.ErrorIs(t, conn.Delete("/b"), coreerrors.ErrPathCantBeOperatedAfterCopied)
	require.NoError(t, conn.Copy("/c", "/b/y"))
	_, err := conn.Read("/b/f", 0, 1)
	assert.ErrorIs(t, err, coreerrors.ErrPathCantBeOperatedAfterCopied)
	_, err = conn.Read("/a/f", 0, 1)
	assert.NoError(t, err)

	require.NoError(t, conn.Commit())
	assert.Equal(t, "x", readStore(t, r, "/a/f"))
	assert.Equal(t, "x", readStore(t, r, "/b/f"))
	assert.Equal(t, "y", readStore(t, r, "/b/y"))
}

func TestConnection_CommitRetriedOnAnotherConnection(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/x", "file")

	conn, id := begin(t, m)
	require.NoError(t, conn.Create("/x/y", false))
	assert.ErrorIs(t, conn.Commit(), coreerrors.ErrIOFailure)
	assert.Equal(t, transaction.StateCommit, conn.State())
	assert.True(t, m.Recovered().Contains(id))

	require.NoError(t, os.Remove(filepath.Join(r.store, "x")))

	retry := m.NewConnection()
	require.NoError(t, retry.Begin(id))
	assert.Equal(t, transaction.StateCommit, retry.State())
	assert.ErrorIs(t, retry.Rollback(), coreerrors.ErrOperationNotAddedDueToState)
	require.NoError(t, retry.Commit())
	assert.Equal(t, transaction.StateExecuted, retry.State())

	assert.True(t, inStore(r, "/x/y"))
	assert.Empty(t, m.Locks())
	assert.Equal(t, 0, m.Recovered().Len())

	other, _ := begin(t, m)
	require.NoError(t, other.Write("/x/y", 0, []byte("next")))
	require.NoError(t, other.Commit())
	assert.Equal(t, "next", readStore(t, r, "/x/y"))
}

func TestConnection_CreateAndDeleteCommit(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/old/f", "x")

	conn, _ := begin(t, m)
	require.NoError(t, conn.Create("/a/b/c", true))
	require.NoError(t, conn.Delete("/old"))
	require.NoError(t, conn.Commit())

	assert.DirExists(t, filepath.Join(r.store, "a", "b", "c"))
	assert.False(t, inStore(r, "/old"))
}

func TestConnection_MoveCommit(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/src/a.txt", "moved")

	conn, _ := begin(t, m)
	require.NoError(t, conn.Move("/src", "/archive/dst"))
	require.NoError(t, conn.Commit())

	assert.False(t, inStore(r, "/src"))
	assert.Equal(t, "moved", readStore(t, r, "/archive/dst/a.txt"))
}

func TestConnection_LocksPerOperation(t *testing.T) {
	m, r := newManager(t)
	putFile(t, r, "/a", "x")
	putFile(t, r, "/m", "y")
	conn, id := begin(t, m)

	require.NoError(t, conn.Copy("/a", "/b"))
	require.NoError(t, conn.Move("/m", "/n"))
	require.NoError(t, conn.Create("/c", false))

	assert.Equal(t, []lock.Lock{
		lock.NewLock(id, "/a", lock.Shared),
		lock.NewLock(id, "/b", lock.HierarchicallyExclusive),
		lock.NewLock(id, "/c", lock.Exclusive),
		lock.NewLock(id, "/m", lock.HierarchicallyExclusive),
		lock.NewLock(id, "/n", lock.HierarchicallyExclusive),
	}, m.Locks())

	require.NoError(t, conn.Rollback())
	assert.Empty(t, m.Locks())
}

func TestManager_ExternalLocks(t *testing.T) {
	m, _ := newManager(t)
	owner := uuid.New()
	held := []lock.Lock{lock.NewLock(owner, "/shared", lock.HierarchicallyExclusive)}

	require.True(t, m.Lock(held))
	conn, _ := begin(t, m)
	assert.ErrorIs(t, conn.Write("/shared/f", 0, []byte("x")), coreerrors.ErrPathBusy)

	require.True(t, m.Unlock(held))
	assert.NoError(t, conn.Write("/shared/f", 0, []byte("x")))
	assert.False(t, m.Unlock(held))
}

func TestNewManager_RejectsUnusableRoot(t *testing.T) {
	dir := t.TempDir()
	file := dir + "/file"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := transaction.NewManager(transaction.Options{
		WriteAheadLogRoot: dir + "/wal",
		StorageRoot:       file,
	})
	assert.ErrorIs(t, err, coreerrors.ErrFileSystemNotSupported)

	_, err = transaction.NewManager(transaction.Options{StorageRoot: dir + "/store"})
	assert.ErrorIs(t, err, coreerrors.ErrFileSystemNotSupported)
}
