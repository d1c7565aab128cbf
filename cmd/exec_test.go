package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*session, *transaction.Manager, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := transaction.NewManager(transaction.Options{
		WriteAheadLogRoot: filepath.Join(dir, "wal"),
		StorageRoot:       store,
		Logger:            logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	pool, err := transaction.NewConnectionPool(m, transaction.PoolOptions{IdleTimeout: time.Minute, MaxIdle: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	var out bytes.Buffer
	return newSession(pool, &out, logger), m, &out, store
}

func TestSession_InterleavedTransactions(t *testing.T) {
	s, m, out, store := newTestSession(t)

	script := `
# two transactions side by side
t1 mkdir /docs
t1 write /docs/a.txt 0 hello   world
t2 touch /other
t1 commit
t2 prepare
t3 cat /docs/a.txt
t3 ls /docs
t3 rollback
`
	require.NoError(t, s.run(strings.NewReader(script), false))

	assert.Contains(t, out.String(), "hello world\n")
	assert.Contains(t, out.String(), "/docs/a.txt")
	data, err := os.ReadFile(filepath.Join(store, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.Equal(t, 1, m.Recovered().Len())
	assert.NoFileExists(t, filepath.Join(store, "other"))
}

func TestSession_StopsAtFirstFailure(t *testing.T) {
	s, _, _, store := newTestSession(t)

	err := s.run(strings.NewReader("t1 rm /missing\nt1 touch /never\nt1 commit\n"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrPathNotInStore)
	assert.Contains(t, err.Error(), "line 1")
	assert.NoFileExists(t, filepath.Join(store, "never"))
}

func TestSession_KeepGoing(t *testing.T) {
	s, _, _, store := newTestSession(t)

	err := s.run(strings.NewReader("t1 explode\nt1 write /f\nt1 touch /made\nt1 commit\n"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 instructions failed")
	assert.FileExists(t, filepath.Join(store, "made"))
}

func TestSession_LabelsAreFreshAfterCommit(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	require.NoError(t, s.execute([]string{"t1", "touch", "/a"}))
	first := s.transactionID("t1")
	require.NoError(t, s.execute([]string{"t1", "commit"}))

	assert.NotEqual(t, first, s.transactionID("t1"))
	id := first.String()
	assert.Equal(t, first, s.transactionID(id))
}
