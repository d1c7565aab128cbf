package transaction_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/sidecar"
	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type roots struct {
	wal   string
	store string
}

func newRoots(t *testing.T) roots {
	t.Helper()
	dir := t.TempDir()
	return roots{
		wal:   filepath.Join(dir, "wal"),
		store: filepath.Join(dir, "store"),
	}
}

func openManager(t *testing.T, r roots) *transaction.Manager {
	t.Helper()
	m, err := transaction.NewManager(transaction.Options{
		WriteAheadLogRoot: r.wal,
		StorageRoot:       r.store,
		Replay:            coreerrors.NoRetryPolicy(),
		Preview: sidecar.PreviewOptions{
			Patterns:     []string{"*.png", "*.jpg"},
			MaxSizeBytes: 10 << 20,
			MaxDimension: 64,
			Quality:      50,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newManager(t *testing.T) (*transaction.Manager, roots) {
	t.Helper()
	r := newRoots(t)
	return openManager(t, r), r
}

func begin(t *testing.T, m *transaction.Manager) (*transaction.Connection, uuid.UUID) {
	t.Helper()
	conn := m.NewConnection()
	id := uuid.New()
	require.NoError(t, conn.Begin(id))
	return conn, id
}

func putFile(t *testing.T, r roots, path, content string) {
	t.Helper()
	full := filepath.Join(r.store, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func readStore(t *testing.T, r roots, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.store, filepath.FromSlash(path)))
	require.NoError(t, err)
	return string(data)
}

func inStore(r roots, path string) bool {
	_, err := os.Lstat(filepath.Join(r.store, filepath.FromSlash(path)))
	return err == nil
}

func txDir(r roots, id uuid.UUID) string {
	return filepath.Join(r.wal, id.String())
}

// markCommitted leaves the log of a prepared transaction as if the process
// died right after journaling the commit decision.
func markCommitted(t *testing.T, r roots, id uuid.UUID) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(txDir(r, id), transaction.PreparedLog))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(txDir(r, id), transaction.CommittedLog), data, 0644))
}
