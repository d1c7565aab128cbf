package transaction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	coreerrors "github.com/adalundhe/afs/core/errors"
	"github.com/adalundhe/afs/core/fsio"
	"github.com/google/uuid"
)

// LogVersion is the newest log format this package writes and reads.
// Older versions stay readable.
const LogVersion = 1

const (
	PreparedLog  = "transaction-prepared.json"
	CommittedLog = "transaction-committed.json"

	progressPrefix = "operation-"
	progressSuffix = ".done"
)

type logDocument struct {
	Version           int               `json:"version"`
	UUID              uuid.UUID         `json:"uuid"`
	WriteAheadLogRoot string            `json:"writeAheadLogRoot"`
	StorageRoot       string            `json:"storageRoot"`
	Operations        []operationRecord `json:"operations"`
}

type operationRecord struct {
	Name          Kind      `json:"name"`
	TransactionID uuid.UUID `json:"transactionId"`
	Source        string    `json:"source"`
	Target        string    `json:"target,omitempty"`
	TempSource    string    `json:"tempSource,omitempty"`
	Offset        int64     `json:"offset,omitempty"`
	Directory     bool      `json:"directory,omitempty"`
}

func encodeTransaction(t *Transaction) ([]byte, error) {
	doc := logDocument{
		Version:           LogVersion,
		UUID:              t.ID,
		WriteAheadLogRoot: t.WriteAheadLogRoot,
		StorageRoot:       t.StorageRoot,
		Operations:        make([]operationRecord, 0, len(t.Operations)),
	}
	for _, op := range t.Operations {
		rec, err := toRecord(op)
		if err != nil {
			return nil, err
		}
		doc.Operations = append(doc.Operations, rec)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func toRecord(op ModifyingOperation) (operationRecord, error) {
	rec := operationRecord{Name: op.Kind(), TransactionID: op.TransactionID()}
	switch o := op.(type) {
	case *WriteOperation:
		rec.Source, rec.TempSource, rec.Offset = o.Source, o.TempSource, o.Offset
	case *CreateOperation:
		rec.Source, rec.Directory = o.Source, o.Directory
	case *DeleteOperation:
		rec.Source = o.Source
	case *CopyOperation:
		rec.Source, rec.Target = o.Source, o.Target
	case *MoveOperation:
		rec.Source, rec.Target = o.Source, o.Target
	default:
		return rec, fmt.Errorf("operation %s can't be journaled", op.Kind())
	}
	return rec, nil
}

func decodeTransaction(name string, data []byte) (*Transaction, error) {
	var doc logDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if doc.Version < 1 || doc.Version > LogVersion {
		return nil, coreerrors.New(coreerrors.CodeUnsupportedLogVersion, name, doc.Version, LogVersion)
	}

	t := newTransaction(doc.UUID, doc.WriteAheadLogRoot, doc.StorageRoot)
	for i, rec := range doc.Operations {
		op, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s operation %d: %w", name, i, err)
		}
		t.Operations = append(t.Operations, op)
	}
	return t, nil
}

func fromRecord(rec operationRecord) (ModifyingOperation, error) {
	switch rec.Name {
	case KindWrite:
		return &WriteOperation{ID: rec.TransactionID, Source: rec.Source, TempSource: rec.TempSource, Offset: rec.Offset}, nil
	case KindCreate:
		return &CreateOperation{ID: rec.TransactionID, Source: rec.Source, Directory: rec.Directory}, nil
	case KindDelete:
		return &DeleteOperation{ID: rec.TransactionID, Source: rec.Source}, nil
	case KindCopy:
		return &CopyOperation{ID: rec.TransactionID, Source: rec.Source, Target: rec.Target}, nil
	case KindMove:
		return &MoveOperation{ID: rec.TransactionID, Source: rec.Source, Target: rec.Target}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", rec.Name)
}

// writeLog persists t under name inside its log directory. The file is
// either absent or complete.
func writeLog(t *Transaction, name string) error {
	data, err := encodeTransaction(t)
	if err != nil {
		return err
	}
	return fsio.WriteFileAtomic(filepath.Join(t.Dir(), name), data)
}

// readLog loads the log called name from dir.
func readLog(dir, name string) (*Transaction, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeTransaction(path, data)
}

func hasLog(dir, name string) bool {
	return fsio.IsRegularFile(filepath.Join(dir, name))
}

func progressPath(dir string, index int) string {
	return filepath.Join(dir, progressPrefix+strconv.Itoa(index)+progressSuffix)
}

// markApplied records that operation index reached the storage root, so a
// replay of the same log can skip it.
func markApplied(dir string, index int) error {
	return os.WriteFile(progressPath(dir, index), nil, 0644)
}

func isApplied(dir string, index int) bool {
	return fsio.Exists(progressPath(dir, index))
}
