// Package transaction implements the transactional file system: operations
// are grouped per transaction, journaled to a write-ahead log, staged on
// prepare and applied to the storage root on commit. Conflicting access
// across transactions is serialized by path locks, and logs left behind by a
// crash are replayed or re-registered on start-up.
package transaction

import (
	"path/filepath"
	"time"

	"github.com/adalundhe/afs/core/lock"
	"github.com/google/uuid"
)

// State is the lifecycle position of a Connection.
type State int

const (
	StateNew State = iota
	StateBegin
	StatePrepare
	StateCommit
	StateExecuted
	StateRollback
)

var stateNames = map[State]string{
	StateNew:      "New",
	StateBegin:    "Begin",
	StatePrepare:  "Prepare",
	StateCommit:   "Commit",
	StateExecuted: "Executed",
	StateRollback: "Rollback",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Kind names an operation variant. The names are part of the log format.
type Kind string

const (
	KindList    Kind = "List"
	KindRead    Kind = "Read"
	KindWrite   Kind = "Write"
	KindDelete  Kind = "Delete"
	KindCopy    Kind = "Copy"
	KindMove    Kind = "Move"
	KindCreate  Kind = "Create"
	KindFree    Kind = "Free"
	KindHash    Kind = "Hash"
	KindPreview Kind = "Preview"
)

// Operation is a single step issued against the store.
type Operation interface {
	Kind() Kind
	TransactionID() uuid.UUID
	// Locks returns the locks the operation needs, owned by its transaction.
	Locks() []lock.Lock
}

// Transaction is the unit journaled to the write-ahead log. Only modifying
// operations are ever appended to it.
type Transaction struct {
	ID                uuid.UUID
	WriteAheadLogRoot string
	StorageRoot       string
	Operations        []ModifyingOperation
}

func newTransaction(id uuid.UUID, walRoot, storageRoot string) *Transaction {
	return &Transaction{
		ID:                id,
		WriteAheadLogRoot: walRoot,
		StorageRoot:       storageRoot,
	}
}

// Dir is the log directory of the transaction.
func (t *Transaction) Dir() string {
	return filepath.Join(t.WriteAheadLogRoot, t.ID.String())
}

// Locks returns the locks of every operation, one entry per acquisition.
func (t *Transaction) Locks() []lock.Lock {
	var locks []lock.Lock
	for _, op := range t.Operations {
		locks = append(locks, op.Locks()...)
	}
	return locks
}

// File describes an entry of the store.
type File struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Directory    bool      `json:"directory"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// FreeSpace is the capacity of the volume holding a path, in bytes.
type FreeSpace struct {
	Total int64 `json:"total"`
	Free  int64 `json:"free"`
}

type WriteOperation struct {
	ID     uuid.UUID
	Source string
	// TempSource is the staged payload, relative to the transaction directory.
	TempSource string
	Offset     int64
	// Data is only held in memory; it is never journaled.
	Data []byte
}

func (o *WriteOperation) Kind() Kind               { return KindWrite }
func (o *WriteOperation) TransactionID() uuid.UUID { return o.ID }
func (o *WriteOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Exclusive)}
}

type CreateOperation struct {
	ID        uuid.UUID
	Source    string
	Directory bool
}

func (o *CreateOperation) Kind() Kind               { return KindCreate }
func (o *CreateOperation) TransactionID() uuid.UUID { return o.ID }
func (o *CreateOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Exclusive)}
}

type DeleteOperation struct {
	ID     uuid.UUID
	Source string
}

func (o *DeleteOperation) Kind() Kind               { return KindDelete }
func (o *DeleteOperation) TransactionID() uuid.UUID { return o.ID }
func (o *DeleteOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.HierarchicallyExclusive)}
}

type CopyOperation struct {
	ID     uuid.UUID
	Source string
	Target string
}

func (o *CopyOperation) Kind() Kind               { return KindCopy }
func (o *CopyOperation) TransactionID() uuid.UUID { return o.ID }
func (o *CopyOperation) Locks() []lock.Lock {
	return []lock.Lock{
		lock.NewLock(o.ID, o.Source, lock.Shared),
		lock.NewLock(o.ID, o.Target, lock.HierarchicallyExclusive),
	}
}

type MoveOperation struct {
	ID     uuid.UUID
	Source string
	Target string
}

func (o *MoveOperation) Kind() Kind               { return KindMove }
func (o *MoveOperation) TransactionID() uuid.UUID { return o.ID }
func (o *MoveOperation) Locks() []lock.Lock {
	return []lock.Lock{
		lock.NewLock(o.ID, o.Source, lock.HierarchicallyExclusive),
		lock.NewLock(o.ID, o.Target, lock.HierarchicallyExclusive),
	}
}

type ListOperation struct {
	ID        uuid.UUID
	Source    string
	Recursive bool
}

func (o *ListOperation) Kind() Kind               { return KindList }
func (o *ListOperation) TransactionID() uuid.UUID { return o.ID }
func (o *ListOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Shared)}
}

type ReadOperation struct {
	ID     uuid.UUID
	Source string
	Offset int64
	Limit  int
}

func (o *ReadOperation) Kind() Kind               { return KindRead }
func (o *ReadOperation) TransactionID() uuid.UUID { return o.ID }
func (o *ReadOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Shared)}
}

// FreeOperation only inspects the volume and takes no locks.
type FreeOperation struct {
	ID     uuid.UUID
	Source string
}

func (o *FreeOperation) Kind() Kind               { return KindFree }
func (o *FreeOperation) TransactionID() uuid.UUID { return o.ID }
func (o *FreeOperation) Locks() []lock.Lock        { return nil }

type HashOperation struct {
	ID     uuid.UUID
	Source string
}

func (o *HashOperation) Kind() Kind               { return KindHash }
func (o *HashOperation) TransactionID() uuid.UUID { return o.ID }
func (o *HashOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Shared)}
}

type PreviewOperation struct {
	ID     uuid.UUID
	Source string
}

func (o *PreviewOperation) Kind() Kind               { return KindPreview }
func (o *PreviewOperation) TransactionID() uuid.UUID { return o.ID }
func (o *PreviewOperation) Locks() []lock.Lock {
	return []lock.Lock{lock.NewLock(o.ID, o.Source, lock.Shared)}
}
