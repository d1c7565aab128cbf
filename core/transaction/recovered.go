package transaction

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// RecoveredTransactions tracks prepared transactions that wait for an
// external coordinator to commit or roll them back. It is safe for
// concurrent use.
type RecoveredTransactions struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Transaction
}

func NewRecoveredTransactions() *RecoveredTransactions {
	return &RecoveredTransactions{byID: make(map[uuid.UUID]*Transaction)}
}

// Add registers t unless a transaction with the same id is already known.
func (r *RecoveredTransactions) Add(t *Transaction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.ID]; ok {
		return false
	}
	r.byID[t.ID] = t
	return true
}

func (r *RecoveredTransactions) Get(id uuid.UUID) (*Transaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	return t, ok
}

func (r *RecoveredTransactions) Contains(id uuid.UUID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *RecoveredTransactions) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// IDs returns the registered transaction ids in ascending order.
func (r *RecoveredTransactions) IDs() []uuid.UUID {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (r *RecoveredTransactions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
