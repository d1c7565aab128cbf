package transaction_test

import (
	"sort"
	"testing"

	"github.com/adalundhe/afs/core/transaction"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRecoveredTransactions(t *testing.T) {
	r := transaction.NewRecoveredTransactions()
	a := &transaction.Transaction{ID: uuid.New()}
	b := &transaction.Transaction{ID: uuid.New()}

	assert.True(t, r.Add(a))
	assert.False(t, r.Add(&transaction.Transaction{ID: a.ID}))
	assert.True(t, r.Add(b))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(a.ID)
	assert.True(t, ok)
	assert.Same(t, a, got)

	ids := r.IDs()
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	}))
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)

	r.Remove(a.ID)
	assert.False(t, r.Contains(a.ID))
	assert.True(t, r.Contains(b.ID))
	r.Remove(a.ID)
	assert.Equal(t, 1, r.Len())
}
