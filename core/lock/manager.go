package lock

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

type holder struct {
	owner uuid.UUID
	count int
}

// Manager is the lock table shared by every connection of a store. It is safe
// for concurrent use.
//
// A lock is granted unless another owner holds a conflicting one:
//   - a HierarchicallyExclusive lock on any ancestor conflicts with everything below it;
//   - an Exclusive or HierarchicallyExclusive lock on the path conflicts with any lock on it;
//   - a Shared lock on the path conflicts with Exclusive and HierarchicallyExclusive requests;
//   - a HierarchicallyExclusive request also conflicts with any lock held below the path.
//
// Locks are counted, so an owner may take the same lock several times and
// releases it once per acquisition.
type Manager struct {
	mu           sync.Mutex
	shared       map[string]map[uuid.UUID]int
	exclusive    map[string]*holder
	hierarchical map[string]*holder
	beneath      map[string]map[uuid.UUID]int
}

func NewManager() *Manager {
	return &Manager{
		shared:       make(map[string]map[uuid.UUID]int),
		exclusive:    make(map[string]*holder),
		hierarchical: make(map[string]*holder),
		beneath:      make(map[string]map[uuid.UUID]int),
	}
}

// Add grants every lock in locks or none of them.
func (m *Manager) Add(locks []Lock) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	granted := make([]Lock, 0, len(locks))
	for _, l := range locks {
		if !m.canAdd(l) {
			for _, g := range granted {
				m.release(g)
			}
			return false
		}
		m.grant(l)
		granted = append(granted, l)
	}
	return true
}

// Remove releases one acquisition of every lock in locks. It reports false if
// any of them was not held.
func (m *Manager) Remove(locks []Lock) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := true
	for _, l := range locks {
		if !m.release(l) {
			ok = false
		}
	}
	return ok
}

func (m *Manager) canAdd(l Lock) bool {
	subPaths := ParentSubPaths(l.Resource)
	path := subPaths[len(subPaths)-1]

	for _, ancestor := range subPaths[:len(subPaths)-1] {
		if h, ok := m.hierarchical[ancestor]; ok && h.owner != l.Owner {
			return false
		}
	}
	if h, ok := m.hierarchical[path]; ok && h.owner != l.Owner {
		return false
	}
	if h, ok := m.exclusive[path]; ok && h.owner != l.Owner {
		return false
	}
	if l.Type == Shared {
		return true
	}
	if hasOtherOwner(m.shared[path], l.Owner) {
		return false
	}
	if l.Type == HierarchicallyExclusive && hasOtherOwner(m.beneath[path], l.Owner) {
		return false
	}
	return true
}

func hasOtherOwner(owners map[uuid.UUID]int, owner uuid.UUID) bool {
	for o := range owners {
		if o != owner {
			return true
		}
	}
	return false
}

func (m *Manager) grant(l Lock) {
	subPaths := ParentSubPaths(l.Resource)
	path := subPaths[len(subPaths)-1]

	switch l.Type {
	case Shared:
		owners, ok := m.shared[path]
		if !ok {
			owners = make(map[uuid.UUID]int)
			m.shared[path] = owners
		}
		owners[l.Owner]++
	case Exclusive:
		grantHolder(m.exclusive, path, l.Owner)
	case HierarchicallyExclusive:
		grantHolder(m.hierarchical, path, l.Owner)
	}

	for _, ancestor := range subPaths[:len(subPaths)-1] {
		owners, ok := m.beneath[ancestor]
		if !ok {
			owners = make(map[uuid.UUID]int)
			m.beneath[ancestor] = owners
		}
		owners[l.Owner]++
	}
}

func grantHolder(table map[string]*holder, path string, owner uuid.UUID) {
	if h, ok := table[path]; ok {
		h.count++
		return
	}
	table[path] = &holder{owner: owner, count: 1}
}

func (m *Manager) release(l Lock) bool {
	subPaths := ParentSubPaths(l.Resource)
	path := subPaths[len(subPaths)-1]

	var held bool
	switch l.Type {
	case Shared:
		held = decrementOwner(m.shared, path, l.Owner)
	case Exclusive:
		held = releaseHolder(m.exclusive, path, l.Owner)
	case HierarchicallyExclusive:
		held = releaseHolder(m.hierarchical, path, l.Owner)
	}
	if !held {
		return false
	}

	for _, ancestor := range subPaths[:len(subPaths)-1] {
		decrementOwner(m.beneath, ancestor, l.Owner)
	}
	return true
}

func decrementOwner(table map[string]map[uuid.UUID]int, path string, owner uuid.UUID) bool {
	owners, ok := table[path]
	if !ok || owners[owner] == 0 {
		return false
	}
	owners[owner]--
	if owners[owner] == 0 {
		delete(owners, owner)
	}
	if len(owners) == 0 {
		delete(table, path)
	}
	return true
}

func releaseHolder(table map[string]*holder, path string, owner uuid.UUID) bool {
	h, ok := table[path]
	if !ok || h.owner != owner {
		return false
	}
	h.count--
	if h.count == 0 {
		delete(table, path)
	}
	return true
}

// SharedLocks returns the shared locks held per path.
func (m *Manager) SharedLocks() map[string][]Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string][]Lock, len(m.shared))
	for path, owners := range m.shared {
		for owner := range owners {
			result[path] = append(result[path], NewLock(owner, path, Shared))
		}
	}
	return result
}

// ExclusiveLocks returns the exclusive lock held per path.
func (m *Manager) ExclusiveLocks() map[string]Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotHolders(m.exclusive, Exclusive)
}

// HierarchicallyExclusiveLocks returns the hierarchically exclusive lock held per path.
func (m *Manager) HierarchicallyExclusiveLocks() map[string]Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotHolders(m.hierarchical, HierarchicallyExclusive)
}

func snapshotHolders(table map[string]*holder, lockType LockType) map[string]Lock {
	result := make(map[string]Lock, len(table))
	for path, h := range table {
		result[path] = NewLock(h.owner, path, lockType)
	}
	return result
}

// All returns one entry per distinct held lock, ordered by resource then type.
func (m *Manager) All() []Lock {
	var locks []Lock
	for _, shared := range m.SharedLocks() {
		locks = append(locks, shared...)
	}
	for _, l := range m.ExclusiveLocks() {
		locks = append(locks, l)
	}
	for _, l := range m.HierarchicallyExclusiveLocks() {
		locks = append(locks, l)
	}

	sort.Slice(locks, func(i, j int) bool {
		if locks[i].Resource != locks[j].Resource {
			return locks[i].Resource < locks[j].Resource
		}
		if locks[i].Type != locks[j].Type {
			return locks[i].Type < locks[j].Type
		}
		return locks[i].Owner.String() < locks[j].Owner.String()
	})
	return locks
}
