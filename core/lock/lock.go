// Package lock arbitrates path locks between transactions.
//
// Locks are keyed by logical store paths ("/a/b"). Acquisition never blocks: a
// batch is either granted completely or refused, and the caller decides
// whether to retry.
package lock

import (
	"fmt"

	"github.com/google/uuid"
)

type LockType int

const (
	// Shared locks on the same path coexist.
	Shared LockType = iota

	// Exclusive locks a single path against every other owner.
	Exclusive

	// HierarchicallyExclusive locks a path and everything underneath it.
	HierarchicallyExclusive
)

var lockTypeNames = map[LockType]string{
	Shared:                  "Shared",
	Exclusive:               "Exclusive",
	HierarchicallyExclusive: "HierarchicallyExclusive",
}

func (t LockType) String() string {
	if name, ok := lockTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseLockType is the inverse of LockType.String.
func ParseLockType(s string) (LockType, error) {
	for t, name := range lockTypeNames {
		if name == s {
			return t, nil
		}
	}
	return Shared, fmt.Errorf("unknown lock type %q", s)
}

func (t LockType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LockType) UnmarshalText(text []byte) error {
	parsed, err := ParseLockType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type Lock struct {
	Owner    uuid.UUID `json:"owner"`
	Resource string    `json:"resource"`
	Type     LockType  `json:"type"`
}

func NewLock(owner uuid.UUID, resource string, lockType LockType) Lock {
	return Lock{Owner: owner, Resource: resource, Type: lockType}
}

func (l Lock) String() string {
	return fmt.Sprintf("%s(%s by %s)", l.Type, l.Resource, l.Owner)
}
