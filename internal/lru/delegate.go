package lru

import (
	"context"

	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
)

// ActiveTargets is the set of target IDs currently in use by the sync
// layer. Active targets survive collection regardless of their stamps.
type ActiveTargets map[store.TargetID]struct{}

// Contains reports whether id is in the set. A nil set contains nothing.
func (a ActiveTargets) Contains(id store.TargetID) bool {
	_, ok := a[id]
	return ok
}

// Delegate is the persistence surface a collection pass runs against.
// Both store implementations provide it.
//
// Every method operates inside the transaction identified by txn and must
// observe writes made earlier in the same transaction: once RemoveTargets
// drops the last target referencing a document, that document counts as
// orphaned for a RemoveOrphanedDocuments call later in the same
// transaction.
type Delegate interface {
	// ForEachTarget calls visit for every target in the cache.
	// An error from visit aborts the enumeration and is returned as-is.
	ForEachTarget(ctx context.Context, txn store.Txn, visit func(store.Target) error) error

	// SequenceNumberCount returns the number of tracked sequence numbers:
	// one per target plus one per orphaned document. Ties contribute their
	// full multiplicity.
	SequenceNumberCount(ctx context.Context, txn store.Txn) (int64, error)

	// ForEachOrphanedDocumentSequenceNumber calls visit with the
	// last-touch stamp of every document no target references, once per
	// document.
	ForEachOrphanedDocumentSequenceNumber(ctx context.Context, txn store.Txn, visit func(sequence.Number) error) error

	// RemoveTargets removes every target whose stamp is at or below
	// upperBound and whose ID is not in activeTargets. Returns the number
	// of targets removed.
	RemoveTargets(ctx context.Context, txn store.Txn, upperBound sequence.Number, activeTargets ActiveTargets) (int64, error)

	// RemoveOrphanedDocuments removes every orphaned document whose stamp
	// is at or below upperBound, along with its last-touch bookkeeping.
	// Returns the number of documents removed.
	RemoveOrphanedDocuments(ctx context.Context, txn store.Txn, upperBound sequence.Number) (int64, error)

	// CacheSize returns the size of the cache in bytes.
	CacheSize(ctx context.Context, txn store.Txn) (int64, error)
}
