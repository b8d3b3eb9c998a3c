package pebbledb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"github.com/driftdb-io/driftcache/internal/lru"
	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
	"github.com/driftdb-io/driftcache/internal/store/keys"
)

// Collection delegate. A document is orphaned when its sentinel row exists
// and no reverse index row points at it.

type row struct {
	key   string
	value []byte
}

// scanRows returns all rows under prefix with copied values.
func (t *pebbleTxn) scanRows(prefix string) ([]row, error) {
	iter, err := t.batch.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(keys.PrefixUpperBound(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []row
	for iter.First(); iter.Valid(); iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out = append(out, row{key: string(iter.Key()), value: value})
	}
	return out, iter.Error()
}

func (s *Store) ForEachTarget(ctx context.Context, txn store.Txn, visit func(store.Target) error) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}

	rows, err := t.scanRows(keys.TargetsScanPrefix())
	if err != nil {
		return fmt.Errorf("pebbledb: scan targets: %w", err)
	}
	for _, r := range rows {
		var target store.Target
		if err := json.Unmarshal(r.value, &target); err != nil {
			return fmt.Errorf("pebbledb: decode target row %s: %w", r.key, err)
		}
		if err := visit(target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SequenceNumberCount(ctx context.Context, txn store.Txn) (int64, error) {
	t, err := s.verify(txn)
	if err != nil {
		return 0, err
	}

	count := t.global.TargetCount
	orphans, err := s.orphanedSentinels(t)
	if err != nil {
		return 0, err
	}
	return count + int64(len(orphans)), nil
}

func (s *Store) ForEachOrphanedDocumentSequenceNumber(ctx context.Context, txn store.Txn, visit func(sequence.Number) error) error {
	t, err := s.verify(txn)
	if err != nil {
		return err
	}

	orphans, err := s.orphanedSentinels(t)
	if err != nil {
		return err
	}
	for _, orphan := range orphans {
		if err := visit(orphan.stamp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveTargets(ctx context.Context, txn store.Txn, upperBound sequence.Number, activeTargets lru.ActiveTargets) (int64, error) {
	t, err := s.verify(txn)
	if err != nil {
		return 0, err
	}

	rows, err := t.scanRows(keys.TargetsScanPrefix())
	if err != nil {
		return 0, fmt.Errorf("pebbledb: scan targets: %w", err)
	}

	var doomed []store.TargetID
	for _, r := range rows {
		var target store.Target
		if err := json.Unmarshal(r.value, &target); err != nil {
			return 0, fmt.Errorf("pebbledb: decode target row %s: %w", r.key, err)
		}
		if target.SequenceNumber <= upperBound && !activeTargets.Contains(target.ID) {
			doomed = append(doomed, target.ID)
		}
	}
	for _, id := range doomed {
		if err := s.removeTarget(t, id); err != nil {
			return 0, err
		}
	}
	return int64(len(doomed)), nil
}

func (s *Store) RemoveOrphanedDocuments(ctx context.Context, txn store.Txn, upperBound sequence.Number) (int64, error) {
	t, err := s.verify(txn)
	if err != nil {
		return 0, err
	}

	orphans, err := s.orphanedSentinels(t)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, orphan := range orphans {
		if orphan.stamp > upperBound {
			continue
		}
		if err := s.removeDocument(t, orphan.key); err != nil {
			return 0, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) CacheSize(ctx context.Context, txn store.Txn) (int64, error) {
	t, err := s.verify(txn)
	if err != nil {
		return 0, err
	}
	return t.global.CacheSizeBytes, nil
}

// GetCacheSizeBytes reports the cache size without a caller transaction,
// for stats scraping.
func (s *Store) GetCacheSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.RunTransaction(ctx, "cache-stats", func(txn store.Txn) error {
		var err error
		size, err = s.CacheSize(ctx, txn)
		return err
	})
	return size, err
}

// GetSequenceNumberCount reports the tracked stamp count without a caller
// transaction, for stats scraping.
func (s *Store) GetSequenceNumberCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.RunTransaction(ctx, "cache-stats", func(txn store.Txn) error {
		var err error
		count, err = s.SequenceNumberCount(ctx, txn)
		return err
	})
	return count, err
}

type sentinel struct {
	key   store.DocumentKey
	stamp sequence.Number
}

// orphanedSentinels returns the sentinel rows of documents no target
// references. The sentinel scan completes before the per-document
// reference probes so only one iterator is open at a time.
func (s *Store) orphanedSentinels(t *pebbleTxn) ([]sentinel, error) {
	rows, err := t.scanRows(keys.SentinelsScanPrefix())
	if err != nil {
		return nil, fmt.Errorf("pebbledb: scan sentinels: %w", err)
	}

	var orphans []sentinel
	for _, r := range rows {
		docKey, err := keys.ParseSentinelKey(r.key)
		if err != nil {
			return nil, err
		}
		stamp, err := decodeStamp(r.value)
		if err != nil {
			return nil, fmt.Errorf("pebbledb: sentinel row %s: %w", r.key, err)
		}
		referenced, err := t.hasAny(keys.DocIndexScanPrefix(docKey))
		if err != nil {
			return nil, fmt.Errorf("pebbledb: probe references of %s: %w", docKey, err)
		}
		if !referenced {
			orphans = append(orphans, sentinel{key: docKey, stamp: stamp})
		}
	}
	return orphans, nil
}

var _ lru.Delegate = (*Store)(nil)
