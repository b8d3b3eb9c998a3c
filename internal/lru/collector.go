package lru

import (
	"context"
	"fmt"
	"time"

	"github.com/driftdb-io/driftcache/internal/logging"
	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
)

// GarbageCollector selects and removes least-recently-used cache entries
// through a Delegate. It holds no mutable state and never opens
// transactions itself; callers run Collect inside a transaction they own,
// normally via the Scheduler.
type GarbageCollector struct {
	delegate Delegate
	params   Params
}

// NewGarbageCollector creates a collector with the given parameters.
// PercentileToCollect must be in [0, 100] and CacheSizeCollectionThreshold
// must be non-negative or CollectionDisabled.
func NewGarbageCollector(delegate Delegate, params Params) *GarbageCollector {
	if delegate == nil {
		panic("lru: delegate is required")
	}
	if params.PercentileToCollect < 0 || params.PercentileToCollect > 100 {
		panic("lru: PercentileToCollect must be between 0 and 100")
	}
	if params.CacheSizeCollectionThreshold < 0 && params.CacheSizeCollectionThreshold != CollectionDisabled {
		panic("lru: CacheSizeCollectionThreshold must be non-negative or CollectionDisabled")
	}
	return &GarbageCollector{
		delegate: delegate,
		params:   params,
	}
}

// Params returns the collector's parameters.
func (gc *GarbageCollector) Params() Params {
	return gc.params
}

// Collect runs one garbage collection pass inside txn.
//
// The pass is skipped, returning CollectionSkipped with a nil error, when
// collection is disabled or the cache is under the size threshold. Any
// delegate error aborts the pass and is returned wrapped with the failing
// phase so the enclosing transaction rolls back.
func (gc *GarbageCollector) Collect(ctx context.Context, txn store.Txn, activeTargets ActiveTargets) (Results, error) {
	if gc.params.CacheSizeCollectionThreshold == CollectionDisabled {
		logging.FromCtx(ctx).Debug("lru collection skipped: collection disabled")
		return CollectionSkipped, nil
	}

	cacheSize, err := gc.CacheSize(ctx, txn)
	if err != nil {
		return Results{}, fmt.Errorf("lru: cache size: %w", err)
	}
	if cacheSize < gc.params.CacheSizeCollectionThreshold {
		logging.FromCtx(ctx).Debugf("lru collection skipped: cache under threshold", map[string]any{
			"cacheSizeBytes": cacheSize,
			"thresholdBytes": gc.params.CacheSizeCollectionThreshold,
		})
		return CollectionSkipped, nil
	}

	return gc.runCollection(ctx, txn, activeTargets)
}

func (gc *GarbageCollector) runCollection(ctx context.Context, txn store.Txn, activeTargets ActiveTargets) (Results, error) {
	start := time.Now()

	toCollect, err := gc.CalculateTargetCount(ctx, txn, gc.params.PercentileToCollect)
	if err != nil {
		return Results{}, fmt.Errorf("lru: calculate target count: %w", err)
	}
	countDone := time.Now()

	upperBound, err := gc.NthSequenceNumber(ctx, txn, toCollect)
	if err != nil {
		return Results{}, fmt.Errorf("lru: nth sequence number: %w", err)
	}
	selectDone := time.Now()

	targetsRemoved, err := gc.RemoveTargets(ctx, txn, upperBound, activeTargets)
	if err != nil {
		return Results{}, fmt.Errorf("lru: remove targets: %w", err)
	}
	targetsDone := time.Now()

	documentsRemoved, err := gc.RemoveOrphanedDocuments(ctx, txn, upperBound)
	if err != nil {
		return Results{}, fmt.Errorf("lru: remove orphaned documents: %w", err)
	}
	docsDone := time.Now()

	logging.FromCtx(ctx).Debugf("lru collection pass finished", map[string]any{
		"sequenceNumbersCollected": toCollect,
		"upperBound":               uint64(upperBound),
		"targetsRemoved":           targetsRemoved,
		"documentsRemoved":         documentsRemoved,
		"countMs":                  countDone.Sub(start).Milliseconds(),
		"selectMs":                 selectDone.Sub(countDone).Milliseconds(),
		"removeTargetsMs":          targetsDone.Sub(selectDone).Milliseconds(),
		"removeDocumentsMs":        docsDone.Sub(targetsDone).Milliseconds(),
		"totalMs":                  docsDone.Sub(start).Milliseconds(),
	})

	return Results{
		DidRun:                   true,
		SequenceNumbersCollected: int64(toCollect),
		TargetsRemoved:           targetsRemoved,
		DocumentsRemoved:         documentsRemoved,
	}, nil
}

// CalculateTargetCount returns how many sequence numbers the given
// percentile of the tracked stamp population amounts to, rounded down and
// capped at MaximumSequenceNumbersToCollect.
func (gc *GarbageCollector) CalculateTargetCount(ctx context.Context, txn store.Txn, percentile int) (int, error) {
	count, err := gc.delegate.SequenceNumberCount(ctx, txn)
	if err != nil {
		return 0, err
	}
	desired := int(count * int64(percentile) / 100)
	if desired > gc.params.MaximumSequenceNumbersToCollect {
		desired = gc.params.MaximumSequenceNumbersToCollect
	}
	return desired, nil
}

// NthSequenceNumber returns the nth smallest tracked sequence number,
// counting target stamps and orphaned document stamps with their full
// multiplicity. Returns sequence.Invalid when n is not positive, so the
// resulting upper bound selects nothing.
func (gc *GarbageCollector) NthSequenceNumber(ctx context.Context, txn store.Txn, n int) (sequence.Number, error) {
	buffer := newRollingBuffer(n)

	if err := gc.delegate.ForEachTarget(ctx, txn, func(t store.Target) error {
		buffer.Offer(t.SequenceNumber)
		return nil
	}); err != nil {
		return sequence.Invalid, err
	}

	if err := gc.delegate.ForEachOrphanedDocumentSequenceNumber(ctx, txn, func(seq sequence.Number) error {
		buffer.Offer(seq)
		return nil
	}); err != nil {
		return sequence.Invalid, err
	}

	return buffer.Max(), nil
}

// RemoveTargets removes every target with a stamp at or below upperBound
// whose ID is not in activeTargets.
func (gc *GarbageCollector) RemoveTargets(ctx context.Context, txn store.Txn, upperBound sequence.Number, activeTargets ActiveTargets) (int64, error) {
	return gc.delegate.RemoveTargets(ctx, txn, upperBound, activeTargets)
}

// RemoveOrphanedDocuments removes every orphaned document with a stamp at
// or below upperBound.
func (gc *GarbageCollector) RemoveOrphanedDocuments(ctx context.Context, txn store.Txn, upperBound sequence.Number) (int64, error) {
	return gc.delegate.RemoveOrphanedDocuments(ctx, txn, upperBound)
}

// CacheSize returns the delegate's cache size in bytes.
func (gc *GarbageCollector) CacheSize(ctx context.Context, txn store.Txn) (int64, error) {
	return gc.delegate.CacheSize(ctx, txn)
}
