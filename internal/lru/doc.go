// Package lru implements least-recently-used garbage collection for the
// document cache.
//
// # Approach
//
// True LRU ordering would require reordering a recency list on every cache
// read. The cache instead stamps every target refresh and document touch
// with a monotonic listen sequence number and treats stamp order as an
// approximation of use order: the smallest stamps belong to the least
// recently used entries.
//
// # Collection Pass
//
// A pass ([GarbageCollector.Collect]) runs inside a transaction owned by
// the caller and proceeds in order:
//
//  1. Skip when collection is disabled or the cache is under the
//     configured size threshold.
//  2. Compute how many sequence numbers to collect: the configured
//     percentile of the tracked stamp population, capped by
//     MaximumSequenceNumbersToCollect.
//  3. Select the nth smallest stamp as the upper bound, using a bounded
//     rolling buffer over a single scan of targets and orphaned documents.
//  4. Remove every target at or below the bound, except targets the sync
//     layer reports as active.
//  5. Remove every orphaned document at or below the same bound, including
//     documents orphaned by step 4 within this transaction.
//
// Any step failing aborts the pass; the enclosing transaction rolls back
// and no partial removal is applied.
//
// # Scheduling
//
// The [Scheduler] runs passes periodically, one transaction per pass:
//
//	collector := lru.NewGarbageCollector(delegate, lru.DefaultParams())
//	sched := lru.NewScheduler(st, collector, source, lru.DefaultSchedulerConfig())
//	sched.Start()
//	defer sched.Stop()
package lru
