package lru

import (
	"context"
	"errors"
	"testing"

	"github.com/driftdb-io/driftcache/internal/sequence"
	"github.com/driftdb-io/driftcache/internal/store"
)

type fakeTxn struct{}

func (fakeTxn) Label() string { return "test" }

// fakeDelegate serves collection passes from in-memory slices and records
// what the collector asked it to do.
type fakeDelegate struct {
	targets   []store.Target
	orphans   []sequence.Number
	cacheSize int64

	// When set, SequenceNumberCount returns this instead of deriving the
	// count from targets and orphans.
	sequenceCount int64

	countErr         error
	cacheSizeErr     error
	forEachTargetErr error
	forEachOrphanErr error
	removeTargetsErr error
	removeDocsErr    error

	calls              int
	removeUpperBound   sequence.Number
	removeActive       ActiveTargets
	removedDocsUpper   sequence.Number
	removeTargetsCalls int
	removeDocsCalls    int
}

var _ Delegate = (*fakeDelegate)(nil)

func (f *fakeDelegate) ForEachTarget(ctx context.Context, txn store.Txn, visit func(store.Target) error) error {
	f.calls++
	if f.forEachTargetErr != nil {
		return f.forEachTargetErr
	}
	for _, t := range f.targets {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDelegate) SequenceNumberCount(ctx context.Context, txn store.Txn) (int64, error) {
	f.calls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.sequenceCount != 0 {
		return f.sequenceCount, nil
	}
	return int64(len(f.targets) + len(f.orphans)), nil
}

func (f *fakeDelegate) ForEachOrphanedDocumentSequenceNumber(ctx context.Context, txn store.Txn, visit func(sequence.Number) error) error {
	f.calls++
	if f.forEachOrphanErr != nil {
		return f.forEachOrphanErr
	}
	for _, seq := range f.orphans {
		if err := visit(seq); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDelegate) RemoveTargets(ctx context.Context, txn store.Txn, upperBound sequence.Number, activeTargets ActiveTargets) (int64, error) {
	f.calls++
	f.removeTargetsCalls++
	f.removeUpperBound = upperBound
	f.removeActive = activeTargets
	if f.removeTargetsErr != nil {
		return 0, f.removeTargetsErr
	}
	var removed int64
	for _, t := range f.targets {
		if t.SequenceNumber <= upperBound && !activeTargets.Contains(t.ID) {
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDelegate) RemoveOrphanedDocuments(ctx context.Context, txn store.Txn, upperBound sequence.Number) (int64, error) {
	f.calls++
	f.removeDocsCalls++
	f.removedDocsUpper = upperBound
	if f.removeDocsErr != nil {
		return 0, f.removeDocsErr
	}
	var removed int64
	for _, seq := range f.orphans {
		if seq <= upperBound {
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDelegate) CacheSize(ctx context.Context, txn store.Txn) (int64, error) {
	f.calls++
	if f.cacheSizeErr != nil {
		return 0, f.cacheSizeErr
	}
	return f.cacheSize, nil
}

func targetsWithStamps(stamps ...sequence.Number) []store.Target {
	out := make([]store.Target, len(stamps))
	for i, s := range stamps {
		out[i] = store.Target{ID: store.TargetID(i + 1), SequenceNumber: s}
	}
	return out
}

func TestNewGarbageCollectorPanicsOnNilDelegate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil delegate")
		}
	}()
	NewGarbageCollector(nil, DefaultParams())
}

func TestNewGarbageCollectorPanicsOnBadPercentile(t *testing.T) {
	for _, percentile := range []int{-1, 101} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for percentile %d", percentile)
				}
			}()
			p := DefaultParams()
			p.PercentileToCollect = percentile
			NewGarbageCollector(&fakeDelegate{}, p)
		}()
	}
}

func TestNewGarbageCollectorPanicsOnNegativeThreshold(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative threshold")
		}
	}()
	p := DefaultParams()
	p.CacheSizeCollectionThreshold = -2
	NewGarbageCollector(&fakeDelegate{}, p)
}

func TestNewGarbageCollectorAllowsDisabled(t *testing.T) {
	gc := NewGarbageCollector(&fakeDelegate{}, DisabledParams())
	if gc.Params().CacheSizeCollectionThreshold != CollectionDisabled {
		t.Error("DisabledParams should be accepted by the constructor")
	}
}

func TestCollectSkipsWhenDisabled(t *testing.T) {
	delegate := &fakeDelegate{cacheSize: 1 << 30}
	gc := NewGarbageCollector(delegate, DisabledParams())

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if results.DidRun {
		t.Error("disabled collection should not run")
	}
	if results != CollectionSkipped {
		t.Errorf("results = %+v, want CollectionSkipped", results)
	}
	if delegate.calls != 0 {
		t.Errorf("disabled collection made %d delegate calls, want 0", delegate.calls)
	}
}

func TestCollectSkipsUnderThreshold(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(1, 2, 3),
		cacheSize: 500,
	}
	gc := NewGarbageCollector(delegate, WithCacheSizeThreshold(1000))

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if results.DidRun {
		t.Error("collection under threshold should not run")
	}
	// Only the size probe should have hit the delegate.
	if delegate.calls != 1 {
		t.Errorf("skipped collection made %d delegate calls, want 1", delegate.calls)
	}
}

func TestCollectRunsAtThreshold(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(1, 2, 3),
		cacheSize: 1000,
	}
	gc := NewGarbageCollector(delegate, WithCacheSizeThreshold(1000))

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if !results.DidRun {
		t.Error("collection at exactly the threshold should run")
	}
}

func TestCalculateTargetCount(t *testing.T) {
	tests := []struct {
		name       string
		count      int64
		percentile int
		expected   int
	}{
		{"ten percent of ten", 10, 10, 1},
		{"ten percent of thousand", 1000, 10, 100},
		{"rounds down", 99, 10, 9},
		{"zero percentile", 1000, 0, 0},
		{"hundred percentile", 42, 100, 42},
		{"empty population", 0, 10, 0},
		{"capped at maximum", 50000, 10, 1000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			delegate := &fakeDelegate{sequenceCount: tc.count}
			gc := NewGarbageCollector(delegate, DefaultParams())

			got, err := gc.CalculateTargetCount(context.Background(), fakeTxn{}, tc.percentile)
			if err != nil {
				t.Fatalf("CalculateTargetCount failed: %v", err)
			}
			if got != tc.expected {
				t.Errorf("CalculateTargetCount(%d%% of %d) = %d, want %d", tc.percentile, tc.count, got, tc.expected)
			}
		})
	}
}

func TestNthSequenceNumber(t *testing.T) {
	delegate := &fakeDelegate{
		targets: targetsWithStamps(10, 3),
		orphans: []sequence.Number{5, 1},
	}
	gc := NewGarbageCollector(delegate, DefaultParams())

	// Merged stamp population is {1, 3, 5, 10}.
	tests := []struct {
		n        int
		expected sequence.Number
	}{
		{0, sequence.Invalid},
		{1, 1},
		{2, 3},
		{3, 5},
		{4, 10},
		{5, 10}, // more than tracked, highest stamp wins
	}

	for _, tc := range tests {
		got, err := gc.NthSequenceNumber(context.Background(), fakeTxn{}, tc.n)
		if err != nil {
			t.Fatalf("NthSequenceNumber(%d) failed: %v", tc.n, err)
		}
		if got != tc.expected {
			t.Errorf("NthSequenceNumber(%d) = %d, want %d", tc.n, got, tc.expected)
		}
	}
}

func TestNthSequenceNumberCountsTies(t *testing.T) {
	delegate := &fakeDelegate{
		targets: targetsWithStamps(2, 2),
		orphans: []sequence.Number{2, 7},
	}
	gc := NewGarbageCollector(delegate, DefaultParams())

	// Population is {2, 2, 2, 7}; the 3rd smallest is still 2.
	got, err := gc.NthSequenceNumber(context.Background(), fakeTxn{}, 3)
	if err != nil {
		t.Fatalf("NthSequenceNumber failed: %v", err)
	}
	if got != 2 {
		t.Errorf("NthSequenceNumber(3) = %d, want 2", got)
	}

	got, err = gc.NthSequenceNumber(context.Background(), fakeTxn{}, 4)
	if err != nil {
		t.Fatalf("NthSequenceNumber failed: %v", err)
	}
	if got != 7 {
		t.Errorf("NthSequenceNumber(4) = %d, want 7", got)
	}
}

func TestCollectRemovesUpToUpperBound(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 20
	gc := NewGarbageCollector(delegate, params)

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	// 20% of 10 stamps selects 2, so the upper bound is the 2nd smallest.
	if !results.DidRun {
		t.Fatal("collection should have run")
	}
	if results.SequenceNumbersCollected != 2 {
		t.Errorf("SequenceNumbersCollected = %d, want 2", results.SequenceNumbersCollected)
	}
	if delegate.removeUpperBound != 2 {
		t.Errorf("upper bound = %d, want 2", delegate.removeUpperBound)
	}
	if delegate.removedDocsUpper != 2 {
		t.Errorf("orphan upper bound = %d, want 2", delegate.removedDocsUpper)
	}
	if results.TargetsRemoved != 2 {
		t.Errorf("TargetsRemoved = %d, want 2", results.TargetsRemoved)
	}
	if results.DocumentsRemoved != 0 {
		t.Errorf("DocumentsRemoved = %d, want 0", results.DocumentsRemoved)
	}
}

func TestCollectCapsSequenceNumbers(t *testing.T) {
	stamps := make([]sequence.Number, 100)
	for i := range stamps {
		stamps[i] = sequence.Number(i + 1)
	}
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(stamps...),
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 10
	params.MaximumSequenceNumbersToCollect = 5
	gc := NewGarbageCollector(delegate, params)

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	// 10% of 100 would select 10 but the cap pulls it down to 5.
	if results.SequenceNumbersCollected != 5 {
		t.Errorf("SequenceNumbersCollected = %d, want 5 (capped)", results.SequenceNumbersCollected)
	}
	if delegate.removeUpperBound != 5 {
		t.Errorf("upper bound = %d, want 5", delegate.removeUpperBound)
	}
}

func TestCollectCountsTiesBeyondRequested(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(2, 2, 2, 9),
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 25
	gc := NewGarbageCollector(delegate, params)

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	// 25% of 4 requests one stamp, but every target tied at the boundary
	// goes with it. The reported count stays at the requested one.
	if results.SequenceNumbersCollected != 1 {
		t.Errorf("SequenceNumbersCollected = %d, want 1", results.SequenceNumbersCollected)
	}
	if results.TargetsRemoved != 3 {
		t.Errorf("TargetsRemoved = %d, want 3", results.TargetsRemoved)
	}
}

func TestCollectExcludesActiveTargets(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(1, 2, 3, 4),
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 50
	gc := NewGarbageCollector(delegate, params)

	active := ActiveTargets{1: {}}
	results, err := gc.Collect(context.Background(), fakeTxn{}, active)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	// 50% of 4 selects stamps 1 and 2, but target 1 is active. Only target
	// 2 is removed while the requested count still reports 2.
	if results.SequenceNumbersCollected != 2 {
		t.Errorf("SequenceNumbersCollected = %d, want 2", results.SequenceNumbersCollected)
	}
	if results.TargetsRemoved != 1 {
		t.Errorf("TargetsRemoved = %d, want 1", results.TargetsRemoved)
	}
	if !delegate.removeActive.Contains(1) {
		t.Error("active target set was not forwarded to the delegate")
	}
}

func TestCollectCountsOrphanedDocuments(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(4, 8),
		orphans:   []sequence.Number{1, 2, 9},
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 60
	gc := NewGarbageCollector(delegate, params)

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	// Population is {1, 2, 4, 8, 9}; 60% selects 3, upper bound 4.
	// Orphans 1 and 2 fall under it along with target stamp 4.
	if delegate.removeUpperBound != 4 {
		t.Errorf("upper bound = %d, want 4", delegate.removeUpperBound)
	}
	if results.TargetsRemoved != 1 {
		t.Errorf("TargetsRemoved = %d, want 1", results.TargetsRemoved)
	}
	if results.DocumentsRemoved != 2 {
		t.Errorf("DocumentsRemoved = %d, want 2", results.DocumentsRemoved)
	}
}

func TestCollectEmptyCache(t *testing.T) {
	delegate := &fakeDelegate{cacheSize: 1 << 20}
	gc := NewGarbageCollector(delegate, WithCacheSizeThreshold(1))

	results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if !results.DidRun {
		t.Error("collection over an empty population should still run")
	}
	if results.SequenceNumbersCollected != 0 {
		t.Errorf("SequenceNumbersCollected = %d, want 0", results.SequenceNumbersCollected)
	}
	if results.TargetsRemoved != 0 || results.DocumentsRemoved != 0 {
		t.Errorf("nothing should be removed, got %+v", results)
	}
	if delegate.removeUpperBound != sequence.Invalid {
		t.Errorf("upper bound = %d, want Invalid", delegate.removeUpperBound)
	}
}

func TestCollectPropagatesDelegateErrors(t *testing.T) {
	sentinel := errors.New("backend unavailable")

	tests := []struct {
		name   string
		mutate func(*fakeDelegate)
	}{
		{"cache size", func(f *fakeDelegate) { f.cacheSizeErr = sentinel }},
		{"sequence number count", func(f *fakeDelegate) { f.countErr = sentinel }},
		{"target enumeration", func(f *fakeDelegate) { f.forEachTargetErr = sentinel }},
		{"orphan enumeration", func(f *fakeDelegate) { f.forEachOrphanErr = sentinel }},
		{"remove targets", func(f *fakeDelegate) { f.removeTargetsErr = sentinel }},
		{"remove documents", func(f *fakeDelegate) { f.removeDocsErr = sentinel }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			delegate := &fakeDelegate{
				targets:   targetsWithStamps(1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
				cacheSize: 1 << 20,
			}
			tc.mutate(delegate)

			params := WithCacheSizeThreshold(1)
			params.PercentileToCollect = 50
			gc := NewGarbageCollector(delegate, params)

			results, err := gc.Collect(context.Background(), fakeTxn{}, nil)
			if err == nil {
				t.Fatal("expected error from delegate")
			}
			if !errors.Is(err, sentinel) {
				t.Errorf("error chain lost the delegate error: %v", err)
			}
			if results.DidRun {
				t.Error("failed pass should not report DidRun")
			}
		})
	}
}

func TestCollectOrderOfPhases(t *testing.T) {
	delegate := &fakeDelegate{
		targets:   targetsWithStamps(1, 2, 3, 4),
		orphans:   []sequence.Number{5},
		cacheSize: 1 << 20,
	}
	params := WithCacheSizeThreshold(1)
	params.PercentileToCollect = 40
	gc := NewGarbageCollector(delegate, params)

	if _, err := gc.Collect(context.Background(), fakeTxn{}, nil); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if delegate.removeTargetsCalls != 1 {
		t.Errorf("RemoveTargets called %d times, want 1", delegate.removeTargetsCalls)
	}
	if delegate.removeDocsCalls != 1 {
		t.Errorf("RemoveOrphanedDocuments called %d times, want 1", delegate.removeDocsCalls)
	}
	if delegate.removeUpperBound != delegate.removedDocsUpper {
		t.Errorf("both removal phases should share the upper bound, got %d and %d", delegate.removeUpperBound, delegate.removedDocsUpper)
	}
}
