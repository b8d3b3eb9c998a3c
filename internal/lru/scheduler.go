package lru

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftdb-io/driftcache/internal/logging"
	"github.com/driftdb-io/driftcache/internal/store"
)

// SchedulerConfig configures the collection scheduler.
type SchedulerConfig struct {
	// InitialDelayMs is the delay before the first pass in milliseconds.
	// The delay keeps collection off the client's startup path.
	// Default: 60000 (1 minute)
	InitialDelayMs int64

	// IntervalMs is the interval between passes in milliseconds.
	// Default: 300000 (5 minutes)
	IntervalMs int64
}

// DefaultSchedulerConfig returns default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		InitialDelayMs: 60000,
		IntervalMs:     300000,
	}
}

// TargetSource reports which targets are currently in use by the sync
// layer. The scheduler reads the set once per pass and never mutates it.
type TargetSource interface {
	ActiveTargetIDs() ActiveTargets
}

// TxnRunner opens store transactions for scheduled passes. Both store
// implementations satisfy it.
type TxnRunner interface {
	RunTransaction(ctx context.Context, label string, fn func(store.Txn) error) error
}

// MetricsRecorder receives the outcome of scheduled passes. The metrics
// package provides an implementation; without one the scheduler records
// nothing.
type MetricsRecorder interface {
	// RecordRun records a completed pass and its duration.
	RecordRun(duration time.Duration)
	// RecordSkip records a pass that was skipped.
	RecordSkip()
	// RecordRemovals records what a completed pass collected and removed.
	RecordRemovals(sequenceNumbers, targets, documents int64)
}

// SchedulerOption configures optional Scheduler dependencies.
type SchedulerOption func(*Scheduler)

// WithMetricsRecorder attaches a recorder for pass outcomes.
func WithMetricsRecorder(r MetricsRecorder) SchedulerOption {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the scheduler's base logger. Defaults to the global
// logger.
func WithLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Scheduler runs garbage collection passes periodically, each in its own
// transaction. Only one pass runs at a time.
type Scheduler struct {
	store     TxnRunner
	collector *GarbageCollector
	source    TargetSource
	config    SchedulerConfig
	recorder  MetricsRecorder
	logger    *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a collection scheduler.
func NewScheduler(st TxnRunner, collector *GarbageCollector, source TargetSource, config SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if config.InitialDelayMs <= 0 {
		config.InitialDelayMs = 60000
	}
	if config.IntervalMs <= 0 {
		config.IntervalMs = 300000
	}
	s := &Scheduler{
		store:     st,
		collector: collector,
		source:    source,
		config:    config,
		logger:    logging.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the scheduler background loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the scheduler and waits for a pass in flight to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// run is the main scheduler loop.
func (s *Scheduler) run() {
	defer close(s.doneCh)

	ctx := context.Background()

	initial := time.NewTimer(time.Duration(s.config.InitialDelayMs) * time.Millisecond)
	defer initial.Stop()

	select {
	case <-s.stopCh:
		return
	case <-initial.C:
	}

	s.runPass(ctx)

	ticker := time.NewTicker(time.Duration(s.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// runPass runs one pass and records its outcome. Errors are logged, not
// propagated; the next tick tries again.
func (s *Scheduler) runPass(ctx context.Context) {
	logger := s.logger.WithRun(uuid.New().String())
	ctx = logging.WithLoggerCtx(ctx, logger)

	start := time.Now()
	results, err := s.RunOnce(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Errorf("lru collection pass failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if !results.DidRun {
		if s.recorder != nil {
			s.recorder.RecordSkip()
		}
		return
	}

	if s.recorder != nil {
		s.recorder.RecordRun(elapsed)
		s.recorder.RecordRemovals(results.SequenceNumbersCollected, results.TargetsRemoved, results.DocumentsRemoved)
	}

	logger.Infof("lru collection pass complete", map[string]any{
		"sequenceNumbersCollected": results.SequenceNumbersCollected,
		"targetsRemoved":           results.TargetsRemoved,
		"documentsRemoved":         results.DocumentsRemoved,
		"durationMs":               elapsed.Milliseconds(),
	})
}

// RunOnce runs a single collection pass synchronously in its own
// transaction and returns the results.
func (s *Scheduler) RunOnce(ctx context.Context) (Results, error) {
	var results Results
	err := s.store.RunTransaction(ctx, "lru-gc", func(txn store.Txn) error {
		var err error
		results, err = s.collector.Collect(ctx, txn, s.source.ActiveTargetIDs())
		return err
	})
	if err != nil {
		return Results{}, err
	}
	return results, nil
}
