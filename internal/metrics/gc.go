package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/driftdb-io/driftcache/internal/lru"
)

// GCMetrics holds metrics related to cache garbage collection.
type GCMetrics struct {
	// RunsCounter tracks the number of completed collection passes.
	RunsCounter prometheus.Counter

	// SkippedRunsCounter tracks the number of passes that did not run,
	// either because collection is disabled or because the cache was
	// under its size threshold.
	SkippedRunsCounter prometheus.Counter

	// RunDurationHistogram tracks collection pass duration in seconds.
	RunDurationHistogram prometheus.Histogram

	// SequenceNumbersCollectedCounter tracks the total number of sequence
	// numbers selected for collection across all passes.
	SequenceNumbersCollectedCounter prometheus.Counter

	// TargetsRemovedCounter tracks the total number of targets removed.
	TargetsRemovedCounter prometheus.Counter

	// DocumentsRemovedCounter tracks the total number of orphaned
	// documents removed.
	DocumentsRemovedCounter prometheus.Counter

	// CacheSizeGauge tracks the current cache size in bytes.
	CacheSizeGauge prometheus.Gauge

	// SequenceNumberCountGauge tracks the current number of tracked
	// sequence numbers (one per target plus one per orphaned document).
	SequenceNumberCountGauge prometheus.Gauge
}

// runDurationBuckets covers collection passes from sub-millisecond in-memory
// runs to multi-second scans of a large on-disk cache.
var runDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewGCMetrics creates and registers GC metrics.
// Uses promauto for automatic registration with the default registry.
func NewGCMetrics() *GCMetrics {
	return &GCMetrics{
		RunsCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Number of completed collection passes.",
			},
		),
		SkippedRunsCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "runs_skipped_total",
				Help:      "Number of passes skipped (collection disabled or cache under threshold).",
			},
		),
		RunDurationHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "run_duration_seconds",
				Help:      "Duration of collection passes in seconds.",
				Buckets:   runDurationBuckets,
			},
		),
		SequenceNumbersCollectedCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "sequence_numbers_collected_total",
				Help:      "Total sequence numbers selected for collection.",
			},
		),
		TargetsRemovedCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "targets_removed_total",
				Help:      "Total targets removed by collection.",
			},
		),
		DocumentsRemovedCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "documents_removed_total",
				Help:      "Total orphaned documents removed by collection.",
			},
		),
		CacheSizeGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "cache_size_bytes",
				Help:      "Current cache size in bytes.",
			},
		),
		SequenceNumberCountGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "driftcache",
				Subsystem: "gc",
				Name:      "sequence_number_count",
				Help:      "Current number of tracked sequence numbers.",
			},
		),
	}
}

// NewGCMetricsWithRegistry creates GC metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	runs := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "runs_total",
			Help:      "Number of completed collection passes.",
		},
	)

	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "runs_skipped_total",
			Help:      "Number of passes skipped (collection disabled or cache under threshold).",
		},
	)

	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "run_duration_seconds",
			Help:      "Duration of collection passes in seconds.",
			Buckets:   runDurationBuckets,
		},
	)

	sequenceNumbers := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "sequence_numbers_collected_total",
			Help:      "Total sequence numbers selected for collection.",
		},
	)

	targetsRemoved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "targets_removed_total",
			Help:      "Total targets removed by collection.",
		},
	)

	documentsRemoved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "documents_removed_total",
			Help:      "Total orphaned documents removed by collection.",
		},
	)

	cacheSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes.",
		},
	)

	sequenceNumberCount := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftcache",
			Subsystem: "gc",
			Name:      "sequence_number_count",
			Help:      "Current number of tracked sequence numbers.",
		},
	)

	reg.MustRegister(runs)
	reg.MustRegister(skipped)
	reg.MustRegister(runDuration)
	reg.MustRegister(sequenceNumbers)
	reg.MustRegister(targetsRemoved)
	reg.MustRegister(documentsRemoved)
	reg.MustRegister(cacheSize)
	reg.MustRegister(sequenceNumberCount)

	return &GCMetrics{
		RunsCounter:                     runs,
		SkippedRunsCounter:              skipped,
		RunDurationHistogram:            runDuration,
		SequenceNumbersCollectedCounter: sequenceNumbers,
		TargetsRemovedCounter:           targetsRemoved,
		DocumentsRemovedCounter:         documentsRemoved,
		CacheSizeGauge:                  cacheSize,
		SequenceNumberCountGauge:        sequenceNumberCount,
	}
}

// RecordRun records one completed collection pass and its duration.
func (m *GCMetrics) RecordRun(d time.Duration) {
	m.RunsCounter.Inc()
	m.RunDurationHistogram.Observe(d.Seconds())
}

// RecordSkip records a pass that did not run.
func (m *GCMetrics) RecordSkip() {
	m.SkippedRunsCounter.Inc()
}

// RecordRemovals records the outcome of one collection pass.
func (m *GCMetrics) RecordRemovals(sequenceNumbers, targets, documents int64) {
	m.SequenceNumbersCollectedCounter.Add(float64(sequenceNumbers))
	m.TargetsRemovedCounter.Add(float64(targets))
	m.DocumentsRemovedCounter.Add(float64(documents))
}

// RecordCacheSize updates the cache size gauge.
func (m *GCMetrics) RecordCacheSize(bytes int64) {
	m.CacheSizeGauge.Set(float64(bytes))
}

// RecordSequenceNumberCount updates the tracked sequence number gauge.
func (m *GCMetrics) RecordSequenceNumberCount(count int64) {
	m.SequenceNumberCountGauge.Set(float64(count))
}

// CacheStatsProvider provides cache statistics for metrics collection.
type CacheStatsProvider interface {
	// GetCacheSizeBytes returns the current cache size in bytes.
	GetCacheSizeBytes(ctx context.Context) (int64, error)
	// GetSequenceNumberCount returns the current number of tracked
	// sequence numbers.
	GetSequenceNumberCount(ctx context.Context) (int64, error)
}

// CacheStatsScanner periodically reads cache statistics and updates the
// gauges. Counters are fed by the scheduler; the gauges need a reader
// because they reflect state, not events.
type CacheStatsScanner struct {
	metrics  *GCMetrics
	provider CacheStatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCacheStatsScanner creates a scanner that periodically updates the cache
// size and sequence number gauges.
func NewCacheStatsScanner(metrics *GCMetrics, provider CacheStatsProvider, interval time.Duration) *CacheStatsScanner {
	return &CacheStatsScanner{
		metrics:  metrics,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic stats scanning.
func (s *CacheStatsScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic stats scanning.
func (s *CacheStatsScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// loop runs the periodic scan.
func (s *CacheStatsScanner) loop() {
	defer s.wg.Done()

	// Run immediately on start
	s.scanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

// scanOnce performs a single stats scan.
func (s *CacheStatsScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if size, err := s.provider.GetCacheSizeBytes(ctx); err != nil {
		slog.Warn("cache stats scan failed",
			"provider", "cache_size_bytes",
			"error", err,
		)
	} else {
		s.metrics.RecordCacheSize(size)
	}

	if count, err := s.provider.GetSequenceNumberCount(ctx); err != nil {
		slog.Warn("cache stats scan failed",
			"provider", "sequence_number_count",
			"error", err,
		)
	} else {
		s.metrics.RecordSequenceNumberCount(count)
	}
}

// ScanOnce triggers a single scan and updates metrics.
// Useful for testing or on-demand scanning.
func (s *CacheStatsScanner) ScanOnce() {
	s.scanOnce()
}

// Ensure GCMetrics satisfies the scheduler's recorder interface.
var _ lru.MetricsRecorder = (*GCMetrics)(nil)
