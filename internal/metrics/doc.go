// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the cache's garbage collection:
//   - Collection pass counters (completed and skipped runs)
//   - Collection pass duration histogram
//   - Removal counters (sequence numbers, targets, documents)
//   - Cache size and tracked sequence number gauges
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	// Create and register metrics
//	gcMetrics := metrics.NewGCMetrics()
//
//	// Wire into the collection scheduler
//	scheduler := lru.NewScheduler(st, gc, source, cfg,
//	    lru.WithMetricsRecorder(gcMetrics))
//
//	// Keep the gauges fresh between passes; both stores are providers
//	scanner := metrics.NewCacheStatsScanner(gcMetrics, st, time.Minute)
//	scanner.Start()
//
//	// Start metrics server
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
