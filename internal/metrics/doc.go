// Package metrics aggregates the outcome of every processed chat message.
//
// A single [Collector] is created per run and shared by every worker. The
// counters (successes, failures, connections created, reconnections, dropped
// items) are independent atomics. In detailed mode each outcome is also kept
// as a [Record]; records are appended round-robin to one of several shards,
// each behind its own mutex, so concurrent workers rarely contend.
//
//	collector := metrics.NewCollector(true)
//	collector.Record(metrics.Record{StatusCode: metrics.StatusSent, ...})
//	summary := collector.Summary(elapsed)
//
// Measured latencies also feed an HDR histogram used by the live progress
// line and dashboard; post-run percentiles are computed exactly by the stats
// package from the records.
//
// [Exporter] mirrors the collector into a Prometheus registry for scraping
// while a run is in progress.
package metrics
