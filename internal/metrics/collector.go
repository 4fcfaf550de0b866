package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const numShards = 32

// Observer receives every record as it is collected.
type Observer interface {
	ObserveRecord(r Record)
}

// Counters is a point-in-time copy of the aggregate counters.
type Counters struct {
	Successes          int64 `json:"successes" yaml:"successes"`
	Failures           int64 `json:"failures" yaml:"failures"`
	ConnectionsCreated int64 `json:"connections_created" yaml:"connections_created"`
	Reconnections      int64 `json:"reconnections" yaml:"reconnections"`
	Dropped            int64 `json:"dropped" yaml:"dropped"`
}

// Processed is the number of items that produced a record.
func (c Counters) Processed() int64 { return c.Successes + c.Failures }

// Sub returns the per-field difference c - o.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Successes:          c.Successes - o.Successes,
		Failures:           c.Failures - o.Failures,
		ConnectionsCreated: c.ConnectionsCreated - o.ConnectionsCreated,
		Reconnections:      c.Reconnections - o.Reconnections,
		Dropped:            c.Dropped - o.Dropped,
	}
}

// Summary is the end-of-phase or end-of-run view of the counters.
type Summary struct {
	Counters   `yaml:",inline"`
	Elapsed    time.Duration `json:"-" yaml:"-"`
	ElapsedMs  float64       `json:"elapsed_ms" yaml:"elapsed_ms"`
	Throughput float64       `json:"throughput_per_sec" yaml:"throughput_per_sec"`
	SuccessPct float64       `json:"success_pct" yaml:"success_pct"`
}

// LatencySnapshot summarizes measured latencies from the live histogram.
type LatencySnapshot struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
}

type recordShard struct {
	mu      sync.Mutex
	records []Record
}

// Collector aggregates outcomes from every worker of a run. Counters are
// atomic; detailed records are appended to one of several shards so
// concurrent appends rarely contend.
type Collector struct {
	successes     atomic.Int64
	failures      atomic.Int64
	created       atomic.Int64
	reconnections atomic.Int64
	dropped       atomic.Int64

	detailed bool
	shards   [numShards]*recordShard
	next     atomic.Uint64

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram

	statusMu sync.Mutex
	byStatus map[int]int64

	observer Observer
}

// NewCollector creates a collector. When detailed is false only counters are
// kept and Records returns nil.
func NewCollector(detailed bool) *Collector {
	c := &Collector{
		detailed: detailed,
		// Track latencies from 1µs up to 60s with 3 significant figures.
		hist:     hdrhistogram.New(1, 60_000_000, 3),
		byStatus: make(map[int]int64),
	}
	for i := range c.shards {
		c.shards[i] = &recordShard{}
	}
	return c
}

// SetObserver registers o to see every subsequent record. Call before the
// run starts.
func (c *Collector) SetObserver(o Observer) { c.observer = o }

// Detailed reports whether per-item records are kept.
func (c *Collector) Detailed() bool { return c.detailed }

// Record counts one processed item.
func (c *Collector) Record(r Record) {
	if r.Succeeded() {
		c.successes.Add(1)
	} else {
		c.failures.Add(1)
		c.statusMu.Lock()
		c.byStatus[r.StatusCode]++
		c.statusMu.Unlock()
	}

	if r.Measured() {
		us := r.LatencyMs * 1000
		c.histMu.Lock()
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
		c.histMu.Unlock()
	}

	if c.detailed {
		shard := c.shards[c.next.Add(1)%numShards]
		shard.mu.Lock()
		shard.records = append(shard.records, r)
		shard.mu.Unlock()
	}

	if c.observer != nil {
		c.observer.ObserveRecord(r)
	}
}

// ConnectionCreated counts a successful dial.
func (c *Collector) ConnectionCreated() { c.created.Add(1) }

// Reconnection counts a connection-level failure during a send attempt.
func (c *Collector) Reconnection() { c.reconnections.Add(1) }

// Dropped counts items a worker gave up waiting for.
func (c *Collector) Dropped(n int) {
	if n > 0 {
		c.dropped.Add(int64(n))
	}
}

// Counters returns the current counter values.
func (c *Collector) Counters() Counters {
	return Counters{
		Successes:          c.successes.Load(),
		Failures:           c.failures.Load(),
		ConnectionsCreated: c.created.Load(),
		Reconnections:      c.reconnections.Load(),
		Dropped:            c.dropped.Load(),
	}
}

// Records returns a copy of every detailed record in unspecified order.
func (c *Collector) Records() []Record {
	if !c.detailed {
		return nil
	}
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	out := make([]Record, 0, n)
	for _, s := range c.shards {
		s.mu.Lock()
		out = append(out, s.records...)
		s.mu.Unlock()
	}
	return out
}

// FailuresByStatus returns the failure count per status code.
func (c *Collector) FailuresByStatus() map[int]int64 {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	out := make(map[int]int64, len(c.byStatus))
	for k, v := range c.byStatus {
		out[k] = v
	}
	return out
}

// Latency returns a histogram snapshot of measured latencies.
func (c *Collector) Latency() LatencySnapshot {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	if c.hist.TotalCount() == 0 {
		return LatencySnapshot{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencySnapshot{
		Count: c.hist.TotalCount(),
		Mean:  time.Duration(c.hist.Mean() * float64(time.Microsecond)),
		P50:   us(c.hist.ValueAtQuantile(50)),
		P90:   us(c.hist.ValueAtQuantile(90)),
		P99:   us(c.hist.ValueAtQuantile(99)),
		Max:   us(c.hist.Max()),
	}
}

// Summary computes the run summary over elapsed wall-clock time.
func (c *Collector) Summary(elapsed time.Duration) Summary {
	return Summarize(c.Counters(), elapsed)
}

// Summarize derives throughput and success rate from counters. Throughput is
// successes per second and is 0 when elapsed is not positive.
func Summarize(counters Counters, elapsed time.Duration) Summary {
	s := Summary{
		Counters:  counters,
		Elapsed:   elapsed,
		ElapsedMs: float64(elapsed) / float64(time.Millisecond),
	}
	if elapsed > 0 {
		s.Throughput = float64(counters.Successes) / elapsed.Seconds()
	}
	if processed := counters.Processed(); processed > 0 {
		s.SuccessPct = float64(counters.Successes) * 100 / float64(processed)
	}
	return s
}
