// Package stats computes post-run statistics over collected outcome records.
// Every function sorts explicitly; record order carries no meaning.
package stats

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/torosent/chatfire/internal/message"
	"github.com/torosent/chatfire/internal/metrics"
)

// Percentile returns the nearest-rank percentile p (0-100) of an ascending
// sorted slice: index = clamp(ceil(n*p/100)-1, 0, n-1). Empty input yields 0.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// LatencyStats summarizes measured latencies in milliseconds.
type LatencyStats struct {
	Samples int     `json:"samples" yaml:"samples"`
	MeanMs  float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms   int64   `json:"p50_ms" yaml:"p50_ms"`
	P95Ms   int64   `json:"p95_ms" yaml:"p95_ms"`
	P99Ms   int64   `json:"p99_ms" yaml:"p99_ms"`
	MinMs   int64   `json:"min_ms" yaml:"min_ms"`
	MaxMs   int64   `json:"max_ms" yaml:"max_ms"`
}

// Latency summarizes records with a non-zero latency. Unmeasured records are
// ignored.
func Latency(records []metrics.Record) LatencyStats {
	values := make([]int64, 0, len(records)/16+1)
	var sum int64
	for _, r := range records {
		if !r.Measured() {
			continue
		}
		values = append(values, r.LatencyMs)
		sum += r.LatencyMs
	}
	if len(values) == 0 {
		return LatencyStats{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return LatencyStats{
		Samples: len(values),
		MeanMs:  float64(sum) / float64(len(values)),
		P50Ms:   Percentile(values, 50),
		P95Ms:   Percentile(values, 95),
		P99Ms:   Percentile(values, 99),
		MinMs:   values[0],
		MaxMs:   values[len(values)-1],
	}
}

// RoomCount is the number of records for one room.
type RoomCount struct {
	RoomID string `json:"room_id" yaml:"room_id"`
	Count  int    `json:"count" yaml:"count"`
}

// RoomThroughput counts records per room. Rooms are ordered numerically when
// every key is an integer, otherwise lexically.
func RoomThroughput(records []metrics.Record) []RoomCount {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.RoomID]++
	}
	if len(counts) == 0 {
		return nil
	}

	rows := make([]RoomCount, 0, len(counts))
	numeric := true
	for room, n := range counts {
		rows = append(rows, RoomCount{RoomID: room, Count: n})
		if _, err := strconv.ParseInt(room, 10, 64); err != nil {
			numeric = false
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseInt(rows[i].RoomID, 10, 64)
			b, _ := strconv.ParseInt(rows[j].RoomID, 10, 64)
			return a < b
		}
		return rows[i].RoomID < rows[j].RoomID
	})
	return rows
}

// KindShare is the count and percentage of one message kind.
type KindShare struct {
	Kind    message.Kind `json:"kind" yaml:"kind"`
	Count   int          `json:"count" yaml:"count"`
	Percent float64      `json:"percent" yaml:"percent"`
}

// KindDistribution reports every known kind in enumeration order, including
// kinds with no records.
func KindDistribution(records []metrics.Record) []KindShare {
	counts := make(map[message.Kind]int, len(message.Kinds))
	for _, r := range records {
		counts[r.Kind]++
	}
	out := make([]KindShare, 0, len(message.Kinds))
	for _, k := range message.Kinds {
		share := KindShare{Kind: k, Count: counts[k]}
		if len(records) > 0 {
			share.Percent = float64(share.Count) * 100 / float64(len(records))
		}
		out = append(out, share)
	}
	return out
}

// DefaultBucketWidth is the chart bucket width.
const DefaultBucketWidth = 10 * time.Second

// Bucket is the throughput of one fixed-width time window.
type Bucket struct {
	Offset time.Duration `json:"-" yaml:"-"`
	// OffsetSeconds is the bucket start relative to the earliest record.
	OffsetSeconds float64 `json:"offset_seconds" yaml:"offset_seconds"`
	Count         int     `json:"count" yaml:"count"`
	PerSecond     float64 `json:"per_second" yaml:"per_second"`
}

// TimeBuckets partitions records into width-sized windows starting at the
// earliest timestamp. Empty windows between populated ones are included.
func TimeBuckets(records []metrics.Record, width time.Duration) []Bucket {
	if len(records) == 0 {
		return nil
	}
	if width <= 0 {
		width = DefaultBucketWidth
	}

	minTS, maxTS := records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(minTS) {
			minTS = r.Timestamp
		}
		if r.Timestamp.After(maxTS) {
			maxTS = r.Timestamp
		}
	}

	counts := make([]int, int(maxTS.Sub(minTS)/width)+1)
	for _, r := range records {
		counts[int(r.Timestamp.Sub(minTS)/width)]++
	}

	out := make([]Bucket, len(counts))
	for i, n := range counts {
		offset := time.Duration(i) * width
		out[i] = Bucket{
			Offset:        offset,
			OffsetSeconds: offset.Seconds(),
			Count:         n,
			PerSecond:     float64(n) / width.Seconds(),
		}
	}
	return out
}

// Report bundles every statistic for one record set.
type Report struct {
	Records int          `json:"records" yaml:"records"`
	Latency LatencyStats `json:"latency" yaml:"latency"`
	Rooms   []RoomCount  `json:"rooms" yaml:"rooms"`
	Kinds   []KindShare  `json:"kinds" yaml:"kinds"`
	Buckets []Bucket     `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// Analyze computes a full Report.
func Analyze(records []metrics.Record, width time.Duration) Report {
	return Report{
		Records: len(records),
		Latency: Latency(records),
		Rooms:   RoomThroughput(records),
		Kinds:   KindDistribution(records),
		Buckets: TimeBuckets(records, width),
	}
}

// FilterPhase returns the records tagged with phase.
func FilterPhase(records []metrics.Record, phase string) []metrics.Record {
	var out []metrics.Record
	for _, r := range records {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out
}
