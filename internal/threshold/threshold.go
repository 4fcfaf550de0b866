// Package threshold evaluates pass/fail assertions such as
// "latency:p95 < 500" against the results of a run.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/stats"
)

// Supported metrics.
const (
	MetricLatency       = "latency"       // measured reply latency in ms
	MetricFailed        = "failed"        // failed messages
	MetricMessages      = "messages"      // successfully sent messages
	MetricDropped       = "dropped"       // messages never popped by a worker
	MetricReconnections = "reconnections" // transport errors that forced a redial
)

// ErrNoLatency is reported for latency thresholds when no reply was measured.
var ErrNoLatency = errors.New("no measured latency samples (run with --detailed)")

var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var supportedAggregates = map[string][]string{
	MetricLatency:       {"p50", "p95", "p99", "avg", "min", "max"},
	MetricFailed:        {"rate", "count"},
	MetricMessages:      {"rate", "count"},
	MetricDropped:       {"count"},
	MetricReconnections: {"count"},
}

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g. "latency", "failed"
	Aggregate string  // e.g. "p95", "rate", "count"
	Operator  string  // <, <=, >, >=, ==
	Value     float64 // bound compared against
	Raw       string  // original text for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Snapshot is the run data thresholds are checked against.
type Snapshot struct {
	Summary metrics.Summary
	Latency stats.LatencyStats
}

// Evaluator evaluates thresholds against a run snapshot.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds against snap.
func (e *Evaluator) Evaluate(snap Snapshot) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, snap))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, snap Snapshot) Result {
	actual, err := extractMetricValue(t, snap)
	if err != nil {
		return Result{
			Threshold: t,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: error: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string. Supported forms:
//
//	latency:p95 < 500       measured latency percentile in ms (p50, p95, p99)
//	latency:avg < 200       also min and max
//	failed:rate < 0.01      failures / processed
//	failed:count < 10
//	messages:rate > 1000    successes per second
//	messages:count >= 500000
//	dropped:count == 0
//	reconnections:count < 5
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'latency:p95 < 500')", s)
	}
	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := supportedAggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: latency, failed, messages, dropped, reconnections)", metric)
	}
	if !contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !contains([]string{"<", "<=", ">", ">=", "=="}, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings, reporting every bad one.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var problems []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return result, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, snap Snapshot) (float64, error) {
	sum := snap.Summary
	switch t.Metric {
	case MetricLatency:
		return extractLatencyMetric(t.Aggregate, snap.Latency)
	case MetricFailed:
		if t.Aggregate == "count" {
			return float64(sum.Failures), nil
		}
		processed := sum.Processed()
		if processed == 0 {
			return 0, nil
		}
		return float64(sum.Failures) / float64(processed), nil
	case MetricMessages:
		if t.Aggregate == "count" {
			return float64(sum.Successes), nil
		}
		return sum.Throughput, nil
	case MetricDropped:
		return float64(sum.Dropped), nil
	case MetricReconnections:
		return float64(sum.Reconnections), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, lat stats.LatencyStats) (float64, error) {
	if lat.Samples == 0 {
		return 0, ErrNoLatency
	}
	switch aggregate {
	case "p50":
		return float64(lat.P50Ms), nil
	case "p95":
		return float64(lat.P95Ms), nil
	case "p99":
		return float64(lat.P99Ms), nil
	case "avg":
		return lat.MeanMs, nil
	case "min":
		return float64(lat.MinMs), nil
	case "max":
		return float64(lat.MaxMs), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
