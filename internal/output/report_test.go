package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/chatfire/internal/message"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/runner"
	"github.com/torosent/chatfire/internal/threshold"
)

func sampleResult(detailed bool) runner.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []metrics.Record{
		{Timestamp: start, Phase: "warmup", Kind: message.KindJoin, StatusCode: 200, RoomID: "1"},
		{Timestamp: start.Add(2 * time.Second), Phase: "warmup", Kind: message.KindText, LatencyMs: 12, StatusCode: 200, RoomID: "2"},
		{Timestamp: start.Add(11 * time.Second), Phase: "main", Kind: message.KindText, StatusCode: 500, RoomID: "1"},
		{Timestamp: start.Add(12 * time.Second), Phase: "main", Kind: message.KindLeave, LatencyMs: 30, StatusCode: 200, RoomID: "2"},
	}
	res := runner.Result{
		RunID:    "01HZYTESTRUN",
		Duration: 14 * time.Second,
		Overall: metrics.Summarize(metrics.Counters{
			Successes:          3,
			Failures:           1,
			ConnectionsCreated: 2,
			Reconnections:      1,
		}, 14*time.Second),
		Phases: []runner.PhaseResult{
			{Name: "warmup", Workers: 1, Requested: 2, Generated: 2, LiveConnections: 2,
				Summary: metrics.Summarize(metrics.Counters{Successes: 2}, 3*time.Second)},
			{Name: "main", Workers: 2, Requested: 2, Generated: 2, LiveConnections: 2,
				Summary: metrics.Summarize(metrics.Counters{Successes: 1, Failures: 1}, 10*time.Second)},
		},
	}
	if detailed {
		res.Records = records
	}
	return res
}

func sampleThresholds(t *testing.T) []threshold.Result {
	t.Helper()
	th, err := threshold.ParseMultiple([]string{"latency:p95 < 500", "failed:rate < 0.01"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	return threshold.NewEvaluator(th).Evaluate(threshold.Snapshot{
		Summary: sampleResult(false).Overall,
	})
}

func TestNewReportDetailed(t *testing.T) {
	rep := NewReport(sampleResult(true), ReportOptions{
		Target:      "ws://localhost:8080/chat/",
		Failures:    map[int]int64{500: 1},
		BucketWidth: 10 * time.Second,
	})

	if !rep.Detailed {
		t.Fatal("Detailed = false, want true")
	}
	if rep.Statistics == nil || rep.Statistics.Records != 4 {
		t.Fatalf("Statistics = %+v, want 4 records", rep.Statistics)
	}
	if rep.Statistics.Latency.Samples != 2 {
		t.Errorf("latency samples = %d, want 2", rep.Statistics.Latency.Samples)
	}
	if len(rep.Statistics.Buckets) != 2 {
		t.Errorf("buckets = %d, want 2", len(rep.Statistics.Buckets))
	}
	if len(rep.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(rep.Phases))
	}
	if rep.Phases[0].Statistics == nil || rep.Phases[0].Statistics.Records != 2 {
		t.Errorf("warmup statistics = %+v, want 2 records", rep.Phases[0].Statistics)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].Code != "500" {
		t.Errorf("Failures = %+v", rep.Failures)
	}
}

func TestNewReportBasicHasNoStatistics(t *testing.T) {
	rep := NewReport(sampleResult(false), ReportOptions{})
	if rep.Detailed || rep.Statistics != nil {
		t.Errorf("basic report carries statistics: %+v", rep.Statistics)
	}
	for _, p := range rep.Phases {
		if p.Statistics != nil {
			t.Errorf("phase %s carries statistics", p.Name)
		}
	}
	if rep.Thresholds != nil {
		t.Errorf("Thresholds = %+v, want nil", rep.Thresholds)
	}
}

func TestPrintReport(t *testing.T) {
	rep := NewReport(sampleResult(true), ReportOptions{
		Target:     "ws://localhost:8080/chat/",
		Failures:   map[int]int64{500: 1},
		Thresholds: sampleThresholds(t),
	})

	var buf bytes.Buffer
	PrintReport(&buf, rep)
	out := buf.String()

	for _, want := range []string{
		"Chat Load Test Results",
		"01HZYTESTRUN",
		"Total Messages:    4",
		"Successful:        3 (75.00%)",
		"2 created, 1 reconnections",
		"- warmup: workers=1",
		"- main: workers=2",
		"500 transport error: 1",
		"P95:",
		"TEXT",
		"room 2: 2",
		"Thresholds (0/2 passed)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestPrintPhase(t *testing.T) {
	rep := NewReport(sampleResult(false), ReportOptions{})
	var buf bytes.Buffer
	PrintPhase(&buf, rep.Phases[1])
	out := buf.String()
	if !strings.Contains(out, "main:") || !strings.Contains(out, "2/2 messages") || !strings.Contains(out, "1 failed") {
		t.Errorf("PrintPhase() = %q", out)
	}
}

func TestPrintJSONReport(t *testing.T) {
	rep := NewReport(sampleResult(true), ReportOptions{Thresholds: sampleThresholds(t)})

	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, rep); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "01HZYTESTRUN" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	overall, ok := decoded["overall"].(map[string]interface{})
	if !ok {
		t.Fatalf("overall = %T", decoded["overall"])
	}
	if overall["successes"] != float64(3) {
		t.Errorf("overall.successes = %v, want 3", overall["successes"])
	}
	if _, ok := decoded["statistics"]; !ok {
		t.Error("statistics missing from detailed JSON report")
	}
	if _, ok := decoded["thresholds"]; !ok {
		t.Error("thresholds missing from JSON report")
	}
}

func TestPrintYAMLReport(t *testing.T) {
	rep := NewReport(sampleResult(false), ReportOptions{})

	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, rep); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}

	var decoded struct {
		RunID   string `yaml:"run_id"`
		Overall struct {
			Successes int64   `yaml:"successes"`
			Failures  int64   `yaml:"failures"`
			Rate      float64 `yaml:"throughput_per_sec"`
		} `yaml:"overall"`
		Phases []struct {
			Name string `yaml:"name"`
		} `yaml:"phases"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded.RunID != "01HZYTESTRUN" || decoded.Overall.Successes != 3 || decoded.Overall.Failures != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Phases) != 2 || decoded.Phases[0].Name != "warmup" {
		t.Errorf("phases = %+v", decoded.Phases)
	}
	if strings.Contains(buf.String(), "statistics:") {
		t.Error("basic YAML report should omit statistics")
	}
}
