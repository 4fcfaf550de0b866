package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/runner"
	"github.com/torosent/chatfire/internal/stats"
	"github.com/torosent/chatfire/internal/threshold"
)

// Report is the complete, serializable result of a run.
type Report struct {
	RunID      string                 `json:"run_id" yaml:"run_id"`
	Target     string                 `json:"target,omitempty" yaml:"target,omitempty"`
	Detailed   bool                   `json:"detailed" yaml:"detailed"`
	DurationMs float64                `json:"duration_ms" yaml:"duration_ms"`
	Phases     []PhaseReport          `json:"phases" yaml:"phases"`
	Overall    metrics.Summary        `json:"overall" yaml:"overall"`
	Failures   []metrics.StatusBucket `json:"failures,omitempty" yaml:"failures,omitempty"`
	Statistics *stats.Report          `json:"statistics,omitempty" yaml:"statistics,omitempty"`
	Thresholds *ThresholdSummary      `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// PhaseReport is one phase's section of a Report.
type PhaseReport struct {
	Name            string          `json:"name" yaml:"name"`
	Workers         int             `json:"workers" yaml:"workers"`
	Requested       int             `json:"requested" yaml:"requested"`
	Generated       int             `json:"generated" yaml:"generated"`
	LiveConnections int             `json:"live_connections" yaml:"live_connections"`
	Summary         metrics.Summary `json:"summary" yaml:"summary"`
	Statistics      *stats.Report   `json:"statistics,omitempty" yaml:"statistics,omitempty"`
}

// ThresholdSummary tallies threshold outcomes.
type ThresholdSummary struct {
	Total   int                   `json:"total" yaml:"total"`
	Passed  int                   `json:"passed" yaml:"passed"`
	Failed  int                   `json:"failed" yaml:"failed"`
	Results []ThresholdResultJSON `json:"results" yaml:"results"`
}

// ThresholdResultJSON is the serializable form of a threshold.Result.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
}

// ReportOptions carry the inputs of NewReport that the runner result lacks.
type ReportOptions struct {
	Target      string
	Failures    map[int]int64
	BucketWidth time.Duration
	Thresholds  []threshold.Result
}

// NewReport assembles a Report. Statistics are computed only when the
// result carries detailed records.
func NewReport(res runner.Result, opt ReportOptions) Report {
	rep := Report{
		RunID:      res.RunID,
		Target:     opt.Target,
		Detailed:   res.Records != nil,
		DurationMs: float64(res.Duration) / float64(time.Millisecond),
		Overall:    res.Overall,
		Failures:   metrics.FlattenStatusCounts(opt.Failures),
		Thresholds: SummarizeThresholds(opt.Thresholds),
	}
	for _, p := range res.Phases {
		pr := PhaseReport{
			Name:            p.Name,
			Workers:         p.Workers,
			Requested:       p.Requested,
			Generated:       p.Generated,
			LiveConnections: p.LiveConnections,
			Summary:         p.Summary,
		}
		if rep.Detailed {
			s := stats.Analyze(stats.FilterPhase(res.Records, p.Name), opt.BucketWidth)
			pr.Statistics = &s
		}
		rep.Phases = append(rep.Phases, pr)
	}
	if rep.Detailed {
		s := stats.Analyze(res.Records, opt.BucketWidth)
		rep.Statistics = &s
	}
	return rep
}

// SummarizeThresholds converts results for serialization; nil when empty.
func SummarizeThresholds(results []threshold.Result) *ThresholdSummary {
	if len(results) == 0 {
		return nil
	}
	sum := &ThresholdSummary{
		Total:   len(results),
		Results: make([]ThresholdResultJSON, len(results)),
	}
	for i, tr := range results {
		sum.Results[i] = ThresholdResultJSON{
			Threshold: tr.Threshold.Raw,
			Metric:    tr.Threshold.Metric,
			Aggregate: tr.Threshold.Aggregate,
			Operator:  tr.Threshold.Operator,
			Expected:  tr.Threshold.Value,
			Actual:    tr.Actual,
			Pass:      tr.Pass,
		}
		if tr.Pass {
			sum.Passed++
		} else {
			sum.Failed++
		}
	}
	return sum
}

// PrintPhase outputs the one-line completion summary of a phase.
func PrintPhase(w io.Writer, p PhaseReport) {
	fmt.Fprintf(w, "Phase %-8s %d workers | %d/%d messages | %s | %.2f msg/s | %d ok, %d failed | %d live connections\n",
		p.Name+":",
		p.Workers,
		p.Summary.Processed(),
		p.Requested,
		p.Summary.Elapsed.Round(time.Millisecond),
		p.Summary.Throughput,
		p.Summary.Successes,
		p.Summary.Failures,
		p.LiveConnections,
	)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, rep Report) {
	fmt.Fprintln(w, "\n--- Chat Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", rep.RunID)
	if rep.Target != "" {
		fmt.Fprintf(w, "Target:            %s\n", rep.Target)
	}
	fmt.Fprintf(w, "Total Messages:    %d\n", rep.Overall.Processed())
	fmt.Fprintf(w, "Successful:        %d (%.2f%%)\n", rep.Overall.Successes, rep.Overall.SuccessPct)
	fmt.Fprintf(w, "Failed:            %d\n", rep.Overall.Failures)
	if rep.Overall.Dropped > 0 {
		fmt.Fprintf(w, "Dropped:           %d\n", rep.Overall.Dropped)
	}
	fmt.Fprintf(w, "Duration:          %s\n", rep.Overall.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Messages/sec:      %.2f\n", rep.Overall.Throughput)
	fmt.Fprintf(w, "Connections:       %d created, %d reconnections\n", rep.Overall.ConnectionsCreated, rep.Overall.Reconnections)

	if len(rep.Phases) > 0 {
		fmt.Fprintln(w, "\nPhases:")
		for _, p := range rep.Phases {
			fmt.Fprintf(w, "  - %s: workers=%d, messages=%d/%d, successes=%d, failures=%d, duration=%s, rate=%.2f/s\n",
				p.Name,
				p.Workers,
				p.Summary.Processed(),
				p.Requested,
				p.Summary.Successes,
				p.Summary.Failures,
				p.Summary.Elapsed.Round(time.Millisecond),
				p.Summary.Throughput,
			)
		}
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures by Status:")
		for _, row := range rep.Failures {
			fmt.Fprintf(w, "  %s %s: %d\n", row.Code, row.Label, row.Count)
		}
	}

	if rep.Statistics != nil {
		printStatistics(w, *rep.Statistics)
	}

	if rep.Thresholds != nil {
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", rep.Thresholds.Passed, rep.Thresholds.Total)
		for _, r := range rep.Thresholds.Results {
			mark := "✓"
			if !r.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s: %.2f %s %.2f\n", mark, r.Threshold, r.Actual, r.Operator, r.Expected)
		}
	}
}

func printStatistics(w io.Writer, s stats.Report) {
	fmt.Fprintln(w, "\nLatency (measured replies):")
	if s.Latency.Samples == 0 {
		fmt.Fprintln(w, "  None")
	} else {
		fmt.Fprintf(w, "  Samples:         %d\n", s.Latency.Samples)
		fmt.Fprintf(w, "  Min:             %dms\n", s.Latency.MinMs)
		fmt.Fprintf(w, "  Max:             %dms\n", s.Latency.MaxMs)
		fmt.Fprintf(w, "  Mean:            %.2fms\n", s.Latency.MeanMs)
		fmt.Fprintf(w, "  P50:             %dms\n", s.Latency.P50Ms)
		fmt.Fprintf(w, "  P95:             %dms\n", s.Latency.P95Ms)
		fmt.Fprintf(w, "  P99:             %dms\n", s.Latency.P99Ms)
	}

	if len(s.Kinds) > 0 {
		fmt.Fprintln(w, "\nMessage Types:")
		for _, k := range s.Kinds {
			fmt.Fprintf(w, "  %-6s %d (%.1f%%)\n", k.Kind, k.Count, k.Percent)
		}
	}

	if len(s.Rooms) > 0 {
		fmt.Fprintln(w, "\nRoom Throughput:")
		for _, r := range s.Rooms {
			fmt.Fprintf(w, "  room %s: %d\n", r.RoomID, r.Count)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, rep Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}
