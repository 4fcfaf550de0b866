package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/torosent/chatfire/internal/stats"
)

// HTMLReportData contains all data needed for the HTML report template.
type HTMLReportData struct {
	GeneratedAt string
	Report      Report
	Duration    time.Duration
	BucketWidth time.Duration
	Buckets     []stats.Bucket
	BucketsJSON string
}

// GenerateHTMLReport renders a standalone HTML report with an embedded
// throughput chart built from the run's time buckets.
func GenerateHTMLReport(w io.Writer, rep Report, bucketWidth time.Duration) error {
	if bucketWidth <= 0 {
		bucketWidth = stats.DefaultBucketWidth
	}
	var buckets []stats.Bucket
	if rep.Statistics != nil {
		buckets = rep.Statistics.Buckets
	}

	bucketsJSON, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("failed to marshal buckets: %w", err)
	}

	data := HTMLReportData{
		GeneratedAt: time.Now().Format(time.RFC3339),
		Report:      rep,
		Duration:    time.Duration(rep.DurationMs * float64(time.Millisecond)),
		BucketWidth: bucketWidth,
		Buckets:     buckets,
		BucketsJSON: string(bucketsJSON),
	}

	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Millisecond).String()
		},
		"formatFloat": func(f float64) string {
			return fmt.Sprintf("%.2f", f)
		},
		"formatPercent": func(part, total int64) string {
			if total == 0 {
				return "0.0"
			}
			return fmt.Sprintf("%.1f", (float64(part)/float64(total))*100)
		},
	}).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

// WriteHTMLReport renders the report into a file at path.
func WriteHTMLReport(path string, rep Report, bucketWidth time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	if err := GenerateHTMLReport(f, rep, bucketWidth); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Chatfire Load Test Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f7fa;
            color: #2c3e50;
            line-height: 1.6;
            padding: 20px;
        }
        .container {
            max-width: 1400px;
            margin: 0 auto;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        header {
            background: linear-gradient(135deg, #f97316 0%, #b91c1c 100%);
            color: white;
            padding: 30px 40px;
        }
        header h1 { font-size: 2rem; margin-bottom: 10px; }
        header .meta { opacity: 0.9; font-size: 0.9rem; }
        .content { padding: 40px; }
        .grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(220px, 1fr));
            gap: 20px;
            margin-bottom: 40px;
        }
        .card {
            background: #f8f9fa;
            border-radius: 8px;
            padding: 20px;
            border-left: 4px solid #f97316;
        }
        .card h3 {
            font-size: 0.9rem;
            color: #6c757d;
            text-transform: uppercase;
            letter-spacing: 0.5px;
            margin-bottom: 10px;
        }
        .card .value { font-size: 2rem; font-weight: bold; }
        .card .subvalue { font-size: 0.85rem; color: #6c757d; margin-top: 5px; }
        .card.success { border-left-color: #10b981; }
        .card.error { border-left-color: #ef4444; }
        .section { margin-bottom: 40px; }
        .section h2 {
            font-size: 1.5rem;
            margin-bottom: 20px;
            padding-bottom: 10px;
            border-bottom: 2px solid #e5e7eb;
        }
        .chart-container {
            border-radius: 8px;
            padding: 20px;
            margin-bottom: 30px;
            border: 1px solid #e5e7eb;
        }
        .chart { width: 100%; height: 300px; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 12px; border-bottom: 1px solid #e5e7eb; }
        th {
            background: #f8f9fa;
            font-weight: 600;
            color: #4b5563;
            font-size: 0.9rem;
            text-transform: uppercase;
        }
        .badge { display: inline-block; padding: 4px 12px; border-radius: 12px; font-size: 0.85rem; font-weight: 600; }
        .badge-success { background: #d1fae5; color: #065f46; }
        .badge-error { background: #fee2e2; color: #991b1b; }
        .latency-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
            gap: 15px;
        }
        .latency-item { background: #f8f9fa; padding: 15px; border-radius: 6px; text-align: center; }
        .latency-item .label { font-size: 0.85rem; color: #6c757d; }
        .latency-item .value { font-size: 1.3rem; font-weight: bold; }
    </style>
    <script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
</head>
<body>
    <div class="container">
        <header>
            <h1>🔥 Chatfire Load Test Report</h1>
            {{if .Report.Target}}<div class="meta">Target: {{.Report.Target}}</div>{{end}}
            <div class="meta">Run {{.Report.RunID}} | Generated: {{.GeneratedAt}} | Duration: {{formatDuration .Duration}}</div>
        </header>

        <div class="content">
            <div class="grid">
                <div class="card">
                    <h3>Total Messages</h3>
                    <div class="value">{{.Report.Overall.Processed}}</div>
                </div>
                <div class="card success">
                    <h3>Successful</h3>
                    <div class="value">{{.Report.Overall.Successes}}</div>
                    <div class="subvalue">{{formatFloat .Report.Overall.SuccessPct}}%</div>
                </div>
                <div class="card error">
                    <h3>Failed</h3>
                    <div class="value">{{.Report.Overall.Failures}}</div>
                    <div class="subvalue">{{formatPercent .Report.Overall.Failures .Report.Overall.Processed}}%</div>
                </div>
                <div class="card">
                    <h3>Messages/sec</h3>
                    <div class="value">{{formatFloat .Report.Overall.Throughput}}</div>
                </div>
                <div class="card">
                    <h3>Connections</h3>
                    <div class="value">{{.Report.Overall.ConnectionsCreated}}</div>
                    <div class="subvalue">{{.Report.Overall.Reconnections}} reconnections</div>
                </div>
            </div>

            {{if .Buckets}}
            <div class="section">
                <h2>Throughput Over Time</h2>
                <div class="chart-container">
                    <h3>Messages Per Second ({{formatDuration .BucketWidth}} buckets)</h3>
                    <div id="throughput-chart" class="chart"></div>
                </div>
            </div>
            {{end}}

            {{with .Report.Statistics}}
            <div class="section">
                <h2>Latency Statistics</h2>
                {{if .Latency.Samples}}
                <div class="latency-grid">
                    <div class="latency-item"><div class="label">Samples</div><div class="value">{{.Latency.Samples}}</div></div>
                    <div class="latency-item"><div class="label">Min</div><div class="value">{{.Latency.MinMs}}ms</div></div>
                    <div class="latency-item"><div class="label">Mean</div><div class="value">{{formatFloat .Latency.MeanMs}}ms</div></div>
                    <div class="latency-item"><div class="label">P50</div><div class="value">{{.Latency.P50Ms}}ms</div></div>
                    <div class="latency-item"><div class="label">P95</div><div class="value">{{.Latency.P95Ms}}ms</div></div>
                    <div class="latency-item"><div class="label">P99</div><div class="value">{{.Latency.P99Ms}}ms</div></div>
                    <div class="latency-item"><div class="label">Max</div><div class="value">{{.Latency.MaxMs}}ms</div></div>
                </div>
                {{else}}
                <p>No measured replies.</p>
                {{end}}
            </div>

            {{if .Kinds}}
            <div class="section">
                <h2>Message Types</h2>
                <table>
                    <thead><tr><th>Type</th><th>Count</th><th>Share</th></tr></thead>
                    <tbody>
                        {{range .Kinds}}
                        <tr><td>{{.Kind}}</td><td>{{.Count}}</td><td>{{formatFloat .Percent}}%</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
            {{end}}

            {{if .Report.Phases}}
            <div class="section">
                <h2>Phases</h2>
                <table>
                    <thead>
                        <tr><th>Phase</th><th>Workers</th><th>Messages</th><th>Success</th><th>Failed</th><th>Duration</th><th>Msg/sec</th></tr>
                    </thead>
                    <tbody>
                        {{range .Report.Phases}}
                        <tr>
                            <td><strong>{{.Name}}</strong></td>
                            <td>{{.Workers}}</td>
                            <td>{{.Summary.Processed}} / {{.Requested}}</td>
                            <td>{{.Summary.Successes}}</td>
                            <td>{{.Summary.Failures}}</td>
                            <td>{{formatDuration .Summary.Elapsed}}</td>
                            <td>{{formatFloat .Summary.Throughput}}</td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{if .Report.Failures}}
            <div class="section">
                <h2>Failures by Status</h2>
                <table>
                    <thead><tr><th>Code</th><th>Outcome</th><th>Count</th></tr></thead>
                    <tbody>
                        {{range .Report.Failures}}
                        <tr><td>{{.Code}}</td><td>{{.Label}}</td><td>{{.Count}}</td></tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}

            {{with .Report.Thresholds}}
            <div class="section">
                <h2>Thresholds ({{.Passed}}/{{.Total}} Passed)</h2>
                <table>
                    <thead>
                        <tr><th>Threshold</th><th>Metric</th><th>Expected</th><th>Actual</th><th>Status</th></tr>
                    </thead>
                    <tbody>
                        {{range .Results}}
                        <tr>
                            <td>{{.Threshold}}</td>
                            <td>{{.Metric}} ({{.Aggregate}})</td>
                            <td>{{.Operator}} {{formatFloat .Expected}}</td>
                            <td>{{formatFloat .Actual}}</td>
                            <td>
                                {{if .Pass}}<span class="badge badge-success">✓ PASS</span>{{else}}<span class="badge badge-error">✗ FAIL</span>{{end}}
                            </td>
                        </tr>
                        {{end}}
                    </tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    {{if .Buckets}}
    <script>
        const buckets = JSON.parse({{.BucketsJSON}});
        if (buckets && buckets.length > 0) {
            const el = document.getElementById('throughput-chart');
            new uPlot({
                title: "Messages Per Second",
                width: el.offsetWidth,
                height: 300,
                scales: { x: { time: false } },
                series: [
                    { label: "Time (s)" },
                    {
                        label: "Msg/s",
                        stroke: "#f97316",
                        fill: "rgba(249, 115, 22, 0.1)",
                        width: 2
                    }
                ],
                axes: [
                    { label: "Time (seconds)" },
                    { label: "Messages/sec" }
                ]
            }, [buckets.map(b => b.offset_seconds), buckets.map(b => b.per_second)], el);
        }
    </script>
    {{end}}
</body>
</html>
`
