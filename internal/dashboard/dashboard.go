package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/chatfire/internal/metrics"
)

const historySize = 100

// TestConfig holds load test configuration parameters for display.
type TestConfig struct {
	TargetURL     string        // WebSocket endpoint
	Workers       int           // Main phase workers
	WarmupWorkers int           // Warm-up phase workers
	Total         int           // Messages to generate
	Rate          float64       // Messages per second (0 = unlimited)
	Arrival       string        // Arrival model when rate limited
	MaxAttempts   int           // Send attempts per message
	AckTimeout    time.Duration // Wait for a reply on measured sends
	Detailed      bool          // Per-message records kept
	ConfigFile    string        // Path to config file if used
}

// Dashboard renders a live terminal UI for load test metrics.
type Dashboard struct {
	collector    *metrics.Collector
	gauges       metrics.Gauges
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rateGauge      *widgets.Gauge
	errorList      *widgets.List
	summaryPara    *widgets.Paragraph
	metricsPara    *widgets.Paragraph
	connPara       *widgets.Paragraph

	latencyHistory []float64
	peakRate       float64
	lastProcessed  int64
	lastUpdateTime time.Time
	startTime      time.Time
	testDuration   time.Duration
	testConfig     TestConfig
}

// New creates a new Dashboard. shutdownFunc is invoked when the user presses
// q or Ctrl+C.
func New(collector *metrics.Collector, gauges metrics.Gauges, cfg TestConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:      collector,
		gauges:         gauges,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historySize),
		startTime:      time.Now(),
		lastUpdateTime: time.Now(),
		testConfig:     cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Ack latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Real-time Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "No measured sends yet"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rateGauge = widgets.NewGauge()
	d.rateGauge.Title = "Messages Per Second"
	d.rateGauge.Percent = 0
	d.rateGauge.BarColor = ui.ColorRed
	d.rateGauge.BorderStyle.Fg = ui.ColorCyan
	d.rateGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.errorList = widgets.NewList()
	d.errorList.Title = "Failures by Status"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Test Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Messages"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan

	d.connPara = widgets.NewParagraph()
	d.connPara.Title = "Connections"
	d.connPara.Text = "No connections"
	d.connPara.TextStyle = ui.NewStyle(ui.ColorGreen)
	d.connPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.5, d.rateGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.5, d.connPara),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.testDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// FinalSummary returns the collector summary over the dashboard's lifetime.
func (d *Dashboard) FinalSummary() metrics.Summary {
	return d.collector.Summary(d.testDuration)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run has drained.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(time.Now())
			d.render()
		}
	}
}

// update refreshes all widget data from the collector.
func (d *Dashboard) update(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := now.Sub(d.startTime)
	sum := d.collector.Summary(elapsed)
	lat := d.collector.Latency()

	current := d.currentRate(sum.Processed(), now)
	if current > d.peakRate {
		d.peakRate = current
	}
	ceiling := d.peakRate
	if ceiling < 100 {
		ceiling = 100
	}
	d.rateGauge.Percent = int(current / ceiling * 100)
	d.rateGauge.Label = fmt.Sprintf("%.1f msg/s (peak %.1f)", current, d.peakRate)

	if lat.Count > 0 {
		d.latencyHistory = appendBounded(d.latencyHistory, durationMs(lat.Mean))
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Real-time Latency | Mean: %.2fms | P99: %.2fms | Max: %.2fms",
			durationMs(lat.Mean), durationMs(lat.P99), durationMs(lat.Max))
	}
	d.latencyPara.Text = formatLatency(lat)

	d.summaryPara.Text = fmt.Sprintf(
		"Target: %s\n%s\nElapsed: %s | Messages: %d | Success Rate: %.1f%%",
		d.testConfig.TargetURL,
		d.formatTestParams(),
		elapsed.Round(time.Second),
		sum.Processed(),
		sum.SuccessPct,
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Total Messages:    %d\nSent:              %d\nFailed:            %d\nDropped:           %d\nAverage Msg/s:     %.2f",
		sum.Processed(),
		sum.Successes,
		sum.Failures,
		sum.Dropped,
		sum.Throughput,
	)

	d.connPara.Text = d.formatConnections(sum.Counters)
	d.errorList.Rows = formatStatusListRows(d.collector.FailuresByStatus())
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

// currentRate is the processed-message rate since the previous update.
func (d *Dashboard) currentRate(processed int64, now time.Time) float64 {
	window := now.Sub(d.lastUpdateTime)
	delta := processed - d.lastProcessed
	d.lastProcessed = processed
	d.lastUpdateTime = now
	if window <= 0 {
		return 0
	}
	return float64(delta) / window.Seconds()
}

func (d *Dashboard) formatConnections(c metrics.Counters) string {
	lines := []string{
		fmt.Sprintf("[Created:](fg:white)        [%d](fg:yellow)", c.ConnectionsCreated),
		fmt.Sprintf("[Reconnections:](fg:white)  [%d](fg:yellow)", c.Reconnections),
	}
	if d.gauges.LiveConnections != nil {
		lines = append(lines, fmt.Sprintf("[Live:](fg:white)           [%.0f](fg:yellow)", d.gauges.LiveConnections()))
	}
	if d.gauges.QueueDepth != nil {
		lines = append(lines, fmt.Sprintf("[Queue depth:](fg:white)    [%.0f](fg:yellow)", d.gauges.QueueDepth()))
	}
	return strings.Join(lines, "\n")
}

func formatLatency(lat metrics.LatencySnapshot) string {
	if lat.Count == 0 {
		return "No measured sends yet"
	}
	return fmt.Sprintf(
		"Samples: %d\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms\nMax:  %.2fms",
		lat.Count,
		durationMs(lat.Mean),
		durationMs(lat.P50),
		durationMs(lat.P90),
		durationMs(lat.P99),
		durationMs(lat.Max),
	)
}

func formatStatusListRows(counts map[int]int64) []string {
	rows := metrics.FlattenStatusCounts(counts)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > 10 {
		rows = rows[:10]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s %s](fg:red) %d", row.Code, row.Label, row.Count))
	}
	return formatted
}

// formatTestParams formats the test configuration parameters for display.
func (d *Dashboard) formatTestParams() string {
	var parts []string

	if d.testConfig.WarmupWorkers > 0 {
		parts = append(parts, fmt.Sprintf("Warm-up: %d", d.testConfig.WarmupWorkers))
	}
	if d.testConfig.Workers > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", d.testConfig.Workers))
	}

	if d.testConfig.Rate > 0 {
		rate := fmt.Sprintf("Rate: %g/s", d.testConfig.Rate)
		if d.testConfig.Arrival != "" && d.testConfig.Arrival != "uniform" {
			rate += " " + d.testConfig.Arrival
		}
		parts = append(parts, rate)
	} else {
		parts = append(parts, "Rate: unlimited")
	}

	if d.testConfig.Total > 0 {
		parts = append(parts, fmt.Sprintf("Total: %d", d.testConfig.Total))
	}
	if d.testConfig.AckTimeout > 0 {
		parts = append(parts, fmt.Sprintf("Ack timeout: %s", d.testConfig.AckTimeout))
	}
	if d.testConfig.MaxAttempts > 1 {
		parts = append(parts, fmt.Sprintf("Attempts: %d", d.testConfig.MaxAttempts))
	}
	if d.testConfig.Detailed {
		parts = append(parts, "Detailed")
	}
	if d.testConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.testConfig.ConfigFile))
	}

	return strings.Join(parts, " | ")
}

func appendBounded(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
