package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/torosent/chatfire/internal/metrics"
)

// ProgressReporter rewrites a single status line while a run is active.
type ProgressReporter struct {
	collector *metrics.Collector
	gauges    metrics.Gauges
	interval  time.Duration
	out       io.Writer

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	quit      chan struct{}
	exited    chan struct{}
	begin     time.Time
}

// NewProgressReporter returns a reporter that refreshes every interval.
// Gauges with nil funcs are left off the line.
func NewProgressReporter(collector *metrics.Collector, gauges metrics.Gauges, interval time.Duration, out io.Writer) *ProgressReporter {
	if out == nil {
		out = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		gauges:    gauges,
		interval:  interval,
		out:       out,
		quit:      make(chan struct{}),
		exited:    make(chan struct{}),
		begin:     time.Now(),
	}
}

// Start launches the refresh loop. Later calls are no-ops.
func (p *ProgressReporter) Start() {
	p.startOnce.Do(func() {
		p.started = true
		go p.loop()
	})
}

// Stop ends the refresh loop and terminates the status line. It is safe to
// call more than once.
func (p *ProgressReporter) Stop() {
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() {})
		if !p.started {
			return
		}
		close(p.quit)
		<-p.exited
		fmt.Fprintln(p.out)
	})
}

func (p *ProgressReporter) loop() {
	defer close(p.exited)
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-tick.C:
			io.WriteString(p.out, p.line(time.Since(p.begin)))
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	s := p.collector.Summary(elapsed)
	fields := []string{
		fmt.Sprintf("Messages: %d", s.Processed()),
		fmt.Sprintf("Successes: %d", s.Successes),
		fmt.Sprintf("Failures: %d", s.Failures),
		fmt.Sprintf("Msg/s: %.1f", s.Throughput),
	}
	if s.Dropped > 0 {
		fields = append(fields, fmt.Sprintf("Dropped: %d", s.Dropped))
	}
	if g := p.gauges.LiveConnections; g != nil {
		fields = append(fields, fmt.Sprintf("Connections: %.0f", g()))
	}
	if g := p.gauges.QueueDepth; g != nil {
		fields = append(fields, fmt.Sprintf("Queue: %.0f", g()))
	}
	return "\r" + strings.Join(fields, " | ")
}
