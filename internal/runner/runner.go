package runner

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/chatfire/internal/generator"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/pool"
	"github.com/torosent/chatfire/internal/queue"
	"github.com/torosent/chatfire/internal/tracing"
	"github.com/torosent/chatfire/internal/websocket"
)

// Defaults for a run.
const (
	DefaultPopTimeout    = 30 * time.Second
	DefaultShutdownGrace = 60 * time.Second
	DefaultPhasePause    = time.Second
	DefaultSampleEvery   = 20
)

// Options configure the Runner.
type Options struct {
	RunID          string
	BaseURL        string // room id is appended to form each destination
	Headers        http.Header
	Phases         []PhaseSpec
	PhasePause     time.Duration
	QueueCapacity  int
	Generator      generator.Options // Total is set per phase
	Detailed       bool              // keep records and measure every SampleEvery-th send
	SampleEvery    int
	Retry          RetryPolicy
	PopTimeout     time.Duration
	ShutdownGrace  time.Duration
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	WriteTimeout   time.Duration
	Collector      *metrics.Collector
	Dial           pool.DialFunc[Conn] // optional injection for tests
	Logger         *zap.Logger
	Tracer         trace.Tracer
	Propagate      bool // inject W3C trace context into handshake headers
}

func (o *Options) normalize() {
	if o.RunID == "" {
		o.RunID = NewRunID()
	}
	if o.PhasePause < 0 {
		o.PhasePause = 0
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = queue.DefaultCapacity
	}
	if o.SampleEvery <= 0 {
		o.SampleEvery = DefaultSampleEvery
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if o.Retry.BaseBackoff <= 0 && o.Retry.DelayFunc == nil {
		o.Retry.BaseBackoff = DefaultBaseBackoff
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = DefaultPopTimeout
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector(o.Detailed)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("chatfire")
	}
}

// DefaultPhases splits total into a warmup of warmupWorkers*perWorker items,
// capped at total, followed by a main phase carrying the remainder.
func DefaultPhases(total, warmupWorkers, perWorker, mainWorkers int) []PhaseSpec {
	warmup := warmupWorkers * perWorker
	if warmup > total {
		warmup = total
	}
	var phases []PhaseSpec
	if warmup > 0 && warmupWorkers > 0 {
		phases = append(phases, PhaseSpec{Name: "warmup", Workers: warmupWorkers, Messages: warmup})
	}
	if rest := total - warmup; rest > 0 && mainWorkers > 0 {
		phases = append(phases, PhaseSpec{Name: "main", Workers: mainWorkers, Messages: rest})
	}
	return phases
}

// Result captures execution summary.
type Result struct {
	RunID    string
	Phases   []PhaseResult
	Overall  metrics.Summary
	Duration time.Duration
	Records  []metrics.Record
}

// Runner orchestrates the phases of a run over one shared connection pool
// and one metrics collector.
type Runner struct {
	opt       Options
	collector *metrics.Collector
	pool      *pool.ConnectionPool[Conn]
	queue     atomic.Pointer[queue.Queue]
	tracer    trace.Tracer
	log       *zap.Logger
}

func New(opt Options) *Runner {
	opt.normalize()
	r := &Runner{
		opt:       opt,
		collector: opt.Collector,
		tracer:    opt.Tracer,
		log:       opt.Logger.With(zap.String("run_id", opt.RunID)),
	}
	dial := opt.Dial
	if dial == nil {
		dial = r.dial
	}
	r.pool = pool.New[Conn](dial, r.log)
	r.pool.OnCreate = func(string) { r.collector.ConnectionCreated() }
	return r
}

// RunID identifies this run in logs, metrics and reports.
func (r *Runner) RunID() string { return r.opt.RunID }

// Collector returns the run's metrics collector.
func (r *Runner) Collector() *metrics.Collector { return r.collector }

// LiveConnections reports how many pooled connections are alive.
func (r *Runner) LiveConnections() int { return r.pool.LiveCount() }

// QueueDepth reports the items waiting in the active phase's queue.
func (r *Runner) QueueDepth() int {
	if q := r.queue.Load(); q != nil {
		return q.Len()
	}
	return 0
}

// Run executes every phase in order, pausing between them, then closes all
// connections. Per-item failures never stop a run; a generator abort or a
// phase shutdown timeout ends it early with an error alongside the partial
// result.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{RunID: r.opt.RunID}

	var runErr error
	for i, spec := range r.opt.Phases {
		if i > 0 && r.opt.PhasePause > 0 {
			select {
			case <-time.After(r.opt.PhasePause):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		phase, err := r.runPhase(ctx, i, spec)
		res.Phases = append(res.Phases, phase)
		if err != nil {
			runErr = err
			break
		}
	}

	if err := r.pool.CloseAll(); err != nil {
		r.log.Debug("closing connections reported errors", zap.Error(err))
	}

	res.Duration = time.Since(start)
	res.Overall = r.collector.Summary(res.Duration)
	res.Records = r.collector.Records()
	return res, runErr
}

func (r *Runner) sampleEvery() int {
	if !r.opt.Detailed {
		return 0
	}
	return r.opt.SampleEvery
}

func (r *Runner) dial(ctx context.Context, room string) (Conn, error) {
	headers := r.opt.Headers.Clone()
	if r.opt.Propagate {
		if headers == nil {
			headers = make(http.Header)
		}
		tracing.InjectHTTPHeaders(ctx, headers)
	}
	conn, err := websocket.Dial(ctx, websocket.Config{
		URL:              r.opt.BaseURL + room,
		Headers:          headers,
		HandshakeTimeout: r.opt.ConnectTimeout,
		AckTimeout:       r.opt.AckTimeout,
		WriteTimeout:     r.opt.WriteTimeout,
		Logger:           r.log,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewRunID returns a lexically sortable unique run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (p PhaseSpec) String() string {
	return fmt.Sprintf("%s (%d workers × %d messages)", p.Name, p.Workers, p.Messages)
}
