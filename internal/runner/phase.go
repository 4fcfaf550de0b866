package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/chatfire/internal/generator"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/queue"
	"github.com/torosent/chatfire/internal/tracing"
)

// ErrPhaseTimeout is returned when workers outlive the shutdown grace period
// after the generator has finished.
var ErrPhaseTimeout = errors.New("phase workers did not finish within the shutdown grace period")

// PhaseSpec describes one load phase.
type PhaseSpec struct {
	Name     string
	Workers  int
	Messages int
}

// PhaseResult summarizes one completed phase.
type PhaseResult struct {
	Name            string
	Workers         int
	Requested       int
	Generated       int
	Summary         metrics.Summary
	LiveConnections int
	Started         time.Time
}

// runPhase runs one producer and spec.Workers consumers over a fresh queue
// and waits for all of them.
func (r *Runner) runPhase(ctx context.Context, index int, spec PhaseSpec) (PhaseResult, error) {
	log := r.log.With(zap.String("phase", spec.Name))
	res := PhaseResult{Name: spec.Name, Workers: spec.Workers, Requested: spec.Messages, Started: time.Now()}

	ctx, span := tracing.StartPhaseSpan(ctx, r.tracer, spec.Name, spec.Workers, spec.Messages)
	var phaseErr error
	defer func() { tracing.EndSpan(span, phaseErr) }()

	q := queue.New(r.opt.QueueCapacity)
	r.queue.Store(q)
	defer r.queue.Store(nil)

	genOpts := r.opt.Generator
	genOpts.Total = spec.Messages
	genOpts.Logger = log
	if genOpts.Seed != 0 {
		genOpts.Seed += int64(index)
	}
	gen := generator.New(genOpts)

	before := r.collector.Counters()
	log.Info("phase started", zap.Int("workers", spec.Workers), zap.Int("messages", spec.Messages))

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(phaseCtx)

	genDone := make(chan struct{})
	g.Go(func() error {
		defer close(genDone)
		n, err := gen.Run(gctx, q)
		res.Generated = n
		if err != nil {
			return fmt.Errorf("phase %s: %w", spec.Name, err)
		}
		return nil
	})

	for i, share := range Shares(spec.Messages, spec.Workers) {
		w := &worker{
			id:          i,
			share:       share,
			phase:       spec.Name,
			queue:       q,
			conns:       r.pool,
			collector:   r.collector,
			policy:      r.opt.Retry,
			sampleEvery: r.sampleEvery(),
			popTimeout:  r.opt.PopTimeout,
			tracer:      r.tracer,
			log:         log,
		}
		g.Go(func() error {
			w.run(gctx)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	phaseErr = r.awaitPhase(done, genDone, cancel, log)
	q.Close()

	after := r.collector.Counters()
	res.Summary = metrics.Summarize(after.Sub(before), time.Since(res.Started))
	res.LiveConnections = r.pool.LiveCount()

	log.Info("phase completed",
		zap.Int64("successes", res.Summary.Successes),
		zap.Int64("failures", res.Summary.Failures),
		zap.Int64("dropped", res.Summary.Dropped),
		zap.Duration("elapsed", res.Summary.Elapsed),
		zap.Float64("throughput", res.Summary.Throughput),
	)
	return res, phaseErr
}

// awaitPhase waits for the group. Once the generator has finished, workers get
// ShutdownGrace to drain; past that the phase is cancelled and reported as
// timed out.
func (r *Runner) awaitPhase(done <-chan error, genDone <-chan struct{}, cancel context.CancelFunc, log *zap.Logger) error {
	select {
	case err := <-done:
		return err
	case <-genDone:
	}

	grace := time.NewTimer(r.opt.ShutdownGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
		log.Error("phase shutdown grace exceeded, cancelling workers", zap.Duration("grace", r.opt.ShutdownGrace))
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		return ErrPhaseTimeout
	}
}
