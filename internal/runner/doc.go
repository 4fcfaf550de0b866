// Package runner is the load engine of chatfire.
//
// A run is a sequence of phases (by default a warmup followed by the main
// load). Each phase starts one generator goroutine and N worker goroutines
// that share a bounded queue:
//
//	r := runner.New(runner.Options{
//		BaseURL:  "ws://localhost:8080/chat/",
//		Phases:   runner.DefaultPhases(500_000, 32, 1000, 200),
//		Detailed: true,
//	})
//	result, err := r.Run(ctx)
//
// Workers pop their share of items, acquire the shared connection for the
// item's room from the pool, and send. In the detailed profile every
// SampleEvery-th item of a worker is a measured send that waits for the
// server's acknowledgment; every other send is fire-and-forget.
//
// # Retries
//
// Each item gets up to [RetryPolicy.MaxAttempts] attempts with a linear
// [Backoff] between them. Connection and transport failures also count as
// reconnections. Whatever happens, each processed item produces exactly one
// metrics.Record.
//
// # Escalation
//
// Per-item failures never stop a run. A generator abort or a phase whose
// workers outlive [Options.ShutdownGrace] ends the run with an error; the
// partial [Result] is still returned.
package runner
