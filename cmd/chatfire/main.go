package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/chatfire/internal/config"
	"github.com/torosent/chatfire/internal/corpus"
	"github.com/torosent/chatfire/internal/dashboard"
	"github.com/torosent/chatfire/internal/generator"
	"github.com/torosent/chatfire/internal/metrics"
	"github.com/torosent/chatfire/internal/output"
	"github.com/torosent/chatfire/internal/runner"
	"github.com/torosent/chatfire/internal/stats"
	"github.com/torosent/chatfire/internal/threshold"
	"github.com/torosent/chatfire/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	chatCorpus, err := corpus.LoadOrDefault(cfg.CorpusFile)
	if err != nil {
		logger.Warn("using default message corpus", zap.Error(err))
	}
	arrival, err := generator.ParseArrivalModel(string(cfg.Arrival.Model))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing traces failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(cfg.Detailed)
	r := runner.New(buildRunnerOptions(cfg, collector, chatCorpus, arrival, provider, logger))
	logger.Info("starting run",
		zap.String("run_id", r.RunID()),
		zap.String("target", cfg.TargetURL),
		zap.Int("total", cfg.Total),
		zap.Bool("detailed", cfg.Detailed),
		zap.String("corpus", chatCorpus.Source()),
	)

	gauges := metrics.Gauges{
		LiveConnections: func() float64 { return float64(r.LiveConnections()) },
		QueueDepth:      func() float64 { return float64(r.QueueDepth()) },
	}

	if cfg.MetricsAddr != "" {
		serveCtx, stopServing := context.WithCancel(context.Background())
		defer stopServing()
		exporter := metrics.NewExporter(collector, r.RunID(), gauges)
		go func() {
			if err := exporter.Serve(serveCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, gauges, dashboardConfig(cfg), cancel)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.Dashboard && !cfg.JSONOutput && !cfg.YAMLOutput {
		progress = output.NewProgressReporter(collector, gauges, progressInterval, stdout)
		progress.Start()
	}

	res, runErr := r.Run(ctx)

	if progress != nil {
		progress.Stop()
	}
	if dash != nil {
		dash.Stop()
	}

	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(threshold.Snapshot{
			Summary: res.Overall,
			Latency: stats.Latency(res.Records),
		})
	}

	rep := output.NewReport(res, output.ReportOptions{
		Target:      cfg.TargetURL,
		Failures:    collector.FailuresByStatus(),
		BucketWidth: cfg.BucketWidth,
		Thresholds:  results,
	})
	if err := writeReports(stdout, cfg, rep, res.Records); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("run interrupted, report covers completed messages only")
		} else {
			return runErr
		}
	}
	if !threshold.AllPassed(results) {
		failed := 0
		for _, tr := range results {
			if !tr.Pass {
				failed++
			}
		}
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

func buildRunnerOptions(cfg *config.Config, collector *metrics.Collector, c *corpus.Corpus, arrival generator.ArrivalModel, provider *tracing.Provider, logger *zap.Logger) runner.Options {
	return runner.Options{
		BaseURL:       cfg.TargetURL,
		Headers:       makeHeaders(cfg.Headers),
		Phases:        runner.DefaultPhases(cfg.Total, cfg.WarmupWorkers, cfg.WarmupMessages, cfg.Workers),
		PhasePause:    cfg.PhasePause,
		QueueCapacity: cfg.QueueCapacity,
		Generator: generator.Options{
			MinUserID: cfg.Users.Min,
			MaxUserID: cfg.Users.Max,
			MinRoomID: cfg.Rooms.Min,
			MaxRoomID: cfg.Rooms.Max,
			Distribution: generator.Distribution{
				Text:  cfg.Mix.Text,
				Join:  cfg.Mix.Join,
				Leave: cfg.Mix.Leave,
			},
			Corpus:        c,
			RatePerSecond: cfg.Rate,
			ArrivalModel:  arrival,
			Seed:          cfg.Seed,
			Logger:        logger,
		},
		Detailed:       cfg.Detailed,
		SampleEvery:    cfg.SampleEvery,
		Retry:          runner.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseBackoff: cfg.Backoff},
		PopTimeout:     cfg.PopTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
		ConnectTimeout: cfg.ConnectTimeout,
		AckTimeout:     cfg.AckTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Collector:      collector,
		Logger:         logger,
		Tracer:         provider.Tracer(),
		Propagate:      provider.ShouldPropagate(),
	}
}

func writeReports(stdout io.Writer, cfg *config.Config, rep output.Report, records []metrics.Record) error {
	switch {
	case cfg.JSONOutput:
		if err := output.PrintJSONReport(stdout, rep); err != nil {
			return err
		}
	case cfg.YAMLOutput:
		if err := output.PrintYAMLReport(stdout, rep); err != nil {
			return err
		}
	default:
		for _, p := range rep.Phases {
			output.PrintPhase(stdout, p)
		}
		output.PrintReport(stdout, rep)
	}

	if cfg.CSVOutput != "" {
		if err := output.WriteCSV(cfg.CSVOutput, records); err != nil {
			return err
		}
	}
	if cfg.HTMLOutput != "" {
		if err := output.WriteHTMLReport(cfg.HTMLOutput, rep, cfg.BucketWidth); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string, format config.LogFormat) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if format != config.LogFormatJSON {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func dashboardConfig(cfg *config.Config) dashboard.TestConfig {
	return dashboard.TestConfig{
		TargetURL:     cfg.TargetURL,
		Workers:       cfg.Workers,
		WarmupWorkers: cfg.WarmupWorkers,
		Total:         cfg.Total,
		Rate:          float64(cfg.Rate),
		Arrival:       string(cfg.Arrival.Model),
		MaxAttempts:   cfg.MaxAttempts,
		AckTimeout:    cfg.AckTimeout,
		Detailed:      cfg.Detailed,
		ConfigFile:    cfg.ConfigFile,
	}
}

func makeHeaders(h map[string]string) http.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make(http.Header, len(h))
	for k, v := range h {
		headers.Set(k, v)
	}
	return headers
}
