package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatfire",
		Short:         "WebSocket chat load generator",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target flags
	flags.String("target", "", "Base WebSocket URL; the room id is appended (e.g. ws://localhost:8080/chat/)")
	flags.StringSlice("header", nil, "Additional handshake header in key=value form")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Load shape flags
	flags.IntP("total", "t", DefaultTotal, "Total number of messages across all phases")
	flags.Int("warmup-workers", DefaultWarmupWorkers, "Workers in the warmup phase (0 disables warmup)")
	flags.Int("warmup-messages", DefaultWarmupMessages, "Messages per warmup worker")
	flags.IntP("workers", "w", DefaultWorkers, "Workers in the main phase")
	flags.Int("queue-capacity", DefaultQueueCapacity, "Bounded work queue capacity")
	flags.Int("user-min", 1, "Smallest generated user id")
	flags.Int("user-max", DefaultMaxUserID, "Largest generated user id")
	flags.Int("room-min", 1, "Smallest generated room id")
	flags.Int("room-max", DefaultMaxRoomID, "Largest generated room id")
	flags.Float64("mix-text", 0.90, "Probability of a TEXT message")
	flags.Float64("mix-join", 0.05, "Probability of a JOIN message")
	flags.Float64("mix-leave", 0.05, "Probability of a LEAVE message")
	flags.IntP("rate", "r", 0, "Messages per second generated (0 means unlimited)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model to use when pacing messages (uniform or poisson)")
	flags.Int64("seed", 0, "Random seed for message generation (0 picks one from the clock)")
	flags.String("corpus", "", "Path to a message corpus (lines, CSV or JSON); built-in messages when empty")

	// Delivery flags
	flags.Int("max-attempts", DefaultMaxAttempts, "Send attempts per message")
	flags.Duration("backoff", DefaultBackoff, "Base retry backoff; attempt n waits n*backoff")
	flags.Duration("connect-timeout", DefaultConnectTimeout, "WebSocket handshake timeout")
	flags.Duration("ack-timeout", DefaultAckTimeout, "Wait for a measured message's reply")
	flags.Duration("write-timeout", DefaultWriteTimeout, "Deadline for writing one frame before the connection is dropped")
	flags.Duration("pop-timeout", DefaultPopTimeout, "Worker wait for the next queued message before giving up")
	flags.Duration("shutdown-grace", DefaultShutdownGrace, "Time workers get to finish after generation completes")
	flags.Duration("phase-pause", DefaultPhasePause, "Pause between phases")
	flags.Bool("detailed", false, "Measure sampled reply latency and keep per-message records")
	flags.Int("sample-every", DefaultSampleEvery, "Measure every n-th message of each worker in detailed mode")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted report")
	flags.Bool("yaml-output", false, "Emit YAML formatted report")
	flags.String("csv-output", "", "Write per-message records to the specified CSV file (detailed mode)")
	flags.String("html-output", "", "Generate HTML throughput report to the specified file path (detailed mode)")
	flags.Duration("bucket-width", DefaultBucketWidth, "Throughput chart bucket width")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", string(LogFormatConsole), "Log format: console or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g., 'latency:p95 < 500')")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for trace export (tracing disabled when empty)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of phases traced (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into handshake headers")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"target", &cfg.TargetURL},
		{"corpus", &cfg.CorpusFile},
		{"csv-output", &cfg.CSVOutput},
		{"html-output", &cfg.HTMLOutput},
		{"log-level", &cfg.LogLevel},
		{"metrics-addr", &cfg.MetricsAddr},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range strs {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"total", &cfg.Total},
		{"warmup-workers", &cfg.WarmupWorkers},
		{"warmup-messages", &cfg.WarmupMessages},
		{"workers", &cfg.Workers},
		{"queue-capacity", &cfg.QueueCapacity},
		{"user-min", &cfg.Users.Min},
		{"user-max", &cfg.Users.Max},
		{"room-min", &cfg.Rooms.Min},
		{"room-max", &cfg.Rooms.Max},
		{"rate", &cfg.Rate},
		{"max-attempts", &cfg.MaxAttempts},
		{"sample-every", &cfg.SampleEvery},
	}
	for _, f := range ints {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"mix-text", &cfg.Mix.Text},
		{"mix-join", &cfg.Mix.Join},
		{"mix-leave", &cfg.Mix.Leave},
		{"tracing-sample-rate", &cfg.Tracing.SampleRate},
	}
	for _, f := range floats {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetFloat64(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"backoff", &cfg.Backoff},
		{"connect-timeout", &cfg.ConnectTimeout},
		{"ack-timeout", &cfg.AckTimeout},
		{"write-timeout", &cfg.WriteTimeout},
		{"pop-timeout", &cfg.PopTimeout},
		{"shutdown-grace", &cfg.ShutdownGrace},
		{"phase-pause", &cfg.PhasePause},
		{"bucket-width", &cfg.BucketWidth},
	}
	for _, f := range durations {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"detailed", &cfg.Detailed},
		{"json-output", &cfg.JSONOutput},
		{"yaml-output", &cfg.YAMLOutput},
		{"dashboard", &cfg.Dashboard},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, f := range bools {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("threshold") {
		vals, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = vals
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}
