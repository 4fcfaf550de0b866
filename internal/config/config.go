package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"
)

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// Defaults mirrored by the flag set and the file loader.
const (
	DefaultTotal          = 500_000
	DefaultWarmupWorkers  = 32
	DefaultWarmupMessages = 1_000
	DefaultWorkers        = 200
	DefaultQueueCapacity  = 10_000
	DefaultMaxAttempts    = 5
	DefaultBackoff        = 50 * time.Millisecond
	DefaultConnectTimeout = 5 * time.Second
	DefaultAckTimeout     = 3 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPopTimeout     = 30 * time.Second
	DefaultShutdownGrace  = 60 * time.Second
	DefaultPhasePause     = time.Second
	DefaultSampleEvery    = 20
	DefaultBucketWidth    = 10 * time.Second
	DefaultMaxUserID      = 100_000
	DefaultMaxRoomID      = 20
)

type Config struct {
	TargetURL      string            `mapstructure:"target"`
	Headers        map[string]string `mapstructure:"headers"`
	Total          int               `mapstructure:"total"`
	WarmupWorkers  int               `mapstructure:"warmup_workers"`
	WarmupMessages int               `mapstructure:"warmup_messages"` // per warmup worker
	Workers        int               `mapstructure:"workers"`
	QueueCapacity  int               `mapstructure:"queue_capacity"`
	Users          RangeConfig       `mapstructure:"users"`
	Rooms          RangeConfig       `mapstructure:"rooms"`
	Mix            MixConfig         `mapstructure:"mix"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	Backoff        time.Duration     `mapstructure:"backoff"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	AckTimeout     time.Duration     `mapstructure:"ack_timeout"`
	WriteTimeout   time.Duration     `mapstructure:"write_timeout"`
	PopTimeout     time.Duration     `mapstructure:"pop_timeout"`
	ShutdownGrace  time.Duration     `mapstructure:"shutdown_grace"`
	PhasePause     time.Duration     `mapstructure:"phase_pause"`
	SampleEvery    int               `mapstructure:"sample_every"`
	Detailed       bool              `mapstructure:"detailed"`
	Rate           int               `mapstructure:"rate"`
	Arrival        ArrivalConfig     `mapstructure:"arrival"`
	Seed           int64             `mapstructure:"seed"`
	CorpusFile     string            `mapstructure:"corpus_file"`
	CSVOutput      string            `mapstructure:"csv_output"`
	HTMLOutput     string            `mapstructure:"html_output"`
	JSONOutput     bool              `mapstructure:"json_output"`
	YAMLOutput     bool              `mapstructure:"yaml_output"`
	BucketWidth    time.Duration     `mapstructure:"bucket_width"`
	Thresholds     []string          `mapstructure:"thresholds"`
	Dashboard      bool              `mapstructure:"dashboard"`
	LogLevel       string            `mapstructure:"log_level"`
	LogFormat      LogFormat         `mapstructure:"log_format"`
	MetricsAddr    string            `mapstructure:"metrics_addr"`
	Tracing        TracingConfig     `mapstructure:"tracing"`
	ConfigFile     string            `mapstructure:"-"`
}

// RangeConfig is an inclusive id range.
type RangeConfig struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// MixConfig holds the probability of each message kind.
type MixConfig struct {
	Text  float64 `mapstructure:"text"`
	Join  float64 `mapstructure:"join"`
	Leave float64 `mapstructure:"leave"`
}

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

// TracingConfig enables OTLP export of phase and send spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate == nil {
		return t.Enabled()
	}
	return *t.Propagate
}

// Defaults returns a Config populated with every default value.
func Defaults() *Config {
	return &Config{
		Headers:        map[string]string{},
		Total:          DefaultTotal,
		WarmupWorkers:  DefaultWarmupWorkers,
		WarmupMessages: DefaultWarmupMessages,
		Workers:        DefaultWorkers,
		QueueCapacity:  DefaultQueueCapacity,
		Users:          RangeConfig{Min: 1, Max: DefaultMaxUserID},
		Rooms:          RangeConfig{Min: 1, Max: DefaultMaxRoomID},
		Mix:            MixConfig{Text: 0.90, Join: 0.05, Leave: 0.05},
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        DefaultBackoff,
		ConnectTimeout: DefaultConnectTimeout,
		AckTimeout:     DefaultAckTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		PopTimeout:     DefaultPopTimeout,
		ShutdownGrace:  DefaultShutdownGrace,
		PhasePause:     DefaultPhasePause,
		SampleEvery:    DefaultSampleEvery,
		Arrival:        ArrivalConfig{Model: ArrivalModelUniform},
		BucketWidth:    DefaultBucketWidth,
		LogLevel:       "info",
		LogFormat:      LogFormatConsole,
		Tracing:        TracingConfig{SampleRate: 1.0},
	}
}

// WarmupTotal is the number of messages sent by the warmup phase.
func (c Config) WarmupTotal() int {
	n := c.WarmupWorkers * c.WarmupMessages
	if n > c.Total {
		return c.Total
	}
	return n
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string
	var warnings []string

	issues = append(issues, validateTarget(c.TargetURL)...)

	if c.Rate > 5000 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High rate limit configured (%d msg/s). Ensure you have authorization to test the target system.", c.Rate))
	}
	if c.Workers > 500 {
		warnings = append(warnings, fmt.Sprintf("WARNING: High worker count configured (%d workers). Ensure you have authorization to test the target system.", c.Workers))
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w)
	}

	if c.Total < 1 {
		issues = append(issues, "total must be >= 1")
	}
	if c.WarmupWorkers < 0 {
		issues = append(issues, "warmup-workers must be >= 0")
	}
	if c.WarmupMessages < 0 {
		issues = append(issues, "warmup-messages must be >= 0")
	}
	if c.Workers < 1 && c.Total > c.WarmupTotal() {
		issues = append(issues, "workers must be >= 1")
	}
	if c.QueueCapacity < 1 {
		issues = append(issues, "queue-capacity must be >= 1")
	}
	issues = append(issues, validateRange("users", c.Users)...)
	issues = append(issues, validateRange("rooms", c.Rooms)...)
	issues = append(issues, validateMix(c.Mix)...)
	if c.MaxAttempts < 1 {
		issues = append(issues, "max-attempts must be >= 1")
	}
	if c.Backoff < 0 {
		issues = append(issues, "backoff must be >= 0")
	}
	if c.ConnectTimeout < 0 {
		issues = append(issues, "connect-timeout must be >= 0")
	}
	if c.AckTimeout < 0 {
		issues = append(issues, "ack-timeout must be >= 0")
	}
	if c.WriteTimeout < 0 {
		issues = append(issues, "write-timeout must be >= 0")
	}
	if c.PopTimeout < 0 {
		issues = append(issues, "pop-timeout must be >= 0")
	}
	if c.ShutdownGrace < 0 {
		issues = append(issues, "shutdown-grace must be >= 0")
	}
	if c.PhasePause < 0 {
		issues = append(issues, "phase-pause must be >= 0")
	}
	if c.SampleEvery < 1 {
		issues = append(issues, "sample-every must be >= 1")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.BucketWidth <= 0 {
		issues = append(issues, "bucket-width must be > 0")
	}
	if !c.Detailed && (c.CSVOutput != "" || c.HTMLOutput != "") {
		issues = append(issues, "csv-output and html-output require --detailed")
	}
	if c.Dashboard && (c.JSONOutput || c.YAMLOutput) {
		issues = append(issues, "dashboard and json-output/yaml-output are mutually exclusive")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateLogging(c.LogLevel, c.LogFormat)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if c.Tracing.Enabled() && c.Tracing.Insecure {
		fmt.Fprintln(os.Stderr, "WARNING: Trace export TLS is DISABLED (insecure: true). This should ONLY be used in development/testing environments.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTarget(target string) []string {
	target = strings.TrimSpace(target)
	if target == "" {
		return []string{"target is required (use --help for usage information)"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return []string{fmt.Sprintf("target: %v", err)}
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return []string{fmt.Sprintf("target: scheme must be ws or wss, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return []string{"target: host is required"}
	}
	return nil
}

func validateRange(name string, r RangeConfig) []string {
	var issues []string
	if r.Min < 1 {
		issues = append(issues, fmt.Sprintf("%s: min must be >= 1", name))
	}
	if r.Max < r.Min {
		issues = append(issues, fmt.Sprintf("%s: max must be >= min", name))
	}
	return issues
}

func validateMix(m MixConfig) []string {
	var issues []string
	for _, p := range []struct {
		name string
		v    float64
	}{{"text", m.Text}, {"join", m.Join}, {"leave", m.Leave}} {
		if p.v < 0 || p.v > 1 {
			issues = append(issues, fmt.Sprintf("mix: %s must be between 0 and 1, got %g", p.name, p.v))
		}
	}
	if sum := m.Text + m.Join + m.Leave; math.Abs(sum-1) > 1e-9 {
		issues = append(issues, fmt.Sprintf("mix: probabilities must sum to 1, got %g", sum))
	}
	return issues
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateLogging(level string, format LogFormat) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level must be one of debug, info, warn, error; got %q", level))
	}
	switch format {
	case "", LogFormatConsole, LogFormatJSON:
	default:
		issues = append(issues, fmt.Sprintf("log-format must be 'console' or 'json', got %q", format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	if !t.Enabled() {
		return nil
	}
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
