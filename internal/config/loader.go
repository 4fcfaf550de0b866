package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// No arguments and no config file: show usage
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.CorpusFile = strings.TrimSpace(cfg.CorpusFile)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	ints := []struct {
		label string
		keys  []string
		dst   *int
	}{
		{"total", []string{"total"}, &cfg.Total},
		{"warmupWorkers", []string{"warmupworkers", "warmup_workers", "warmup-workers"}, &cfg.WarmupWorkers},
		{"warmupMessages", []string{"warmupmessages", "warmup_messages", "warmup-messages"}, &cfg.WarmupMessages},
		{"workers", []string{"workers"}, &cfg.Workers},
		{"queueCapacity", []string{"queuecapacity", "queue_capacity", "queue-capacity"}, &cfg.QueueCapacity},
		{"rate", []string{"rate"}, &cfg.Rate},
		{"maxAttempts", []string{"maxattempts", "max_attempts", "max-attempts"}, &cfg.MaxAttempts},
		{"sampleEvery", []string{"sampleevery", "sample_every", "sample-every"}, &cfg.SampleEvery},
	}
	for _, f := range ints {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.label, err)
			}
			*f.dst = val
		}
	}

	durations := []struct {
		label string
		keys  []string
		dst   *time.Duration
	}{
		{"backoff", []string{"backoff"}, &cfg.Backoff},
		{"connectTimeout", []string{"connecttimeout", "connect_timeout", "connect-timeout"}, &cfg.ConnectTimeout},
		{"ackTimeout", []string{"acktimeout", "ack_timeout", "ack-timeout"}, &cfg.AckTimeout},
		{"writeTimeout", []string{"writetimeout", "write_timeout", "write-timeout"}, &cfg.WriteTimeout},
		{"popTimeout", []string{"poptimeout", "pop_timeout", "pop-timeout"}, &cfg.PopTimeout},
		{"shutdownGrace", []string{"shutdowngrace", "shutdown_grace", "shutdown-grace"}, &cfg.ShutdownGrace},
		{"phasePause", []string{"phasepause", "phase_pause", "phase-pause"}, &cfg.PhasePause},
		{"bucketWidth", []string{"bucketwidth", "bucket_width", "bucket-width"}, &cfg.BucketWidth},
	}
	for _, f := range durations {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.label, err)
			}
			*f.dst = dur
		}
	}

	bools := []struct {
		label string
		keys  []string
		dst   *bool
	}{
		{"detailed", []string{"detailed"}, &cfg.Detailed},
		{"jsonOutput", []string{"jsonoutput", "json_output", "json-output"}, &cfg.JSONOutput},
		{"yamlOutput", []string{"yamloutput", "yaml_output", "yaml-output"}, &cfg.YAMLOutput},
		{"dashboard", []string{"dashboard"}, &cfg.Dashboard},
	}
	for _, f := range bools {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.label, err)
			}
			*f.dst = val
		}
	}

	strs := []struct {
		label string
		keys  []string
		dst   *string
	}{
		{"corpusFile", []string{"corpusfile", "corpus_file", "corpus-file", "corpus"}, &cfg.CorpusFile},
		{"csvOutput", []string{"csvoutput", "csv_output", "csv-output"}, &cfg.CSVOutput},
		{"htmlOutput", []string{"htmloutput", "html_output", "html-output"}, &cfg.HTMLOutput},
		{"logLevel", []string{"loglevel", "log_level", "log-level"}, &cfg.LogLevel},
		{"metricsAddr", []string{"metricsaddr", "metrics_addr", "metrics-addr"}, &cfg.MetricsAddr},
	}
	for _, f := range strs {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.label, err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "logformat", "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logFormat: %w", err)
		}
		cfg.LogFormat = LogFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = int64(val)
	}

	if raw, ok := lookupSetting(settings, "users"); ok {
		if err := parseRange(raw, &cfg.Users); err != nil {
			return fmt.Errorf("users: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "rooms"); ok {
		if err := parseRange(raw, &cfg.Rooms); err != nil {
			return fmt.Errorf("rooms: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "mix"); ok {
		if err := parseMix(raw, &cfg.Mix); err != nil {
			return fmt.Errorf("mix: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	} else if raw, ok := lookupSetting(settings, "arrivalmodel", "arrival_model", "arrival-model"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrivalModel: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(raw, &cfg.Tracing); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

// parseRange overlays min/max from value onto r, leaving unset bounds alone.
func parseRange(value interface{}, r *RangeConfig) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(entry, "min"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("min: %w", err)
		}
		r.Min = val
	}
	if raw, ok := lookupSetting(entry, "max"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max: %w", err)
		}
		r.Max = val
	}
	return nil
}

// parseMix replaces the whole distribution; omitted kinds get probability 0.
func parseMix(value interface{}, m *MixConfig) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	var mix MixConfig
	for _, f := range []struct {
		key string
		dst *float64
	}{{"text", &mix.Text}, {"join", &mix.Join}, {"leave", &mix.Leave}} {
		if raw, ok := lookupSetting(entry, f.key); ok {
			val, err := asFloat64(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = val
		}
	}
	*m = mix
	return nil
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	if value == nil {
		return ArrivalConfig{}, nil
	}
	switch v := value.(type) {
	case string:
		model := strings.ToLower(strings.TrimSpace(v))
		if model == "" {
			return ArrivalConfig{}, nil
		}
		return ArrivalConfig{Model: ArrivalModel(model)}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		if raw, ok := lookupSetting(entry, "model"); ok {
			val, err := asString(raw)
			if err != nil {
				return ArrivalConfig{}, fmt.Errorf("model: %w", err)
			}
			return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(val)))}, nil
		}
		return ArrivalConfig{}, fmt.Errorf("model field is required")
	}
}

func parseTracing(value interface{}, t *TracingConfig) error {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	for _, f := range []struct {
		keys []string
		dst  *string
	}{
		{[]string{"endpoint"}, &t.Endpoint},
		{[]string{"protocol"}, &t.Protocol},
		{[]string{"service_name", "servicename", "service-name"}, &t.ServiceName},
	} {
		if raw, ok := lookupSetting(entry, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(entry, "sample_rate", "samplerate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}
