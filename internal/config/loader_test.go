package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
	}{
		{0.25, 0.25},
		{1, 1},
		{int64(2), 2},
		{"0.05", 0.05},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asFloat64(tt.input)
		if err != nil {
			t.Errorf("asFloat64(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asFloat64(%v) = %g, want %g", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"50ms", 50 * time.Millisecond},
		{10, 10 * time.Second}, // int treated as seconds
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsStringSliceSplitsCommas(t *testing.T) {
	got, err := asStringSlice("latency:p95 < 500, failed:rate < 0.01")
	if err != nil {
		t.Fatalf("asStringSlice() error = %v", err)
	}
	if len(got) != 2 || got[0] != "latency:p95 < 500" || got[1] != "failed:rate < 0.01" {
		t.Errorf("asStringSlice() = %q", got)
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Defaults()
	settings := map[string]interface{}{
		"target":       "ws://example.com/chat/",
		"workers":      10,
		"pop_timeout":  "5s",
		"phase-pause":  0,
		"seed":         42,
		"corpus":       " messages.txt ",
		"users":        map[string]interface{}{"min": 100, "max": 200},
		"mix":          map[interface{}]interface{}{"text": 1},
		"arrivalmodel": "POISSON",
		"headers": map[string]interface{}{
			"x-room-token": "abc",
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.TargetURL != "ws://example.com/chat/" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	if cfg.Workers != 10 {
		t.Errorf("Workers = %d, want 10", cfg.Workers)
	}
	if cfg.PopTimeout != 5*time.Second {
		t.Errorf("PopTimeout = %s, want 5s", cfg.PopTimeout)
	}
	if cfg.PhasePause != 0 {
		t.Errorf("PhasePause = %s, want 0", cfg.PhasePause)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Seed)
	}
	if cfg.CorpusFile != "messages.txt" {
		t.Errorf("CorpusFile = %q, want messages.txt", cfg.CorpusFile)
	}
	if cfg.Users != (RangeConfig{Min: 100, Max: 200}) {
		t.Errorf("Users = %+v", cfg.Users)
	}
	if cfg.Mix != (MixConfig{Text: 1}) {
		t.Errorf("Mix = %+v, want text only", cfg.Mix)
	}
	if cfg.Arrival.Model != ArrivalModelPoisson {
		t.Errorf("Arrival.Model = %q, want poisson", cfg.Arrival.Model)
	}
	if cfg.Headers["X-Room-Token"] != "abc" {
		t.Errorf("Headers[X-Room-Token] = %q, want abc", cfg.Headers["X-Room-Token"])
	}
}

func TestApplyConfigSettingsRejectsBadValues(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"int":      {"total": "many"},
		"duration": {"ack_timeout": "soon"},
		"range":    {"rooms": "1-20"},
		"arrival":  {"arrival": map[string]interface{}{"rate": 3}},
	}
	for name, settings := range tests {
		t.Run(name, func(t *testing.T) {
			if err := applyConfigSettings(Defaults(), settings); err == nil {
				t.Fatalf("applyConfigSettings(%v) error = nil, want error", settings)
			}
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--workers=5",
		"--room-max=3",
		"--mix-text=0.8",
		"--mix-join=0.1",
		"--mix-leave=0.1",
		"--ack-timeout=250ms",
		"--write-timeout=2s",
		"--detailed",
		"--seed=7",
		"--log-format=JSON",
		"--tracing-propagate=false",
		"--threshold=latency:p99 < 900",
		"--header=X-Test=123",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Workers)
	}
	if cfg.Rooms.Max != 3 {
		t.Errorf("Rooms.Max = %d, want 3", cfg.Rooms.Max)
	}
	if cfg.Mix != (MixConfig{Text: 0.8, Join: 0.1, Leave: 0.1}) {
		t.Errorf("Mix = %+v", cfg.Mix)
	}
	if cfg.AckTimeout != 250*time.Millisecond {
		t.Errorf("AckTimeout = %s, want 250ms", cfg.AckTimeout)
	}
	if cfg.WriteTimeout != 2*time.Second {
		t.Errorf("WriteTimeout = %s, want 2s", cfg.WriteTimeout)
	}
	if !cfg.Detailed {
		t.Errorf("Detailed = false, want true")
	}
	if cfg.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Seed)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.Tracing.Propagate == nil || *cfg.Tracing.Propagate {
		t.Errorf("Tracing.Propagate = %v, want false", cfg.Tracing.Propagate)
	}
	if len(cfg.Thresholds) != 1 || cfg.Thresholds[0] != "latency:p99 < 900" {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.Headers["X-Test"] != "123" {
		t.Errorf("Headers[X-Test] = %q, want 123", cfg.Headers["X-Test"])
	}
	// untouched flags keep the defaults
	if cfg.Total != DefaultTotal {
		t.Errorf("Total = %d, want %d", cfg.Total, DefaultTotal)
	}
}

func TestApplyFlagOverridesRejectsMalformedHeader(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)
	if err := fs.Parse([]string{"--header=NoEquals"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := applyFlagOverrides(Defaults(), fs); err == nil {
		t.Fatal("applyFlagOverrides() error = nil, want error")
	}
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	args := []string{
		"--target= ws://example.com/chat/ ",
		"-w", "2",
		"-t", "100",
	}

	cfg, err := loader.Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "ws://example.com/chat/" {
		t.Errorf("TargetURL = %q, want ws://example.com/chat/", cfg.TargetURL)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.Total != 100 {
		t.Errorf("Total = %d, want 100", cfg.Total)
	}
}
