package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transports.
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// MergeConcat selects the byte-level merger instead of an external tool.
const MergeConcat = "concat"

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "GRIBSLURP_"

// DefaultRetryAttempts is used when no retry attempts are configured.
const DefaultRetryAttempts = 3

// Config defines configuration for the gribslurp CLI.
type Config struct {
	Source        string        `yaml:"source"`
	Index         string        `yaml:"index"`
	IndexFormat   string        `yaml:"index_format"`
	Output        string        `yaml:"output"`
	Transport     string        `yaml:"transport"`
	Workers       int           `yaml:"workers"`
	MergeCommand  string        `yaml:"merge_command"`
	Params        []string      `yaml:"params"`
	Levels        []string      `yaml:"levels"`
	Progress      bool          `yaml:"progress"`
	MetricsOutput string        `yaml:"metrics_output"`
	S3            S3Config      `yaml:"s3"`
	Retry         RetryConfig   `yaml:"retry"`
	Timeouts      TimeoutConfig `yaml:"timeouts"`
}

// S3Config defines how buckets are reached.
type S3Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// RetryConfig defines request-level retry behavior.
type RetryConfig struct {
	// Attempts is nil when unset, so an explicit 0 disables retries.
	Attempts   *int          `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// TimeoutConfig bounds HTTP requests.
type TimeoutConfig struct {
	// Header bounds the wait for response headers.
	Header time.Duration `yaml:"header"`
	// WholeObject bounds an unranged download end to end.
	WholeObject time.Duration `yaml:"whole_object"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Transport:    TransportHTTP,
		Workers:      5,
		MergeCommand: "grib_copy",
		S3: S3Config{
			Region: "us-east-1",
		},
		Retry: RetryConfig{
			Attempts:   intPtr(DefaultRetryAttempts),
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Header:      30 * time.Second,
			WholeObject: 5 * time.Minute,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Source        string            `yaml:"source"`
	Index         string            `yaml:"index"`
	IndexFormat   string            `yaml:"index_format"`
	Output        string            `yaml:"output"`
	Transport     string            `yaml:"transport"`
	Workers       int               `yaml:"workers"`
	MergeCommand  string            `yaml:"merge_command"`
	Params        []string          `yaml:"params"`
	Levels        []string          `yaml:"levels"`
	Progress      bool              `yaml:"progress"`
	MetricsOutput string            `yaml:"metrics_output"`
	S3            S3Config          `yaml:"s3"`
	Retry         yamlRetryConfig   `yaml:"retry"`
	Timeouts      yamlTimeoutConfig `yaml:"timeouts"`
}

type yamlRetryConfig struct {
	Attempts   *int   `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlTimeoutConfig struct {
	Header      string `yaml:"header"`
	WholeObject string `yaml:"whole_object"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		Source:        yc.Source,
		Index:         yc.Index,
		IndexFormat:   yc.IndexFormat,
		Output:        yc.Output,
		Transport:     yc.Transport,
		Workers:       yc.Workers,
		MergeCommand:  yc.MergeCommand,
		Params:        yc.Params,
		Levels:        yc.Levels,
		Progress:      yc.Progress,
		MetricsOutput: yc.MetricsOutput,
		S3:            yc.S3,
		Retry:         RetryConfig{Attempts: yc.Retry.Attempts},
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &override.Retry.MaxBackoff},
		{"timeouts.header", yc.Timeouts.Header, &override.Timeouts.Header},
		{"timeouts.whole_object", yc.Timeouts.WholeObject, &override.Timeouts.WholeObject},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.out = v
	}

	return Default().Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables with the
// GRIBSLURP_ prefix.
func (c *Config) LoadFromEnv() error {
	return c.loadEnv(os.Getenv)
}

// LoadFromDotEnv loads GRIBSLURP_ variables from a .env file without
// touching the process environment.
func (c *Config) LoadFromDotEnv(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return c.loadEnv(func(key string) string { return vars[key] })
}

func (c *Config) loadEnv(getenv func(string) string) error {
	strs := []struct {
		key string
		out *string
	}{
		{"SOURCE", &c.Source},
		{"INDEX", &c.Index},
		{"INDEX_FORMAT", &c.IndexFormat},
		{"OUTPUT", &c.Output},
		{"TRANSPORT", &c.Transport},
		{"MERGE_COMMAND", &c.MergeCommand},
		{"METRICS_OUTPUT", &c.MetricsOutput},
		{"S3_REGION", &c.S3.Region},
		{"S3_ENDPOINT", &c.S3.Endpoint},
	}
	for _, s := range strs {
		if v := getenv(EnvPrefix + s.key); v != "" {
			*s.out = v
		}
	}

	lists := []struct {
		key string
		out *[]string
	}{
		{"PARAMS", &c.Params},
		{"LEVELS", &c.Levels},
	}
	for _, l := range lists {
		if v := getenv(EnvPrefix + l.key); v != "" {
			*l.out = SplitList(v)
		}
	}

	if v := getenv(EnvPrefix + "WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sWORKERS: %w", EnvPrefix, err)
		}
		c.Workers = n
	}
	if v := getenv(EnvPrefix + "RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sRETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Retry.Attempts = &n
	}

	durations := []struct {
		key string
		out *time.Duration
	}{
		{"RETRY_BACKOFF", &c.Retry.Backoff},
		{"RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff},
		{"HEADER_TIMEOUT", &c.Timeouts.Header},
		{"WHOLE_OBJECT_TIMEOUT", &c.Timeouts.WholeObject},
	}
	for _, d := range durations {
		if v := getenv(EnvPrefix + d.key); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.key, err)
			}
			*d.out = dur
		}
	}

	if v := getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	return nil
}

// SplitList splits a comma separated flag or variable, dropping empty
// entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("config: source is required")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	switch c.Transport {
	case TransportHTTP, TransportS3:
	default:
		return fmt.Errorf("config: unknown transport %q, want %s or %s", c.Transport, TransportHTTP, TransportS3)
	}
	switch c.IndexFormat {
	case "", "ecmwf", "gfs":
	default:
		return fmt.Errorf("config: unknown index format %q, want ecmwf or gfs", c.IndexFormat)
	}
	if c.IndexFormat != "" && c.Index == "" {
		return errors.New("config: index_format set without index")
	}
	if (len(c.Params) > 0 || len(c.Levels) > 0) && c.Index == "" {
		return errors.New("config: params and levels filters need an index")
	}
	if c.Retry.Attempts != nil && *c.Retry.Attempts < 0 {
		return errors.New("config: retry attempts must not be negative")
	}
	if c.Timeouts.Header <= 0 || c.Timeouts.WholeObject <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; a set Retry.Attempts is applied even
// when it is 0.
func (c Config) Merge(override Config) Config {
	if override.Source != "" {
		c.Source = override.Source
	}
	if override.Index != "" {
		c.Index = override.Index
	}
	if override.IndexFormat != "" {
		c.IndexFormat = override.IndexFormat
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Transport != "" {
		c.Transport = override.Transport
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.MergeCommand != "" {
		c.MergeCommand = override.MergeCommand
	}
	if override.Params != nil {
		c.Params = override.Params
	}
	if override.Levels != nil {
		c.Levels = override.Levels
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.MetricsOutput != "" {
		c.MetricsOutput = override.MetricsOutput
	}
	if override.S3.Region != "" {
		c.S3.Region = override.S3.Region
	}
	if override.S3.Endpoint != "" {
		c.S3.Endpoint = override.S3.Endpoint
	}
	if override.Retry.Attempts != nil {
		c.Retry.Attempts = intPtr(*override.Retry.Attempts)
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Timeouts.Header != 0 {
		c.Timeouts.Header = override.Timeouts.Header
	}
	if override.Timeouts.WholeObject != 0 {
		c.Timeouts.WholeObject = override.Timeouts.WholeObject
	}
	return c
}

// MaxRetries returns the configured retry attempts, or DefaultRetryAttempts
// when unset.
func (r RetryConfig) MaxRetries() int {
	if r.Attempts == nil {
		return DefaultRetryAttempts
	}
	return *r.Attempts
}

func intPtr(n int) *int {
	return &n
}
