// Package config handles moodcaption configuration loading.
//
// Settings are layered: built-in defaults, then an optional YAML file,
// then a .env file, then process environment variables. The environment
// always wins so that container deployments can override a baked-in
// config file without editing it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the Gemini model resource that captions are
// generated against. The ":generateContent" verb is appended per call.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash"

// DefaultTemperature is the sampling temperature used when none is
// configured. An explicit 0 is kept.
const DefaultTemperature = 0.7

// Environment modes recognized in ENVIRONMENT_MODE. Anything else runs
// as production.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./moodcaption.yaml, ~/.config/moodcaption/config.yaml,
// /etc/moodcaption/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"moodcaption.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "moodcaption", "config.yaml"))
	}

	paths = append(paths, "/etc/moodcaption/config.yaml")
	return paths
}

// ErrNoConfigFile is returned by FindConfig when no explicit path was
// given and none of the search paths exist. The file is optional, so
// callers usually fall back to [Default].
var ErrNoConfigFile = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// Config holds all moodcaption configuration.
type Config struct {
	Listen       ListenConfig   `yaml:"listen"`
	Gemini       GeminiConfig   `yaml:"gemini"`
	Throttle     ThrottleConfig `yaml:"throttle"`
	MockFallback bool           `yaml:"mock_fallback"`
	Environment  string         `yaml:"environment"`
	LogLevel     string         `yaml:"log_level"`
	LogFormat    string         `yaml:"log_format"`
}

// ListenConfig defines the web server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the caption generation backend.
type GeminiConfig struct {
	// APIKey authenticates against the endpoint. When empty, every
	// request takes the missing-key path.
	APIKey string `yaml:"api_key"`
	// Endpoint is the model resource URL, without the ":generateContent"
	// suffix.
	Endpoint string `yaml:"endpoint"`
	// Temperature is nil when unset so that 0 stays a valid choice.
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	// TimeoutSec bounds each outbound call (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Configured reports whether an API key is available.
func (g GeminiConfig) Configured() bool {
	return strings.TrimSpace(g.APIKey) != ""
}

// SamplingTemperature returns the configured temperature, or
// DefaultTemperature when unset.
func (g GeminiConfig) SamplingTemperature() float64 {
	if g.Temperature == nil {
		return DefaultTemperature
	}
	return *g.Temperature
}

// Timeout returns TimeoutSec as a duration.
func (g GeminiConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// ThrottleConfig defines the minimum spacing between outbound calls.
type ThrottleConfig struct {
	IntervalMS int `yaml:"interval_ms"` // Default: 1500
}

// Interval returns IntervalMS as a duration.
func (t ThrottleConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and defaults are applied to
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied and no
// API key.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 5000
	}
	if c.Gemini.Endpoint == "" {
		c.Gemini.Endpoint = DefaultEndpoint
	}
	if c.Gemini.Temperature == nil {
		t := DefaultTemperature
		c.Gemini.Temperature = &t
	}
	if c.Gemini.MaxOutputTokens == 0 {
		c.Gemini.MaxOutputTokens = 150
	}
	if c.Gemini.TimeoutSec == 0 {
		c.Gemini.TimeoutSec = 30
	}
	if c.Throttle.IntervalMS == 0 {
		c.Throttle.IntervalMS = 1500
	}
	if c.Environment == "" {
		c.Environment = ModeDevelopment
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables already set are left alone.
// Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto c. lookup is usually
// [os.LookupEnv]; tests pass a map-backed function.
//
// Recognized variables:
//   - API_KEY, then GEMINI_API_KEY: the Gemini API key
//   - MOCK_FALLBACK: "1", "true" or "yes" enables the mock caption path
//   - ENVIRONMENT_MODE: "development" or "production"; see [Config.Mode]
//   - LOG_LEVEL, LOG_FORMAT: logging overrides
//   - PORT: listen port
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("API_KEY"); ok && v != "" {
		c.Gemini.APIKey = v
	} else if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" {
		c.Gemini.APIKey = v
	}
	if v, ok := lookup("MOCK_FALLBACK"); ok {
		c.MockFallback = ParseBool(v)
	}
	if v, ok := lookup("ENVIRONMENT_MODE"); ok && v != "" {
		c.Environment = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Listen.Port = port
	}
	return nil
}

// ParseBool interprets a boolean-ish flag. Only "1", "true" and "yes"
// (case-insensitive, surrounding whitespace ignored) are true.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Mode returns the effective environment mode. Only "development"
// (any case) selects development; every other value, including
// unrecognized ones, is production.
func (c *Config) Mode() string {
	if strings.EqualFold(strings.TrimSpace(c.Environment), ModeDevelopment) {
		return ModeDevelopment
	}
	return ModeProduction
}

// UnknownMode reports whether Environment is set to something other
// than a recognized mode. Callers log a warning; it is not an error.
func (c *Config) UnknownMode() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env != "" && env != ModeDevelopment && env != ModeProduction
}

// Development reports whether verbose development behavior is on.
func (c *Config) Development() bool {
	return c.Mode() == ModeDevelopment
}

// Validate checks the configuration for values that would fail at
// runtime. A missing API key is not an error: it selects the fallback
// path per request.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}
	u, err := url.Parse(c.Gemini.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gemini.endpoint %q is not an absolute URL", c.Gemini.Endpoint)
	}
	if c.Gemini.TimeoutSec <= 0 {
		return fmt.Errorf("gemini.timeout_sec must be positive")
	}
	if c.Gemini.MaxOutputTokens <= 0 {
		return fmt.Errorf("gemini.max_output_tokens must be positive")
	}
	if t := c.Gemini.SamplingTemperature(); t < 0 || t > 2 {
		return fmt.Errorf("gemini.temperature %.2f out of range [0, 2]", t)
	}
	if c.Throttle.IntervalMS < 0 {
		return fmt.Errorf("throttle.interval_ms must not be negative")
	}
	return nil
}
