// Package config loads the process-wide relay configuration. A Config is built
// once at startup and treated as read-only afterwards.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/chatstream/pkg/azure"
	"github.com/papercomputeco/chatstream/pkg/llm"
)

// DefaultSystemPrompt opens every transcript unless overridden.
const DefaultSystemPrompt = "You are a helpful assistant."

// Config is the relay configuration.
type Config struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// SystemPrompt is the fixed first message of every transcript.
	SystemPrompt string `toml:"system_prompt" yaml:"system_prompt"`

	// CORSOrigins is a comma separated allow list, "*" for any.
	CORSOrigins string `toml:"cors_allow_origins" yaml:"cors_allow_origins"`

	Azure      AzureConfig   `toml:"azure" yaml:"azure"`
	Generation llm.Params    `toml:"generation" yaml:"generation"`
	Managed    ManagedConfig `toml:"managed" yaml:"managed"`
	Stream     StreamConfig  `toml:"stream" yaml:"stream"`
}

// AzureConfig holds the Azure OpenAI credentials.
type AzureConfig struct {
	APIKey     string `toml:"api_key" yaml:"api_key"`
	Endpoint   string `toml:"endpoint" yaml:"endpoint"`
	Deployment string `toml:"deployment" yaml:"deployment"`
	APIVersion string `toml:"api_version" yaml:"api_version"`
}

// ManagedConfig toggles the managed orchestration backend.
type ManagedConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// StreamConfig bounds streamed responses. Zero values disable a limit.
type StreamConfig struct {
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
	MaxConcurrent int      `toml:"max_concurrent" yaml:"max_concurrent"`
}

// Duration is a time.Duration that decodes from strings such as "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML and YAML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8000,
		LogLevel:     "INFO",
		SystemPrompt: DefaultSystemPrompt,
		CORSOrigins:  "*",
		Azure: AzureConfig{
			APIVersion: azure.DefaultAPIVersion,
		},
		Generation: llm.Params{
			MaxTokens:   512,
			Temperature: 0.2,
			TopP:        1.0,
		},
		Managed: ManagedConfig{Enabled: true},
		Stream: StreamConfig{
			Timeout:       Duration{5 * time.Minute},
			MaxConcurrent: 64,
		},
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AzureSettings returns the credentials in the shape the Azure client wants.
func (c *Config) AzureSettings() azure.Settings {
	return azure.Settings{
		APIKey:     c.Azure.APIKey,
		Endpoint:   c.Azure.Endpoint,
		Deployment: c.Azure.Deployment,
		APIVersion: c.Azure.APIVersion,
	}
}

// Validate checks values that would make the process unable to start. Missing
// Azure credentials are deliberately not checked here; they surface per
// request.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if !validLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Generation.MaxTokens < 1 {
		return fmt.Errorf("invalid GENERATION_MAX_TOKENS %d: must be >= 1", c.Generation.MaxTokens)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("invalid GENERATION_TEMPERATURE %g: must be between 0 and 2", c.Generation.Temperature)
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("invalid GENERATION_TOP_P %g: must be between 0 and 1", c.Generation.TopP)
	}
	if c.Stream.Timeout.Duration < 0 {
		return fmt.Errorf("invalid STREAM_TIMEOUT %s: must not be negative", c.Stream.Timeout)
	}
	if c.Stream.MaxConcurrent < 0 {
		return fmt.Errorf("invalid MAX_CONCURRENT_STREAMS %d: must not be negative", c.Stream.MaxConcurrent)
	}
	return nil
}

func validLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	}
	return false
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Azure.APIKey != "" {
		cp.Azure.APIKey = "***"
	}
	return cp
}
