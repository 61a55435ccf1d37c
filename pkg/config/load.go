package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Options control where Load reads from.
type Options struct {
	// File is an optional TOML (.toml) or YAML (.yaml, .yml) config file.
	File string

	// EnvFile is a dotenv file. Empty means DefaultEnvFile; a missing file is
	// ignored.
	EnvFile string

	// Lookup reads the process environment. Nil means os.LookupEnv.
	Lookup LookupFunc
}

// Load builds a Config from, in increasing precedence: defaults, the config
// file, the dotenv file and the process environment. The result is validated.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := loadFile(opts.File, cfg); err != nil {
			return nil, err
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", envFile, err)
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	// Process environment wins over the dotenv file.
	merged := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(cfg, merged); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type %q: use .toml, .yaml or .yml", filepath.Ext(path))
	}

	return nil
}

type envParser struct {
	lookup LookupFunc
	errs   []error
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) float(key string, dst *float64) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (p *envParser) duration(key string, dst *Duration) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	dst.Duration = d
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	p := &envParser{lookup: lookup}

	p.str("APP_HOST", &cfg.Host)
	p.integer("APP_PORT", &cfg.Port)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("SYSTEM_PROMPT", &cfg.SystemPrompt)
	p.str("CORS_ALLOW_ORIGINS", &cfg.CORSOrigins)

	p.str("AZURE_OPENAI_API_KEY", &cfg.Azure.APIKey)
	p.str("AZURE_OPENAI_ENDPOINT", &cfg.Azure.Endpoint)
	p.str("AZURE_OPENAI_DEPLOYMENT", &cfg.Azure.Deployment)
	p.str("AZURE_OPENAI_API_VERSION", &cfg.Azure.APIVersion)

	p.integer("GENERATION_MAX_TOKENS", &cfg.Generation.MaxTokens)
	p.float("GENERATION_TEMPERATURE", &cfg.Generation.Temperature)
	p.float("GENERATION_TOP_P", &cfg.Generation.TopP)

	p.boolean("MANAGED_BACKEND_ENABLED", &cfg.Managed.Enabled)
	p.duration("STREAM_TIMEOUT", &cfg.Stream.Timeout)
	p.integer("MAX_CONCURRENT_STREAMS", &cfg.Stream.MaxConcurrent)

	return errors.Join(p.errs...)
}
