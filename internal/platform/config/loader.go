package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable that points at an explicit config file.
const EnvConfigPath = "CHARTLENS_CONFIG"

var defaultPaths = []string{".config.yaml", "config.yaml"}

var knownDrivers = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"redis":    true,
	"postgres": true,
}

// Loader reads the YAML config file over DefaultConfig and applies env overrides.
type Loader struct {
	useDotEnv bool
	paths     []string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that searches the default file locations.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		paths:     defaultPaths,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPaths overrides the candidate config file locations.
func (l *Loader) WithPaths(paths ...string) *Loader {
	l.paths = paths
	return l
}

// WithEnv overrides environment lookups (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load resolves, parses, overrides and validates the configuration. A missing
// file is not an error: defaults plus env are used and Path is "defaults".
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// .env is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := "defaults"

	candidates := l.paths
	if explicit, ok := l.lookupEnv(EnvConfigPath); ok && explicit != "" {
		candidates = []string{explicit}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read config %s: %w", candidate, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", candidate, err)
		}
		path = candidate
		break
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv("CHARTLENS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHARTLENS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := l.lookupEnv("CHARTLENS_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := l.lookupEnv("CHARTLENS_TOKEN"); ok && v != "" {
		cfg.Server.Token = v
	}
	if v, ok := l.lookupEnv("CHARTLENS_STORE_DRIVER"); ok && v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v, ok := l.lookupEnv("CHARTLENS_REDIS_ADDR"); ok && v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v, ok := l.lookupEnv("CHARTLENS_POSTGRES_DSN"); ok && v != "" {
		cfg.Store.Postgres.DSN = v
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if !knownDrivers[strings.ToLower(cfg.Store.Driver)] {
		return fmt.Errorf("unknown store driver: %q", cfg.Store.Driver)
	}
	sec := cfg.Image.Security
	if sec.MaxFileSize <= 0 || sec.MaxPixels <= 0 || sec.MaxWidth <= 0 || sec.MaxHeight <= 0 {
		return fmt.Errorf("image security limits must be positive")
	}
	if cfg.Chart.BatchConcurrency <= 0 {
		return fmt.Errorf("chart batch_concurrency must be positive")
	}
	if cfg.Server.Auth.Enabled && cfg.Server.Token == "" {
		return fmt.Errorf("server token is required when auth is enabled")
	}
	return nil
}
