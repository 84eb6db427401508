package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
	Store         StoreConfig         `yaml:"store"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Sources       SourcesConfig       `yaml:"sources"`
	Backend       BackendConfig       `yaml:"backend"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Agents        AgentsConfig        `yaml:"agents"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// StoreConfig holds the SQLite store and its retry policy.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// OrchestrationConfig holds multi-agent run settings.
type OrchestrationConfig struct {
	Deadline          time.Duration `yaml:"deadline"`
	DegradationNotice string        `yaml:"degradation_notice"`
	NotifyEvery       int           `yaml:"notify_every"` // scroll signal granularity in characters
}

// SourcesConfig holds context source fan-out settings.
type SourcesConfig struct {
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	MaxConcurrency     int           `yaml:"max_concurrency"`     // 0 = one goroutine per source
	RevalidateSchedule string        `yaml:"revalidate_schedule"` // cron expression or duration; empty disables
}

// BackendConfig holds the agent backend settings.
type BackendConfig struct {
	Provider          string               `yaml:"provider"` // "openai", "anthropic" or "bedrock"
	Region            string               `yaml:"region"`   // bedrock only
	BaseURL           string               `yaml:"base_url"`
	APIKey            string               `yaml:"api_key"`
	Model             string               `yaml:"model"`
	ConnTimeout       time.Duration        `yaml:"conn_timeout"`
	RespTimeout       time.Duration        `yaml:"resp_timeout"`
	RequestsPerMinute int                  `yaml:"requests_per_minute"` // 0 = unlimited
	Burst             int                  `yaml:"burst"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Fallbacks are tried in order when this backend fails before replying.
	Fallbacks []BackendConfig `yaml:"fallbacks,omitempty"`
}

// CircuitBreakerConfig controls the breaker in front of the backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// TemplatesConfig locates agent instruction and persona files.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// AgentsConfig controls the one-shot JSON agent import.
type AgentsConfig struct {
	ImportPath string `yaml:"import_path"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agntschat.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agntschat")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Store: StoreConfig{
			Path:        filepath.Join(dataDir, "agntschat.db"),
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			BusyTimeout: 5 * time.Second,
		},
		Orchestration: OrchestrationConfig{
			Deadline:          120 * time.Second,
			DegradationNotice: "[Multi-agent coordination failed; continuing with the first agent only]\n",
			NotifyEvery:       50,
		},
		Sources: SourcesConfig{
			SearchTimeout:  10 * time.Second,
			MaxConcurrency: 0,
		},
		Backend: BackendConfig{
			Provider:    "openai",
			Region:      "us-east-1",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4.1-nano",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
			Burst:       1,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Templates: TemplatesConfig{
			Dir: "./PromptTemplates",
		},
		Agents: AgentsConfig{
			ImportPath: "agents.config.json",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AGNTS_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps AGNTS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGNTS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGNTS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGNTS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGNTS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGNTS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGNTS_STORE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.MaxAttempts = n
		}
	}
	if v := os.Getenv("AGNTS_STORE_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.BaseDelay = d
		}
	}
	if v := os.Getenv("AGNTS_ORCHESTRATION_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestration.Deadline = d
		}
	}
	if v := os.Getenv("AGNTS_SOURCES_SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sources.SearchTimeout = d
		}
	}
	if v := os.Getenv("AGNTS_SOURCES_REVALIDATE_SCHEDULE"); v != "" {
		cfg.Sources.RevalidateSchedule = v
	}
	if v := os.Getenv("AGNTS_BACKEND_PROVIDER"); v != "" {
		cfg.Backend.Provider = v
	}
	if v := firstEnv("AGNTS_BACKEND_REGION", "AWS_REGION"); v != "" {
		cfg.Backend.Region = v
	}
	if v := os.Getenv("AGNTS_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("AGNTS_BACKEND_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	// AOAI_* is accepted as a fallback so existing deployments keep working.
	if v := firstEnv("AGNTS_BACKEND_API_KEY", "AOAI_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("AOAI_ENDPOINT"); v != "" && os.Getenv("AGNTS_BACKEND_BASE_URL") == "" {
		cfg.Backend.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("AGNTS_TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Readable by others is fine; writable is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
