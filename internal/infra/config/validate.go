package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateStore(cfg, ve)
	validateOrchestration(cfg, ve)
	validateSources(cfg, ve)
	validateBackend(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty")
	}
	if cfg.Store.MaxAttempts <= 0 {
		ve.Add("store.max_attempts must be > 0")
	}
	if cfg.Store.BaseDelay < 0 {
		ve.Add("store.base_delay must be >= 0")
	}
	if cfg.Store.BusyTimeout < 0 {
		ve.Add("store.busy_timeout must be >= 0")
	}
}

func validateOrchestration(cfg *Config, ve *ValidationError) {
	if cfg.Orchestration.Deadline <= 0 {
		ve.Add("orchestration.deadline must be > 0")
	}
	if cfg.Orchestration.NotifyEvery <= 0 {
		ve.Add("orchestration.notify_every must be > 0")
	}
}

func validateSources(cfg *Config, ve *ValidationError) {
	if cfg.Sources.SearchTimeout <= 0 {
		ve.Add("sources.search_timeout must be > 0")
	}
	if cfg.Sources.MaxConcurrency < 0 {
		ve.Add("sources.max_concurrency must be >= 0")
	}
	if s := cfg.Sources.RevalidateSchedule; s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			if d, derr := time.ParseDuration(s); derr != nil || d <= 0 {
				ve.Add("sources.revalidate_schedule %q is neither a cron expression nor a positive duration", s)
			}
		}
	}
}

func validateBackend(cfg *Config, ve *ValidationError) {
	validateBackendEntry("backend", cfg.Backend, ve)
	for i, fb := range cfg.Backend.Fallbacks {
		prefix := fmt.Sprintf("backend.fallbacks[%d]", i)
		if len(fb.Fallbacks) > 0 {
			ve.Add("%s.fallbacks must be empty", prefix)
		}
		validateBackendEntry(prefix, fb, ve)
	}
}

func validateBackendEntry(prefix string, b BackendConfig, ve *ValidationError) {
	switch b.Provider {
	case "openai", "anthropic":
		if u, err := url.Parse(b.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("%s.base_url %q must be an absolute http(s) URL", prefix, b.BaseURL)
		}
	case "bedrock":
		if b.Region == "" {
			ve.Add("%s.region must not be empty for the bedrock provider", prefix)
		}
	default:
		ve.Add("%s.provider %q must be openai, anthropic or bedrock", prefix, b.Provider)
	}
	if b.Model == "" {
		ve.Add("%s.model must not be empty", prefix)
	}
	if b.RequestsPerMinute < 0 {
		ve.Add("%s.requests_per_minute must be >= 0", prefix)
	}
	if b.RequestsPerMinute > 0 && b.Burst <= 0 {
		ve.Add("%s.burst must be > 0 when requests_per_minute is set", prefix)
	}
	if b.CircuitBreaker.Enabled {
		if b.CircuitBreaker.MaxFailures == 0 {
			ve.Add("%s.circuit_breaker.max_failures must be > 0", prefix)
		}
		if b.CircuitBreaker.Timeout <= 0 {
			ve.Add("%s.circuit_breaker.timeout must be > 0", prefix)
		}
	}
}
