package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agntschat/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// DoctorCmd runs the health checks.
type DoctorCmd struct{}

func (c *DoctorCmd) Run(cli *CLI) error {
	cfgPath := cli.configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Backend credentials", Fn: checkBackendCredentials},
		{Name: "Backend connectivity", Fn: checkBackendConnectivity},
		{Name: "Store", Fn: checkStoreDir},
		{Name: "Templates", Fn: checkTemplatesDir},
		{Name: "Agent import", Fn: checkAgentImport},
	}

	printf("agntschat doctor\n%s\n\n", strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	printf("\n%s\nResults: %d passed, %d warnings, %d failed\n", strings.Repeat("-", 50), pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return okMark()
	case StatusWarn:
		return warnMark()
	case StatusFail:
		return errMark()
	default:
		return "?"
	}
}

// checkConfigFile reports whether the config file was found and loaded.
// Running without a file is allowed: defaults and AGNTS_* variables apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and that its permissions are 0600",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s; using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkBackendCredentials verifies the backend can authenticate.
func checkBackendCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	switch cfg.Backend.Provider {
	case "bedrock":
		if cfg.Backend.Region == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "bedrock needs a region",
				Fix:     "Set backend.region or AWS_REGION",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("bedrock in %s uses the AWS credential chain", cfg.Backend.Region),
		}
	default:
		if cfg.Backend.APIKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "no API key for the backend",
				Fix:     "Set AGNTS_BACKEND_API_KEY or backend.api_key (see 'agntschat config encrypt')",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("API key configured for model %s", cfg.Backend.Model),
		}
	}
}

// checkBackendConnectivity tests whether the OpenAI-compatible endpoint
// answers at all. Any HTTP response counts as reachable.
func checkBackendConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if cfg.Backend.Provider == "bedrock" {
		return CheckResult{Status: StatusWarn, Message: "skipped for bedrock"}
	}
	if cfg.Backend.APIKey == "" {
		return CheckResult{Status: StatusWarn, Message: "skipped: no API key"}
	}

	endpoint := strings.TrimRight(cfg.Backend.BaseURL, "/") + "/models"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad base URL: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Backend.APIKey)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check backend.base_url, your network and firewall settings",
		}
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s rejected the API key (HTTP %d)", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", endpoint, latency.Milliseconds()),
	}
}

// checkStoreDir verifies the database directory exists and is writable.
func checkStoreDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	dir, _ := filepath.Abs(filepath.Dir(cfg.Store.Path))

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("store directory %s cannot be created: %v", dir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", dir),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("store directory created at %s", dir)}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat store directory: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", dir)}
	}

	probe := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("store directory %s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	os.Remove(probe)

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("database at %s", cfg.Store.Path)}
}

// checkTemplatesDir verifies the instruction and persona directory exists.
func checkTemplatesDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "cannot check: config not loaded"}
	}
	info, err := os.Stat(cfg.Templates.Dir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("templates directory %s not found; agents fall back to their descriptions", cfg.Templates.Dir),
			Fix:     "Set templates.dir to the folder holding instruction and persona files",
		}
	}
	entries, _ := os.ReadDir(cfg.Templates.Dir)
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%d files)", cfg.Templates.Dir, len(entries)),
	}
}

// checkAgentImport reports whether the one-shot agent import file parses.
func checkAgentImport(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Agents.ImportPath == "" {
		return CheckResult{Status: StatusPass, Message: "no import file configured"}
	}
	if _, err := os.Stat(cfg.Agents.ImportPath); os.IsNotExist(err) {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s not present", cfg.Agents.ImportPath)}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s will seed an empty agent store", cfg.Agents.ImportPath),
	}
}
