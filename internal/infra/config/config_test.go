package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Store.MaxAttempts != 3 {
		t.Errorf("Store.MaxAttempts = %d, want 3", cfg.Store.MaxAttempts)
	}
	if cfg.Store.BaseDelay != time.Second {
		t.Errorf("Store.BaseDelay = %v, want 1s", cfg.Store.BaseDelay)
	}
	if cfg.Orchestration.Deadline != 120*time.Second {
		t.Errorf("Orchestration.Deadline = %v, want 120s", cfg.Orchestration.Deadline)
	}
	if cfg.Orchestration.NotifyEvery != 50 {
		t.Errorf("Orchestration.NotifyEvery = %d, want 50", cfg.Orchestration.NotifyEvery)
	}
	if cfg.Sources.SearchTimeout != 10*time.Second {
		t.Errorf("Sources.SearchTimeout = %v, want 10s", cfg.Sources.SearchTimeout)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.MaxAttempts != 3 {
		t.Errorf("expected defaults, got MaxAttempts=%d", cfg.Store.MaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agntschat.yaml")
	content := `
store:
  path: "/tmp/chat.db"
  max_attempts: 5
  base_delay: 250ms
orchestration:
  deadline: 30s
sources:
  max_concurrency: 4
backend:
  base_url: "http://localhost:11434/v1"
  model: "llama3"
  requests_per_minute: 60
  burst: 2
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/chat.db" || cfg.Store.MaxAttempts != 5 {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 250ms", cfg.Store.BaseDelay)
	}
	if cfg.Orchestration.Deadline != 30*time.Second {
		t.Errorf("Deadline = %v, want 30s", cfg.Orchestration.Deadline)
	}
	if cfg.Sources.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", cfg.Sources.MaxConcurrency)
	}
	if cfg.Backend.Model != "llama3" || cfg.Backend.RequestsPerMinute != 60 {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	// Unset fields keep their defaults.
	if cfg.Orchestration.NotifyEvery != 50 {
		t.Errorf("NotifyEvery = %d, want 50", cfg.Orchestration.NotifyEvery)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	for _, mode := range []os.FileMode{0o666, 0o620, 0o602} {
		path := filepath.Join(t.TempDir(), "open.yaml")
		if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, mode); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
			t.Fatalf("mode %o: expected permission error, got %v", mode, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGNTS_LOGGER_LEVEL", "debug")
	t.Setenv("AGNTS_STORE_MAX_ATTEMPTS", "7")
	t.Setenv("AGNTS_ORCHESTRATION_DEADLINE", "45s")
	t.Setenv("AGNTS_BACKEND_API_KEY", "sk-test")
	t.Setenv("AGNTS_BACKEND_BASE_URL", "")
	t.Setenv("AOAI_ENDPOINT", "https://example.openai.azure.com/")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Store.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.Store.MaxAttempts)
	}
	if cfg.Orchestration.Deadline != 45*time.Second {
		t.Errorf("Deadline = %v, want 45s", cfg.Orchestration.Deadline)
	}
	if cfg.Backend.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Backend.APIKey)
	}
	if cfg.Backend.BaseURL != "https://example.openai.azure.com" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("AGNTS_STORE_MAX_ATTEMPTS", "many")
	t.Setenv("AGNTS_STORE_BASE_DELAY", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Store.MaxAttempts != 3 || cfg.Store.BaseDelay != time.Second {
		t.Errorf("Store = %+v, want defaults", cfg.Store)
	}
}

func TestLoadDecryptsAPIKey(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	path := filepath.Join(t.TempDir(), "agntschat.yaml")
	content := "backend:\n  api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGNTS_BACKEND_API_KEY", "")
	t.Setenv("AOAI_API_KEY", "")
	t.Setenv("AGNTS_CONFIG_KEY", "passphrase")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.APIKey != "sk-secret" {
		t.Errorf("APIKey = %q, want decrypted value", cfg.Backend.APIKey)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("value", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected decrypt error")
	}
	if _, err := DecryptValue("not-hex", "right"); err == nil {
		t.Fatal("expected format error")
	}
}
