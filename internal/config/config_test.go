package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_MissingFileUsesDefaults verifies a missing config file is not an
// error: defaults apply and the backend degrades to sqlite without a DSN.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer.DebounceSeconds != 7 || cfg.Buffer.MaxRetries != 5 {
		t.Errorf("buffer defaults = %+v", cfg.Buffer)
	}
	if cfg.Dispatcher.TickSeconds != 2 || cfg.Dispatcher.BatchSize != 5 {
		t.Errorf("dispatcher defaults = %+v", cfg.Dispatcher)
	}
	if cfg.Outbound.HardLimitChars != 1000 || cfg.Outbound.SegmentGapSecs != 5 {
		t.Errorf("outbound defaults = %+v", cfg.Outbound)
	}
	if cfg.Database.Backend != "sqlite" {
		t.Errorf("backend without DSN = %q, want sqlite", cfg.Database.Backend)
	}
}

// TestLoad_FileOverridesAndEnvSecrets verifies JSON5 tunables overlay
// defaults while secrets come from the environment.
func TestLoad_FileOverridesAndEnvSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// tuning for a busy account
		buffer: { debounce_seconds: 10 },
		agent: { model: "gpt-4o-mini", max_tool_iterations: 4 },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DMFLOW_POSTGRES_DSN", "postgres://localhost/dmflow")
	t.Setenv("DMFLOW_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Buffer.DebounceSeconds != 10 {
		t.Errorf("debounce = %d, want 10", cfg.Buffer.DebounceSeconds)
	}
	if cfg.Agent.Model != "gpt-4o-mini" || cfg.Agent.MaxToolIterations != 4 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	// Untouched tunables keep defaults.
	if cfg.Buffer.MaxRetries != 5 {
		t.Errorf("max retries = %d, want default 5", cfg.Buffer.MaxRetries)
	}
	if cfg.Secrets.PostgresDSN != "postgres://localhost/dmflow" || cfg.Secrets.OpenAIAPIKey != "sk-test" {
		t.Errorf("secrets = %+v", cfg.Secrets)
	}
	if cfg.Database.Backend != "postgres" {
		t.Errorf("backend with DSN = %q, want postgres", cfg.Database.Backend)
	}
}

// TestLoad_MalformedFileFails verifies a broken config file is an error,
// not a silent fallback.
func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
