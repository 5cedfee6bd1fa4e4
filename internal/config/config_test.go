package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sfcfetch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SFCFETCH_DATA_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sfcfetch")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "sfcfetch.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.RetryBaseDelay() != time.Second {
		t.Fatalf("unexpected base delay: %s", cfg.RetryBaseDelay())
	}
	if cfg.RetryMaxDelay() != 30*time.Second {
		t.Fatalf("unexpected max delay: %s", cfg.RetryMaxDelay())
	}
	if cfg.Retry.DefaultMaxRetries != 3 {
		t.Fatalf("unexpected default max retries: %d", cfg.Retry.DefaultMaxRetries)
	}
	if cfg.DocumentDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected document delay: %s", cfg.DocumentDelay())
	}
	if cfg.Discovery.PageSize != 50 {
		t.Fatalf("unexpected page size: %d", cfg.Discovery.PageSize)
	}
	if cfg.Workflow.DocumentConcurrency != 1 {
		t.Fatalf("unexpected document concurrency: %d", cfg.Workflow.DocumentConcurrency)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.LockDir(), cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sfcfetch.toml")
	t.Setenv("SFCFETCH_DATA_DIR", "")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Retry struct {
			BaseDelayMS int `toml:"base_delay_ms"`
			MaxDelayMS  int `toml:"max_delay_ms"`
		} `toml:"retry"`
		Discovery struct {
			Years []int  `toml:"years"`
			Lang  string `toml:"lang"`
		} `toml:"discovery"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "state")
	custom.Retry.BaseDelayMS = 250
	custom.Retry.MaxDelayMS = 2000
	custom.Discovery.Years = []int{2025, 2024, 2025}
	custom.Discovery.Lang = " tc "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "state") {
		t.Fatalf("expected data dir from file, got %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.LogDir == "" {
		t.Fatal("expected log dir default to survive")
	}
	if cfg.RetryBaseDelay() != 250*time.Millisecond || cfg.RetryMaxDelay() != 2*time.Second {
		t.Fatalf("unexpected retry delays: %s %s", cfg.RetryBaseDelay(), cfg.RetryMaxDelay())
	}
	if got := cfg.Discovery.Years; len(got) != 2 || got[0] != 2024 || got[1] != 2025 {
		t.Fatalf("expected sorted unique years, got %v", got)
	}
	if cfg.Discovery.Lang != "TC" {
		t.Fatalf("expected normalized lang, got %q", cfg.Discovery.Lang)
	}
}

func TestDataDirEnvOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	envDir := filepath.Join(tempDir, "from-env")
	t.Setenv("SFCFETCH_DATA_DIR", envDir)

	configPath := filepath.Join(tempDir, "sfcfetch.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\ndata_dir = \"/somewhere/else\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.DataDir != envDir {
		t.Fatalf("expected env data dir %q, got %q", envDir, cfg.Paths.DataDir)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sfcfetch.toml")
	if err := os.WriteFile(configPath, []byte("[retry]\nbase_delay = 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "default_max_retries") {
		t.Fatalf("sample config missing retry section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	defaults := config.Default()
	if cfg.Retry != defaults.Retry {
		t.Fatalf("sample retry section %+v differs from defaults %+v", cfg.Retry, defaults.Retry)
	}
	if cfg.Paths.DataDir != defaults.Paths.DataDir {
		t.Fatalf("sample data dir %q differs from default %q", cfg.Paths.DataDir, defaults.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero base delay", func(c *config.Config) { c.Retry.BaseDelayMS = 0 }},
		{"max below base", func(c *config.Config) { c.Retry.MaxDelayMS = c.Retry.BaseDelayMS - 1 }},
		{"negative retries", func(c *config.Config) { c.Retry.DefaultMaxRetries = -1 }},
		{"negative document delay", func(c *config.Config) { c.RateLimit.DelayMS = -5 }},
		{"zero concurrency", func(c *config.Config) { c.Workflow.DocumentConcurrency = 0 }},
		{"zero page size", func(c *config.Config) { c.Discovery.PageSize = 0 }},
		{"zero request rate", func(c *config.Config) { c.Discovery.RequestsPerSecond = 0 }},
		{"zero notify timeout", func(c *config.Config) { c.Notifications.RequestTimeoutS = 0 }},
		{"bad year", func(c *config.Config) { c.Discovery.Years = []int{12} }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	cfg.Retry.DefaultMaxRetries = 0
	cfg.RateLimit.DelayMS = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero retries and zero delay to be valid: %v", err)
	}
}
