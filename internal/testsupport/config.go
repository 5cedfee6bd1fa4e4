package testsupport

import (
	"path/filepath"
	"testing"

	"sfcfetch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Retry and pacing delays are shrunk so workflow tests run quickly; tests that
// assert exact delays inject their own sleeper.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Retry.BaseDelayMS = 1
	cfg.Retry.MaxDelayMS = 4
	cfg.RateLimit.DelayMS = 0
	cfg.Discovery.RequestsPerSecond = 1000

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithDocumentConcurrency overrides the number of documents processed at once.
func WithDocumentConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.DocumentConcurrency = n
	}
}

// WithMaxRetries overrides the default step attempt budget.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retry.DefaultMaxRetries = n
	}
}
