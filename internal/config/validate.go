package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validatePacing(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.base_delay_ms":      c.Retry.BaseDelayMS,
		"retry.max_delay_ms":       c.Retry.MaxDelayMS,
		"database.busy_timeout_ms": c.Database.BusyTimeoutMS,
	}); err != nil {
		return err
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be greater than or equal to retry.base_delay_ms")
	}
	if c.Retry.DefaultMaxRetries < 0 {
		return errors.New("retry.default_max_retries must not be negative")
	}
	return nil
}

func (c *Config) validatePacing() error {
	if c.RateLimit.DelayMS < 0 {
		return errors.New("rate_limit.delay_ms must not be negative")
	}
	if c.Workflow.DocumentConcurrency <= 0 {
		return errors.New("workflow.document_concurrency must be positive")
	}
	if c.Notifications.RequestTimeoutS <= 0 {
		return errors.New("notifications.request_timeout_s must be positive")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.PageSize <= 0 {
		return errors.New("discovery.page_size must be positive")
	}
	if c.Discovery.RequestsPerSecond <= 0 {
		return errors.New("discovery.requests_per_second must be positive")
	}
	for _, year := range c.Discovery.Years {
		if year < 1900 || year > 9999 {
			return fmt.Errorf("discovery.years: %d is not a valid year", year)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
