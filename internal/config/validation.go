package config

import (
	"fmt"
	"net/url"
	"time"
)

var validSeverities = map[string]bool{
	"high":   true,
	"medium": true,
	"low":    true,
}

// Validate checks every enumerated option. It is called before any event
// fetch so a bad config never consumes API quota.
func (c *Config) Validate() error {
	if c.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.WindowMinutes < 1 || c.WindowMinutes > 1440 {
		return fmt.Errorf("window_minutes must be in [1, 1440], got %d", c.WindowMinutes)
	}
	if c.LookbackHours < 1 {
		return fmt.Errorf("lookback_hours must be positive, got %d", c.LookbackHours)
	}
	if c.DelayedThreshold < 0 {
		return fmt.Errorf("delayed_threshold must be non-negative, got %g", c.DelayedThreshold)
	}
	if c.ReconHalfLifeHours <= 0 {
		return fmt.Errorf("recon_half_life_hours must be positive, got %g", c.ReconHalfLifeHours)
	}

	switch c.ReconStateBackend {
	case BackendMemory:
	case BackendKV:
		if c.KVPath == "" {
			return fmt.Errorf("recon_state_backend %q requires kv_path", BackendKV)
		}
	default:
		return fmt.Errorf("recon_state_backend must be %q or %q, got %q",
			BackendMemory, BackendKV, c.ReconStateBackend)
	}
	if c.KVTTLDays < 1 {
		return fmt.Errorf("kv_ttl_days must be positive, got %d", c.KVTTLDays)
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.BackendTimeoutSeconds < 1 {
		return fmt.Errorf("backend_timeout_seconds must be positive, got %d", c.BackendTimeoutSeconds)
	}
	if c.BackendRetries < 0 {
		return fmt.Errorf("backend_retries must be non-negative, got %d", c.BackendRetries)
	}
	if c.FileCacheSize < 1 {
		return fmt.Errorf("file_cache_size must be positive, got %d", c.FileCacheSize)
	}
	if c.FileCacheTTLMinutes < 1 {
		return fmt.Errorf("file_cache_ttl_minutes must be positive, got %d", c.FileCacheTTLMinutes)
	}

	if c.Intent.SuspiciousThreshold < 0 || c.Intent.SuspiciousThreshold > 1 {
		return fmt.Errorf("intent.suspicious_threshold must be in [0, 1], got %g",
			c.Intent.SuspiciousThreshold)
	}
	if c.Intent.MaliciousThreshold < c.Intent.SuspiciousThreshold || c.Intent.MaliciousThreshold > 1 {
		return fmt.Errorf("intent.malicious_threshold must be in [suspicious_threshold, 1], got %g",
			c.Intent.MaliciousThreshold)
	}

	if c.Alerting.WebhookURL != "" {
		u, err := url.Parse(c.Alerting.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("alerting.webhook_url must be an http(s) URL, got %q",
				c.Alerting.WebhookURL)
		}
	}
	for _, s := range c.Alerting.AlertOnSeverities {
		if !validSeverities[s] {
			return fmt.Errorf("alerting.alert_on_severities: unknown severity %q", s)
		}
	}

	if c.Serve.IntervalMinutes < 1 {
		return fmt.Errorf("serve.interval_minutes must be positive, got %d", c.Serve.IntervalMinutes)
	}

	return nil
}
