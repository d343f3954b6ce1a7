package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 30, cfg.WindowMinutes)
	assert.Equal(t, 24, cfg.LookbackHours)
	assert.Equal(t, 5.0, cfg.DelayedThreshold)
	assert.Equal(t, 48.0, cfg.ReconHalfLifeHours)
	assert.Equal(t, BackendMemory, cfg.ReconStateBackend)
	assert.Equal(t, 35, cfg.KVTTLDays)
	assert.Equal(t, 10000, cfg.FileCacheSize)
	assert.Equal(t, 0.7, cfg.Intent.MaliciousThreshold)
	assert.Equal(t, 0.4, cfg.Intent.SuspiciousThreshold)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"empty timezone", func(c *Config) { c.Timezone = "" }},
		{"window too small", func(c *Config) { c.WindowMinutes = 0 }},
		{"window too large", func(c *Config) { c.WindowMinutes = 1441 }},
		{"negative threshold", func(c *Config) { c.DelayedThreshold = -1 }},
		{"zero half life", func(c *Config) { c.ReconHalfLifeHours = 0 }},
		{"unknown backend", func(c *Config) { c.ReconStateBackend = "dynamo" }},
		{"kv without path", func(c *Config) { c.ReconStateBackend = BackendKV }},
		{"bad webhook", func(c *Config) { c.Alerting.WebhookURL = "ftp://x" }},
		{"bad severity", func(c *Config) { c.Alerting.AlertOnSeverities = []string{"critical"} }},
		{"inverted intent thresholds", func(c *Config) {
			c.Intent.MaliciousThreshold = 0.2
			c.Intent.SuspiciousThreshold = 0.5
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateKVBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconStateBackend = BackendKV
	cfg.KVPath = "/tmp/state.db"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"timezone": "America/New_York",
		"window_minutes": 15,
		"partner_domains": ["partner.com"],
		"suppressions": {
			"allowed_external_domains": ["trusted.com"],
			"exclude_actors": ["svc@x.com"]
		},
		"severity_overrides": {
			"high_risk_ous": ["/Executives"],
			"sensitive_labels": ["confidential"]
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 15, cfg.WindowMinutes)
	assert.Equal(t, []string{"partner.com"}, cfg.PartnerDomains)
	assert.Equal(t, []string{"trusted.com"}, cfg.Suppressions.AllowedExternalDomains)
	assert.Equal(t, []string{"/Executives"}, cfg.SeverityOverrides.HighRiskOUs)
	// Untouched fields keep defaults.
	assert.Equal(t, 5.0, cfg.DelayedThreshold)
}

func TestLoadFromFileRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"windw_minutes": 15}`), 0o600))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EXFILWATCH_TIMEZONE", "Europe/Berlin")
	t.Setenv("EXFILWATCH_WEBHOOK_URL", "https://hooks.example.com/alerts")

	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, "https://hooks.example.com/alerts", cfg.Alerting.WebhookURL)
}
