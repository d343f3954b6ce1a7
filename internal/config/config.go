// Package config defines the detector configuration surface and its JSON
// loader. Configuration errors are fatal before any event fetch.
package config

import "time"

const (
	BackendMemory = "memory"
	BackendKV     = "kv"
)

// Config is the root configuration structure.
type Config struct {
	// Timezone is the IANA zone used for off-hours classification and for
	// rendering timestamps in findings.
	Timezone string `json:"timezone" mapstructure:"timezone"`

	WindowMinutes      int     `json:"window_minutes" mapstructure:"window-minutes"`
	LookbackHours      int     `json:"lookback_hours" mapstructure:"lookback-hours"`
	DelayedThreshold   float64 `json:"delayed_threshold" mapstructure:"delayed-threshold"`
	ReconHalfLifeHours float64 `json:"recon_half_life_hours" mapstructure:"recon-half-life-hours"`
	SkewToleranceMin   int     `json:"skew_tolerance_minutes" mapstructure:"skew-tolerance-minutes"`

	// ReconStateBackend selects the recon score store: "memory" (per-process,
	// ephemeral) or "kv" (bbolt file shared across detector runs).
	ReconStateBackend string `json:"recon_state_backend" mapstructure:"recon-state-backend"`
	KVPath            string `json:"kv_path,omitempty" mapstructure:"kv-path"`
	KVTTLDays         int    `json:"kv_ttl_days" mapstructure:"kv-ttl-days"`

	Suppressions      Suppressions      `json:"suppressions" mapstructure:"suppressions"`
	PartnerDomains    []string          `json:"partner_domains,omitempty" mapstructure:"partner-domains"`
	HighRiskFolders   []string          `json:"high_risk_folders,omitempty" mapstructure:"high-risk-folders"`
	SeverityOverrides SeverityOverrides `json:"severity_overrides" mapstructure:"severity-overrides"`
	CanaryDocIDs      []string          `json:"canary_doc_ids,omitempty" mapstructure:"canary-doc-ids"`

	// ActorOUs maps actor emails to org unit paths. Stands in for a directory
	// lookup; entries are optional and missing actors resolve to no OU.
	ActorOUs map[string]string `json:"actor_ous,omitempty" mapstructure:"actor-ous"`

	Intent   IntentConfig   `json:"intent" mapstructure:"intent"`
	Alerting AlertingConfig `json:"alerting" mapstructure:"alerting"`
	Sources  SourcesConfig  `json:"sources" mapstructure:"sources"`
	Serve    ServeConfig    `json:"serve" mapstructure:"serve"`

	// Workers bounds the per-actor worker pool. 0 means min(NumCPU, 8).
	Workers int `json:"workers,omitempty" mapstructure:"workers"`

	BackendTimeoutSeconds int `json:"backend_timeout_seconds" mapstructure:"backend-timeout-seconds"`
	BackendRetries        int `json:"backend_retries" mapstructure:"backend-retries"`

	FileCacheSize       int `json:"file_cache_size" mapstructure:"file-cache-size"`
	FileCacheTTLMinutes int `json:"file_cache_ttl_minutes" mapstructure:"file-cache-ttl-minutes"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// Suppressions holds the rules that drop findings before emission.
type Suppressions struct {
	AllowedExternalDomains   []string `json:"allowed_external_domains,omitempty" mapstructure:"allowed-external-domains"`
	SecurityInvestigationOUs []string `json:"security_investigation_ous,omitempty" mapstructure:"security-investigation-ous"`
	ExcludeActors            []string `json:"exclude_actors,omitempty" mapstructure:"exclude-actors"`
}

// SeverityOverrides holds the rules that elevate finding severity.
type SeverityOverrides struct {
	HighRiskOUs     []string `json:"high_risk_ous,omitempty" mapstructure:"high-risk-ous"`
	SensitiveLabels []string `json:"sensitive_labels,omitempty" mapstructure:"sensitive-labels"`
}

// IntentConfig tunes the rule-based intent classifier. The thresholds map the
// additive score to a verdict.
type IntentConfig struct {
	MaliciousThreshold  float64 `json:"malicious_threshold" mapstructure:"malicious-threshold"`
	SuspiciousThreshold float64 `json:"suspicious_threshold" mapstructure:"suspicious-threshold"`
	RoutineSharesPerDay float64 `json:"routine_shares_per_day" mapstructure:"routine-shares-per-day"`
}

// AlertingConfig configures the webhook sink.
type AlertingConfig struct {
	WebhookURL        string   `json:"webhook_url,omitempty" mapstructure:"webhook-url"`
	AlertOnSeverities []string `json:"alert_on_severities,omitempty" mapstructure:"alert-on-severities"`
}

// SourcesConfig points the replay adapters at their inputs.
type SourcesConfig struct {
	ReconPath string `json:"recon_path,omitempty" mapstructure:"recon-path"`
	ExfilPath string `json:"exfil_path,omitempty" mapstructure:"exfil-path"`
}

// ServeConfig configures periodic sweep mode.
type ServeConfig struct {
	Listen          string `json:"listen" mapstructure:"listen"`
	IntervalMinutes int    `json:"interval_minutes" mapstructure:"interval-minutes"`
}

// LogConfig mirrors the logging options of internal/logs.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"` // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`
	MaxAge        int    `json:"max_age" mapstructure:"max-age"` // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultConfig returns the configuration defaults from the detection
// contract: 30 minute window, 5.0 delayed threshold, 48h half-life.
func DefaultConfig() *Config {
	return &Config{
		Timezone:              "UTC",
		WindowMinutes:         30,
		LookbackHours:         24,
		DelayedThreshold:      5.0,
		ReconHalfLifeHours:    48,
		SkewToleranceMin:      5,
		ReconStateBackend:     BackendMemory,
		KVTTLDays:             35,
		BackendTimeoutSeconds: 5,
		BackendRetries:        2,
		FileCacheSize:         10000,
		FileCacheTTLMinutes:   60,
		Intent: IntentConfig{
			MaliciousThreshold:  0.7,
			SuspiciousThreshold: 0.4,
			RoutineSharesPerDay: 3.0,
		},
		Alerting: AlertingConfig{
			AlertOnSeverities: []string{"high", "medium"},
		},
		Serve: ServeConfig{
			Listen:          "127.0.0.1:8391",
			IntervalMinutes: 15,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableConsole: true,
			Filename:      "exfilwatch.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
	}
}

// BackendTimeout returns the per-call timeout for backend operations.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// Window returns the correlation window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// HalfLife returns the recon decay half-life as a duration.
func (c *Config) HalfLife() time.Duration {
	return time.Duration(c.ReconHalfLifeHours * float64(time.Hour))
}

// SkewTolerance returns the clock-skew clamp tolerance.
func (c *Config) SkewTolerance() time.Duration {
	return time.Duration(c.SkewToleranceMin) * time.Minute
}

// FileCacheTTL returns the positive-entry TTL of the file context cache.
func (c *Config) FileCacheTTL() time.Duration {
	return time.Duration(c.FileCacheTTLMinutes) * time.Minute
}

// KVTTL returns the persisted-state expiry for the kv backend.
func (c *Config) KVTTL() time.Duration {
	return time.Duration(c.KVTTLDays) * 24 * time.Hour
}

// Location resolves the configured timezone. Validate has already checked the
// zone name, so resolution falls back to UTC only on an empty value.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
