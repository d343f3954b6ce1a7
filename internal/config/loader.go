package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "EXFILWATCH"

// LoadFromFile loads configuration from a JSON file on top of the defaults,
// applies EXFILWATCH_* environment overrides, and validates the result.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override scalar options
// without editing the config file, e.g. EXFILWATCH_KV_PATH or
// EXFILWATCH_WEBHOOK_URL.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("timezone"); s != "" {
		cfg.Timezone = s
	}
	if v.IsSet("window_minutes") {
		if n := v.GetInt("window_minutes"); n != 0 {
			cfg.WindowMinutes = n
		}
	}
	if s := v.GetString("recon_state_backend"); s != "" {
		cfg.ReconStateBackend = s
	}
	if s := v.GetString("kv_path"); s != "" {
		cfg.KVPath = s
	}
	if s := v.GetString("webhook_url"); s != "" {
		cfg.Alerting.WebhookURL = s
	}
	if s := v.GetString("log_level"); s != "" {
		if cfg.Logging == nil {
			cfg.Logging = DefaultConfig().Logging
		}
		cfg.Logging.Level = s
	}
}
