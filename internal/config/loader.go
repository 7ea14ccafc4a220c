// Package config loads and validates the chatsemble YAML configuration.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens and API keys can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.Client.Token = expandEnvVars(cfg.Client.Token)
	for token, userID := range cfg.Server.Auth.Tokens {
		expanded := expandEnvVars(token)
		if expanded != token {
			delete(cfg.Server.Auth.Tokens, token)
			cfg.Server.Auth.Tokens[expanded] = userID
		}
	}
}

// Defaults returns a Config with all defaults applied.
func Defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// ConfigError describes a configuration problem.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18990
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Server.HistoryWindow == 0 {
		cfg.Server.HistoryWindow = 100
	}
	if cfg.Server.MessageRatePerSec == 0 {
		cfg.Server.MessageRatePerSec = 10
	}
	if cfg.Server.MessageBurst == 0 {
		cfg.Server.MessageBurst = 20
	}
	if cfg.Organization.ID == "" {
		cfg.Organization.ID = "default"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Tools.DeepResearchBudgetSec == 0 {
		cfg.Tools.DeepResearchBudgetSec = 120
	}
	if cfg.Client.Host == "" {
		cfg.Client.Host = "127.0.0.1:18990"
	}
	if cfg.Client.SendTimeoutSec == 0 {
		cfg.Client.SendTimeoutSec = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
}

// applyEnvOverrides reads CHATSEMBLE_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATSEMBLE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHATSEMBLE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("CHATSEMBLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CHATSEMBLE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CHATSEMBLE_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("CHATSEMBLE_HOST"); v != "" {
		cfg.Client.Host = v
	}
}
