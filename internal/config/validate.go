package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Server.Bind != "" && !slices.Contains(validBinds, cfg.Server.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "server.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Server.Bind),
		})
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "server.tls.certPath",
				Message: "required when tls is enabled",
			})
		}
		if cfg.Server.TLS.KeyPath == "" {
			issues = append(issues, ValidationIssue{
				Path:    "server.tls.keyPath",
				Message: "required when tls is enabled",
			})
		}
	}

	if cfg.Server.HistoryWindow < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "server.historyWindow",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Server.HistoryWindow),
		})
	}

	validDrivers := []string{"sqlite", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "store.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.Store.Driver),
		})
	}

	validProviders := []string{"openai", "mock"}
	if cfg.LLM.Provider != "" && !slices.Contains(validProviders, cfg.LLM.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "llm.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, cfg.LLM.Provider),
		})
	}
	if cfg.LLM.Provider == "openai" && len(cfg.Agents.List) > 0 && cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "llm.apiKey",
			Message: "required for openai provider when agents are configured",
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.style",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.Style),
		})
	}

	seen := map[string]bool{}
	for i, a := range cfg.Agents.List {
		if a.ID == "" {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("agents.list[%d].id", i),
				Message: "agent id is required",
			})
			continue
		}
		if seen[a.ID] {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("agents.list[%d].id", i),
				Message: fmt.Sprintf("duplicate agent id %q", a.ID),
			})
		}
		seen[a.ID] = true
	}

	return issues
}
