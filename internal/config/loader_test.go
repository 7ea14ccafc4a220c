package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 18990, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	assert.Equal(t, 100, cfg.Server.HistoryWindow)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  bind: lan
store:
  driver: memory
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, "memory", cfg.Store.Driver)
	// Untouched fields keep their defaults.
	assert.Equal(t, 100, cfg.Server.HistoryWindow)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATSEMBLE_PORT", "7777")
	t.Setenv("CHATSEMBLE_LOG_LEVEL", "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSensitiveFieldExpansion(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-secret")
	t.Setenv("TEST_ADA_TOKEN", "tok-real")

	path := writeConfig(t, `
llm:
  apiKey: ${TEST_LLM_KEY}
server:
  auth:
    tokens:
      ${TEST_ADA_TOKEN}: u1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
	assert.Equal(t, "u1", cfg.Server.Auth.Tokens["tok-real"])
	_, stillRaw := cfg.Server.Auth.Tokens["${TEST_ADA_TOKEN}"]
	assert.False(t, stillRaw)
}

func TestExpandEnvVarsLeavesUnsetAlone(t *testing.T) {
	assert.Equal(t, "${DEFINITELY_NOT_SET_12345}", expandEnvVars("${DEFINITELY_NOT_SET_12345}"))
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))

	cfg.Server.Port = 99999
	cfg.Server.Bind = "everywhere"
	cfg.Store.Driver = "postgres"
	cfg.Logging.Level = "loud"

	issues := Validate(&cfg)
	paths := make([]string, len(issues))
	for i, issue := range issues {
		paths[i] = issue.Path
	}
	assert.Contains(t, paths, "server.port")
	assert.Contains(t, paths, "server.bind")
	assert.Contains(t, paths, "store.driver")
	assert.Contains(t, paths, "logging.level")
}

func TestValidateTLSRequiresPaths(t *testing.T) {
	cfg := Defaults()
	cfg.Server.TLS.Enabled = true

	issues := Validate(&cfg)
	require.Len(t, issues, 2)
	assert.Equal(t, "server.tls.certPath", issues[0].Path)
	assert.Equal(t, "server.tls.keyPath", issues[1].Path)
}

func TestValidateAgentIDs(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Provider = "mock"
	cfg.Agents.List = []AgentEntry{
		{ID: "a1"},
		{ID: ""},
		{ID: "a1"},
	}

	issues := Validate(&cfg)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0].Message, "required")
	assert.Contains(t, issues[1].Message, "duplicate")
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Agents.List = []AgentEntry{{ID: "a1"}}

	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "llm.apiKey", issues[0].Path)

	// A custom base URL (e.g. a local inference server) lifts the
	// requirement.
	cfg.LLM.BaseURL = "http://127.0.0.1:11434"
	assert.Empty(t, Validate(&cfg))
}
