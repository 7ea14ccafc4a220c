package config

// Config is the root configuration for the chatsemble sync server and CLI.
type Config struct {
	Server       ServerConfig  `yaml:"server,omitempty"`
	Organization OrgConfig     `yaml:"organization,omitempty"`
	Store        StoreConfig   `yaml:"store,omitempty"`
	Agents       AgentsConfig  `yaml:"agents,omitempty"`
	LLM          LLMConfig     `yaml:"llm,omitempty"`
	Tools        ToolsConfig   `yaml:"tools,omitempty"`
	Client       ClientConfig  `yaml:"client,omitempty"`
	Logging      LoggingConfig `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           AuthConfig `yaml:"auth,omitempty"`
	TLS            TLSConfig  `yaml:"tls,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`

	// HistoryWindow bounds the messages-sync batch sent after upgrade.
	HistoryWindow int `yaml:"historyWindow,omitempty"`

	// MessageRatePerSec and MessageBurst bound inbound sends per socket.
	MessageRatePerSec float64 `yaml:"messageRatePerSec,omitempty"`
	MessageBurst      int     `yaml:"messageBurst,omitempty"`
}

// AuthConfig maps bearer tokens to principal (user) ids. Session mechanics
// live outside the sync core; tokens are the minimal principal interface.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens,omitempty"` // token → user id
}

// TLSConfig configures TLS for the server listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// OrgConfig identifies the organization this deployment serves.
type OrgConfig struct {
	ID   string      `yaml:"id,omitempty"`
	Name string      `yaml:"name,omitempty"`
	Users []UserEntry `yaml:"users,omitempty"`
}

// UserEntry seeds a user into the org directory at startup.
type UserEntry struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email,omitempty"`
	Image string `yaml:"image,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file; empty means <data>/chatsemble.db
}

// AgentsConfig defines agent defaults and the agent roster.
type AgentsConfig struct {
	Defaults AgentDefaults `yaml:"defaults,omitempty"`
	List     []AgentEntry  `yaml:"list,omitempty"`
}

// AgentDefaults defines default settings for all agents.
type AgentDefaults struct {
	Model       string   `yaml:"model,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// AgentEntry defines a single agent available to rooms in this org.
type AgentEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Image   string `yaml:"image,omitempty"`
	Model   string `yaml:"model,omitempty"`
	Persona string `yaml:"persona,omitempty"`
}

// LLMConfig selects the completion provider for agent dispatch.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty"` // "openai" | "mock"
	BaseURL  string `yaml:"baseUrl,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ToolsConfig configures agent tools.
type ToolsConfig struct {
	SearchEndpoint        string `yaml:"searchEndpoint,omitempty"`
	DeepResearchBudgetSec int    `yaml:"deepResearchBudgetSec,omitempty"`
}

// ClientConfig is used by the CLI client commands (send, watch, room).
type ClientConfig struct {
	Host  string `yaml:"host,omitempty"` // host:port of the server
	TLS   bool   `yaml:"tls,omitempty"`  // use wss/https
	Token string `yaml:"token,omitempty"`

	// SendTimeoutSec bounds how long an optimistic send waits for its
	// server echo before being marked failed.
	SendTimeoutSec int `yaml:"sendTimeoutSec,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}
