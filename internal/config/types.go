package config

import (
	"time"

	"github.com/ensembleai/ensemble/pkg/utils"
)

// AppConfig is the main configuration structure. The host binary reads the
// host, llm and logging sections; the remote agent binary reads the agent
// section. Configuration is read once at startup and never re-read.
type AppConfig struct {
	Host    HostConfig      `yaml:"host" json:"host"`
	Agent   AgentConfig     `yaml:"agent" json:"agent"`
	LLM     LLMConfig       `yaml:"llm" json:"llm"`
	Logging utils.LogConfig `yaml:"logging" json:"logging"`
}

// HostConfig configures the orchestrating host process.
type HostConfig struct {
	Port int `yaml:"port" json:"port"`

	// RemoteAgents are the base URLs probed for agent cards at startup.
	RemoteAgents []string `yaml:"remote_agents" json:"remote_agents"`

	// FailureThreshold is the number of consecutive failed probes after
	// which a reachable entry becomes unreachable. Remote agents are
	// long-running, so the default of 1 avoids masking a down agent.
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// TaskTimeout is the per-task deadline. Generous by default since
	// some agents drive browser automation.
	TaskTimeout  time.Duration `yaml:"task_timeout" json:"task_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`

	// MinMatchScore is the routing threshold below which the host
	// answers "no capable agent" instead of guessing.
	MinMatchScore float64 `yaml:"min_match_score" json:"min_match_score"`

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" json:"session_idle_timeout"`
}

// AgentConfig configures one remote agent server.
type AgentConfig struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	URL         string `yaml:"url" json:"url"`
	Port        int    `yaml:"port" json:"port"`

	// Kind selects the executor: clock, calc, web or dataquery.
	Kind string `yaml:"kind" json:"kind"`

	// Streaming advertises incremental delivery on the agent card.
	Streaming bool `yaml:"streaming" json:"streaming"`

	MCP MCPConfig `yaml:"mcp" json:"mcp"`
	Web WebConfig `yaml:"web" json:"web"`
}

// MCPConfig points the dataquery executor at an external MCP server.
type MCPConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`

	// Tool is the remote tool invoked for each query. When empty, the
	// first tool reported by tools/list is used.
	Tool string `yaml:"tool" json:"tool"`
}

// WebConfig bounds the web executor's fetches.
type WebConfig struct {
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// LLMConfig configures the intent backend.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Host: HostConfig{
			Port:               8000,
			FailureThreshold:   1,
			ProbeTimeout:       10 * time.Second,
			TaskTimeout:        5 * time.Minute,
			RetryBackoff:       500 * time.Millisecond,
			MinMatchScore:      0.2,
			SessionIdleTimeout: 30 * time.Minute,
		},
		Agent: AgentConfig{
			Version:   "1.0.0",
			Port:      10000,
			Streaming: true,
			Web: WebConfig{
				MaxBodyBytes: 2 << 20,
				FetchTimeout: 30 * time.Second,
			},
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Logging: utils.DefaultLogConfig(),
	}
}
