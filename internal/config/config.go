package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ensembleai/ensemble/pkg/utils"
)

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string, logger *logrus.Logger) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("Configuration file %s not found, using defaults", path)
		applyEnvironmentOverrides(config)
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand ${VAR} references before parsing so secrets stay out of files.
	configString := utils.ExpandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(configString), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig checks if the configuration is valid
func validateConfig(config *AppConfig) error {
	if config.Host.Port <= 0 {
		return fmt.Errorf("host.port must be positive")
	}
	if config.Host.FailureThreshold < 1 {
		return fmt.Errorf("host.failure_threshold must be at least 1")
	}
	if config.Host.MinMatchScore < 0 || config.Host.MinMatchScore > 1 {
		return fmt.Errorf("host.min_match_score must be within [0, 1]")
	}

	for _, addr := range config.Host.RemoteAgents {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			return fmt.Errorf("remote agent address %q must be an http(s) URL", addr)
		}
	}

	if config.Agent.Kind != "" {
		switch config.Agent.Kind {
		case "clock", "calc", "web":
		case "dataquery":
			if config.Agent.MCP.URL == "" {
				return fmt.Errorf("agent.mcp.url is required for the dataquery agent")
			}
		default:
			return fmt.Errorf("unknown agent kind %q", config.Agent.Kind)
		}
		if config.Agent.Name == "" {
			return fmt.Errorf("agent name cannot be empty")
		}
	}

	if config.LLM.Enabled {
		if config.LLM.Provider == "" {
			return fmt.Errorf("LLM provider cannot be empty when LLM is enabled")
		}
		if config.LLM.Provider == "openai" && config.LLM.APIKey == "" {
			return fmt.Errorf("OpenAI API key cannot be empty when using OpenAI provider")
		}
	}

	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func applyEnvironmentOverrides(config *AppConfig) {
	if name := os.Getenv("AGENT_NAME"); name != "" {
		config.Agent.Name = name
	}
	if version := os.Getenv("AGENT_VERSION"); version != "" {
		config.Agent.Version = version
	}
	if url := os.Getenv("AGENT_URL"); url != "" {
		config.Agent.URL = url
	}
	if portStr := os.Getenv("AGENT_PORT"); portStr != "" {
		if v, err := strconv.Atoi(portStr); err != nil {
			logrus.Warnf("Invalid AGENT_PORT: %s", portStr)
		} else {
			config.Agent.Port = v
		}
	}

	if portStr := os.Getenv("HOST_PORT"); portStr != "" {
		if v, err := strconv.Atoi(portStr); err != nil {
			logrus.Warnf("Invalid HOST_PORT: %s", portStr)
		} else {
			config.Host.Port = v
		}
	}
	if agents := os.Getenv("REMOTE_AGENTS"); agents != "" {
		config.Host.RemoteAgents = config.Host.RemoteAgents[:0]
		for _, part := range strings.Split(agents, ",") {
			addr := strings.TrimSpace(part)
			if addr == "" {
				continue
			}
			config.Host.RemoteAgents = append(config.Host.RemoteAgents, addr)
		}
	}

	config.LLM.Enabled = utils.BoolFromEnv("LLM_ENABLED", config.LLM.Enabled)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
