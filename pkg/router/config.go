package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/nexus/pkg/downstream"
)

// Config is the top-level router configuration.
type Config struct {
	Router     RouterConfig   `yaml:"router"`
	Brain      BrainConfig    `yaml:"brain"`
	Downstream []ServerConfig `yaml:"downstream_servers"`
}

// RouterConfig holds the router's own identity and listen address.
type RouterConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Addr    string `yaml:"addr"`
}

// BrainConfig describes the LLM used for planning and synthesis.
type BrainConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ServerConfig describes one downstream MCP server. Exactly one of URL
// (SSE) or Command (spawned subprocess) must be set.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LoadConfig reads a YAML file and returns a Config with defaults applied.
// Environment variables referenced as ${VAR} or $VAR in the YAML are
// expanded before parsing, so API keys can live in the environment rather
// than in the file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("router: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("router: parse config: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Router.Name == "" {
		c.Router.Name = "nexus-router"
	}
	if c.Router.Version == "" {
		c.Router.Version = downstream.Version
	}
	if c.Router.Addr == "" {
		c.Router.Addr = ":8002"
	}
	if c.Brain.BaseURL == "" {
		c.Brain.BaseURL = "https://api.openai.com"
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Brain.APIKey == "" {
		return fmt.Errorf("router: config: brain api_key is required")
	}
	if c.Brain.Model == "" {
		return fmt.Errorf("router: config: brain model is required")
	}

	if len(c.Downstream) == 0 {
		return fmt.Errorf("router: config: at least one downstream server is required")
	}

	names := make(map[string]struct{}, len(c.Downstream))
	for _, s := range c.Downstream {
		if s.Name == "" {
			return fmt.Errorf("router: config: downstream server name is required")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("router: config: duplicate downstream server name %q", s.Name)
		}
		names[s.Name] = struct{}{}

		hasURL := s.URL != ""
		hasCommand := s.Command != ""
		if hasURL == hasCommand {
			return fmt.Errorf("router: config: downstream server %q: exactly one of url or command is required", s.Name)
		}
	}

	return nil
}

// Endpoints converts the downstream server configs into endpoints, in
// declaration order.
func (c Config) Endpoints() []downstream.Endpoint {
	endpoints := make([]downstream.Endpoint, 0, len(c.Downstream))
	for _, s := range c.Downstream {
		endpoints = append(endpoints, downstream.Endpoint{
			Name:    s.Name,
			URL:     s.URL,
			Command: s.Command,
			Args:    s.Args,
		})
	}

	return endpoints
}
