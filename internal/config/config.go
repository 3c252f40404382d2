package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ideaforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Planning collaborator (DeepSeek chat API)
	DeepSeek DeepSeekConfig `yaml:"deepseek"`

	// Planning loop settings
	Planning PlanningConfig `yaml:"planning"`

	// Sandboxed code execution
	Sandbox SandboxConfig `yaml:"sandbox"`

	// MCP server supervision
	MCP MCPConfig `yaml:"mcp"`

	// Session store
	Store StoreConfig `yaml:"store"`

	// GitHub integration
	GitHub GitHubConfig `yaml:"github"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DeepSeekConfig configures the planning collaborator client.
type DeepSeekConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// PlanningConfig configures the iterative planning loop.
type PlanningConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// Weighted score composition. Must sum to 1.0.
	FeasibilityWeight  float64 `yaml:"feasibility_weight"`
	CompletenessWeight float64 `yaml:"completeness_weight"`
	ViabilityWeight    float64 `yaml:"viability_weight"`
}

// SandboxConfig configures sandboxed code execution.
type SandboxConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
	Dir            string `yaml:"dir"` // parent for per-run directories; empty = system temp
}

// MCPConfig configures MCP server process supervision.
type MCPConfig struct {
	ServersFile      string `yaml:"servers_file"` // optional catalog, hot-reloaded
	ProbeInterval    string `yaml:"probe_interval"`
	FailureThreshold int    `yaml:"failure_threshold"`
	StopGracePeriod  string `yaml:"stop_grace_period"`
}

// StoreConfig configures the SQLite session store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// GitHubConfig configures GitHub repository automation.
type GitHubConfig struct {
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ideaforge",
		Version: "1.0.0",

		DeepSeek: DeepSeekConfig{
			Model:   "deepseek-chat",
			BaseURL: "https://api.deepseek.com/v1",
			Timeout: "120s",
		},

		Planning: PlanningConfig{
			MaxIterations:       3,
			ConfidenceThreshold: 0.85,
			FeasibilityWeight:   0.40,
			CompletenessWeight:  0.35,
			ViabilityWeight:     0.25,
		},

		Sandbox: SandboxConfig{
			DefaultTimeout: "30s",
			MaxOutputBytes: 1 << 20,
		},

		MCP: MCPConfig{
			ServersFile:      ".ideaforge/mcp_servers.yaml",
			ProbeInterval:    "10s",
			FailureThreshold: 3,
			StopGracePeriod:  "5s",
		},

		Store: StoreConfig{
			DatabasePath: ".ideaforge/ideaforge.db",
		},

		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
			Timeout: "30s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Environment always wins over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		c.DeepSeek.APIKey = key
	}
	if user := os.Getenv("GITHUB_USERNAME"); user != "" {
		c.GitHub.Username = user
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		c.GitHub.Token = token
	}
	if path := os.Getenv("IDEAFORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetDeepSeekTimeout returns the collaborator call timeout as a duration.
func (c *Config) GetDeepSeekTimeout() time.Duration {
	d, err := time.ParseDuration(c.DeepSeek.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSandboxTimeout returns the default sandbox timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.DefaultTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetProbeInterval returns the MCP health probe interval as a duration.
func (c *Config) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(c.MCP.ProbeInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetStopGracePeriod returns the MCP stop grace period as a duration.
func (c *Config) GetStopGracePeriod() time.Duration {
	d, err := time.ParseDuration(c.MCP.StopGracePeriod)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetGitHubTimeout returns the GitHub API timeout as a duration.
func (c *Config) GetGitHubTimeout() time.Duration {
	d, err := time.ParseDuration(c.GitHub.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// HasDeepSeek reports whether the planning collaborator is configured.
func (c *Config) HasDeepSeek() bool {
	return c.DeepSeek.APIKey != ""
}

// HasGitHub reports whether GitHub automation is configured.
func (c *Config) HasGitHub() bool {
	return c.GitHub.Token != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Planning.MaxIterations < 1 {
		return fmt.Errorf("planning.max_iterations must be at least 1")
	}
	if c.Planning.ConfidenceThreshold <= 0 || c.Planning.ConfidenceThreshold > 1 {
		return fmt.Errorf("planning.confidence_threshold must be in (0, 1]")
	}
	sum := c.Planning.FeasibilityWeight + c.Planning.CompletenessWeight + c.Planning.ViabilityWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("planning weights must sum to 1.0, got %.3f", sum)
	}
	if c.MCP.FailureThreshold < 1 {
		return fmt.Errorf("mcp.failure_threshold must be at least 1")
	}
	return nil
}

// DefaultConfigPath returns the default path to .ideaforge/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".ideaforge", "config.yaml")
	}
	return filepath.Join(cwd, ".ideaforge", "config.yaml")
}
