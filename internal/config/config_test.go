package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.Planning.MaxIterations)
	assert.Equal(t, 0.85, cfg.Planning.ConfidenceThreshold)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.DeepSeek.BaseURL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `planning:
  max_iterations: 5
  confidence_threshold: 0.9
  feasibility_weight: 0.4
  completeness_weight: 0.35
  viability_weight: 0.25
sandbox:
  default_timeout: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Planning.MaxIterations)
	assert.Equal(t, 10.0, cfg.GetSandboxTimeout().Seconds())
	// Untouched sections keep defaults
	assert.Equal(t, 3, cfg.MCP.FailureThreshold)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-test-deepseek")
	t.Setenv("GITHUB_TOKEN", "ghp-test")
	t.Setenv("GITHUB_USERNAME", "octocat")
	t.Setenv("IDEAFORGE_DB", "/tmp/override.db")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `deepseek:
  api_key: from-file
github:
  token: file-token
store:
  database_path: file.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over file values
	assert.Equal(t, "sk-test-deepseek", cfg.DeepSeek.APIKey)
	assert.Equal(t, "ghp-test", cfg.GitHub.Token)
	assert.Equal(t, "octocat", cfg.GitHub.Username)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)

	assert.True(t, cfg.HasDeepSeek())
	assert.True(t, cfg.HasGitHub())
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planning.FeasibilityWeight = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{"zero", 0, true},
		{"above one", 1.5, true},
		{"valid low", 0.1, false},
		{"valid exact one", 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Planning.ConfidenceThreshold = tt.threshold
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Planning.MaxIterations = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Planning.MaxIterations)
}

func TestLoggingCategoryToggle(t *testing.T) {
	lc := LoggingConfig{
		DebugMode:  true,
		Categories: map[string]bool{"planning": true, "sandbox": false},
	}
	assert.True(t, lc.IsCategoryEnabled("planning"))
	assert.False(t, lc.IsCategoryEnabled("sandbox"))
	// Unlisted categories default to enabled
	assert.True(t, lc.IsCategoryEnabled("mcp"))

	lc.DebugMode = false
	assert.False(t, lc.IsCategoryEnabled("planning"))
}
