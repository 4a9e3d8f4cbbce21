package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		TrackerURL:        "https://example.atlassian.net",
		TrackerUser:       "bot@example.com",
		TrackerToken:      "token",
		ProjectKey:        "ABC",
		TrackerPageSize:   50,
		TrackerMaxRetries: 3,
		LLMProvider:       ProviderOpenAI,
		LLMModel:          "gpt-4o",
		OpenAIAPIKey:      "sk-test",
		PromptBudget:      6000,
		EmbedProvider:     ProviderOllama,
		EmbedModel:        "all-minilm:l6-v2",
		EmbedDimension:    384,
		IndexMode:         IndexEmbedded,
		DataDir:           "data",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing tracker url", func(c *Config) { c.TrackerURL = "" }, "TrackerURL"},
		{"missing token", func(c *Config) { c.TrackerToken = "" }, "TrackerToken"},
		{"missing project", func(c *Config) { c.ProjectKey = "" }, "ProjectKey"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "gemini" }, "LLMProvider"},
		{"openai without key", func(c *Config) { c.OpenAIAPIKey = "" }, "OpenAIAPIKey"},
		{"anthropic without key", func(c *Config) {
			c.LLMProvider = ProviderAnthropic
			c.OpenAIAPIKey = ""
		}, "AnthropicAPIKey"},
		{"ollama needs no key", func(c *Config) {
			c.LLMProvider = ProviderOllama
			c.OpenAIAPIKey = ""
		}, ""},
		{"remote index without url", func(c *Config) {
			c.IndexMode = IndexRemote
			c.SurrealDBURL = ""
		}, "SurrealDBURL"},
		{"bad index mode", func(c *Config) { c.IndexMode = "cloud" }, "IndexMode"},
		{"page size too large", func(c *Config) { c.TrackerPageSize = 500 }, "TrackerPageSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JIRA_URL", "https://example.atlassian.net/")
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("UPDATE_INTERVAL", "900")
	t.Setenv("INSIGHTDECK_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "https://example.atlassian.net", cfg.TrackerURL)
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLMModel)
	assert.Equal(t, 15*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, IndexEmbedded, cfg.IndexMode)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "2h")
	assert.Equal(t, 2*time.Hour, getEnvDuration("X_DURATION", time.Minute))

	t.Setenv("X_DURATION", "garbage")
	assert.Equal(t, time.Minute, getEnvDuration("X_DURATION", time.Minute))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("run started", "run_id", "abc123")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "run_id=abc123")
	assert.Contains(t, file.String(), `"run_id":"abc123"`)
	assert.NotContains(t, file.String(), "hidden")
}
