// Package config loads insightdeck settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// IndexMode selects the vector index backend.
type IndexMode string

const (
	// IndexEmbedded stores documents in a local SQLite file.
	IndexEmbedded IndexMode = "embedded"
	// IndexRemote stores documents in SurrealDB.
	IndexRemote IndexMode = "remote"
)

// Stage names, in execution order.
const (
	StageExtract = "extract"
	StageProcess = "process"
	StageIndex   = "index"
	StageInsight = "insights"
	StagePublish = "publish"
)

// Stages lists all pipeline stages in execution order.
var Stages = []string{StageExtract, StageProcess, StageIndex, StageInsight, StagePublish}

// Config holds all configuration values.
type Config struct {
	// Issue tracker
	TrackerURL        string `validate:"required,url"`
	TrackerUser       string `validate:"required"`
	TrackerToken      string `validate:"required"`
	ProjectKey        string `validate:"required"`
	TrackerPageSize   int    `validate:"gte=1,lte=100"`
	TrackerMaxRetries int    `validate:"gte=0"`

	// Completion model
	LLMProvider     Provider `validate:"required,oneof=openai anthropic ollama bedrock"`
	LLMModel        string   `validate:"required"`
	OpenAIAPIKey    string   `validate:"required_if=LLMProvider openai"`
	AnthropicAPIKey string   `validate:"required_if=LLMProvider anthropic"`
	AWSRegion       string
	OllamaHost      string
	PromptBudget    int `validate:"gte=512"`

	// Embeddings
	EmbedProvider  Provider `validate:"required,oneof=openai ollama"`
	EmbedModel     string   `validate:"required"`
	EmbedDimension int      `validate:"gte=1"`

	// Vector index
	IndexMode          IndexMode `validate:"required,oneof=embedded remote"`
	SurrealDBURL       string    `validate:"required_if=IndexMode remote"`
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Hosted decks (optional)
	DeckAPIURL string
	DeckAPIKey string

	// Storage
	DataDir string `validate:"required"`

	// Server
	ServerPort     string
	APIKey         string
	UpdateInterval time.Duration
	NATSURL        string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	llmProvider := Provider(strings.ToLower(getEnv("LLM_PROVIDER", "openai")))

	return Config{
		TrackerURL:        strings.TrimRight(getEnv("JIRA_URL", ""), "/"),
		TrackerUser:       getEnv("JIRA_USERNAME", ""),
		TrackerToken:      getEnv("JIRA_API_TOKEN", ""),
		ProjectKey:        getEnv("JIRA_PROJECT_KEY", ""),
		TrackerPageSize:   getEnvInt("JIRA_PAGE_SIZE", 50),
		TrackerMaxRetries: getEnvInt("JIRA_MAX_RETRIES", 3),

		LLMProvider:     llmProvider,
		LLMModel:        getEnv("LLM_MODEL", defaultModel(llmProvider)),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		PromptBudget:    getEnvInt("PROMPT_TOKEN_BUDGET", 6000),

		EmbedProvider:  Provider(strings.ToLower(getEnv("EMBED_PROVIDER", "ollama"))),
		EmbedModel:     getEnv("EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("EMBED_DIMENSION", 384),

		IndexMode:          IndexMode(strings.ToLower(getEnv("INDEX_MODE", string(IndexEmbedded)))),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "insightdeck"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "tracker"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		DeckAPIURL: strings.TrimRight(getEnv("DECK_API_URL", "https://api.beautiful.ai/v1"), "/"),
		DeckAPIKey: getEnv("DECK_API_KEY", ""),

		DataDir: getEnv("INSIGHTDECK_DATA_DIR", "data"),

		ServerPort:     getEnv("INSIGHTDECK_SERVER_PORT", "8585"),
		APIKey:         getEnv("INSIGHTDECK_API_KEY", ""),
		UpdateInterval: getEnvDuration("UPDATE_INTERVAL", time.Hour),
		NATSURL:        getEnv("NATS_URL", ""),

		LogFile:  getEnv("INSIGHTDECK_LOG_FILE", "/tmp/insightdeck.log"),
		LogLevel: parseLogLevel(getEnv("INSIGHTDECK_LOG_LEVEL", "INFO")),
	}
}

var validate = validator.New()

// Validate checks that all required settings are present.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
}

// Dir returns a subdirectory of the data directory.
func (c Config) Dir(name string) string {
	return filepath.Join(c.DataDir, name)
}

// StatePath is the SQLite file holding run records and deck ids.
func (c Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// IndexPath is the SQLite file used by the embedded index.
func (c Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOllama:
		return "llama3.1"
	case ProviderBedrock:
		return "anthropic.claude-3-5-sonnet-20240620-v1:0"
	default:
		return "gpt-4o"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
