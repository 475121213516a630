// Package config loads promisetrack configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Provider names for LLM and embedding backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embedding service
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string

	// LLM completion service
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Pipeline
	PipelineConfigPath string
	MaxConcurrentJobs  int

	// HTTP server
	ServerPort string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "promisetrack"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "tracker"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  getEnv("PROMISETRACK_EMBED_PROVIDER", ProviderOllama),
		EmbedModel:     getEnv("PROMISETRACK_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("PROMISETRACK_EMBED_DIMENSION", 384),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),

		LLMProvider:     getEnv("PROMISETRACK_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("PROMISETRACK_LLM_MODEL", "llama3.1"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		PipelineConfigPath: getEnv("PROMISETRACK_PIPELINE_CONFIG", "pipeline.yaml"),
		MaxConcurrentJobs:  getEnvInt("PROMISETRACK_MAX_CONCURRENT_JOBS", 4),

		ServerPort: getEnv("PROMISETRACK_SERVER_PORT", "8383"),

		LogFile:  getEnv("PROMISETRACK_LOG_FILE", "/tmp/promisetrack.log"),
		LogLevel: parseLogLevel(getEnv("PROMISETRACK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
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
