package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the context service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// DatabaseURL selects the durable turn store; empty means in-memory.
	DatabaseURL string

	WindowSize       int
	DefaultUserID    string
	DefaultSegmentID string

	InstructionsDir       string
	InstructionsTTL       time.Duration
	SystemInstructionsKey string
	ContextUsageKey       string

	ChunkMaxSize int
	ChunkMinSize int

	RetrievalMode      string
	RetrievalTopK      int
	QdrantHost         string
	QdrantPort         int
	QdrantCollection   string
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModel     string
	EmbeddingDimension int

	ModelAdapterMode string
	ModelHTTPURL     string
	ModelAPIKey      string
	ModelName        string

	// StreamPacing is the inter-fragment delay applied while forwarding
	// model output, standing in for transport-level flow control.
	StreamPacing time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:              envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:      envOrDefault("APP_METRICS_NAMESPACE", "aiy"),
		AllowAnyOrigin:        false,
		DatabaseURL:           stringsTrimSpace("DATABASE_URL"),
		WindowSize:            10,
		DefaultUserID:         envOrDefault("APP_DEFAULT_USER_ID", "user_456"),
		DefaultSegmentID:      envOrDefault("APP_DEFAULT_SEGMENT_ID", "default_segment"),
		InstructionsDir:       envOrDefault("INSTRUCTIONS_DIR", "instructions"),
		SystemInstructionsKey: envOrDefault("SYSTEM_INSTRUCTIONS_KEY", "system-message.txt"),
		ContextUsageKey:       envOrDefault("CONTEXT_USAGE_KEY", "context-usage.txt"),
		ChunkMaxSize:          1500,
		ChunkMinSize:          500,
		RetrievalMode:         envOrDefault("RETRIEVAL_MODE", "auto"),
		RetrievalTopK:         3,
		QdrantHost:            envOrDefault("QDRANT_HOST", ""),
		QdrantPort:            6334,
		QdrantCollection:      envOrDefault("QDRANT_COLLECTION", "aiy_documents"),
		EmbeddingBaseURL:      stringsTrimSpace("EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:       stringsTrimSpace("EMBEDDING_API_KEY"),
		EmbeddingModel:        envOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension:    1536,
		ModelAdapterMode:      envOrDefault("MODEL_ADAPTER_MODE", "auto"),
		ModelHTTPURL:          stringsTrimSpace("MODEL_HTTP_URL"),
		ModelAPIKey:           stringsTrimSpace("MODEL_API_KEY"),
		ModelName:             envOrDefault("MODEL_NAME", "gpt-4"),
		ShutdownTimeout:       15 * time.Second,
		InstructionsTTL:       time.Hour,
		StreamPacing:          50 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InstructionsTTL, err = durationFromEnv("INSTRUCTIONS_TTL", cfg.InstructionsTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamPacing, err = durationFromEnv("STREAM_PACING", cfg.StreamPacing)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowSize, err = intFromEnv("WINDOW_SIZE", cfg.WindowSize)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkMaxSize, err = intFromEnv("CHUNK_MAX_SIZE", cfg.ChunkMaxSize)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkMinSize, err = intFromEnv("CHUNK_MIN_SIZE", cfg.ChunkMinSize)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.QdrantPort, err = intFromEnv("QDRANT_PORT", cfg.QdrantPort)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDimension, err = intFromEnv("EMBEDDING_DIMENSION", cfg.EmbeddingDimension)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.WindowSize <= 0 {
		return Config{}, fmt.Errorf("WINDOW_SIZE must be positive")
	}
	if cfg.ChunkMinSize <= 0 {
		return Config{}, fmt.Errorf("CHUNK_MIN_SIZE must be positive")
	}
	if cfg.ChunkMaxSize <= cfg.ChunkMinSize {
		return Config{}, fmt.Errorf("CHUNK_MAX_SIZE must be greater than CHUNK_MIN_SIZE")
	}
	if cfg.RetrievalTopK <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if cfg.InstructionsTTL <= 0 {
		return Config{}, fmt.Errorf("INSTRUCTIONS_TTL must be positive")
	}
	if cfg.EmbeddingDimension <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIMENSION must be positive")
	}
	if cfg.StreamPacing < 0 {
		return Config{}, fmt.Errorf("STREAM_PACING must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
