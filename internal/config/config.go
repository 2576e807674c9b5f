package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           int
	DBPath         string
	StorageBackend string
	LogLevel       string
	APIKey         string
	// Google Cloud (firestore sessions, gemini inference)
	GCPProject  string
	GCPLocation string
	// Inference
	InferenceBackend string
	OllamaBaseURL    string
	GenerationModel  string
	GeminiModel      string
	// Retrieval
	EmbeddingModel string
	EmbeddingDim   int
	QdrantURL      string
	VectorEnabled  bool
	VectorWeight   float64
	BM25Weight     float64
	RetrievalTopK  int
	MinRelevance   float64
	// Pipeline
	FlowsFile         string
	StageTimeout      time.Duration
	SessionBusyPolicy string
	// Corpus
	CorpusDirs     []string
	CorpusAutoSync bool
	// MCP adapter
	ServerURL   string
	LocalUserID string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              envInt("PORT", 8741),
		DBPath:            envStr("CASEGEN_DB_PATH", defaultDBPath()),
		StorageBackend:    envStr("STORAGE_BACKEND", "sqlite"),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		APIKey:            envStr("API_KEY", ""),
		GCPProject:        envStr("GCP_PROJECT", ""),
		GCPLocation:       envStr("GCP_LOCATION", "us-central1"),
		InferenceBackend:  envStr("INFERENCE_BACKEND", "ollama"),
		OllamaBaseURL:     envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		GenerationModel:   envStr("GENERATION_MODEL", "qwen2.5:7b"),
		GeminiModel:       envStr("GEMINI_MODEL", "gemini-2.5-flash"),
		EmbeddingModel:    envStr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDim:      envInt("EMBEDDING_DIM", 768),
		QdrantURL:         envStr("QDRANT_URL", "http://localhost:6333"),
		VectorEnabled:     envBool("VECTOR_ENABLED", true),
		VectorWeight:      envFloat("VECTOR_WEIGHT", 0.7),
		BM25Weight:        envFloat("BM25_WEIGHT", 0.3),
		RetrievalTopK:     envInt("RETRIEVAL_TOP_K", 5),
		MinRelevance:      envFloat("MIN_RELEVANCE", 0.5),
		FlowsFile:         envStr("FLOWS_FILE", ""),
		StageTimeout:      envDuration("STAGE_TIMEOUT", 2*time.Minute),
		SessionBusyPolicy: envStr("SESSION_BUSY_POLICY", "block"),
		CorpusDirs:        envList("CORPUS_DIRS", defaultCorpusDirs()),
		CorpusAutoSync:    envBool("CORPUS_AUTO_SYNC", true),
		ServerURL:         envStr("CASEGEN_SERVER_URL", "http://localhost:8741"),
		LocalUserID:       envStr("CASEGEN_USER_ID", envStr("USER", "local")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.StorageBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("CASEGEN_DB_PATH must not be empty")
		}
	case "memory":
	case "firestore":
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required for the firestore storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be sqlite, memory or firestore, got %q", c.StorageBackend)
	}
	switch c.InferenceBackend {
	case "ollama":
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL must not be empty")
		}
	case "gemini":
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT is required for the gemini inference backend")
		}
	case "mock":
	default:
		return fmt.Errorf("INFERENCE_BACKEND must be ollama, gemini or mock, got %q", c.InferenceBackend)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	sum := c.VectorWeight + c.BM25Weight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("VECTOR_WEIGHT + BM25_WEIGHT must equal 1.0, got %f", sum)
	}
	if c.RetrievalTopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK)
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return fmt.Errorf("MIN_RELEVANCE must be between 0 and 1, got %f", c.MinRelevance)
	}
	if c.StageTimeout < 0 {
		return fmt.Errorf("STAGE_TIMEOUT must not be negative, got %s", c.StageTimeout)
	}
	if c.SessionBusyPolicy != "block" && c.SessionBusyPolicy != "reject" {
		return fmt.Errorf("SESSION_BUSY_POLICY must be block or reject, got %q", c.SessionBusyPolicy)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "casegen.db"
	}
	return filepath.Join(home, ".casegen", "data", "casegen.db")
}

// Default: ~/.casegen/corpus
func defaultCorpusDirs() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".casegen", "corpus")}
}
