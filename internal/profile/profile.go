package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultRefusalPhrase is returned verbatim when no usable evidence exists.
const DefaultRefusalPhrase = "I don't have enough data to answer that yet."

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where marketsense stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// Secret signs and verifies bearer tokens.
	Secret string

	// AI Configuration
	AIEmbeddingProvider string // MARKETSENSE_AI_EMBEDDING_PROVIDER (default: local)
	AIEmbeddingModel    string // MARKETSENSE_AI_EMBEDDING_MODEL (default: sentence-transformers/all-MiniLM-L6-v2)
	AIEmbeddingBaseURL  string // MARKETSENSE_AI_EMBEDDING_BASE_URL
	AIEmbeddingAPIKey   string // MARKETSENSE_AI_EMBEDDING_API_KEY
	AILLMProvider       string // MARKETSENSE_AI_LLM_PROVIDER (default: openai)
	AILLMModel          string // MARKETSENSE_AI_LLM_MODEL (default: gpt-4o-mini)
	AILLMBaseURL        string // MARKETSENSE_AI_LLM_BASE_URL
	AILLMAPIKey         string // MARKETSENSE_AI_LLM_API_KEY

	// Answering
	RefusalPhrase    string        // MARKETSENSE_REFUSAL_PHRASE
	CapabilityRules  string        // MARKETSENSE_CAPABILITY_RULES: optional YAML rule table path
	HistoryWindow    int           // MARKETSENSE_HISTORY_WINDOW (default: 10)
	RerankTopN       int           // MARKETSENSE_RERANK_TOP_N (default: 12)
	MinEvidenceScore float64       // MARKETSENSE_MIN_EVIDENCE_SCORE (default: 0.2)
	RetrievalTimeout time.Duration // MARKETSENSE_RETRIEVAL_TIMEOUT (default: 15s)

	// Training capture
	TrainingPolicy  string // MARKETSENSE_TRAINING_POLICY: CEL expression (default: opted_in)
	TrainingWorkers int    // MARKETSENSE_TRAINING_WORKERS (default: 2)
	TrainingQueue   int    // MARKETSENSE_TRAINING_QUEUE (default: 256)

	// RedisAddr enables the shared idempotency store when set.
	RedisAddr     string // MARKETSENSE_REDIS_ADDR
	RedisPassword string // MARKETSENSE_REDIS_PASSWORD
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled reports whether a generation endpoint is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AILLMAPIKey != "" || p.AILLMBaseURL != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("ignoring malformed integer env", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}

// FromEnv loads the AI and answering configuration from MARKETSENSE_* variables.
func (p *Profile) FromEnv() {
	p.AIEmbeddingProvider = getEnvOrDefault("MARKETSENSE_AI_EMBEDDING_PROVIDER", "local")
	p.AIEmbeddingModel = getEnvOrDefault("MARKETSENSE_AI_EMBEDDING_MODEL", "sentence-transformers/all-MiniLM-L6-v2")
	p.AIEmbeddingBaseURL = os.Getenv("MARKETSENSE_AI_EMBEDDING_BASE_URL")
	p.AIEmbeddingAPIKey = os.Getenv("MARKETSENSE_AI_EMBEDDING_API_KEY")
	p.AILLMProvider = getEnvOrDefault("MARKETSENSE_AI_LLM_PROVIDER", "openai")
	p.AILLMModel = getEnvOrDefault("MARKETSENSE_AI_LLM_MODEL", "gpt-4o-mini")
	p.AILLMBaseURL = os.Getenv("MARKETSENSE_AI_LLM_BASE_URL")
	p.AILLMAPIKey = os.Getenv("MARKETSENSE_AI_LLM_API_KEY")

	p.RefusalPhrase = getEnvOrDefault("MARKETSENSE_REFUSAL_PHRASE", DefaultRefusalPhrase)
	p.CapabilityRules = os.Getenv("MARKETSENSE_CAPABILITY_RULES")
	p.HistoryWindow = getIntEnvOrDefault("MARKETSENSE_HISTORY_WINDOW", 10)
	p.RerankTopN = getIntEnvOrDefault("MARKETSENSE_RERANK_TOP_N", 12)
	p.MinEvidenceScore = 0.2
	if value := os.Getenv("MARKETSENSE_MIN_EVIDENCE_SCORE"); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.MinEvidenceScore = f
		}
	}
	p.RetrievalTimeout = 15 * time.Second
	if value := os.Getenv("MARKETSENSE_RETRIEVAL_TIMEOUT"); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			p.RetrievalTimeout = d
		}
	}

	p.TrainingPolicy = getEnvOrDefault("MARKETSENSE_TRAINING_POLICY", "opted_in")
	p.TrainingWorkers = getIntEnvOrDefault("MARKETSENSE_TRAINING_WORKERS", 2)
	p.TrainingQueue = getIntEnvOrDefault("MARKETSENSE_TRAINING_QUEUE", 256)

	p.RedisAddr = os.Getenv("MARKETSENSE_REDIS_ADDR")
	p.RedisPassword = os.Getenv("MARKETSENSE_REDIS_PASSWORD")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.Mode == "prod" && p.Secret == "" {
		return errors.New("secret is required in prod mode")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("marketsense_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres")
	}
	if p.RefusalPhrase == "" {
		p.RefusalPhrase = DefaultRefusalPhrase
	}
	return nil
}
