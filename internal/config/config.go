// Package config provides centralized configuration for the oracle nodes.
// All configurable values are loaded from environment variables with sensible defaults.
package config

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Node roles.
const (
	RolePerformer = "performer"
	RoleValidator = "validator"
)

// ModelConfig selects and configures one judgment provider.
type ModelConfig struct {
	// Provider is one of "openai", "claude", "gemini", "ollama", "stub".
	// "openai" covers any OpenAI-compatible endpoint (Hyperbolic, Gaia).
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// UseStub reports whether the stub client should stand in for a real provider.
func (m ModelConfig) UseStub() bool {
	switch m.Provider {
	case "stub":
		return true
	case "ollama":
		return false // Ollama runs locally, no key needed
	default:
		return m.APIKey == ""
	}
}

// Config holds all node configuration values.
type Config struct {
	// Role is "performer" or "validator".
	Role string

	// Port is the HTTP server listen port.
	Port string

	// DBDriver is "sqlite" or "postgres"; DBDSN is the path or connection string.
	DBDriver string
	DBDSN    string

	// ProofStore selects the content-addressed backend: "file", "sql", "s3", "ipfs", "memory".
	ProofStore string
	DataDir    string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string

	IPFSAPIURL     string
	IPFSGatewayURL string

	// RegistryCID seeds the registry head on a fresh state store.
	RegistryCID        string
	RegistryMaxRetries int

	Performer ModelConfig
	Validator ModelConfig

	// EvidenceSource is "nitter", "pages" or "stub".
	EvidenceSource        string
	NitterURL             string
	EvidenceDirectoryFile string
	EvidencePagesFile     string
	EvidenceRateDelay     time.Duration
	EvidenceFetchCount    int

	SchedulerInterval    time.Duration
	SchedulerConcurrency int
	ExecutionTimeout     time.Duration
	CallTimeout          time.Duration

	// LeaseBackend is "local", "sql" or "redis".
	LeaseBackend  string
	LeaseTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATSURL empty selects the in-process task queue.
	NATSURL         string
	NATSStream      string
	NATSTaskSubject string
	NATSVoteSubject string
	NATSDurable     string

	// ValidatorWriteback lets approved votes move executed -> validated.
	ValidatorWriteback bool

	OTLPEndpoint string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults.
// Values from .env.local fill in anything not already set in the environment.
func Load() Config {
	loadEnvFile(".env.local")

	return Config{
		Role:       envOr("ROLE", RolePerformer),
		Port:       envOr("PORT", "4003"),
		DBDriver:   envOr("DB_DRIVER", "sqlite"),
		DBDSN:      envOr("DB_DSN", "oracle.db"),
		ProofStore: envOr("PROOF_STORE", "file"),
		DataDir:    envOr("DATA_DIR", "data"),

		S3Bucket:   os.Getenv("S3_BUCKET"),
		S3Region:   envOr("S3_REGION", "us-east-1"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),
		S3Prefix:   envOr("S3_PREFIX", "proofs/"),

		IPFSAPIURL:     envOr("IPFS_API_URL", "http://localhost:5001"),
		IPFSGatewayURL: envOr("IPFS_GATEWAY_URL", "http://localhost:8080/ipfs/"),

		RegistryCID:        os.Getenv("PREDICTIONS_REGISTRY_CID"),
		RegistryMaxRetries: envInt("REGISTRY_MAX_RETRIES", 5),

		Performer: ModelConfig{
			Provider: envOr("PERFORMER_PROVIDER", "openai"),
			APIKey:   os.Getenv("PERFORMER_API_KEY"),
			BaseURL:  envOr("PERFORMER_BASE_URL", "https://api.hyperbolic.xyz/v1"),
			Model:    envOr("PERFORMER_MODEL", "deepseek-ai/DeepSeek-V3"),
		},
		Validator: ModelConfig{
			Provider: envOr("VALIDATOR_PROVIDER", "openai"),
			APIKey:   os.Getenv("VALIDATOR_API_KEY"),
			BaseURL:  envOr("VALIDATOR_BASE_URL", "https://llama3b.gaia.domains/v1"),
			Model:    envOr("VALIDATOR_MODEL", "llama"),
		},

		EvidenceSource:        envOr("EVIDENCE_SOURCE", "nitter"),
		NitterURL:             envOr("NITTER_URL", "https://nitter.net"),
		EvidenceDirectoryFile: os.Getenv("EVIDENCE_DIRECTORY_FILE"),
		EvidencePagesFile:     os.Getenv("EVIDENCE_PAGES_FILE"),
		EvidenceRateDelay:     envDuration("EVIDENCE_RATE_DELAY", 2*time.Second),
		EvidenceFetchCount:    envInt("EVIDENCE_FETCH_COUNT", 10),

		SchedulerInterval:    envDuration("SCHEDULER_INTERVAL", 60*time.Second),
		SchedulerConcurrency: envInt("SCHEDULER_CONCURRENCY", 1),
		ExecutionTimeout:     envDuration("EXECUTION_TIMEOUT", 5*time.Minute),
		CallTimeout:          envDuration("CALL_TIMEOUT", 60*time.Second),

		LeaseBackend:  envOr("LEASE_BACKEND", "sql"),
		LeaseTTL:      envDuration("LEASE_TTL", 10*time.Minute),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		NATSURL:         os.Getenv("NATS_URL"),
		NATSStream:      envOr("NATS_STREAM", "ORACLE"),
		NATSTaskSubject: envOr("NATS_TASK_SUBJECT", "oracle.tasks"),
		NATSVoteSubject: envOr("NATS_VOTE_SUBJECT", "oracle.votes"),
		NATSDurable:     envOr("NATS_DURABLE", "oracle-validator"),

		ValidatorWriteback: envBool("VALIDATOR_WRITEBACK", false),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),
	}
}

// NewLogger builds the root structured logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadEnvFile sets KEY=VALUE pairs from path into the environment, skipping
// keys that are already set. A missing file is not an error.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
