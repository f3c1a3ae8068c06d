package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects which transports the server exposes.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportBoth  Transport = "both"
)

// ErrConfig marks configuration errors. The process exits with status 2
// when startup fails with one of these.
type ErrConfig struct {
	Reason string
}

func (e *ErrConfig) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ErrConfig{Reason: fmt.Sprintf(format, args...)}
}

// Config holds all configuration for the service.
type Config struct {
	// Transport settings
	Transport   Transport
	Port        int
	AuthToken   string
	RateLimit   int // requests per minute per source address
	CORSOrigins []string

	// On-disk state. StateDir defaults to <home>/.context.
	StateDir string

	// Embedding provider (OpenAI-compatible endpoint)
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration

	// Vector store (Qdrant)
	QdrantHost    string
	QdrantPort    int
	QdrantAPIKey  string
	QdrantUseTLS  bool
	QdrantTimeout time.Duration
	HybridMode    bool // dense+sparse collections when true, dense-only otherwise

	// Cross-repo search
	SearchNormalization string // "raw" or "minmax"

	// Sync loop
	SyncInterval time.Duration
	SyncWatch    bool // nudge syncs from filesystem events

	// Git subprocess timeout
	GitTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// fileConfig is the optional YAML config file shape. Values present in the
// file overlay the environment-derived defaults; flags overlay both.
type fileConfig struct {
	Transport   string   `yaml:"transport"`
	Port        int      `yaml:"port"`
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
	StateDir    string   `yaml:"stateDir"`

	Embedding struct {
		BaseURL    string `yaml:"baseURL"`
		Model      string `yaml:"model"`
		Dimensions int    `yaml:"dimensions"`
	} `yaml:"embedding"`

	Qdrant struct {
		Host   string `yaml:"host"`
		Port   int    `yaml:"port"`
		UseTLS bool   `yaml:"useTLS"`
	} `yaml:"qdrant"`

	HybridMode          *bool  `yaml:"hybridMode"`
	SearchNormalization string `yaml:"searchNormalization"`
	SyncInterval        string `yaml:"syncInterval"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// Load reads configuration from environment variables, then overlays the
// optional YAML file at configPath (empty means no file).
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	cfg.Transport = Transport(getEnv("MCP_TRANSPORT", string(TransportStdio)))
	cfg.Port = getEnvInt("MCP_PORT", 3100)
	cfg.AuthToken = getEnv("MCP_AUTH_TOKEN", "")
	cfg.RateLimit = getEnvInt("MCP_RATE_LIMIT", 60)
	cfg.CORSOrigins = getEnvList("MCP_CORS_ORIGINS", []string{"*"})

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, configErrorf("cannot determine home directory: %v", err)
	}
	cfg.StateDir = getEnv("MCP_STATE_DIR", filepath.Join(home, ".context"))

	cfg.EmbeddingAPIKey = getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", ""))
	cfg.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", "")
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.EmbeddingDimensions = getEnvInt("EMBEDDING_DIMENSIONS", 1536)
	cfg.EmbeddingTimeout = getEnvDuration("EMBEDDING_TIMEOUT", 60*time.Second)

	cfg.QdrantHost = getEnv("QDRANT_HOST", "localhost")
	cfg.QdrantPort = getEnvInt("QDRANT_PORT", 6334)
	cfg.QdrantAPIKey = getEnv("QDRANT_API_KEY", "")
	cfg.QdrantUseTLS = getEnvBool("QDRANT_USE_TLS", false)
	cfg.QdrantTimeout = getEnvDuration("QDRANT_TIMEOUT", 10*time.Second)
	cfg.HybridMode = getEnvBool("HYBRID_MODE", true)

	cfg.SearchNormalization = getEnv("SEARCH_NORMALIZATION", "raw")

	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncWatch = getEnvBool("SYNC_WATCH", true)

	cfg.GitTimeout = getEnvDuration("GIT_TIMEOUT", 10*time.Second)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.LogFile = getEnv("LOG_FILE", "")

	if configPath != "" {
		if err := cfg.applyFile(configPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return configErrorf("cannot read config file %s: %v", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return configErrorf("cannot parse config file %s: %v", path, err)
	}

	if fc.Transport != "" {
		c.Transport = Transport(fc.Transport)
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.RateLimit != 0 {
		c.RateLimit = fc.RateLimit
	}
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
	if fc.StateDir != "" {
		c.StateDir = fc.StateDir
	}
	if fc.Embedding.BaseURL != "" {
		c.EmbeddingBaseURL = fc.Embedding.BaseURL
	}
	if fc.Embedding.Model != "" {
		c.EmbeddingModel = fc.Embedding.Model
	}
	if fc.Embedding.Dimensions != 0 {
		c.EmbeddingDimensions = fc.Embedding.Dimensions
	}
	if fc.Qdrant.Host != "" {
		c.QdrantHost = fc.Qdrant.Host
	}
	if fc.Qdrant.Port != 0 {
		c.QdrantPort = fc.Qdrant.Port
	}
	if fc.Qdrant.UseTLS {
		c.QdrantUseTLS = true
	}
	if fc.HybridMode != nil {
		c.HybridMode = *fc.HybridMode
	}
	if fc.SearchNormalization != "" {
		c.SearchNormalization = fc.SearchNormalization
	}
	if fc.SyncInterval != "" {
		d, err := time.ParseDuration(fc.SyncInterval)
		if err != nil {
			return configErrorf("invalid syncInterval %q: %v", fc.SyncInterval, err)
		}
		c.SyncInterval = d
	}
	if fc.Log.Level != "" {
		c.LogLevel = fc.Log.Level
	}
	if fc.Log.Format != "" {
		c.LogFormat = fc.Log.Format
	}
	if fc.Log.File != "" {
		c.LogFile = fc.Log.File
	}

	return nil
}

// Validate checks cross-field constraints. It must run after flag overrides
// have been applied.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportBoth:
	default:
		return configErrorf("invalid transport %q (want stdio, http or both)", c.Transport)
	}

	if c.HTTPEnabled() && c.AuthToken == "" {
		return configErrorf("MCP_AUTH_TOKEN is required when the HTTP transport is enabled")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return configErrorf("invalid port %d", c.Port)
	}
	if c.RateLimit <= 0 {
		return configErrorf("MCP_RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	switch c.SearchNormalization {
	case "raw", "minmax":
	default:
		return configErrorf("invalid searchNormalization %q (want raw or minmax)", c.SearchNormalization)
	}
	return nil
}

// HTTPEnabled reports whether the network transport is active.
func (c *Config) HTTPEnabled() bool {
	return c.Transport == TransportHTTP || c.Transport == TransportBoth
}

// StdioEnabled reports whether the pipe transport is active.
func (c *Config) StdioEnabled() bool {
	return c.Transport == TransportStdio || c.Transport == TransportBoth
}

// SnapshotPath returns the path of the repository snapshot file.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.StateDir, "mcp-codebase-snapshot.json")
}

// MigrationPath returns the path of the collection migration mapping file.
func (c *Config) MigrationPath() string {
	return filepath.Join(c.StateDir, "collection-migration.json")
}

// ClonesDir returns the directory URL registrations are cloned into.
func (c *Config) ClonesDir() string {
	return filepath.Join(c.StateDir, "clones")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
