package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the kbsearch API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Vector    VectorConfig    `yaml:"vector"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Export    ExportConfig    `yaml:"export"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	AllowOrigins    string `yaml:"allow_origins"`   // comma-separated, "*" allows any
	TrustedProxies  string `yaml:"trusted_proxies"` // comma-separated CIDRs/IPs allowed to set forwarding headers
}

// Origins splits AllowOrigins into a trimmed list.
func (h HTTPConfig) Origins() []string {
	return splitList(h.AllowOrigins)
}

// Proxies splits TrustedProxies into a trimmed list.
func (h HTTPConfig) Proxies() []string {
	return splitList(h.TrustedProxies)
}

// DatabaseConfig holds shared store connection settings.
// URL (redis://...) takes precedence over Addrs.
type DatabaseConfig struct {
	URL              string   `yaml:"url"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// IndexConfig holds the RediSearch document index settings.
type IndexConfig struct {
	Name            string `yaml:"name"`
	Algorithm       string `yaml:"algorithm"` // hnsw, flat (default: hnsw)
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Provider            string       `yaml:"provider"` // hash, openai (default: hash)
	Dimensions          int          `yaml:"dimensions"`
	Cache               bool         `yaml:"cache"`
	DocumentInstruction string       `yaml:"document_instruction"`
	QueryInstruction    string       `yaml:"query_instruction"`
	OpenAI              OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig holds settings for an OpenAI-compatible embeddings API.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// KeywordConfig selects and configures the keyword engine.
type KeywordConfig struct {
	Driver     string           `yaml:"driver"` // opensearch, bleve, redis (default: redis)
	TimeoutSec int              `yaml:"timeout_sec"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Bleve      BleveConfig      `yaml:"bleve"`
}

// OpenSearchConfig holds OpenSearch connection settings.
type OpenSearchConfig struct {
	URL                string `yaml:"url"`
	Index              string `yaml:"index"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// BleveConfig holds the in-process index settings. Empty Path keeps the index in memory.
type BleveConfig struct {
	Path string `yaml:"path"`
}

// VectorConfig selects and configures the vector engine.
type VectorConfig struct {
	Driver     string       `yaml:"driver"` // qdrant, redis (default: redis)
	TimeoutSec int          `yaml:"timeout_sec"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
}

// SearchConfig holds request limits for /v1/search.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// RateLimitConfig holds the sliding-window limiter settings.
type RateLimitConfig struct {
	Driver    string `yaml:"driver"` // redis, memory (default: redis)
	Limit     int    `yaml:"limit"`
	WindowSec int    `yaml:"window_sec"`
	FailOpen  bool   `yaml:"fail_open"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWKSURL       string   `yaml:"jwks_url"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	Algorithms    []string `yaml:"algorithms"`
	CacheTTLSec   int      `yaml:"cache_ttl_sec"`
	MinRefreshSec int      `yaml:"min_refresh_sec"`
	TimeoutSec    int      `yaml:"timeout_sec"`
	LeewaySec     int      `yaml:"leeway_sec"`
}

// ExportConfig holds export pagination settings.
type ExportConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables in raw YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.AllowOrigins == "" {
		c.HTTP.AllowOrigins = "*"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "kb:"
	}
	if c.Index.Name == "" {
		c.Index.Name = "kb_docs"
	}
	if c.Index.Algorithm == "" {
		c.Index.Algorithm = "hnsw"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Keyword.Driver == "" {
		c.Keyword.Driver = "redis"
	}
	if c.Keyword.TimeoutSec <= 0 {
		c.Keyword.TimeoutSec = 15
	}
	if c.Keyword.OpenSearch.Index == "" {
		c.Keyword.OpenSearch.Index = "kb_docs"
	}
	if c.Vector.Driver == "" {
		c.Vector.Driver = "redis"
	}
	if c.Vector.TimeoutSec <= 0 {
		c.Vector.TimeoutSec = 15
	}
	if c.Vector.Qdrant.Collection == "" {
		c.Vector.Qdrant.Collection = "kb_embeddings"
	}
	if c.Search.DefaultTopK <= 0 {
		c.Search.DefaultTopK = 10
	}
	if c.Search.MaxTopK <= 0 {
		c.Search.MaxTopK = 100
	}
	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = "redis"
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 120
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if len(c.Auth.Algorithms) == 0 {
		c.Auth.Algorithms = []string{"RS256"}
	}
	if c.Auth.CacheTTLSec <= 0 {
		c.Auth.CacheTTLSec = 900
	}
	if c.Auth.MinRefreshSec <= 0 {
		c.Auth.MinRefreshSec = 30
	}
	if c.Auth.TimeoutSec <= 0 {
		c.Auth.TimeoutSec = 10
	}
	if c.Auth.LeewaySec < 0 {
		c.Auth.LeewaySec = 0
	}
	if c.Export.DefaultPageSize <= 0 {
		c.Export.DefaultPageSize = 1000
	}
	if c.Export.MaxPageSize <= 0 {
		c.Export.MaxPageSize = 10000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.URL == "" && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.url or database.addrs is required")
	}
	if err := oneOf("index.algorithm", c.Index.Algorithm, "hnsw", "flat"); err != nil {
		return err
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "hash", "openai"); err != nil {
		return err
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAI.APIKey == "" {
		return fmt.Errorf("embedding.openai.api_key is required for the openai provider")
	}
	if err := oneOf("keyword.driver", c.Keyword.Driver, "opensearch", "bleve", "redis"); err != nil {
		return err
	}
	if c.Keyword.Driver == "opensearch" && c.Keyword.OpenSearch.URL == "" {
		return fmt.Errorf("keyword.opensearch.url is required for the opensearch driver")
	}
	if err := oneOf("vector.driver", c.Vector.Driver, "qdrant", "redis"); err != nil {
		return err
	}
	if c.Vector.Driver == "qdrant" && c.Vector.Qdrant.URL == "" {
		return fmt.Errorf("vector.qdrant.url is required for the qdrant driver")
	}
	if err := oneOf("rate_limit.driver", c.RateLimit.Driver, "redis", "memory"); err != nil {
		return err
	}
	if c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url is required")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.Auth.Audience == "" {
		return fmt.Errorf("auth.audience is required")
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Export.DefaultPageSize > c.Export.MaxPageSize {
		return fmt.Errorf("export.default_page_size (%d) exceeds export.max_page_size (%d)",
			c.Export.DefaultPageSize, c.Export.MaxPageSize)
	}
	return nil
}

func oneOf(field, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), got)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
