package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the artsearch configuration.
type Config struct {
	HTTP         HTTPConfig             `yaml:"http"`
	Qdrant       QdrantConfig           `yaml:"qdrant"`
	Search       SearchConfig           `yaml:"search"`
	Embedding    EmbeddingConfig        `yaml:"embedding"`
	Judges       map[string]JudgeConfig `yaml:"judges"`
	DefaultJudge string                 `yaml:"default_judge"`
	Images       ImagesConfig           `yaml:"images"`
	Cache        CacheConfig            `yaml:"cache"`
	Auth         AuthConfig             `yaml:"auth"`
	Logging      LoggingConfig          `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutSec    int `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int `yaml:"write_timeout_sec"`
	ShutdownSec       int `yaml:"shutdown_timeout_sec"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Addr       string `yaml:"addr"` // host:port of the gRPC API
	APIKey     string `yaml:"api_key"`
	TLS        bool   `yaml:"tls"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SearchConfig describes the two collections and the retrieval policy.
type SearchConfig struct {
	ImageCollection string `yaml:"image_collection"`
	ImageVector     string `yaml:"image_vector"`
	TextCollection  string `yaml:"text_collection"`
	TextVector      string `yaml:"text_vector"`
	Overfetch       int    `yaml:"overfetch"`
	Normalization   string `yaml:"normalization"` // none, minmax, zscore
	RetryAttempts   *int   `yaml:"retry_attempts"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	CacheSize       int    `yaml:"cache_size"` // 0 disables the result cache
	CacheTTLSec     int    `yaml:"cache_ttl_sec"`
}

// EmbeddingConfig holds the query embedding provider settings.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // label used in metrics
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	Instruction string `yaml:"instruction"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	CacheSize   int    `yaml:"cache_size"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// JudgeConfig holds one refinement judge.
type JudgeConfig struct {
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	TimeoutSec       int     `yaml:"timeout_sec"`
	RatePerSec       float64 `yaml:"rate_per_sec"` // 0 = unlimited
	Burst            int     `yaml:"burst"`
	MaxTokens        int     `yaml:"max_tokens"`
	DailyTokenBudget int64   `yaml:"daily_token_budget"` // 0 = unlimited
}

// ImagesConfig locates the artwork files shown to judges.
type ImagesConfig struct {
	Root string `yaml:"root"`
}

// CacheConfig holds the shared Redis cache settings.
type CacheConfig struct {
	RedisAddrs       []string `yaml:"redis_addrs"` // empty disables Redis
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
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

// Parse expands env variables in data, decodes it, applies defaults and validates.
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

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
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
		// Refinement may take up to the judge timeout.
		c.HTTP.WriteTimeoutSec = 180
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.RequestTimeoutSec <= 0 {
		c.HTTP.RequestTimeoutSec = 150
	}

	if c.Qdrant.Addr == "" {
		c.Qdrant.Addr = "localhost:6334"
	}
	if c.Qdrant.TimeoutSec <= 0 {
		c.Qdrant.TimeoutSec = 30
	}

	c.Search.applyDefaults()

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 1000
	}
	if c.Embedding.CacheTTLSec <= 0 {
		c.Embedding.CacheTTLSec = 7 * 24 * 3600
	}

	for name, j := range c.Judges {
		if j.TimeoutSec <= 0 {
			j.TimeoutSec = 120
		}
		if j.Model == "" {
			j.Model = name
		}
		if j.RatePerSec > 0 && j.Burst <= 0 {
			j.Burst = 1
		}
		c.Judges[name] = j
	}
	if c.DefaultJudge == "" && len(c.Judges) == 1 {
		for name := range c.Judges {
			c.DefaultJudge = name
		}
	}

	if c.Images.Root == "" {
		c.Images.Root = "static/data/images"
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "artsearch:"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
}

func (s *SearchConfig) applyDefaults() {
	if s.ImageCollection == "" {
		s.ImageCollection = "bagatelle_image_CLIP-L14"
	}
	if s.ImageVector == "" {
		s.ImageVector = "image_vector"
	}
	if s.TextCollection == "" {
		s.TextCollection = "bagatelle_text_CLIP-L14"
	}
	if s.TextVector == "" {
		s.TextVector = "text_vector"
	}
	if s.Overfetch <= 0 {
		s.Overfetch = 5
	}
	if s.Normalization == "" {
		s.Normalization = "none"
	}
	if s.RetryAttempts == nil {
		n := 2
		s.RetryAttempts = &n
	}
	if s.RetryBackoffMs <= 0 {
		s.RetryBackoffMs = 200
	}
	if s.CacheTTLSec <= 0 {
		s.CacheTTLSec = 300
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	switch c.Search.Normalization {
	case "none", "minmax", "zscore":
	default:
		return fmt.Errorf("search.normalization must be one of none, minmax, zscore, got %q", c.Search.Normalization)
	}
	if c.Search.RetryAttempts != nil && *c.Search.RetryAttempts < 0 {
		return fmt.Errorf("search.retry_attempts must be >= 0, got %d", *c.Search.RetryAttempts)
	}
	if c.Search.CacheSize < 0 {
		return fmt.Errorf("search.cache_size must be >= 0, got %d", c.Search.CacheSize)
	}
	for name, j := range c.Judges {
		if j.RatePerSec < 0 {
			return fmt.Errorf("judges.%s.rate_per_sec must be >= 0, got %v", name, j.RatePerSec)
		}
		if j.DailyTokenBudget < 0 {
			return fmt.Errorf("judges.%s.daily_token_budget must be >= 0, got %d", name, j.DailyTokenBudget)
		}
	}
	if c.DefaultJudge != "" {
		if _, ok := c.Judges[c.DefaultJudge]; !ok {
			return fmt.Errorf("default_judge %q is not one of the configured judges %v", c.DefaultJudge, c.JudgeNames())
		}
	}
	return nil
}

// JudgeNames returns the configured judge names, sorted.
func (c *Config) JudgeNames() []string {
	names := make([]string, 0, len(c.Judges))
	for name := range c.Judges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestTimeout is the upper bound of one retrieval.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSec) * time.Second
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

	// 3. Fallback to ./config/
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
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
