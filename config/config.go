package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (c LLMConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required (QUILL_LLM_API_KEY)")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// EmbeddingConfig configures the embedding provider and its cache.
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (c EmbeddingConfig) Normalize() EmbeddingConfig {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	return c
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FetchPages  bool          `mapstructure:"fetch_pages"`
	FetchTopN   int           `mapstructure:"fetch_top_n"`
	SearchDepth string        `mapstructure:"search_depth"`
}

func (c SearchConfig) Normalize() SearchConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.FetchTopN <= 0 {
		c.FetchTopN = 2
	}
	if c.SearchDepth == "" {
		c.SearchDepth = "basic"
	}
	return c
}

// MemoryConfig configures the long-term memory store and its vector backend.
type MemoryConfig struct {
	Provider           string  `mapstructure:"provider"` // local or pgvector
	PersistPath        string  `mapstructure:"persist_path"`
	PostgresURL        string  `mapstructure:"postgres_url"`
	Table              string  `mapstructure:"table"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
	RetentionDays      int     `mapstructure:"retention_days"`
	KeepImportant      bool    `mapstructure:"keep_important"`
}

func (c MemoryConfig) Normalize() MemoryConfig {
	if c.Provider == "" {
		c.Provider = "local"
	}
	if c.PersistPath == "" {
		c.PersistPath = "./memory_db/memory.json"
	}
	if c.Table == "" {
		c.Table = "quill_memories"
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 0.95
	}
	return c
}

func (c MemoryConfig) Validate() error {
	switch c.Provider {
	case "local":
	case "pgvector":
		if strings.TrimSpace(c.PostgresURL) == "" {
			return fmt.Errorf("memory.postgres_url is required when memory.provider is pgvector")
		}
	default:
		return fmt.Errorf("memory.provider must be local or pgvector, got %q", c.Provider)
	}
	if c.DuplicateThreshold > 1 {
		return fmt.Errorf("memory.duplicate_threshold must be in (0,1]")
	}
	return nil
}

// RetrievalConfig controls the memory-first search gate and result merging.
// MemoryTopK bounds the memory search, TopK the web search.
type RetrievalConfig struct {
	MemoryThreshold int  `mapstructure:"memory_threshold"`
	MemoryTopK      int  `mapstructure:"memory_top_k"`
	TopK            int  `mapstructure:"top_k"`
	SaveWebResults  bool `mapstructure:"save_web_results"`
}

func (c RetrievalConfig) Normalize() RetrievalConfig {
	if c.MemoryThreshold <= 0 {
		c.MemoryThreshold = 3
	}
	if c.MemoryTopK <= 0 {
		c.MemoryTopK = 3
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	return c
}

// PipelineConfig bounds the report pipeline.
type PipelineConfig struct {
	MaxRevisionRounds int     `mapstructure:"max_revision_rounds"`
	PassThreshold     float64 `mapstructure:"pass_threshold"`
}

func (c PipelineConfig) Normalize() PipelineConfig {
	if c.MaxRevisionRounds <= 0 {
		c.MaxRevisionRounds = 2
	}
	if c.PassThreshold <= 0 {
		c.PassThreshold = 7.0
	}
	return c
}

// SchedulerConfig bounds task decomposition and retries.
type SchedulerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	MaxTasks    int `mapstructure:"max_tasks"`
}

func (c SchedulerConfig) Normalize() SchedulerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = 8
	}
	return c
}

// ArchiveConfig configures the redis run archive.
type ArchiveConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (c ArchiveConfig) Normalize() ArchiveConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == "" {
		c.Port = "6379"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	RetentionCron string `mapstructure:"retention_cron"`
}

func (c ServerConfig) Normalize() ServerConfig {
	if c.Address == "" {
		c.Address = ":8080"
	}
	return c
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file and environment. It panics on a
// missing or invalid config, matching how the binaries are expected to fail
// fast at startup. Environment variables use the QUILL_ prefix with dots
// replaced by underscores (e.g. QUILL_LLM_API_KEY).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.default_timeout", "120s")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("embedding.api_key", "")
	viper.SetDefault("search.api_key", "")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	viper.SetDefault("search.base_url", "https://api.tavily.com")
	viper.SetDefault("retrieval.save_web_results", true)
	viper.SetDefault("memory.keep_important", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUILL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Embedding = config.Embedding.Normalize()
	if config.Embedding.APIKey == "" {
		config.Embedding.APIKey = config.LLM.APIKey
	}
	config.Search = config.Search.Normalize()
	config.Memory = config.Memory.Normalize()
	config.Retrieval = config.Retrieval.Normalize()
	config.Pipeline = config.Pipeline.Normalize()
	config.Scheduler = config.Scheduler.Normalize()
	config.Archive = config.Archive.Normalize()
	config.Server = config.Server.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Memory.Validate(); err != nil {
		panic(err)
	}

	return &config
}
