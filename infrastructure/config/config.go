// Package config loads runtime settings from an optional YAML file, .env
// files and CQA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CQA_SERVER_ADDR.
const EnvPrefix = "CQA"

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Chunks        ChunksConfig        `mapstructure:"chunks"`
	Artifacts     ArtifactsConfig     `mapstructure:"artifacts"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Query         QueryConfig         `mapstructure:"query"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ChunksConfig struct {
	Dir           string `mapstructure:"dir"`
	InvalidPolicy string `mapstructure:"invalid_policy"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

type EmbeddingConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Dimension     int           `mapstructure:"dimension"`
	BatchSize     int           `mapstructure:"batch_size"`
	TextPolicy    string        `mapstructure:"text_policy"`
	TruncateChars int           `mapstructure:"truncate_chars"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type VectorStoreConfig struct {
	Backend string       `mapstructure:"backend"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type QdrantConfig struct {
	Addr string `mapstructure:"addr"`
}

type QueryConfig struct {
	NResults int `mapstructure:"n_results"`
}

type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	MaxTokens  int           `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type AgentConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxSteps   int  `mapstructure:"max_steps"`
	MaxThreads int  `mapstructure:"max_threads"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// setDefaults registers the default for every key. Registering each key is
// also what lets viper resolve it from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("chunks.dir", "codebases")
	v.SetDefault("chunks.invalid_policy", "skip")
	v.SetDefault("artifacts.dir", "artifacts")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.text_policy", "full")
	v.SetDefault("embedding.truncate_chars", 1000)
	v.SetDefault("embedding.timeout", 60*time.Second)

	v.SetDefault("vector_store.backend", "sqlite")
	v.SetDefault("vector_store.sqlite.path", "chroma_db/vectors.sqlite")
	v.SetDefault("vector_store.qdrant.addr", "localhost:6334")

	v.SetDefault("query.n_results", 5)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 1)

	v.SetDefault("agent.enabled", true)
	v.SetDefault("agent.max_steps", 8)
	v.SetDefault("agent.max_threads", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.tracing.otlp_endpoint", "")
	v.SetDefault("observability.tracing.service_name", "code-query-agent")
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshalling registered defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration. path may be empty, in which case config.yaml in
// the working directory is used if present. .env.local and .env are loaded
// into the process environment first; existing variables win.
func Load(path string) (*Config, error) {
	loadDotEnv(".env.local", ".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("could not load env file", slog.String("file", f), slog.String("error", err.Error()))
		}
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server.addr must not be empty")
	check(oneOf(c.Chunks.InvalidPolicy, "skip", "reject"), "chunks.invalid_policy %q must be skip or reject", c.Chunks.InvalidPolicy)
	check(oneOf(c.Embedding.Provider, "openai", "hash"), "embedding.provider %q must be openai or hash", c.Embedding.Provider)
	check(c.Embedding.Dimension > 0, "embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	check(c.Embedding.BatchSize > 0, "embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	check(oneOf(c.Embedding.TextPolicy, "full", "truncate"), "embedding.text_policy %q must be full or truncate", c.Embedding.TextPolicy)
	check(c.Embedding.TextPolicy != "truncate" || c.Embedding.TruncateChars > 0,
		"embedding.truncate_chars must be positive, got %d", c.Embedding.TruncateChars)
	check(oneOf(c.VectorStore.Backend, "sqlite", "qdrant"), "vector_store.backend %q must be sqlite or qdrant", c.VectorStore.Backend)
	check(c.Query.NResults > 0, "query.n_results must be positive, got %d", c.Query.NResults)
	check(oneOf(c.LLM.Provider, "anthropic", "openai", "none"), "llm.provider %q must be anthropic, openai or none", c.LLM.Provider)
	check(c.LLM.MaxRetries >= 0, "llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	check(c.Agent.MaxSteps > 0, "agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	check(c.Agent.MaxThreads > 0, "agent.max_threads must be positive, got %d", c.Agent.MaxThreads)
	check(oneOf(strings.ToLower(c.Log.Format), "text", "json"), "log.format %q must be text or json", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// NewLogger builds the process logger from the log settings.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
