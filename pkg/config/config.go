// Package config loads docinsights settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/knowledge/backend"
	"github.com/barekit/docinsights/pkg/memory"
	"github.com/barekit/docinsights/pkg/qa"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "DOCINSIGHTS"
	DefaultFile    = "docinsights.yaml"
	defaultKeyEnv  = "OPENAI_API_KEY"
	legacyKeyEnv   = "openai_api_key"
	defaultLLMName = "gpt-4o-mini"
)

// Config is the root configuration.
type Config struct {
	General  GeneralConfig  `mapstructure:"general" yaml:"general"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Embedder EmbedderConfig `mapstructure:"embedder" yaml:"embedder"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
	QA       QAConfig       `mapstructure:"qa" yaml:"qa"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// GeneralConfig holds logging settings.
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // text or json
	Debug     bool   `mapstructure:"debug" yaml:"debug"`
}

// LLMConfig selects the chat model.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // openai or compat
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	APIKeyEnv   string  `mapstructure:"api_key_env" yaml:"api_key_env"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// EmbedderConfig selects the embedder.
type EmbedderConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // openai, compat or tfidf
	Model    string `mapstructure:"model" yaml:"model"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
}

// StoreConfig selects the vector store.
type StoreConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"` // memory, qdrant or postgres
	Hybrid   bool           `mapstructure:"hybrid" yaml:"hybrid"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant" yaml:"qdrant"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type QdrantConfig struct {
	Host             string `mapstructure:"host" yaml:"host"`
	Port             int    `mapstructure:"port" yaml:"port"`
	CollectionPrefix string `mapstructure:"collection_prefix" yaml:"collection_prefix"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// MemoryConfig selects where transcripts are kept.
type MemoryConfig struct {
	Type             string        `mapstructure:"type" yaml:"type"`
	ConnectionString string        `mapstructure:"connection_string" yaml:"connection_string"`
	Username         string        `mapstructure:"username" yaml:"username"`
	Password         string        `mapstructure:"password" yaml:"password,omitempty"`
	DBName           string        `mapstructure:"db_name" yaml:"db_name"`
	TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
	KeepTranscripts  bool          `mapstructure:"keep_transcripts" yaml:"keep_transcripts"`
}

// IngestConfig limits uploads and sets the chunking.
type IngestConfig struct {
	MaxBytes     int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
	ChunkSize    int   `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int   `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
}

type QAConfig struct {
	TopK             int `mapstructure:"top_k" yaml:"top_k"`
	MaxContextTokens int `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Address       string        `mapstructure:"address" yaml:"address"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// Default returns the built-in configuration. It runs fully offline except
// for the chat model.
func Default() *Config {
	return &Config{
		General: GeneralConfig{LogLevel: "info", LogFormat: "text"},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     defaultLLMName,
			APIKeyEnv: defaultKeyEnv,
		},
		Embedder: EmbedderConfig{Provider: string(backend.EmbedderTFIDF)},
		Store: StoreConfig{
			Type:   string(backend.StoreMemory),
			Qdrant: QdrantConfig{Host: "localhost", Port: 6334, CollectionPrefix: "docinsights"},
		},
		Memory: MemoryConfig{Type: string(memory.TypeInMemory)},
		Ingest: IngestConfig{
			MaxBytes:     ingest.DefaultMaxBytes,
			ChunkSize:    ingest.DefaultChunkSize,
			ChunkOverlap: ingest.DefaultChunkOverlap,
		},
		QA: QAConfig{TopK: qa.DefaultTopK, MaxContextTokens: qa.DefaultMaxContextTokens},
		Server: ServerConfig{
			Address:       ":8080",
			SessionTTL:    30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// Load reads path, or docinsights.yaml from the working directory or
// ./config when path is empty. A missing file is not an error. Any key can be
// overridden with DOCINSIGHTS_<SECTION>_<KEY>, e.g. DOCINSIGHTS_STORE_TYPE.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key of cfg so that environment overrides apply
// even when the file does not mention them.
func setDefaults(v *viper.Viper, cfg *Config) {
	data, _ := yaml.Marshal(cfg)
	var tree map[string]any
	_ = yaml.Unmarshal(data, &tree)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	// omitempty keys still need a default to be bound to the environment.
	v.SetDefault("llm.api_key", "")
	v.SetDefault("memory.password", "")
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "compat":
	default:
		return fmt.Errorf("llm.provider must be openai or compat, got %q", c.LLM.Provider)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Store.Type == string(backend.StorePostgres) && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("store.postgres.dsn is required for the postgres store")
	}
	return nil
}

// APIKey returns the model API key: llm.api_key, then the variable named by
// llm.api_key_env, then the lowercase openai_api_key.
func (c *Config) APIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	name := c.LLM.APIKeyEnv
	if name == "" {
		name = defaultKeyEnv
	}
	if key := os.Getenv(name); key != "" {
		return key
	}
	return os.Getenv(legacyKeyEnv)
}

// StoreConfig maps the store section for backend.NewStores.
func (c *Config) StoreConfig() backend.StoreConfig {
	return backend.StoreConfig{
		Type:             backend.StoreType(c.Store.Type),
		QdrantHost:       c.Store.Qdrant.Host,
		QdrantPort:       c.Store.Qdrant.Port,
		CollectionPrefix: c.Store.Qdrant.CollectionPrefix,
		PostgresDSN:      c.Store.Postgres.DSN,
		Hybrid:           c.Store.Hybrid,
	}
}

// EmbedderConfig maps the embedder section. Remote embedders share the
// model API key.
func (c *Config) EmbedderConfig() backend.EmbedderConfig {
	return backend.EmbedderConfig{
		Provider: backend.EmbedderType(c.Embedder.Provider),
		Model:    c.Embedder.Model,
		BaseURL:  c.Embedder.BaseURL,
		APIKey:   c.APIKey(),
	}
}

// MemoryConfig maps the memory section for memory.NewFactory.
func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{
		Type:             memory.Type(c.Memory.Type),
		ConnectionString: c.Memory.ConnectionString,
		Username:         c.Memory.Username,
		Password:         c.Memory.Password,
		DBName:           c.Memory.DBName,
		TTL:              c.Memory.TTL,
	}
}

// IngestOptions maps the ingest section.
func (c *Config) IngestOptions() []ingest.Option {
	return []ingest.Option{
		ingest.WithMaxBytes(c.Ingest.MaxBytes),
		ingest.WithChunking(c.Ingest.ChunkSize, c.Ingest.ChunkOverlap),
	}
}

// ChainOptions maps the qa section.
func (c *Config) ChainOptions() []qa.Option {
	return []qa.Option{
		qa.WithTopK(c.QA.TopK),
		qa.WithMaxContextTokens(c.QA.MaxContextTokens),
		qa.WithDebug(c.General.Debug),
	}
}
