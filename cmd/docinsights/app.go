package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/barekit/docinsights/pkg/config"
	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/knowledge"
	"github.com/barekit/docinsights/pkg/knowledge/backend"
	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/llm/compat"
	llmopenai "github.com/barekit/docinsights/pkg/llm/openai"
	"github.com/barekit/docinsights/pkg/memory"
	"github.com/barekit/docinsights/pkg/metrics"
	"github.com/barekit/docinsights/pkg/session"
	"github.com/openai/openai-go/option"
)

// app holds everything built from the configuration.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	stores   *backend.Stores
	memory   memory.Memory
	sessions *session.Manager
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg config.GeneralConfig, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "compat":
		p := compat.New(cfg.LLM.BaseURL, cfg.APIKey(), cfg.LLM.Model)
		p.SetTemperature(cfg.LLM.Temperature)
		return p, nil
	case "openai":
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("no API key: set %s", cfg.LLM.APIKeyEnv)
		}
		opts := []option.RequestOption{option.WithAPIKey(key)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.LLM.BaseURL))
		}
		p := llmopenai.New(opts...)
		p.SetModel(cfg.LLM.Model)
		p.SetTemperature(cfg.LLM.Temperature)
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	stores, err := backend.NewStores(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	mem, err := memory.NewFactory(ctx, cfg.MemoryConfig())
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to open transcript memory: %w", err)
	}

	embedCfg := cfg.EmbedderConfig()
	pipeline := &session.Pipeline{
		Ingester: ingest.New(cfg.IngestOptions()...),
		Stores:   stores,
		NewEmbedder: func() (knowledge.Embedder, error) {
			return backend.NewEmbedder(embedCfg)
		},
		LLM:          provider,
		ChainOptions: cfg.ChainOptions(),
	}

	m := metrics.New()
	mgr := session.NewManager(pipeline,
		session.WithMemory(mem),
		session.WithMetrics(m),
		session.WithTTL(cfg.Server.SessionTTL),
		session.WithKeepTranscripts(cfg.Memory.KeepTranscripts),
	)

	slog.Debug("app configured",
		"llm", cfg.LLM.Provider, "model", cfg.LLM.Model,
		"embedder", cfg.Embedder.Provider, "store", cfg.Store.Type,
		"hybrid", cfg.Store.Hybrid, "memory", cfg.Memory.Type)

	return &app{cfg: cfg, metrics: m, stores: stores, memory: mem, sessions: mgr}, nil
}

func (a *app) Close(ctx context.Context) {
	a.sessions.Close(ctx)
	if err := memory.Close(ctx, a.memory); err != nil {
		slog.Warn("failed to close transcript memory", "error", err)
	}
	if err := a.stores.Close(); err != nil {
		slog.Warn("failed to close vector store", "error", err)
	}
}
