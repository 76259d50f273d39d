// Command mynah runs the voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mynah-ai/mynah/internal/agent"
	"github.com/mynah-ai/mynah/internal/app"
	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/health"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/internal/report"
	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/memory/postgres"
	"github.com/mynah-ai/mynah/pkg/provider/embeddings"
	oaembed "github.com/mynah-ai/mynah/pkg/provider/embeddings/openai"
	"github.com/mynah-ai/mynah/pkg/provider/llm"
	"github.com/mynah-ai/mynah/pkg/provider/llm/anyllm"
	"github.com/mynah-ai/mynah/pkg/provider/stt"
	"github.com/mynah-ai/mynah/pkg/provider/stt/deepgram"
	"github.com/mynah-ai/mynah/pkg/provider/stt/whisper"
	"github.com/mynah-ai/mynah/pkg/provider/tts"
	"github.com/mynah-ai/mynah/pkg/provider/tts/elevenlabs"
	"github.com/mynah-ai/mynah/pkg/provider/tts/openaitts"
	"github.com/mynah-ai/mynah/pkg/provider/vad"
	"github.com/mynah-ai/mynah/pkg/provider/vad/energy"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mynah: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mynah: %v\n", err)
		}
		return 1
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("mynah starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mynah",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	application, err := assemble(ctx, cfg, reg, providers, logger)
	if err != nil {
		slog.Error("failed to assemble application", "error", err)
		return 1
	}

	// Reload the config file at runtime for the settings that support it.
	watchInterval := cfg.Agents.WatchInterval.Std()
	if watchInterval <= 0 {
		watchInterval = 5 * time.Second
	}
	if watcher, err := config.NewWatcher(*configPath, watchInterval, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevel != "" {
			level.Set(parseLevel(d.LogLevel))
			slog.Info("log level changed", "level", d.LogLevel)
		}
		if len(d.Providers) > 0 || d.AgentsDirChanged || d.RestartNeeded {
			slog.Warn("config changes need a restart to take effect",
				"providers", d.Providers,
				"agents_dir_changed", d.AgentsDirChanged,
				"restart_needed", d.RestartNeeded)
		}
	}, logger); err != nil {
		slog.Warn("config watcher disabled", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// assemble wires storage, agents, reporting, and the session manager into a
// runnable App.
func assemble(ctx context.Context, cfg *config.Config, reg *config.Registry, providers app.Providers, logger *slog.Logger) (*app.App, error) {
	var closers []func() error
	var checkers []health.Checker

	// Persistence layer. Optional: without a DSN, sessions run on in-memory
	// history and retrieval is disabled.
	var mem app.Memory
	var store *postgres.Store
	if dsn := cfg.Memory.PostgresDSN; dsn != "" {
		var err error
		store, err = postgres.NewStore(ctx, dsn, cfg.Memory.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("connect memory store: %w", err)
		}
		closers = append(closers, func() error { store.Close(); return nil })
		checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})

		mem.History = store.History()
		mem.RetrieverFor = func(agentID string, embedder embeddings.Provider) memory.Retriever {
			return store.Retriever(embedder, agentID)
		}
		if providers.Embeddings == nil {
			slog.Warn("no embeddings provider configured, retrieval runs only for agents that pin one")
			checkers = append(checkers, health.Checker{
				Name:     "retrieval",
				Optional: true,
				Check: func(context.Context) error {
					return errors.New("no embeddings provider configured")
				},
			})
		}
	}

	// Agent directory: YAML files with hot reload, or the database.
	var agents agent.Store
	switch {
	case cfg.Agents.Dir != "":
		memStore := agent.NewMemStore()
		reloader, err := agent.NewReloader(cfg.Agents.Dir, cfg.Agents.WatchInterval.Std(), memStore, logger)
		if err != nil {
			return nil, fmt.Errorf("load agent definitions: %w", err)
		}
		go reloader.Run(ctx)
		agents = memStore
	case store != nil:
		pgAgents := agent.NewPostgresStore(store.Pool())
		if err := pgAgents.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate agent definitions: %w", err)
		}
		agents = pgAgents
	default:
		return nil, errors.New("no agent source configured: set agents.dir or memory.postgres_dsn")
	}

	checkers = append(checkers, health.Checker{
		Name: "agents",
		Check: func(ctx context.Context) error {
			defs, err := agents.List(ctx)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				return errors.New("no agent definitions loaded")
			}
			return nil
		},
	})

	var reporter *report.Writer
	if cfg.Report.Path != "" {
		var err error
		reporter, err = report.Open(cfg.Report.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open turn report: %w", err)
		}
		closers = append(closers, reporter.Close)
	}

	manager := app.NewManager(cfg, reg, agents, providers, mem, reporter, logger)
	application := app.New(cfg, manager, checkers, logger)
	for _, c := range closers {
		application.AddCloser(c)
	}
	return application, nil
}

// registerBuiltinProviders wires the provider factories that ship with the
// server into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// The any-llm backends share one construction pattern: optional API key
	// plus optional base URL.
	for _, name := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := entry.APIKey(); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; BaseURL carries the address, no key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Options["language"]; lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey(), opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Options["model_path"]
		}
		var opts []whisper.Option
		if lang := entry.Options["language"]; lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey(), opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if entry.Model != "" {
			opts = append(opts, openaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(entry.BaseURL))
		}
		return openaitts.New(entry.APIKey(), opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey(), entry.Model, opts...)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// buildProviders instantiates the providers named in cfg. LLM, STT, and TTS
// are required; VAD falls back to the built-in energy engine.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	var ps app.Providers
	var err error

	if ps.LLM, err = reg.CreateLLM(cfg.Providers.LLM); err != nil {
		return ps, fmt.Errorf("create llm provider: %w", err)
	}
	if ps.STT, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
		return ps, fmt.Errorf("create stt provider: %w", err)
	}
	if ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS); err != nil {
		return ps, fmt.Errorf("create tts provider: %w", err)
	}

	if cfg.Providers.VAD.Name != "" {
		if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
			return ps, fmt.Errorf("create vad engine: %w", err)
		}
	} else {
		ps.VAD = energy.New()
	}

	if cfg.Providers.Embeddings.Name != "" {
		if ps.Embeddings, err = reg.CreateEmbeddings(cfg.Providers.Embeddings); err != nil {
			return ps, fmt.Errorf("create embeddings provider: %w", err)
		}
	}

	for _, p := range []struct{ kind, name, model string }{
		{"llm", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model},
		{"stt", cfg.Providers.STT.Name, cfg.Providers.STT.Model},
		{"tts", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model},
		{"embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model},
	} {
		if p.name != "" {
			slog.Info("provider created", "kind", p.kind, "name", p.name, "model", p.model)
		}
	}
	return ps, nil
}

func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	return logger, lvl
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
