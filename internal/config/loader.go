package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mynah-ai/mynah/internal/pipeline"
)

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses and validates configuration YAML. Fields absent from
// the document keep their defaults; unknown fields are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for hard errors and logs warnings for
// soft issues like missing credentials.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	if c.Server.MaxSessions <= 0 {
		errs = append(errs, errors.New("server.max_sessions must be positive"))
	}
	if c.Server.ShutdownGrace < 0 {
		errs = append(errs, errors.New("server.shutdown_grace must not be negative"))
	}

	if c.Memory.PostgresDSN != "" && c.Memory.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("memory.embedding_dimensions must be positive when postgres_dsn is set"))
	}

	if c.Session.BufferPolicy != "" {
		if _, err := pipeline.ParseBufferPolicy(c.Session.BufferPolicy); err != nil {
			errs = append(errs, fmt.Errorf("session.buffer_policy: %w", err))
		}
	}
	if c.Session.SampleRate <= 0 {
		errs = append(errs, errors.New("session.sample_rate must be positive"))
	}
	if c.Session.SpeechThreshold <= 0 || c.Session.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("session.speech_threshold %v out of range (0, 1]", c.Session.SpeechThreshold))
	}
	if c.Session.SilenceThreshold < 0 || c.Session.SilenceThreshold >= c.Session.SpeechThreshold {
		errs = append(errs, fmt.Errorf("session.silence_threshold %v must be in [0, speech_threshold)", c.Session.SilenceThreshold))
	}
	if c.Session.Hangover < 0 || c.Session.WaitForTranscript < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if c.Session.HistoryCapTokens <= 0 {
		errs = append(errs, errors.New("session.history_cap_tokens must be positive"))
	}
	if c.Session.EgressQueueCap <= 0 {
		errs = append(errs, errors.New("session.egress_queue_cap must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.warn()
	return nil
}

// warn logs soft issues that do not prevent startup.
func (c *Config) warn() {
	if c.Memory.PostgresDSN == "" {
		slog.Warn("config: memory.postgres_dsn is empty, persistence and retrieval are disabled")
	}
	if c.Agents.Dir == "" {
		slog.Warn("config: agents.dir is empty, agent definitions come from the database only")
	}
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"llm", c.Providers.LLM},
		{"stt", c.Providers.STT},
		{"tts", c.Providers.TTS},
	} {
		if p.entry.Name == "" {
			slog.Warn("config: provider is not configured", "kind", p.kind)
			continue
		}
		if p.entry.APIKeyEnv != "" && os.Getenv(p.entry.APIKeyEnv) == "" {
			slog.Warn("config: provider credential variable is empty",
				"kind", p.kind, "provider", p.entry.Name, "env", p.entry.APIKeyEnv)
		}
	}
}
