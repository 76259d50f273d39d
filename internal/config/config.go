// Package config loads, validates, and watches the server configuration.
//
// Configuration is a single YAML file with strict field checking: unknown
// keys are a load error so typos surface at startup instead of silently
// falling back to defaults. Secrets never live in the file itself; provider
// entries name an environment variable (api_key_env) and the key is read
// from the process environment at provider construction time.
package config

import (
	"os"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Providers Providers `yaml:"providers"`
	Memory    Memory    `yaml:"memory"`
	Agents    Agents    `yaml:"agents"`
	Session   Session   `yaml:"session"`
	Report    Report    `yaml:"report"`
}

// Server holds the HTTP listener and process-level settings.
type Server struct {
	// ListenAddr is the address for the client-facing API (websocket
	// sessions).
	ListenAddr string `yaml:"listen_addr"`

	// OpsAddr is the address for operational endpoints: health probes and
	// Prometheus metrics. Empty serves them on ListenAddr.
	OpsAddr string `yaml:"ops_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxSessions caps concurrent voice sessions. Connections past the cap
	// are refused.
	MaxSessions int `yaml:"max_sessions"`

	// ShutdownGrace bounds how long a draining server waits for active
	// sessions before forcing them closed.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// ProviderEntry selects and configures one backend implementation.
type ProviderEntry struct {
	// Name keys into the provider registry ("openai", "whisper", ...).
	Name string `yaml:"name"`

	// APIKeyEnv names the environment variable holding the credential. The
	// config file never contains the key itself.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider endpoint, for proxies and
	// self-hosted deployments.
	BaseURL string `yaml:"base_url"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// Options carries provider-specific settings the schema does not model.
	Options map[string]string `yaml:"options"`
}

// APIKey resolves the credential from the environment. Empty when APIKeyEnv
// is unset or the variable is empty.
func (e ProviderEntry) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// Providers selects the default backend for each pipeline stage. Agent
// definitions may override individual stages by name.
type Providers struct {
	LLM        ProviderEntry `yaml:"llm"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	VAD        ProviderEntry `yaml:"vad"`
}

// Memory configures the persistent conversation and knowledge store.
type Memory struct {
	// PostgresDSN is the connection string for the pgvector-backed store.
	// Empty disables persistence; sessions then run on in-memory history
	// only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions must match the embeddings provider's output and
	// the vector column width.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// Agents points at the YAML agent definitions.
type Agents struct {
	// Dir is a directory of *.yaml/*.yml definition files. Empty means
	// definitions come from Postgres only.
	Dir string `yaml:"dir"`

	// WatchInterval is the poll interval for reloading changed definition
	// files. Zero disables watching.
	WatchInterval Duration `yaml:"watch_interval"`
}

// Session holds the per-session defaults an agent definition does not
// override.
type Session struct {
	// BufferPolicy is the default token flushing policy: none, low, medium,
	// or high.
	BufferPolicy string `yaml:"buffer_policy"`

	// SampleRate is the ingress PCM sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Language is the BCP-47 recognition language passed to the STT
	// provider. Empty lets the provider auto-detect.
	Language string `yaml:"language"`

	// SpeechThreshold and SilenceThreshold are the VAD hysteresis bounds.
	// A frame probability above SpeechThreshold opens speech; below
	// SilenceThreshold closes it.
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// Hangover is how long silence must persist before speech end fires.
	Hangover Duration `yaml:"hangover"`

	// WaitForTranscript bounds how long a turn waits for the final
	// transcript after speech end before giving up on the turn.
	WaitForTranscript Duration `yaml:"wait_for_transcript"`

	// HistoryCapTokens is the soft cap on in-memory conversation history
	// before the oldest half is folded into a summary.
	HistoryCapTokens int `yaml:"history_cap_tokens"`

	// EgressQueueCap bounds the outbound event queue per session.
	EgressQueueCap int `yaml:"egress_queue_cap"`
}

// Report configures the append-only turn report log.
type Report struct {
	// Path is the JSONL file turn records are appended to. Empty disables
	// reporting.
	Path string `yaml:"path"`
}

// Default returns a configuration with all defaults applied. Load starts
// from this and overlays the file on top.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr:    ":8080",
			OpsAddr:       ":9090",
			LogLevel:      "info",
			MaxSessions:   64,
			ShutdownGrace: Duration(10 * time.Second),
		},
		Memory: Memory{
			EmbeddingDimensions: 1536,
		},
		Agents: Agents{
			WatchInterval: Duration(5 * time.Second),
		},
		Session: Session{
			BufferPolicy:      "medium",
			SampleRate:        16000,
			SpeechThreshold:   0.5,
			SilenceThreshold:  0.35,
			Hangover:          Duration(300 * time.Millisecond),
			WaitForTranscript: Duration(1 * time.Second),
			HistoryCapTokens:  6000,
			EgressQueueCap:    64,
		},
	}
}
