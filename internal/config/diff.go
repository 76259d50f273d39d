package config

// ConfigDiff summarizes what changed between two loaded configurations.
// Reloads only take effect for settings the server can change at runtime;
// the rest are reported so operators know a restart is needed.
type ConfigDiff struct {
	// LogLevel holds the new level when it changed, otherwise "".
	LogLevel string

	// Providers lists the pipeline stages whose provider entry changed
	// ("llm", "stt", "tts", "embeddings", "vad").
	Providers []string

	// AgentsDirChanged reports a changed definitions directory.
	AgentsDirChanged bool

	// RestartNeeded reports changes that only apply to new processes, such
	// as listen addresses or the Postgres DSN.
	RestartNeeded bool
}

// Empty reports whether the two configurations were equivalent.
func (d ConfigDiff) Empty() bool {
	return d.LogLevel == "" && len(d.Providers) == 0 && !d.AgentsDirChanged && !d.RestartNeeded
}

// Diff compares two configurations field by field.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevel = new.Server.LogLevel
	}
	for _, p := range []struct {
		kind     string
		old, new ProviderEntry
	}{
		{"llm", old.Providers.LLM, new.Providers.LLM},
		{"stt", old.Providers.STT, new.Providers.STT},
		{"tts", old.Providers.TTS, new.Providers.TTS},
		{"embeddings", old.Providers.Embeddings, new.Providers.Embeddings},
		{"vad", old.Providers.VAD, new.Providers.VAD},
	} {
		if !entryEqual(p.old, p.new) {
			d.Providers = append(d.Providers, p.kind)
		}
	}
	if old.Agents.Dir != new.Agents.Dir {
		d.AgentsDirChanged = true
	}
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.OpsAddr != new.Server.OpsAddr ||
		old.Memory.PostgresDSN != new.Memory.PostgresDSN {
		d.RestartNeeded = true
	}
	return d
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKeyEnv != b.APIKeyEnv || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if b.Options[k] != v {
			return false
		}
	}
	return true
}
