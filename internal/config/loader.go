package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// GetConfigPath returns the config file path, defaulting to $HOME/.duet/duet.json
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".duet", "duet.json")
}

// Load reads the config file if it exists, applies DUET_* environment
// overrides and returns the result layered over DefaultConfig.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DUET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows about
	setDefaults(v, DefaultConfig())

	// Keys that commonly come only from the environment
	_ = v.BindEnv("completion.api_key", "DUET_COMPLETION_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("completion.base_url", "DUET_COMPLETION_BASE_URL")
	_ = v.BindEnv("completion.model", "DUET_COMPLETION_MODEL")
	_ = v.BindEnv("logging.level", "DUET_LOGGING_LEVEL")

	configPath := l.GetConfigPath()
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			// defaults plus environment
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := ValidateDocument(raw); err != nil {
				return nil, err
			}
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every config key so each one has a DUET_* override
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("agent.name", d.Agent.Name)
	v.SetDefault("agent.peer", d.Agent.Peer)
	v.SetDefault("agent.voice", d.Agent.Voice)
	v.SetDefault("agent.chat_dir", d.Agent.ChatDir)
	v.SetDefault("agent.character_dir", d.Agent.CharacterDir)
	v.SetDefault("agent.starter", d.Agent.Starter)

	v.SetDefault("completion.provider", d.Completion.Provider)
	v.SetDefault("completion.model", d.Completion.Model)
	v.SetDefault("completion.base_url", d.Completion.BaseURL)
	v.SetDefault("completion.api_key", d.Completion.APIKey)
	v.SetDefault("completion.temperature", d.Completion.Temperature)
	v.SetDefault("completion.max_tokens", d.Completion.MaxTokens)
	v.SetDefault("completion.max_retries", d.Completion.MaxRetries)

	v.SetDefault("follow.backoff", d.Follow.Backoff)
	v.SetDefault("follow.poll_interval", d.Follow.PollInterval)
	v.SetDefault("follow.from_start", d.Follow.FromStart)

	v.SetDefault("playback.enabled", d.Playback.Enabled)
	v.SetDefault("playback.command", d.Playback.Command)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("transcript.history_limit", d.Transcript.HistoryLimit)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.file", d.Tracing.File)

	v.SetDefault("startup_delay", d.StartupDelay)
	v.SetDefault("max_turns", d.MaxTurns)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
