package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the duet configuration. CLI flags override file values.
type Config struct {
	// Agent identity
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Completion provider
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`

	// Follower tuning
	Follow FollowConfig `json:"follow" mapstructure:"follow"`

	// Playback
	Playback PlaybackConfig `json:"playback" mapstructure:"playback"`

	// Transcript journal and retention
	Journal    JournalConfig    `json:"journal" mapstructure:"journal"`
	Transcript TranscriptConfig `json:"transcript" mapstructure:"transcript"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Span export
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// StartupDelay is slept before the chat file is created so both
	// peers have a chance to come up.
	StartupDelay time.Duration `json:"startup_delay" mapstructure:"startup_delay"`

	// MaxTurns stops the conversation after this many local turns (0 = never)
	MaxTurns int `json:"max_turns" mapstructure:"max_turns"`
}

// AgentConfig is the identity of this process in the conversation
type AgentConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Peer         string `json:"peer" mapstructure:"peer"`
	Voice        string `json:"voice" mapstructure:"voice"`
	ChatDir      string `json:"chat_dir" mapstructure:"chat_dir"`
	CharacterDir string `json:"character_dir" mapstructure:"character_dir"`
	Starter      bool   `json:"starter" mapstructure:"starter"`
}

// CompletionConfig selects and tunes the language model
type CompletionConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	Model       string  `json:"model" mapstructure:"model"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// FollowConfig tunes the peer file follower
type FollowConfig struct {
	Backoff      time.Duration `json:"backoff" mapstructure:"backoff"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	FromStart    bool          `json:"from_start" mapstructure:"from_start"`
}

// PlaybackConfig configures text-to-speech
type PlaybackConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Command string `json:"command" mapstructure:"command"`
}

// JournalConfig configures the JSONL transcript journal
type JournalConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TranscriptConfig configures in-memory conversation retention
type TranscriptConfig struct {
	HistoryLimit int `json:"history_limit" mapstructure:"history_limit"` // 0 = unbounded
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the prometheus endpoint address
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"` // empty disables the endpoint
}

// TracingConfig controls span export. Spans go to File as JSON lines, or to
// stderr when File is empty.
type TracingConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			CharacterDir: "./characters",
		},
		Completion: CompletionConfig{
			Provider:    "openai",
			Model:       "llama-3.2-3b-instruct",
			BaseURL:     "http://localhost:1234/v1",
			APIKey:      "lm-studio",
			Temperature: 0.8,
			MaxTokens:   512,
			MaxRetries:  3,
		},
		Follow: FollowConfig{
			Backoff:      500 * time.Millisecond,
			PollInterval: 250 * time.Millisecond,
		},
		Playback: PlaybackConfig{
			Enabled: true,
			Command: "say",
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   10,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		StartupDelay: 5 * time.Second,
	}
}

// String renders the config as indented JSON
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate runs the Validator and joins every problem into one error
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
