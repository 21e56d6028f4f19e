package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Agent.Name = "alice"
	cfg.Agent.Peer = "bob"
	cfg.Agent.Voice = "Samantha"
	cfg.Agent.ChatDir = "/tmp/chat"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./characters", cfg.Agent.CharacterDir)
	assert.False(t, cfg.Agent.Starter)
	assert.Equal(t, "openai", cfg.Completion.Provider)
	assert.Equal(t, "llama-3.2-3b-instruct", cfg.Completion.Model)
	assert.Equal(t, "http://localhost:1234/v1", cfg.Completion.BaseURL)
	assert.InDelta(t, 0.8, cfg.Completion.Temperature, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Follow.Backoff)
	assert.Equal(t, "say", cfg.Playback.Command)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 0, cfg.Transcript.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.StartupDelay)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.Tracing.File)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("defaults lack identity", func(t *testing.T) {
		err := DefaultConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent name is required")
		assert.Contains(t, err.Error(), "peer name is required")
		assert.Contains(t, err.Error(), "voice is required")
		assert.Contains(t, err.Error(), "chat directory is required")
	})

	t.Run("same name for both sides", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.Peer = cfg.Agent.Name
		assert.ErrorContains(t, cfg.Validate(), "different names")
	})

	t.Run("playback without command", func(t *testing.T) {
		cfg := validConfig()
		cfg.Playback.Command = ""
		assert.Error(t, cfg.Validate())

		cfg.Playback.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"plain name", v.ValidateName("agent name", "alice"), false},
		{"empty name", v.ValidateName("agent name", " "), true},
		{"path traversal", v.ValidateName("agent name", "../etc"), true},
		{"separator", v.ValidateName("agent name", "a/b"), true},
		{"openai", v.ValidateProvider("openai"), false},
		{"anthropic", v.ValidateProvider("anthropic"), false},
		{"gemini", v.ValidateProvider("gemini"), true},
		{"temperature ok", v.ValidateTemperature(1.5), false},
		{"temperature high", v.ValidateTemperature(2.5), true},
		{"log level", v.ValidateLogLevel("debug"), false},
		{"bad log level", v.ValidateLogLevel("trace"), true},
		{"zero backoff", v.ValidatePositiveDuration("backoff", 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr {
				assert.Error(t, tt.err)
			} else {
				assert.NoError(t, tt.err)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		err := ValidateDocument([]byte(`{"follow": {"backoff": "750ms"}, "completion": {"provider": "anthropic"}}`))
		assert.NoError(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		err := ValidateDocument([]byte(`{"telegram": {}}`))
		assert.ErrorContains(t, err, "does not match schema")
	})

	t.Run("bad duration", func(t *testing.T) {
		err := ValidateDocument([]byte(`{"startup_delay": "soon"}`))
		assert.Error(t, err)
	})

	t.Run("bad provider", func(t *testing.T) {
		err := ValidateDocument([]byte(`{"completion": {"provider": "gemini"}}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		err := ValidateDocument([]byte(`{`))
		assert.Error(t, err)
	})
}
