package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/duet/internal/config"
	"github.com/harun/duet/pkg/chatfile"
	"github.com/harun/duet/pkg/protocol"
	"github.com/harun/duet/pkg/transcript"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatFlags(t *testing.T) {
	flags := chatCmd.Flags()
	for _, name := range []string{"name", "other", "voice", "chat-directory"} {
		f := flags.Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag], name)
	}

	assert.Equal(t, "./characters", flags.Lookup("character-directory").DefValue)
	assert.Equal(t, "5s", flags.Lookup("startup-delay").DefValue)
	assert.Equal(t, "false", flags.Lookup("start").DefValue)
}

func TestApplyChatFlags(t *testing.T) {
	require.NoError(t, chatCmd.Flags().Parse([]string{
		"--name", "alice",
		"--other", "bob",
		"--voice", "Samantha",
		"--chat-directory", "/tmp/chat",
		"--start",
		"--model", "gpt-4o-mini",
		"--no-speak",
		"--max-turns", "7",
		"--startup-delay", "0s",
	}))

	cfg := config.DefaultConfig()
	cfg.Completion.BaseURL = "http://from-config/v1"
	applyChatFlags(chatCmd, cfg)

	assert.Equal(t, "alice", cfg.Agent.Name)
	assert.Equal(t, "bob", cfg.Agent.Peer)
	assert.Equal(t, "Samantha", cfg.Agent.Voice)
	assert.Equal(t, "/tmp/chat", cfg.Agent.ChatDir)
	assert.True(t, cfg.Agent.Starter)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.False(t, cfg.Playback.Enabled)
	assert.Equal(t, 7, cfg.MaxTurns)
	assert.Zero(t, cfg.StartupDelay)

	// flags left unset keep the config value
	assert.Equal(t, "http://from-config/v1", cfg.Completion.BaseURL)
	assert.Equal(t, 0.8, cfg.Completion.Temperature)
	assert.NoError(t, cfg.Validate())
}

// newCompletionServer answers every chat completion with a numbered line
func newCompletionServer(t *testing.T) *httptest.Server {
	t.Helper()
	var n atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-%[1]d",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "llama-3.2-3b-instruct",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "line %[1]d\nwith a break"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`, n.Add(1))
	}))
	t.Cleanup(server.Close)
	return server
}

func writeCharacters(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		path := filepath.Join(dir, name+".character.txt")
		require.NoError(t, os.WriteFile(path, []byte("You are "+name+".\n"), 0o644))
	}
	return dir
}

func agentConfig(name, peer, chatDir, characterDir, baseURL string, starter bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent = config.AgentConfig{
		Name:         name,
		Peer:         peer,
		Voice:        "Alex",
		ChatDir:      chatDir,
		CharacterDir: characterDir,
		Starter:      starter,
	}
	cfg.Completion.BaseURL = baseURL
	cfg.Completion.MaxRetries = 0
	cfg.Follow.Backoff = 20 * time.Millisecond
	cfg.Follow.PollInterval = 20 * time.Millisecond
	cfg.Follow.FromStart = true
	cfg.Playback.Enabled = false
	cfg.StartupDelay = 0
	cfg.MaxTurns = 2
	return cfg
}

func TestRunConversationBetweenTwoAgents(t *testing.T) {
	server := newCompletionServer(t)
	characters := writeCharacters(t, "alice", "bob")
	chatDir := filepath.Join(t.TempDir(), "chat")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for _, cfg := range []*config.Config{
		agentConfig("alice", "bob", chatDir, characters, server.URL+"/v1", true),
		agentConfig("bob", "alice", chatDir, characters, server.URL+"/v1", false),
	} {
		go func(cfg *config.Config) {
			errs <- RunConversation(ctx, cfg, zerolog.Nop())
		}(cfg)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("conversation did not finish")
		}
	}

	alice, err := os.ReadFile(chatfile.Path(chatDir, "alice"))
	require.NoError(t, err)
	bob, err := os.ReadFile(chatfile.Path(chatDir, "bob"))
	require.NoError(t, err)

	aliceLines := strings.Split(strings.TrimSuffix(string(alice), "\n"), "\n")
	bobLines := strings.Split(strings.TrimSuffix(string(bob), "\n"), "\n")
	require.Len(t, aliceLines, 2)
	require.Len(t, bobLines, 2)
	assert.Equal(t, "Hi", aliceLines[0])
	for _, line := range append(aliceLines[1:], bobLines...) {
		assert.Regexp(t, `^line \d+with a break$`, line)
	}

	entries, err := transcript.LoadJournal(transcript.JournalPath(chatDir, "bob"))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, transcript.RolePeer, entries[0].Role)
	assert.Equal(t, "Hi", entries[0].Text)
}

func TestRunConversationCancelledDuringStartupDelay(t *testing.T) {
	characters := writeCharacters(t, "alice")
	chatDir := t.TempDir()
	cfg := agentConfig("alice", "bob", chatDir, characters, "http://127.0.0.1:1/v1", true)
	cfg.StartupDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, RunConversation(ctx, cfg, zerolog.Nop()))

	_, err := os.Stat(chatfile.Path(chatDir, "alice"))
	assert.True(t, os.IsNotExist(err), "chat file is only created after the startup delay")
}

func TestRunConversationMissingCharacter(t *testing.T) {
	cfg := agentConfig("alice", "bob", t.TempDir(), t.TempDir(), "http://127.0.0.1:1/v1", true)

	err := RunConversation(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "character description")
}

func TestRunConversationReportsCompletionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "unknown model", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	characters := writeCharacters(t, "bob")
	chatDir := t.TempDir()
	require.NoError(t, os.WriteFile(chatfile.Path(chatDir, "alice"), []byte("Hi\n"), 0o644))

	cfg := agentConfig("bob", "alice", chatDir, characters, server.URL+"/v1", false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := RunConversation(ctx, cfg, zerolog.Nop())
	var compErr *protocol.ComponentError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, protocol.ComponentCompletion, compErr.Component)
}

func TestSpanWriter(t *testing.T) {
	cfg := config.DefaultConfig()

	w, closeSpans, err := spanWriter(cfg)
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)
	closeSpans()

	cfg.Tracing.File = filepath.Join(t.TempDir(), "spans.jsonl")
	w, closeSpans, err = spanWriter(cfg)
	require.NoError(t, err)
	_, err = w.Write([]byte("{\"Name\":\"protocol.speak\"}\n"))
	require.NoError(t, err)
	closeSpans()

	data, err := os.ReadFile(cfg.Tracing.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "protocol.speak")
}
