package playback

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates a fake text-to-speech command that appends
// "<voice>|<text>" to out after sleeping delay seconds
func writeScript(t *testing.T, dir, delay string) (string, string) {
	t.Helper()
	out := filepath.Join(dir, "spoken.txt")
	script := filepath.Join(dir, "fake-say")
	body := "#!/bin/sh\nsleep " + delay + "\nprintf '%s|%s\\n' \"$2\" \"$3\" >> " + out + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script, out
}

func waitIdle(t *testing.T, s *CommandSpeaker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestCommandSpeakerPlaysInOrder(t *testing.T) {
	script, out := writeScript(t, t.TempDir(), "0")
	s := NewCommandSpeaker(Config{Command: script, Logger: zerolog.Nop()})
	defer s.Close()

	for _, text := range []string{"Hi", "How are you?", "Fine, thanks"} {
		s.Speak(context.Background(), text, "Samantha")
	}
	waitIdle(t, s)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Samantha|Hi",
		"Samantha|How are you?",
		"Samantha|Fine, thanks",
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestSpeakDoesNotBlock(t *testing.T) {
	script, _ := writeScript(t, t.TempDir(), "1")
	s := NewCommandSpeaker(Config{Command: script, Logger: zerolog.Nop()})
	defer s.Close()

	start := time.Now()
	s.Speak(context.Background(), "one", "Alex")
	s.Speak(context.Background(), "two", "Alex")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFailingCommandIsNotFatal(t *testing.T) {
	for _, command := range []string{"false", filepath.Join(t.TempDir(), "missing-command")} {
		s := NewCommandSpeaker(Config{Command: command, Logger: zerolog.Nop()})
		assert.NotPanics(t, func() {
			s.Speak(context.Background(), "Hi", "Alex")
		})
		waitIdle(t, s)
		require.NoError(t, s.Close())
	}
}

func TestTimeoutKillsCommand(t *testing.T) {
	script, out := writeScript(t, t.TempDir(), "5")
	s := NewCommandSpeaker(Config{Command: script, Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	defer s.Close()

	s.Speak(context.Background(), "slow", "Alex")
	waitIdle(t, s)

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "killed command must not have finished")
}

func TestCloseCancelsPlayback(t *testing.T) {
	script, _ := writeScript(t, t.TempDir(), "5")
	s := NewCommandSpeaker(Config{Command: script, Logger: zerolog.Nop()})

	s.Speak(context.Background(), "one", "Alex")
	s.Speak(context.Background(), "two", "Alex")

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("close did not cancel the running command")
	}

	assert.NotPanics(t, func() {
		s.Speak(context.Background(), "after close", "Alex")
	})
	assert.NoError(t, s.Close())
}

func TestFullQueueDropsUtterance(t *testing.T) {
	script, _ := writeScript(t, t.TempDir(), "5")
	s := NewCommandSpeaker(Config{Command: script, QueueSize: 1, Logger: zerolog.Nop()})
	defer s.Close()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			s.Speak(context.Background(), "spam", "Alex")
		}
	})
}

func TestWaitHonoursContext(t *testing.T) {
	script, _ := writeScript(t, t.TempDir(), "5")
	s := NewCommandSpeaker(Config{Command: script, Logger: zerolog.Nop()})
	defer s.Close()

	s.Speak(context.Background(), "slow", "Alex")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestNopSpeaker(t *testing.T) {
	var s Speaker = Nop{}
	assert.NotPanics(t, func() {
		s.Speak(context.Background(), "Hi", "Alex")
	})
}
