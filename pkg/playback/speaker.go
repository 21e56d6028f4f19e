// Package playback voices committed utterances with a text-to-speech command.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/duet/internal/observability"
	"github.com/harun/duet/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultCommand   = "say"
	DefaultTimeout   = 2 * time.Minute
	DefaultQueueSize = 16

	waitDelay = time.Second
)

// ErrQueueFull is logged when an utterance is dropped because playback
// fell too far behind
var ErrQueueFull = errors.New("playback queue full")

// Speaker voices text. Speak never blocks on playback and never fails the
// caller.
type Speaker interface {
	Speak(ctx context.Context, text, voice string)
}

// Nop is a Speaker that stays silent
type Nop struct{}

func (Nop) Speak(context.Context, string, string) {}

// Config holds command speaker configuration
type Config struct {
	// Command is invoked as `<Command> -v <voice> <text>`
	Command   string
	Timeout   time.Duration
	QueueSize int
	Logger    zerolog.Logger
}

type job struct {
	id    string
	ctx   context.Context
	text  string
	voice string
}

// CommandSpeaker runs the playback command for one utterance at a time, in
// the order Speak was called
type CommandSpeaker struct {
	cfg    Config
	logger zerolog.Logger

	queue   chan job
	pending sync.WaitGroup

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommandSpeaker creates a speaker and starts its worker
func NewCommandSpeaker(cfg Config) *CommandSpeaker {
	observability.EnsureRegistered()

	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &CommandSpeaker{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "playback").Str("command", cfg.Command).Logger(),
		queue:  make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Speak queues text for playback and returns immediately
func (s *CommandSpeaker) Speak(ctx context.Context, text, voice string) {
	j := job{id: uuid.NewString(), ctx: ctx, text: text, voice: voice}
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("job_id", j.id).Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		logger.Debug().Msg("Speaker closed, dropping utterance")
		return
	}

	s.pending.Add(1)
	select {
	case s.queue <- j:
		logger.Debug().Int("queue_size", len(s.queue)).Msg("Utterance queued")
	default:
		s.pending.Done()
		observability.RecordPlayback(false)
		logger.Warn().Err(ErrQueueFull).Msg("Dropping utterance")
	}
}

// Wait blocks until every queued utterance has been played or ctx is done
func (s *CommandSpeaker) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker, cancelling the running command and discarding
// queued utterances
func (s *CommandSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

func (s *CommandSpeaker) run() {
	defer close(s.done)

	for j := range s.queue {
		if s.ctx.Err() == nil {
			s.play(j)
		}
		s.pending.Done()
	}
}

func (s *CommandSpeaker) play(j job) {
	ctx, span := tracing.StartSpan(
		j.ctx,
		"duet.playback",
		"playback.speak",
		attribute.String("voice", j.voice),
		attribute.Int("length", len(j.text)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("job_id", j.id).Logger()

	// the turn context may already be gone, playback lives as long as the speaker
	execCtx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.cfg.Command, "-v", j.voice, j.text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// children of a killed command may hold stderr open
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, err)
		}
		observability.RecordPlayback(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Err(err).
			Str("voice", j.voice).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Dur("duration", duration).
			Msg("Playback failed")
		return
	}

	observability.RecordPlayback(true)
	logger.Debug().Str("voice", j.voice).Dur("duration", duration).Msg("Utterance played")
}
