package protocol

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harun/duet/internal/observability"
	"github.com/harun/duet/internal/tracing"
	"github.com/harun/duet/pkg/chatfile"
	"github.com/harun/duet/pkg/transcript"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "duet.protocol"

// Config holds protocol configuration
type Config struct {
	Name  string
	Peer  string
	Voice string

	// Starter opens the conversation with Bootstrap
	Starter      bool
	SystemPrompt string

	// Conversation defaults to an unbounded transcript
	Conversation *transcript.Conversation

	Generator  Generator
	Committer  Committer
	LineSource LineSource

	// Speaker and Journal are optional
	Speaker Speaker
	Journal Recorder

	Logger zerolog.Logger

	// MaxTurns stops the protocol after that many local utterances; 0 runs
	// until cancelled
	MaxTurns int
}

// Protocol drives one agent's side of the conversation
type Protocol struct {
	cfg    Config
	conv   *transcript.Conversation
	logger zerolog.Logger

	state atomic.Int32
	turns int
}

// New creates a protocol
func New(cfg Config) (*Protocol, error) {
	observability.EnsureRegistered()

	if cfg.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if cfg.Peer == "" {
		return nil, errors.New("peer name is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Committer == nil {
		return nil, errors.New("committer is required")
	}
	if cfg.LineSource == nil {
		return nil, errors.New("line source is required")
	}
	if cfg.MaxTurns < 0 {
		return nil, errors.New("max turns cannot be negative")
	}

	conv := cfg.Conversation
	if conv == nil {
		conv = transcript.New(0)
	}

	return &Protocol{
		cfg:    cfg,
		conv:   conv,
		logger: cfg.Logger.With().Str("component", "protocol").Logger(),
	}, nil
}

// State returns the current state
func (p *Protocol) State() State {
	return State(p.state.Load())
}

// Conversation returns the accumulated transcript
func (p *Protocol) Conversation() *transcript.Conversation {
	return p.conv
}

// Run alternates turns until ctx is cancelled, MaxTurns is reached or a
// collaborator fails. Cancellation returns nil.
func (p *Protocol) Run(ctx context.Context) error {
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewConversationContext(ctx, p.cfg.Name, p.cfg.Peer)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"protocol.run",
		attribute.String("agent", p.cfg.Name),
		attribute.String("peer", p.cfg.Peer),
		attribute.Bool("starter", p.cfg.Starter),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, p.logger)

	defer p.transition(logger, StateStopped)

	logger.Info().Bool("starter", p.cfg.Starter).Msg("Conversation started")

	if p.cfg.Starter {
		p.transition(logger, StateSpeaking)
		if err := p.say(ctx, Bootstrap); err != nil {
			return p.finish(ctx, logger, span, err)
		}
		if p.done() {
			logger.Info().Int("turns", p.turns).Msg("Turn limit reached")
			return nil
		}
	}

	for {
		p.transition(logger, StateListening)
		if err := p.listen(ctx); err != nil {
			return p.finish(ctx, logger, span, err)
		}

		p.transition(logger, StateSpeaking)
		if err := p.speak(ctx); err != nil {
			return p.finish(ctx, logger, span, err)
		}
		if p.done() {
			logger.Info().Int("turns", p.turns).Msg("Turn limit reached")
			return nil
		}
	}
}

// finish maps a turn error to Run's result
func (p *Protocol) finish(ctx context.Context, logger zerolog.Logger, span trace.Span, err error) error {
	if ctx.Err() != nil {
		logger.Info().Int("turns", p.turns).Msg("Conversation cancelled")
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (p *Protocol) done() bool {
	return p.cfg.MaxTurns > 0 && p.turns >= p.cfg.MaxTurns
}

func (p *Protocol) transition(logger zerolog.Logger, next State) {
	prev := State(p.state.Swap(int32(next)))
	if prev != next {
		logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("State transition")
	}
}

// listen waits for exactly one peer line
func (p *Protocol) listen(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "protocol.listen")
	defer span.End()

	line, err := p.cfg.LineSource.Next(ctx)
	if err != nil {
		return fail(ComponentFollower, err)
	}

	return p.record(ctx, transcript.Utterance{
		Speaker: p.cfg.Peer,
		Role:    transcript.RolePeer,
		Text:    line,
		At:      time.Now(),
	})
}

// speak generates one utterance from the transcript so far and says it
func (p *Protocol) speak(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "protocol.speak")
	defer span.End()

	text, err := p.cfg.Generator.Generate(ctx, p.cfg.SystemPrompt, p.conv.Snapshot())
	if err != nil {
		return fail(ComponentCompletion, err)
	}
	if strings.TrimSpace(text) == "" {
		return fail(ComponentCompletion, ErrEmptyUtterance)
	}

	return p.say(ctx, text)
}

// say commits text, adds it to the transcript and voices it
func (p *Protocol) say(ctx context.Context, text string) error {
	line := chatfile.Normalize(text)

	// stamped before the commit so the peer's reply always sorts after it
	u := transcript.Utterance{
		Speaker: p.cfg.Name,
		Role:    transcript.RoleSelf,
		Text:    strings.TrimSuffix(line, "\n"),
		At:      time.Now(),
	}

	// a reply that lands after cancellation is never said
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.cfg.Committer.Commit(ctx, line); err != nil {
		return fail(ComponentChatfile, err)
	}
	if err := p.record(ctx, u); err != nil {
		return err
	}
	p.turns++

	if p.cfg.Speaker != nil {
		p.cfg.Speaker.Speak(ctx, u.Text, p.cfg.Voice)
	}
	return nil
}

// record appends u to the conversation and the journal
func (p *Protocol) record(ctx context.Context, u transcript.Utterance) error {
	if err := p.conv.Append(u); err != nil {
		return fail(ComponentTranscript, err)
	}
	observability.RecordTurn(string(u.Role), p.conv.Len())

	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Debug().
		Str("role", string(u.Role)).
		Str("speaker", u.Speaker).
		Int("length", len(u.Text)).
		Msg("Utterance recorded")

	if p.cfg.Journal != nil {
		if err := p.cfg.Journal.Record(ctx, u); err != nil {
			return fail(ComponentJournal, err)
		}
	}
	return nil
}
