package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/duet/internal/observability"
	"github.com/harun/duet/internal/tracing"
	"github.com/harun/duet/pkg/transcript"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// ClientConfig holds client configuration
type ClientConfig struct {
	Provider    LLMProvider
	Model       string
	Temperature float64
	MaxTokens   int

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryDelay is the first backoff; each retry doubles it
	RetryDelay time.Duration

	Logger zerolog.Logger
}

// Client generates utterances through one provider
type Client struct {
	provider    LLMProvider
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	logger      zerolog.Logger
}

// NewClient creates a client
func NewClient(cfg ClientConfig) (*Client, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if cfg.MaxTokens < 0 {
		return nil, errors.New("max tokens cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("max retries cannot be negative")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Client{
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger.With().Str("component", "completion").Str("provider", cfg.Provider.Provider()).Logger(),
	}, nil
}

// Generate returns the next local utterance for history. Own lines become
// assistant messages and peer lines user messages.
func (c *Client) Generate(ctx context.Context, systemPrompt string, history []transcript.Utterance) (string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"duet.completion",
		"completion.generate",
		attribute.String("provider", c.provider.Provider()),
		attribute.String("model", c.model),
		attribute.Int("history", len(history)),
	)
	defer span.End()

	request := LLMRequest{
		Model:        c.model,
		SystemPrompt: systemPrompt,
		Messages:     BuildMessages(history),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}

	response, err := c.callWithRetry(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(
		attribute.Int("input_tokens", response.Usage.InputTokens),
		attribute.Int("output_tokens", response.Usage.OutputTokens),
	)
	return response.Content, nil
}

// BuildMessages maps a transcript onto chat messages
func BuildMessages(history []transcript.Utterance) []Message {
	messages := make([]Message, 0, len(history))
	for _, u := range history {
		role := RoleUser
		if u.Role == transcript.RoleSelf {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Name: u.Speaker, Content: u.Text})
	}
	return messages
}

// callWithRetry calls the provider with exponential backoff retry
func (c *Client) callWithRetry(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger)
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		start := time.Now()
		response, err := c.provider.Call(ctx, request)
		observability.RecordCompletion(c.provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.retryDelay * time.Duration(1<<attempt)
		logger.Info().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}
