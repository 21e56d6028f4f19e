package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the id of one agent process run
	RunIDKey ContextKey = "run_id"
	// AgentKey is the context key for the local agent name
	AgentKey ContextKey = "agent"
	// PeerKey is the context key for the peer agent name
	PeerKey ContextKey = "peer"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RunID   string
	Agent   string
	Peer    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgent adds the local agent name to the context
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// WithPeer adds the peer agent name to the context
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, PeerKey, peer)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

// GetAgent retrieves the local agent name from the context
func GetAgent(ctx context.Context) string {
	return stringValue(ctx, AgentKey)
}

// GetPeer retrieves the peer agent name from the context
func GetPeer(ctx context.Context) string {
	return stringValue(ctx, PeerKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		RunID:   GetRunID(ctx),
		Agent:   GetAgent(ctx),
		Peer:    GetPeer(ctx),
	}
}

// NewConversationContext creates the root context for one agent process:
// a fresh run ID plus the agent and peer names.
func NewConversationContext(ctx context.Context, agent, peer string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgent(ctx, agent)
	return WithPeer(ctx, peer)
}
