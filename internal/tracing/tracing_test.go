package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEmpty(t, NewTraceID())
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetAgent(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = NewConversationContext(ctx, "alice", "bob")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.NotEmpty(t, tc.RunID)
	assert.Equal(t, "alice", tc.Agent)
	assert.Equal(t, "bob", tc.Peer)
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithAgent(ctx, "alice")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"agent":"alice"`)
	assert.NotContains(t, out, "trace_id")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(context.Background(), Options{ServiceName: "duet-test"}))
	defer func() {
		_ = ShutdownOpenTelemetry(context.Background())
	}()

	ctx, span := StartSpan(context.Background(), "duet.test", "test.span")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestExportedSpansCarryConversation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitOpenTelemetry(context.Background(), Options{
		ServiceName: "duet-test",
		Agent:       "alice",
		Peer:        "bob",
		Writer:      &buf,
	}))

	ctx, span := StartSpan(context.Background(), "duet.test", "protocol.speak")
	span.End()
	traceID := GetTraceID(ctx)
	require.NotEmpty(t, traceID)

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"protocol.speak"`)
	assert.Contains(t, out, traceID)
	assert.Contains(t, out, string(AttrAgent))
	assert.Contains(t, out, `"alice"`)
	assert.Contains(t, out, string(AttrPeer))
	assert.Contains(t, out, `"bob"`)
}

func TestShutdownWithoutProvider(t *testing.T) {
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "fixed")
	ctx, span := StartSpan(ctx, "duet.test", "test.span")
	defer span.End()

	assert.Equal(t, "fixed", GetTraceID(ctx))
}
