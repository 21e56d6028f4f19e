package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	RecordFollowerRestart("missing")
	RecordFollowerLine("peer.txt")
	RecordCommit(5*time.Millisecond, true)
	RecordTurn("self", 3)
	RecordCompletion("openai", 20*time.Millisecond, false)
	RecordPlayback(true)
	RecordJournalWrite(true)

	server := httptest.NewServer(MetricsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `follower_restarts_total{reason="missing"}`)
	assert.Contains(t, text, `follower_lines_total{file="peer.txt"}`)
	assert.Contains(t, text, `commits_total{status="success"}`)
	assert.Contains(t, text, `turns_total{role="self"}`)
	assert.Contains(t, text, "conversation_length 3")
	assert.Contains(t, text, `completion_total{provider="openai",status="error"}`)
	assert.Contains(t, text, `playback_total{status="success"}`)
	assert.Contains(t, text, `journal_writes_total{status="success"}`)
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}
