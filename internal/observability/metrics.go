package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	followerRestarts *prometheus.CounterVec
	followerLines    *prometheus.CounterVec

	commitTotal    *prometheus.CounterVec
	commitDuration prometheus.Histogram

	turnsTotal         *prometheus.CounterVec
	conversationLength prometheus.Gauge

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	playbackTotal *prometheus.CounterVec
	journalWrites *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			followerRestarts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "follower_restarts_total",
					Help: "Follower read sessions torn down and reopened, by reason.",
				},
				[]string{"reason"},
			),
			followerLines: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "follower_lines_total",
					Help: "Lines delivered by a follower, by followed file.",
				},
				[]string{"file"},
			),
			commitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "commits_total",
					Help: "Durable writer commits by status.",
				},
				[]string{"status"},
			),
			commitDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "commit_duration_seconds",
					Help:    "Write plus fsync duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turns_total",
					Help: "Utterances appended to the conversation, by role.",
				},
				[]string{"role"},
			),
			conversationLength: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "conversation_length",
					Help: "Current number of retained utterances.",
				},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "completion_total",
					Help: "Completion calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "completion_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			playbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "playback_total",
					Help: "Playback commands by status.",
				},
				[]string{"status"},
			),
			journalWrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "journal_writes_total",
					Help: "Transcript journal writes by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.followerRestarts,
			m.followerLines,
			m.commitTotal,
			m.commitDuration,
			m.turnsTotal,
			m.conversationLength,
			m.completionTotal,
			m.completionDuration,
			m.playbackTotal,
			m.journalWrites,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordFollowerRestart(reason string) {
	getMetrics().followerRestarts.WithLabelValues(reason).Inc()
}

func RecordFollowerLine(file string) {
	getMetrics().followerLines.WithLabelValues(file).Inc()
}

func RecordCommit(duration time.Duration, success bool) {
	m := getMetrics()
	m.commitTotal.WithLabelValues(statusLabel(success)).Inc()
	m.commitDuration.Observe(duration.Seconds())
}

func RecordTurn(role string, conversationLength int) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(role).Inc()
	m.conversationLength.Set(float64(conversationLength))
}

func RecordCompletion(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.completionTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordPlayback(success bool) {
	getMetrics().playbackTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordJournalWrite(success bool) {
	getMetrics().journalWrites.WithLabelValues(statusLabel(success)).Inc()
}
