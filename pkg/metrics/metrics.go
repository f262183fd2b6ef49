// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts handled inbound messages by terminal outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Inbound messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks collaborator call latency per pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"stage"},
	)

	// PassagesIncluded tracks how many retrieved passages made it into the prompt.
	PassagesIncluded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_passages_included",
			Help:    "Retrieved passages appended to the system prompt",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	// ChunksSent counts outbound reply chunks, placeholder edits included.
	ChunksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_chunks_sent_total",
			Help: "Reply chunks delivered to the chat platform",
		},
	)
)

// RecordTurn records the terminal outcome of one inbound message.
func RecordTurn(outcome string) {
	TurnsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordPassages records the number of passages appended to a prompt.
func RecordPassages(n int) {
	PassagesIncluded.Observe(float64(n))
}

// AddChunks records delivered reply chunks.
func AddChunks(n int) {
	ChunksSent.Add(float64(n))
}
