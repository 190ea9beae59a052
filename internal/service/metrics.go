package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Terminal outcome labels for consumed change events.
const (
	outcomeApplied          = "applied"
	outcomeSkippedDuplicate = "skipped_duplicate"
	outcomeSkippedStale     = "skipped_stale"
	outcomeDeadLettered     = "dead_lettered"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsync_events_total",
			Help: "Total number of consumed change events by terminal outcome",
		},
		[]string{"topic", "outcome"},
	)

	deadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsync_dead_letters_total",
			Help: "Total number of events recorded to the dead-letter store",
		},
		[]string{"error_class"},
	)

	replaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searchsync_dead_letter_replays_total",
			Help: "Total number of dead-letter events replayed to their source topic",
		},
	)

	reindexTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsync_reindex_transitions_total",
			Help: "Total number of reindex job state transitions",
		},
		[]string{"state"},
	)

	fetchRateLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "searchsync_consumer_fetch_rate_limit",
			Help: "Current shared consumer fetch budget in fetches per second",
		},
	)
)
