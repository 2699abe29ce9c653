package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tutor turn metrics
var (
	// ChatTurnsTotal counts finished tutor turns by outcome.
	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_chat_turns_total",
			Help: "Tutor turns by outcome",
		},
		[]string{"status"},
	)

	// ChatTurnDuration is the wall time of a full tutor turn in seconds.
	ChatTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mathcoach_chat_turn_duration_seconds",
			Help:    "Tutor turn latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"context_type"},
	)

	// ContextTokens is the token size of the assembled model context.
	ContextTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mathcoach_context_tokens",
			Help:    "Tokens in the assembled chat history",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		},
	)

	// ToolCallsTotal counts tool invocations by tool name.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_tool_calls_total",
			Help: "Tool invocations",
		},
		[]string{"tool"},
	)
)

// Summarization metrics
var (
	// SummarizationRunsTotal counts trigger evaluations by result
	// (skipped, summarized, failed).
	SummarizationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_summarization_runs_total",
			Help: "Summarization trigger evaluations",
		},
		[]string{"result"},
	)

	// SummarizedMessagesTotal counts messages folded into summaries.
	SummarizedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mathcoach_summarized_messages_total",
			Help: "Messages folded into a summary",
		},
	)
)

// Store metrics
var (
	// StoreRetriesTotal counts store operations retried after a busy/locked error.
	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_store_retries_total",
			Help: "Store operations retried on lock contention",
		},
		[]string{"op"},
	)

	// StoreUnavailableTotal counts operations that exhausted their retries.
	StoreUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_store_unavailable_total",
			Help: "Store operations that gave up after retries",
		},
		[]string{"op"},
	)
)

// Event bus
var (
	// EventsTotal counts events published on the in-process bus.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathcoach_events_total",
			Help: "Events published on the event bus",
		},
		[]string{"topic"},
	)
)
