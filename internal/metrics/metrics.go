package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_runs_started_total",
			Help: "Total number of pattern runs started",
		},
		[]string{"pattern"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_runs_completed_total",
			Help: "Total number of pattern runs completed",
		},
		[]string{"pattern", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentlab_run_duration_seconds",
			Help:    "Pattern run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pattern", "status"},
	)

	StepsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_steps_total",
			Help: "Total number of pattern steps emitted",
		},
		[]string{"pattern", "type"},
	)

	// Tool metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentlab_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	// Model metrics
	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_model_requests_total",
			Help: "Total number of model requests",
		},
		[]string{"provider", "model", "status"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentlab_model_latency_seconds",
			Help:    "Model request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_model_tokens_total",
			Help: "Total tokens consumed by model requests",
		},
		[]string{"provider", "model", "kind"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentlab_stream_subscribers",
			Help: "Number of active event stream subscribers",
		},
	)

	StreamEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlab_stream_events_published_total",
			Help: "Total number of events published to the streaming manager",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlab_stream_events_dropped_total",
			Help: "Total number of events dropped on slow subscribers",
		},
	)

	// Journal metrics
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlab_journal_writes_total",
			Help: "Total number of journal writes",
		},
		[]string{"status"},
	)
)
