package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_total",
			Help: "Total number of research runs finished, by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "Wall-clock duration of research runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		},
	)

	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_runs_in_flight",
			Help: "Research runs currently executing",
		},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_phase_duration_seconds",
			Help:    "Duration of each orchestration phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	PlanningAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_planning_attempts",
			Help:    "Planning attempts needed per run",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	BestEffortRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_best_effort_runs_total",
			Help: "Runs that proceeded with a plan that never passed verification",
		},
	)

	// Step metrics
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_steps_total",
			Help: "Plan steps executed, by terminal status",
		},
		[]string{"status"},
	)

	StepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_step_duration_seconds",
			Help:    "Execution time of individual plan steps",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScheduleFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_schedule_fallbacks_total",
			Help: "Executions that fell back to declaration order for unplaced steps",
		},
	)

	// Verification metrics
	VerificationIssues = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_verification_issues",
			Help:    "Issues reported per verification",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_policy_decisions_total",
			Help: "Policy decisions by action and source",
		},
		[]string{"action", "source"},
	)

	ForcedCompletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_forced_completions_total",
			Help: "Runs where the force-completion trigger fired",
		},
	)

	// Reasoning service metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_requests_total",
			Help: "Reasoning service calls by role and result",
		},
		[]string{"role", "provider", "result"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_llm_latency_seconds",
			Help:    "Reasoning service call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"role"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_tokens_total",
			Help: "Tokens consumed by role",
		},
		[]string{"role"},
	)

	// Storage metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_store_operations_total",
			Help: "Session store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	KnowledgeEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_knowledge_entries_total",
			Help: "Knowledge entries extracted",
		},
	)

	// Streaming metrics
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_stream_events_total",
			Help: "Progress events published",
		},
		[]string{"type"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_stream_subscribers",
			Help: "Active progress stream subscribers",
		},
	)
)

// Health metrics
var ComponentHealth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "research_component_health_status",
		Help: "Last health check status per component (0 healthy, 1 degraded, 2 unhealthy, 3 unknown)",
	},
	[]string{"component"},
)

// RecordRunMetrics records metrics for a finished research run
func RecordRunMetrics(status string, durationSeconds float64, attempts int, bestEffort bool) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
	if attempts > 0 {
		PlanningAttempts.Observe(float64(attempts))
	}
	if bestEffort {
		BestEffortRuns.Inc()
	}
}

// RecordLLMMetrics records metrics for a reasoning service call
func RecordLLMMetrics(role, provider, result string, durationSeconds float64, tokens int) {
	LLMRequests.WithLabelValues(role, provider, result).Inc()
	LLMLatency.WithLabelValues(role).Observe(durationSeconds)
	if tokens > 0 {
		LLMTokens.WithLabelValues(role).Add(float64(tokens))
	}
}

// RecordStoreOperation records a session store call
func RecordStoreOperation(backend, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(backend, operation, result).Inc()
}
