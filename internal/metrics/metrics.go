package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analyst_runs_started_total",
			Help: "Total number of orchestration runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_runs_completed_total",
			Help: "Total number of orchestration runs completed",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyst_run_duration_seconds",
			Help:    "End-to-end run duration including synthesis",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Task metrics
	TaskExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_task_executions_total",
			Help: "Analysis task executions by final status",
		},
		[]string{"task", "status", "in_band_error"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_task_duration_seconds",
			Help:    "Analysis task duration in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	ReasoningIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_reasoning_iterations",
			Help:    "Reasoning steps used per task run",
			Buckets: []float64{1, 2, 3, 5, 10},
		},
		[]string{"task"},
	)

	SynthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_synthesis_total",
			Help: "Synthesis attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_tool_calls_total",
			Help: "Data tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_tool_latency_seconds",
			Help:    "Data tool latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_llm_requests_total",
			Help: "Reasoning backend requests",
		},
		[]string{"provider", "model", "outcome"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_llm_latency_seconds",
			Help:    "Reasoning backend latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_llm_tokens_total",
			Help: "Tokens reported by the reasoning backend",
		},
		[]string{"provider", "model", "kind"},
	)

	LLMCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_llm_cost_usd_total",
			Help: "Estimated reasoning backend spend in USD",
		},
		[]string{"provider", "model"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_pricing_fallbacks_total",
			Help: "Cost estimates that used default pricing",
		},
		[]string{"reason"},
	)

	// Archive metrics
	ReportsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_reports_stored_total",
			Help: "Reports written to the archive",
		},
		[]string{"driver", "outcome"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTask records one task's final status and latency.
func RecordTask(task, status string, inBandError bool, d time.Duration) {
	flag := "false"
	if inBandError {
		flag = "true"
	}
	TaskExecutions.WithLabelValues(task, status, flag).Inc()
	TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

// RecordTool records one data tool call.
func RecordTool(tool string, err error, d time.Duration) {
	ToolCalls.WithLabelValues(tool, outcome(err)).Inc()
	ToolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordLLM records one reasoning backend call.
func RecordLLM(provider, model string, err error, d time.Duration, promptTokens, completionTokens int) {
	LLMRequests.WithLabelValues(provider, model, outcome(err)).Inc()
	LLMLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		LLMTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordStore records one archive write.
func RecordStore(driver string, err error) {
	ReportsStored.WithLabelValues(driver, outcome(err)).Inc()
}
