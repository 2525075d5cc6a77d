// Package metrics records run-level counters and latencies. Recorder is the
// seam used by the agent; PrometheusRecorder exports to a Prometheus
// registry and NoOpRecorder discards everything.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives run events from the agent.
type Recorder interface {
	// RunFinished records a run that reached a final state.
	RunFinished(state string, d time.Duration)
	// ModelCall records one model turn.
	ModelCall(model string, d time.Duration, promptTokens, completionTokens int, err error)
	// ToolCall records one tool call outcome (succeeded, failed, skipped).
	ToolCall(tool, status string, d time.Duration)
}

// NoOpRecorder discards all measurements.
type NoOpRecorder struct{}

// RunFinished implements Recorder.
func (NoOpRecorder) RunFinished(string, time.Duration) {}

// ModelCall implements Recorder.
func (NoOpRecorder) ModelCall(string, time.Duration, int, int, error) {}

// ToolCall implements Recorder.
func (NoOpRecorder) ToolCall(string, string, time.Duration) {}

// PrometheusRecorder exports agent metrics through client_golang collectors.
type PrometheusRecorder struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	modelTokens   *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
}

// Options configures a PrometheusRecorder.
type Options struct {
	Namespace  string
	Registerer prometheus.Registerer
}

// NewPrometheusRecorder creates and registers the collectors. The default
// registerer is prometheus.DefaultRegisterer.
func NewPrometheusRecorder(optFns ...func(o *Options)) (*PrometheusRecorder, error) {
	opts := Options{
		Namespace:  "agentrun",
		Registerer: prometheus.DefaultRegisterer,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &PrometheusRecorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "runs_total",
			Help:      "Total agent runs by final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "run_duration_seconds",
			Help:      "Agent run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "model_calls_total",
			Help:      "Total model turns by outcome.",
		}, []string{"model", "outcome"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model turn duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens exchanged with the model by direction.",
		}, []string{"model", "direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool calls by status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	if opts.Registerer != nil {
		for _, c := range r.collectors() {
			if err := opts.Registerer.Register(c); err != nil {
				return nil, fmt.Errorf("metrics: register collector: %w", err)
			}
		}
	}

	return r, nil
}

func (r *PrometheusRecorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.runs, r.runDuration,
		r.modelCalls, r.modelDuration, r.modelTokens,
		r.toolCalls, r.toolDuration,
	}
}

// RunFinished implements Recorder.
func (r *PrometheusRecorder) RunFinished(state string, d time.Duration) {
	r.runs.WithLabelValues(state).Inc()
	r.runDuration.WithLabelValues(state).Observe(d.Seconds())
}

// ModelCall implements Recorder.
func (r *PrometheusRecorder) ModelCall(model string, d time.Duration, promptTokens, completionTokens int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.modelCalls.WithLabelValues(model, outcome).Inc()
	r.modelDuration.WithLabelValues(model).Observe(d.Seconds())
	if promptTokens > 0 {
		r.modelTokens.WithLabelValues(model, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.modelTokens.WithLabelValues(model, "output").Add(float64(completionTokens))
	}
}

// ToolCall implements Recorder.
func (r *PrometheusRecorder) ToolCall(tool, status string, d time.Duration) {
	r.toolCalls.WithLabelValues(tool, status).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

var (
	_ Recorder = NoOpRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)
