// Package metrics exposes the runtime's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_calls_active",
		Help: "Currently active call sessions",
	})

	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_calls_total",
		Help: "Calls completed, by end reason",
	}, []string{"reason"})

	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicegate_call_duration_seconds",
		Help:    "Call duration from answer to end",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicegate_stage_duration_seconds",
		Help:    "Per-stage processing latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicegate_turn_duration_seconds",
		Help:    "Latency from turn boundary to first agent audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_audio_chunks_total",
		Help: "Audio chunks moved, by direction",
	}, []string{"direction"})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_speech_segments_total",
		Help: "Caller speech segments detected",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_barge_ins_total",
		Help: "Agent replies interrupted by the caller",
	})

	RepliesCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_replies_canceled_total",
		Help: "Assistant replies discarded before completion",
	})

	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_tool_invocations_total",
		Help: "Tool calls executed on behalf of the model",
	}, []string{"tool"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicegate_stage_queue_depth",
		Help: "Frames waiting per stage queue",
	}, []string{"stage"})

	Backpressure = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_backpressure_total",
		Help: "Backpressure advisories emitted per stage",
	}, []string{"stage"})
)
