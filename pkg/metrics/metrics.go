// Package metrics exposes the controller's Prometheus instrumentation,
// grounded on the retrieval pack's gateway metrics package (package-level
// promauto registration, histogram buckets scoped to the stage they time).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AudioChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicemirror_audio_chunks_processed_total",
		Help: "Total capture chunks fed through VAD/wake-word.",
	})

	WakeWordDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemirror_wakeword_detections_total",
		Help: "Wake-word triggers by keyword model name.",
	}, []string{"model"})

	RecordingsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemirror_recordings_started_total",
		Help: "Recordings started by trigger source (wake_word, ptt, dictation).",
	}, []string{"source"})

	STTDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicemirror_stt_duration_seconds",
		Help:    "Time from end-of-speech to transcript availability.",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
	})

	TTSDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicemirror_tts_duration_seconds",
		Help:    "Time from speak request to synthesis completion.",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
	})

	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemirror_pipeline_errors_total",
		Help: "Errors surfaced to the host, by stage.",
	}, []string{"stage"})

	InterruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicemirror_interrupts_total",
		Help: "Barge-in interrupts of in-progress TTS playback.",
	})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicemirror_tool_calls_total",
		Help: "Tool-server calls by tool name.",
	}, []string{"tool"})
)
