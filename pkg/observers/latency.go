package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/metrics"
)

// LatencyObserver logs, per agent response, how long each stage took from the
// caller starting to speak to the first synthesized audio reaching the bridge.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	speechStart time.Time
	sttFinal    time.Time
	llmFirst    time.Time
	llmDone     time.Time
	ttsFirst    time.Time
	traceID     string
}

// TurnLatency is one completed measurement, in milliseconds (-1 when unknown).
type TurnLatency struct {
	StreamID      string
	TraceID       string
	STTMs         int64
	LLMFirstMs    int64
	LLMTotalMs    int64
	TTSFirstMs    int64
	TimeToAudioMs int64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Name == metrics.EventCallEnded {
		delete(o.traces, streamID)
		return
	}
	t := o.traces[streamID]
	if t == nil {
		t = &trace{}
		o.traces[streamID] = t
	}
	if t.traceID == "" {
		t.traceID = ev.Tags["trace_id"]
	}
	switch ev.Name {
	case metrics.EventSpeechStarted:
		if t.speechStart.IsZero() {
			t.speechStart = ev.Time
		}
	case metrics.EventSTTFinal:
		t.sttFinal = ev.Time
	case metrics.EventLLMFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventLLMDone:
		t.llmDone = ev.Time
	case metrics.EventTTSFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
		}
	case metrics.EventBargeIn:
		// the next response is measured from scratch
		delete(o.traces, streamID)
		return
	}
	if !t.ttsFirst.IsZero() {
		o.logLocked(streamID, t)
		delete(o.traces, streamID)
	}
}

func (o *LatencyObserver) logLocked(streamID string, t *trace) {
	l := measure(streamID, t)
	o.log.Info("latency",
		"stream_id", l.StreamID,
		"trace_id", l.TraceID,
		"stt_ms", l.STTMs,
		"llm_first_token_ms", l.LLMFirstMs,
		"llm_total_ms", l.LLMTotalMs,
		"tts_first_audio_ms", l.TTSFirstMs,
		"time_to_audio_ms", l.TimeToAudioMs,
	)
}

func measure(streamID string, t *trace) TurnLatency {
	return TurnLatency{
		StreamID:      streamID,
		TraceID:       t.traceID,
		STTMs:         durationMs(t.speechStart, t.sttFinal),
		LLMFirstMs:    durationMs(t.sttFinal, t.llmFirst),
		LLMTotalMs:    durationMs(t.sttFinal, t.llmDone),
		TTSFirstMs:    durationMs(t.llmDone, t.ttsFirst),
		TimeToAudioMs: durationMs(t.sttFinal, t.ttsFirst),
	}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
