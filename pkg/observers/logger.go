package observers

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/harunnryd/voxline/pkg/metrics"
)

// callTags identify the call an event belongs to. They are logged as a
// "call" group ahead of the remaining tags.
var callTags = []string{"call_sid", "stream_id", "trace_id"}

var eventLevels = map[string]slog.Level{
	metrics.EventCallAdmitted:  slog.LevelInfo,
	metrics.EventCallEnded:     slog.LevelInfo,
	metrics.EventCallRejected:  slog.LevelWarn,
	metrics.EventAdapterError:  slog.LevelWarn,
	metrics.EventApology:       slog.LevelWarn,
	metrics.EventRateLimit:     slog.LevelWarn,
	metrics.EventBreakerOpen:   slog.LevelWarn,
	metrics.EventBreakerDenied: slog.LevelWarn,
}

// LoggerObserver turns metrics events into log records named after the
// event. Call lifecycle and failure events log at info or warn; per-turn
// events log at debug.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	level, ok := eventLevels[ev.Name]
	if !ok {
		level = slog.LevelDebug
	}
	if !o.log.Enabled(ctx, level) {
		return
	}

	var call []any
	for _, k := range callTags {
		if v := ev.Tags[k]; v != "" {
			call = append(call, slog.String(k, v))
		}
	}
	attrs := make([]slog.Attr, 0, 2+len(ev.Tags)+len(ev.Fields))
	if len(call) > 0 {
		attrs = append(attrs, slog.Group("call", call...))
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Tags)) {
		if !slices.Contains(callTags, k) {
			attrs = append(attrs, slog.String(k, ev.Tags[k]))
		}
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

// MultiObserver fans one event out to several observers in order.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	kept := make([]metrics.Observer, 0, len(list))
	for _, obs := range list {
		if obs != nil {
			kept = append(kept, obs)
		}
	}
	return &MultiObserver{list: kept}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}
