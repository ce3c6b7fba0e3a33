package metrics

import (
	"math"
	"sync/atomic"
)

// lifecycleEvents are never sampled away: call accounting depends on them.
var lifecycleEvents = map[string]bool{
	EventCallAdmitted: true,
	EventCallRejected: true,
	EventCallEnded:    true,
	EventBreakerOpen:  true,
}

// SamplingObserver forwards every Nth high-volume event, N = round(1/rate).
// Call lifecycle events always pass.
type SamplingObserver struct {
	inner Observer
	every uint64
	n     atomic.Uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = max(1, uint64(math.Round(1/rate)))
	}
	return &SamplingObserver{inner: inner, every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if lifecycleEvents[ev.Name] {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.every {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	if s.n.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
