package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/resilience"
)

// Resilient retries a synthesis stream that fails before producing audio and
// shares a provider-wide circuit breaker. Once audio has been delivered a
// failure is passed through: replaying the utterance would repeat speech.
type Resilient struct {
	Synthesizer
	policy  resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

func WithResilience(inner Synthesizer, policy resilience.RetryPolicy, breaker *resilience.CircuitBreaker) *Resilient {
	return &Resilient{Synthesizer: inner, policy: policy, breaker: breaker}
}

func (r *Resilient) Synthesize(ctx context.Context, text, voice string) (<-chan Chunk, error) {
	if !r.breaker.Allow() {
		return nil, errorsx.Wrap(fmt.Errorf("%s: %w", r.Name(), resilience.ErrCircuitOpen), errorsx.ReasonTTSCircuitOpen)
	}
	var stream <-chan Chunk
	err := r.policy.DoContext(ctx, func(ctx context.Context) error {
		var err error
		stream, err = r.Synthesizer.Synthesize(ctx, text, voice)
		return err
	})
	if err != nil {
		r.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			return nil, errorsx.Wrap(err, errorsx.ReasonTTSRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	out := make(chan Chunk, 64)
	go r.relay(ctx, text, voice, stream, out)
	return out, nil
}

func (r *Resilient) relay(ctx context.Context, text, voice string, stream <-chan Chunk, out chan<- Chunk) {
	defer close(out)
	retries := 0
	for {
		delivered := false
		var failure error
		for c := range stream {
			if c.Err != nil {
				failure = c.Err
				break
			}
			delivered = true
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if failure == nil {
			r.breaker.OnSuccess()
			return
		}
		r.breaker.OnError(failure)
		if delivered || retries >= r.policy.MaxRetries || ctx.Err() != nil {
			r.fail(ctx, out, failure)
			return
		}
		retries++
		timer := time.NewTimer(r.policy.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		next, err := r.Synthesizer.Synthesize(ctx, text, voice)
		if err != nil {
			r.fail(ctx, out, err)
			return
		}
		stream = next
	}
}

func (r *Resilient) fail(ctx context.Context, out chan<- Chunk, err error) {
	select {
	case out <- Chunk{Err: errorsx.Wrap(err, errorsx.ReasonTTSStream)}:
	case <-ctx.Done():
	}
}
