package stt

import (
	"context"
	"fmt"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/resilience"
)

// Resilient retries Start once and shares a provider-wide circuit breaker.
type Resilient struct {
	Transcriber
	policy  resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

func WithResilience(inner Transcriber, policy resilience.RetryPolicy, breaker *resilience.CircuitBreaker) *Resilient {
	return &Resilient{Transcriber: inner, policy: policy, breaker: breaker}
}

func (r *Resilient) Start(ctx context.Context) error {
	if !r.breaker.Allow() {
		return errorsx.Wrap(fmt.Errorf("%s: %w", r.Name(), resilience.ErrCircuitOpen), errorsx.ReasonSTTCircuitOpen)
	}
	err := r.policy.DoContext(ctx, func(ctx context.Context) error {
		return r.Transcriber.Start(ctx)
	})
	if err != nil {
		r.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			return errorsx.Wrap(err, errorsx.ReasonSTTRateLimit)
		}
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	r.breaker.OnSuccess()
	return nil
}
