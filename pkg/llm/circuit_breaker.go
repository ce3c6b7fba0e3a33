package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/resilience"
)

// CircuitBreakerGenerator wraps a Generator with rate-limit circuit breaking.
// It is shared by every call, so one provider outage fails new turns fast.
type CircuitBreakerGenerator struct {
	inner   Generator
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewCircuitBreakerGenerator(inner Generator, breaker *resilience.CircuitBreaker) *CircuitBreakerGenerator {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerGenerator{inner: inner, breaker: breaker}
}

func (g *CircuitBreakerGenerator) Name() string { return g.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (g *CircuitBreakerGenerator) SetObserver(obs metrics.Observer) { g.obs = obs }

func (g *CircuitBreakerGenerator) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	if !g.breaker.Allow() {
		g.record(metrics.EventBreakerDenied)
		return nil, errorsx.Wrap(fmt.Errorf("%s: %w", g.Name(), resilience.ErrCircuitOpen), errorsx.ReasonLLMCircuitOpen)
	}
	ch, err := g.inner.Stream(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			g.record(metrics.EventRateLimit)
			err = errorsx.Wrap(err, errorsx.ReasonLLMRateLimit)
		}
		if g.breaker.OnError(err) {
			g.record(metrics.EventBreakerOpen)
		}
		return nil, err
	}
	g.breaker.OnSuccess()
	return ch, nil
}

func (g *CircuitBreakerGenerator) record(name string) {
	metrics.Record(g.obs, name, map[string]string{
		"provider":  g.inner.Name(),
		"component": "llm",
	}, nil)
}
