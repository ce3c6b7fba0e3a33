package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/resilience"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	Sleep       func(time.Duration)
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return cfg
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var lastErr error
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || i == cfg.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(cfg.BaseDelay, cfg.MaxDelay, cfg.Jitter, i, r)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
			cfg.Sleep(delay)
		}
	}
	return zero, fmt.Errorf("llm retry failed: %w", lastErr)
}

// DefaultIsRetryable retries everything except cancellation and rate limits;
// rate limits are left to the circuit breaker.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !resilience.IsRateLimit(err)
}

func backoffDelay(base, max time.Duration, jitter float64, attempt int, r *rand.Rand) time.Duration {
	pow := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * pow)
	if d > max {
		d = max
	}
	if jitter > 0 {
		j := time.Duration(float64(d) * jitter * r.Float64())
		return d + j
	}
	return d
}

// RetryingGenerator restarts a generation that fails before its first delta.
// Once text has been delivered a failure is passed through.
type RetryingGenerator struct {
	inner Generator
	cfg   RetryConfig
}

func NewRetryingGenerator(inner Generator, cfg RetryConfig) *RetryingGenerator {
	return &RetryingGenerator{inner: inner, cfg: cfg.withDefaults()}
}

func (g *RetryingGenerator) Name() string { return g.inner.Name() }

func (g *RetryingGenerator) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	stream, err := Retry(ctx, g.cfg, func(ctx context.Context) (<-chan Delta, error) {
		return g.inner.Stream(ctx, req)
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	out := make(chan Delta, 64)
	go g.relay(ctx, req, stream, out)
	return out, nil
}

func (g *RetryingGenerator) relay(ctx context.Context, req Request, stream <-chan Delta, out chan<- Delta) {
	defer close(out)
	attempt := 1
	for {
		delivered := false
		var failure error
		for d := range stream {
			if d.Err != nil {
				failure = d.Err
				break
			}
			delivered = true
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
		if failure == nil {
			return
		}
		if delivered || attempt >= g.cfg.MaxAttempts || !g.cfg.IsRetryable(failure) || ctx.Err() != nil {
			g.fail(ctx, out, failure)
			return
		}
		attempt++
		next, err := g.inner.Stream(ctx, req)
		if err != nil {
			g.fail(ctx, out, err)
			return
		}
		stream = next
	}
}

func (g *RetryingGenerator) fail(ctx context.Context, out chan<- Delta, err error) {
	select {
	case out <- Delta{Err: errorsx.Wrap(err, errorsx.ReasonLLMStream)}:
	case <-ctx.Done():
	}
}
