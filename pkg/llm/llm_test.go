package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/resilience"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	calls   int
	streams [][]Delta
	errs    []error
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	ch := make(chan Delta, 8)
	if i < len(g.streams) {
		for _, d := range g.streams[i] {
			ch <- d
		}
	}
	close(ch)
	return ch, nil
}

func collect(t *testing.T, ch <-chan Delta) (string, error) {
	t.Helper()
	var text string
	timeout := time.After(time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return text, nil
			}
			if d.Err != nil {
				return text, d.Err
			}
			text += d.Text
		case <-timeout:
			t.Fatalf("timed out waiting for stream")
		}
	}
}

func noSleep(time.Duration) {}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, Sleep: noSleep}, func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || attempts != 2 {
		t.Fatalf("expected success on second attempt, got %q %v after %d", got, err, attempts)
	}
}

func TestRetrySkipsRateLimit(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Sleep: noSleep}, func(context.Context) (int, error) {
		attempts++
		return 0, resilience.RateLimitError{Provider: "x"}
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected single attempt for rate limit, got %d", attempts)
	}
}

func TestRetryingGeneratorRestartsBeforeFirstDelta(t *testing.T) {
	inner := &scriptedGenerator{streams: [][]Delta{
		{{Err: errors.New("reset")}},
		{{Text: "We open "}, {Text: "at nine."}},
	}}
	gen := NewRetryingGenerator(inner, RetryConfig{MaxAttempts: 2, Sleep: noSleep})
	ch, err := gen.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := collect(t, ch)
	if err != nil || text != "We open at nine." {
		t.Fatalf("expected retried text, got %q %v", text, err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", inner.calls)
	}
}

func TestRetryingGeneratorDoesNotReplayAfterText(t *testing.T) {
	inner := &scriptedGenerator{streams: [][]Delta{
		{{Text: "We open"}, {Err: errors.New("reset")}},
		{{Text: "never"}},
	}}
	gen := NewRetryingGenerator(inner, RetryConfig{MaxAttempts: 2, Sleep: noSleep})
	ch, err := gen.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := collect(t, ch)
	if text != "We open" || !errorsx.HasReason(err, errorsx.ReasonLLMStream) {
		t.Fatalf("expected partial text and stream error, got %q %v", text, err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected no restart, got %d calls", inner.calls)
	}
}

func TestCircuitBreakerGeneratorOpensOnRateLimit(t *testing.T) {
	inner := &scriptedGenerator{errs: []error{
		resilience.RateLimitError{Provider: "scripted"},
		resilience.RateLimitError{Provider: "scripted"},
	}}
	mem := metrics.NewMemoryObserver()
	gen := NewCircuitBreakerGenerator(inner, resilience.NewCircuitBreaker(2, time.Minute))
	gen.SetObserver(mem)

	for i := 0; i < 2; i++ {
		_, err := gen.Stream(context.Background(), Request{})
		if !errorsx.HasReason(err, errorsx.ReasonLLMRateLimit) {
			t.Fatalf("attempt %d: expected rate limit reason, got %v", i, err)
		}
	}
	_, err := gen.Stream(context.Background(), Request{})
	if !errorsx.HasReason(err, errorsx.ReasonLLMCircuitOpen) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected breaker to short-circuit third call, got %d calls", inner.calls)
	}
	if mem.Count(metrics.EventBreakerOpen) != 1 || mem.Count(metrics.EventRateLimit) != 2 {
		t.Fatalf("unexpected breaker metrics")
	}
}
