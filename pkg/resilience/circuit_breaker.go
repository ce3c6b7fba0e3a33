package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RateLimitError is how adapters report a vendor throttling response
// (HTTP 429, a websocket close carrying a quota code).
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limited"
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	return msg
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// ErrCircuitOpen is returned while a breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after threshold consecutive rate limit failures and
// rejects requests for the cooldown. After the cooldown it lets one probe
// through; the probe's outcome closes or re-opens it. One breaker is shared
// by every call using the same provider, so a nil breaker means "always
// allow".
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	until    time.Time // end of cooldown, or probe expiry while half-open
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a request may go to the vendor. A probe that never
// reports back is given up on after one cooldown.
func (c *CircuitBreaker) Allow() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	switch c.state {
	case BreakerOpen, BreakerHalfOpen:
		if now.Before(c.until) {
			return false
		}
		c.state = BreakerHalfOpen
		c.until = now.Add(c.cooldown)
	}
	return true
}

func (c *CircuitBreaker) OnSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.state = BreakerClosed
	c.failures = 0
	c.mu.Unlock()
}

// OnError records a failed request and reports whether it tripped the
// breaker. Only rate limits count; any other failure means the vendor
// answered, which is enough to close a half-open breaker.
func (c *CircuitBreaker) OnError(err error) bool {
	if c == nil || err == nil {
		return false
	}
	if !IsRateLimit(err) {
		c.mu.Lock()
		if c.state == BreakerHalfOpen {
			c.state = BreakerClosed
			c.failures = 0
		}
		c.mu.Unlock()
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.state != BreakerHalfOpen && c.failures < c.threshold {
		return false
	}
	c.state = BreakerOpen
	c.failures = 0
	c.until = c.now().Add(c.cooldown)
	return true
}

func (c *CircuitBreaker) State() BreakerState {
	if c == nil {
		return BreakerClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == BreakerOpen && !c.now().Before(c.until) {
		return BreakerHalfOpen
	}
	return c.state
}
