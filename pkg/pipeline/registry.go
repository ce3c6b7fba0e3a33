package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/logging"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/redact"
)

var (
	ErrCapacity      = errors.New("call registry at capacity")
	ErrDraining      = errors.New("call registry draining")
	ErrDuplicateCall = errors.New("call already registered")
	ErrEndTimeout    = errors.New("call did not end within timeout")
	errMissingCallID = errors.New("call id is required")
)

// CallStart is what the bridge knows about a call when it connects.
type CallStart struct {
	CallID   string
	StreamID string
	TraceID  string
	From     string
	To       string
}

// Call is the per-call work an entry supervises. Run returns once the call
// has ended and its adapters are closed.
type Call interface {
	Run(ctx context.Context, inbox <-chan frames.Frame) error
}

// CallFunc adapts a function to a Call.
type CallFunc func(ctx context.Context, inbox <-chan frames.Frame) error

func (f CallFunc) Run(ctx context.Context, inbox <-chan frames.Frame) error { return f(ctx, inbox) }

// Factory builds the call for an admitted start. It runs after capacity has
// been reserved and before the entry becomes visible.
type Factory func(ctx context.Context, start CallStart) (Call, error)

type Config struct {
	// MaxConcurrent caps live calls; zero means unlimited.
	MaxConcurrent int
	InboxSize     int
	// EndTimeout bounds how long End waits for a call to close its adapters.
	EndTimeout time.Duration
	Observer   metrics.Observer
	Logger     *slog.Logger
	// OnEnded runs after an entry has been removed, with the call's result.
	OnEnded func(e *Entry, err error)
}

func (c Config) withDefaults() Config {
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = 5 * time.Second
	}
	if c.Observer == nil {
		c.Observer = metrics.NoopObserver{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Entry is one live call in the registry.
type Entry struct {
	CallStart
	Created time.Time

	call    Call
	inbox   chan frames.Frame
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	dropped atomic.Int64
	reason  atomic.Value
}

// Push queues a frame for the call without blocking. Frames arriving while
// the inbox is full are dropped and counted.
func (e *Entry) Push(f frames.Frame) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.inbox <- f:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

func (e *Entry) Done() <-chan struct{} { return e.done }

// Err is the call's result; valid once Done is closed.
func (e *Entry) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

func (e *Entry) Dropped() int64 { return e.dropped.Load() }

// Registry owns every live call. Calls never see each other: the registry
// only inserts, looks up and deletes entries.
type Registry struct {
	cfg      Config
	factory  Factory
	logger   *slog.Logger
	entries  sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry(factory Factory, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:     cfg,
		factory: factory,
		logger:  logging.NewComponentLogger(cfg.Logger, "call_registry"),
	}
}

// Create admits a call and starts it. Capacity is reserved before the
// factory runs, so a rejected call never builds a session. ctx bounds the
// call's lifetime.
func (r *Registry) Create(ctx context.Context, start CallStart) (*Entry, error) {
	if start.CallID == "" {
		return nil, errMissingCallID
	}
	if r.draining.Load() {
		return nil, r.reject(start, errorsx.Wrap(ErrDraining, errorsx.ReasonResourceExhausted))
	}
	if _, ok := r.entries.Load(start.CallID); ok {
		return nil, r.reject(start, fmt.Errorf("%w: %s", ErrDuplicateCall, start.CallID))
	}
	if !r.reserve() {
		err := errorsx.Wrap(fmt.Errorf("%w: %d calls", ErrCapacity, r.cfg.MaxConcurrent), errorsx.ReasonResourceExhausted)
		return nil, r.reject(start, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	call, err := r.factory(cctx, start)
	if err != nil {
		cancel()
		r.count.Add(-1)
		return nil, r.reject(start, err)
	}
	e := &Entry{
		CallStart: start,
		Created:   time.Now(),
		call:      call,
		inbox:     make(chan frames.Frame, r.cfg.InboxSize),
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if _, loaded := r.entries.LoadOrStore(start.CallID, e); loaded {
		cancel()
		r.count.Add(-1)
		return nil, r.reject(start, fmt.Errorf("%w: %s", ErrDuplicateCall, start.CallID))
	}

	r.logger.Info("call_admitted",
		slog.String("call_sid", start.CallID),
		slog.String("stream_id", start.StreamID),
		slog.String("trace_id", start.TraceID),
		slog.String("from", redact.Number(start.From)),
		slog.String("to", redact.Number(start.To)),
		slog.Int64("active", r.count.Load()))
	r.record(metrics.EventCallAdmitted, start, nil)
	go r.run(e)
	return e, nil
}

func (r *Registry) reserve() bool {
	limit := int64(r.cfg.MaxConcurrent)
	for {
		n := r.count.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if r.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *Registry) reject(start CallStart, err error) error {
	r.logger.Warn("call_rejected",
		slog.String("call_sid", start.CallID),
		slog.String("reason_code", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	r.record(metrics.EventCallRejected, start, map[string]string{"reason": string(errorsx.Reason(err))})
	return err
}

func (r *Registry) run(e *Entry) {
	err := e.call.Run(e.ctx, e.inbox)
	e.err = err
	close(e.done)
	e.cancel()
	r.evict(e, err)
}

// evict removes e if it is still the registered entry for its id and
// reports err to OnEnded.
func (r *Registry) evict(e *Entry, err error) {
	if !r.entries.CompareAndDelete(e.CallID, e) {
		return
	}
	r.count.Add(-1)
	reason, _ := e.reason.Load().(string)
	if reason == "" && err != nil {
		reason = string(errorsx.Reason(err))
	}
	r.logger.Info("call_removed",
		slog.String("call_sid", e.CallID),
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(e.Created)),
		slog.Int64("dropped_frames", e.Dropped()),
		slog.Int64("active", r.count.Load()))
	if r.cfg.OnEnded != nil {
		r.cfg.OnEnded(e, err)
	}
}

func (r *Registry) Get(callID string) (*Entry, bool) {
	if v, ok := r.entries.Load(callID); ok {
		return v.(*Entry), true
	}
	return nil, false
}

// End stops a call and waits, at most EndTimeout, for its adapters to close
// before removing it. Ending an unknown call is a no-op.
func (r *Registry) End(ctx context.Context, callID, reason string) error {
	e, ok := r.Get(callID)
	if !ok {
		return nil
	}
	e.reason.CompareAndSwap(nil, reason)
	e.cancel()

	timer := time.NewTimer(r.cfg.EndTimeout)
	defer timer.Stop()
	select {
	case <-e.done:
		r.evict(e, e.Err())
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	r.logger.Warn("call_end_timeout", slog.String("call_sid", callID), slog.Duration("timeout", r.cfg.EndTimeout))
	// The call is still tearing down, so e.Err() would read nil here.
	err := fmt.Errorf("%w: %s", ErrEndTimeout, callID)
	r.evict(e, err)
	return err
}

// CloseAll ends every live call concurrently.
func (r *Registry) CloseAll(ctx context.Context) error {
	var g errgroup.Group
	r.entries.Range(func(key, _ any) bool {
		id := key.(string)
		g.Go(func() error { return r.End(ctx, id, "shutdown") })
		return true
	})
	return g.Wait()
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (r *Registry) record(name string, start CallStart, extra map[string]string) {
	tags := map[string]string{
		"call_sid":  start.CallID,
		"stream_id": start.StreamID,
		"trace_id":  start.TraceID,
	}
	for k, v := range extra {
		tags[k] = v
	}
	metrics.Record(r.cfg.Observer, name, tags, nil)
}
