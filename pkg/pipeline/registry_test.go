package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/agents"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/providers/mock"
	"github.com/harunnryd/voxline/pkg/turn"
)

// blockingCall runs until its context ends, then reports how it ended.
type blockingCall struct {
	frames atomic.Int64
	closed chan struct{}
	linger time.Duration
}

func newBlockingCall() *blockingCall { return &blockingCall{closed: make(chan struct{})} }

func (c *blockingCall) Run(ctx context.Context, inbox <-chan frames.Frame) error {
	defer close(c.closed)
	for {
		select {
		case <-ctx.Done():
			time.Sleep(c.linger)
			return nil
		case <-inbox:
			c.frames.Add(1)
		}
	}
}

func staticFactory(calls map[string]*blockingCall) Factory {
	var mu sync.Mutex
	return func(ctx context.Context, start CallStart) (Call, error) {
		mu.Lock()
		defer mu.Unlock()
		c, ok := calls[start.CallID]
		if !ok {
			c = newBlockingCall()
			calls[start.CallID] = c
		}
		return c, nil
	}
}

func TestRegistryCreatePushEnd(t *testing.T) {
	calls := map[string]*blockingCall{}
	obs := metrics.NewMemoryObserver()
	reg := NewRegistry(staticFactory(calls), Config{Observer: obs})

	e, err := reg.Create(context.Background(), CallStart{CallID: "CA1", StreamID: "MZ1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, ok := reg.Get("CA1"); !ok || got != e {
		t.Fatalf("expected entry to be registered")
	}
	for i := 0; i < 3; i++ {
		if !e.Push(frames.NewAudioFrame("MZ1", uint64(i), 0, make([]byte, 160), frames.Telephony, nil)) {
			t.Fatalf("push %d rejected", i)
		}
	}
	deadline := time.Now().Add(time.Second)
	for calls["CA1"].frames.Load() != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := reg.End(context.Background(), "CA1", "caller_hangup"); err != nil {
		t.Fatalf("end: %v", err)
	}
	select {
	case <-calls["CA1"].closed:
	default:
		t.Fatalf("entry removed before call finished")
	}
	if _, ok := reg.Get("CA1"); ok || reg.Count() != 0 {
		t.Fatalf("expected entry to be removed, count=%d", reg.Count())
	}
	if e.Push(frames.NewSystemFrame("MZ1", 0, frames.SystemCallEnd, nil)) {
		t.Fatalf("push after end must be rejected")
	}
	if obs.Count(metrics.EventCallAdmitted) != 1 {
		t.Fatalf("expected admitted metric")
	}
	if err := reg.End(context.Background(), "CA1", "again"); err != nil {
		t.Fatalf("ending an unknown call should be a no-op, got %v", err)
	}
}

func TestRegistryRejectsAtCapacityBeforeFactory(t *testing.T) {
	var built atomic.Int64
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		built.Add(1)
		return newBlockingCall(), nil
	}, Config{MaxConcurrent: 1})
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := reg.Create(context.Background(), CallStart{CallID: "CA2"})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if errorsx.KindOf(err) != errorsx.KindExhausted {
		t.Fatalf("expected exhausted kind, got %s", errorsx.KindOf(err))
	}
	if built.Load() != 1 {
		t.Fatalf("rejected call must not be built, factory ran %d times", built.Load())
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}
}

func TestRegistryConcurrentAdmissionNeverExceedsLimit(t *testing.T) {
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		return newBlockingCall(), nil
	}, Config{MaxConcurrent: 5})
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "CA" + string(rune('A'+i%26)) + string(rune('a'+i/26))
			if _, err := reg.Create(context.Background(), CallStart{CallID: id}); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if admitted.Load() != 5 || reg.Count() != 5 {
		t.Fatalf("expected 5 admitted, got admitted=%d count=%d", admitted.Load(), reg.Count())
	}
}

func TestRegistryRejectsDuplicateAndDraining(t *testing.T) {
	reg := NewRegistry(staticFactory(map[string]*blockingCall{}), Config{})
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA1"}); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("expected ErrDuplicateCall, got %v", err)
	}
	reg.SetDraining(true)
	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA2"}); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected count 1, got %d", reg.Count())
	}
}

func TestRegistryFactoryErrorReleasesCapacity(t *testing.T) {
	fail := errorsx.New(errorsx.ReasonAgentNotFound, "no agent")
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		return nil, fail
	}, Config{MaxConcurrent: 1})
	for i := 0; i < 2; i++ {
		_, err := reg.Create(context.Background(), CallStart{CallID: "CA1"})
		if !errorsx.HasReason(err, errorsx.ReasonAgentNotFound) {
			t.Fatalf("expected agent_not_found, got %v", err)
		}
	}
	if reg.Count() != 0 {
		t.Fatalf("expected reservation released, got %d", reg.Count())
	}
}

func TestRegistryEndTimeout(t *testing.T) {
	call := newBlockingCall()
	call.linger = 500 * time.Millisecond
	ended := make(chan error, 2)
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		return call, nil
	}, Config{EndTimeout: 20 * time.Millisecond, OnEnded: func(_ *Entry, err error) { ended <- err }})
	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.End(context.Background(), "CA1", "shutdown"); !errors.Is(err, ErrEndTimeout) {
		t.Fatalf("expected ErrEndTimeout, got %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("expected entry evicted after timeout")
	}
	if err := <-ended; !errors.Is(err, ErrEndTimeout) {
		t.Fatalf("expected OnEnded to see ErrEndTimeout, got %v", err)
	}
	<-call.closed
	time.Sleep(10 * time.Millisecond)
	if reg.Count() != 0 {
		t.Fatalf("late finish must not change the count, got %d", reg.Count())
	}
	if len(ended) != 0 {
		t.Fatalf("late finish must not report the call again")
	}
}

func TestRegistryEvictsCallThatEndsItself(t *testing.T) {
	ended := make(chan error, 1)
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		return CallFunc(func(ctx context.Context, inbox <-chan frames.Frame) error {
			return errorsx.New(errorsx.ReasonIdleTimeout, "idle")
		}), nil
	}, Config{OnEnded: func(e *Entry, err error) { ended <- err }})
	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case err := <-ended:
		if !errorsx.HasReason(err, errorsx.ReasonIdleTimeout) {
			t.Fatalf("expected idle timeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected OnEnded")
	}
	if _, ok := reg.Get("CA1"); ok {
		t.Fatalf("expected entry evicted")
	}
}

func TestDrainerEndsRemainingCalls(t *testing.T) {
	calls := map[string]*blockingCall{}
	reg := NewRegistry(staticFactory(calls), Config{})
	for _, id := range []string{"CA1", "CA2"} {
		if _, err := reg.Create(context.Background(), CallStart{CallID: id}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := Drainer(reg, 20*time.Millisecond).Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !reg.Draining() || reg.Count() != 0 {
		t.Fatalf("expected drained registry, count=%d", reg.Count())
	}
}

// One call failing unrecoverably must not disturb another live call.
func TestRegistryIsolatesCalls(t *testing.T) {
	transcribers := map[string]*mock.Transcriber{}
	sessions := map[string]*turn.Session{}
	var mu sync.Mutex
	reg := NewRegistry(func(ctx context.Context, start CallStart) (Call, error) {
		sess := turn.NewSession(start.CallID, start.StreamID, start.TraceID, agents.Snapshot{})
		tr := mock.NewSTT(mock.STTConfig{})
		mu.Lock()
		transcribers[start.CallID] = tr
		sessions[start.CallID] = sess
		mu.Unlock()
		return turn.NewController(sess, turn.Deps{
			Transcriber: tr,
			Generator:   mock.NewLLM(mock.LLMConfig{}),
			Synthesizer: mock.NewTTS(mock.TTSConfig{}),
			Sink:        turn.SinkFunc(func(frames.Frame) error { return nil }),
		}, turn.Config{}), nil
	}, Config{})
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	a, err := reg.Create(context.Background(), CallStart{CallID: "CA-A", StreamID: "MZ-A"})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	if _, err := reg.Create(context.Background(), CallStart{CallID: "CA-B", StreamID: "MZ-B"}); err != nil {
		t.Fatalf("create B: %v", err)
	}

	mu.Lock()
	trA := transcribers["CA-A"]
	sessB := sessions["CA-B"]
	mu.Unlock()
	trA.Emit(stt.Event{Kind: stt.EventError, Err: errorsx.New(errorsx.ReasonSTTConnect, "lost")})

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("call A did not end")
	}
	if !errorsx.HasReason(a.Err(), errorsx.ReasonSTTConnect) {
		t.Fatalf("expected stt_connect, got %v", a.Err())
	}
	deadline := time.Now().Add(time.Second)
	for reg.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := reg.Get("CA-B"); !ok || reg.Count() != 1 {
		t.Fatalf("call B must stay registered, count=%d", reg.Count())
	}
	if sessB.State() != turn.StateListening {
		t.Fatalf("call B state changed to %s", sessB.State())
	}
}
