package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/voxline/pkg/frames"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport and transports.Hanger interfaces
// without any network dependency.
type Transport struct {
	recvCh chan frames.Frame
	closed atomic.Bool
	recvMu sync.Mutex

	mu      sync.Mutex
	sent    []frames.Frame
	hangups []string
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.recvMu.Lock()
		close(t.recvCh)
		t.recvMu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Hangup(ctx context.Context, callID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups = append(t.hangups, callID)
	return nil
}

// Push injects an inbound frame into the transport, blocking while the
// receive buffer is full.
func (t *Transport) Push(f frames.Frame) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	if t.closed.Load() {
		return
	}
	t.recvCh <- f
}

// Sent returns the outbound frames written so far.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frames.Frame(nil), t.sent...)
}

// Hangups returns the call ids passed to Hangup.
func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hangups...)
}
