package turn

import (
	"time"

	"github.com/harunnryd/voxline/pkg/frames"
)

// Sink receives the call's outbound frames, in order.
type Sink interface {
	Send(frame frames.Frame) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(frames.Frame) error

func (f SinkFunc) Send(frame frames.Frame) error { return f(frame) }

// NewClearFrame asks the bridge to discard audio it has not played yet.
func NewClearFrame(streamID, reason string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlClear, map[string]string{
		frames.MetaReason: reason,
	})
}

// cancelToken is flipped on barge-in and checked before every outbound frame.
type cancelToken struct {
	done chan struct{}
}

func newCancelToken() *cancelToken {
	return &cancelToken{done: make(chan struct{})}
}

func (t *cancelToken) Cancel() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *cancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
