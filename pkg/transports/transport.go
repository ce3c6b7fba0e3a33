package transports

import (
	"context"

	"github.com/harunnryd/voxline/pkg/frames"
)

// Transport is the telephony bridge: it turns carrier events into frames and
// writes outbound frames back to the carrier. Implementations own their
// network lifecycle.
//
// Recv yields, per call, a call_start system frame, the caller's audio in
// arrival order, and a call_end system frame. Send accepts telephony audio
// frames and clear control frames addressed by stream id.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// Hanger ends a call at the carrier.
type Hanger interface {
	Hangup(ctx context.Context, callID string) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
