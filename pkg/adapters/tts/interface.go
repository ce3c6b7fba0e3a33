package tts

import (
	"context"

	"github.com/harunnryd/voxline/pkg/frames"
)

// Chunk is a piece of synthesized audio. A chunk with Err set ends the stream.
type Chunk struct {
	Audio  []byte
	Format frames.Format
	Err    error
}

// Synthesizer defines the contract for any streaming text-to-speech vendor.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start prepares the adapter for the call.
	Start(ctx context.Context) error
	// Synthesize streams audio for text in the given voice. The channel is
	// closed when synthesis completes, fails, or ctx ends.
	Synthesize(ctx context.Context, text, voice string) (<-chan Chunk, error)
	// Cancel drops any in-flight synthesis stream.
	Cancel()
	// Close releases the adapter. Calling it again is a no-op.
	Close() error
}

// Config contains vendor-agnostic per-call synthesizer configuration.
type Config struct {
	CallSID  string
	StreamID string
	TraceID  string
	Voice    string
}

// Factory builds a synthesizer for one call.
type Factory func(cfg Config) (Synthesizer, error)
