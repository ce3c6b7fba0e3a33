package stt

import (
	"context"
	"time"

	"github.com/harunnryd/voxline/pkg/frames"
)

// EventKind tags a transcriber event.
type EventKind int

const (
	EventInterim EventKind = iota + 1
	EventFinal
	EventSpeechStarted
	EventSpeechEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one transcriber observation. Err is set only for EventError and
// always carries an errorsx reason.
type Event struct {
	Kind EventKind
	Text string
	At   time.Time
	Err  error
}

// Transcriber defines the contract for any streaming speech-to-text vendor.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the upstream stream.
	Start(ctx context.Context) error
	// SendAudio forwards one frame in the format given by Config.
	SendAudio(frame frames.AudioFrame) error
	// Events delivers transcripts and voice activity until Close.
	Events() <-chan Event
	// Close releases the upstream stream. Calling it again is a no-op.
	Close() error
}

// Config contains vendor-agnostic per-call transcriber configuration.
type Config struct {
	CallSID  string
	StreamID string
	TraceID  string
	Format   frames.Format
	Language string
}

// Factory builds a transcriber for one call.
type Factory func(cfg Config) (Transcriber, error)
