package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/frames"
)

type STTConfig struct {
	// Utterances are recognised in order, one per FramesPerUtterance frames
	// of caller audio.
	Utterances         []string
	FramesPerUtterance int
	EmitInterim        bool
	StartErr           error
}

// Transcriber is a scripted stt.Transcriber. Tests may also inject events
// directly with Emit.
type Transcriber struct {
	cfg    STTConfig
	events chan stt.Event

	mu       sync.Mutex
	started  bool
	closed   bool
	frames   int
	next     int
	received []frames.AudioFrame
}

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.FramesPerUtterance <= 0 {
		cfg.FramesPerUtterance = 25
	}
	return &Transcriber{cfg: cfg, events: make(chan stt.Event, 64)}
}

// NewSTTFactory returns a factory producing a fresh scripted transcriber per call.
func NewSTTFactory(cfg STTConfig) stt.Factory {
	return func(stt.Config) (stt.Transcriber, error) { return NewSTT(cfg), nil }
}

func (s *Transcriber) Name() string { return "mock_stt" }

func (s *Transcriber) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Transcriber) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return errors.New("mock stt: not started")
	}
	s.received = append(s.received, frame)
	s.frames++
	var utterance string
	if s.next < len(s.cfg.Utterances) && s.frames%s.cfg.FramesPerUtterance == 0 {
		utterance = s.cfg.Utterances[s.next]
		s.next++
	}
	s.mu.Unlock()

	if utterance == "" {
		return nil
	}
	s.Emit(stt.Event{Kind: stt.EventSpeechStarted})
	if s.cfg.EmitInterim {
		s.Emit(stt.Event{Kind: stt.EventInterim, Text: utterance})
	}
	s.Emit(stt.Event{Kind: stt.EventFinal, Text: utterance})
	return nil
}

// Emit delivers an event as if the vendor had produced it.
func (s *Transcriber) Emit(ev stt.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Received returns the frames passed to SendAudio.
func (s *Transcriber) Received() []frames.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frames.AudioFrame(nil), s.received...)
}

func (s *Transcriber) Events() <-chan stt.Event { return s.events }

func (s *Transcriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
