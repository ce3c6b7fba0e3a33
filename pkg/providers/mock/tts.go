package mock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/frames"
)

type TTSConfig struct {
	// BytesPerWord is the μ-law audio produced per word; 160 bytes is 20ms.
	BytesPerWord int
	ChunkDelay   time.Duration
	// FailTexts makes synthesis of these exact texts fail before any audio.
	FailTexts []string
	FailAll   bool
}

// Synthesizer produces silent telephony audio sized by word count.
type Synthesizer struct {
	cfg TTSConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	texts   []string
	cancels int
	closed  bool
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.BytesPerWord <= 0 {
		cfg.BytesPerWord = 160
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Start(context.Context) error { return nil }

func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (<-chan tts.Chunk, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("mock tts: closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	out := make(chan tts.Chunk, 4)
	fail := s.cfg.FailAll
	for _, t := range s.cfg.FailTexts {
		fail = fail || t == text
	}
	words := strings.Fields(text)
	go func() {
		defer close(out)
		defer cancel()
		if fail {
			out <- tts.Chunk{Err: errors.New("mock tts: synthesis failed")}
			return
		}
		for range words {
			if s.cfg.ChunkDelay > 0 {
				select {
				case <-time.After(s.cfg.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			chunk := tts.Chunk{Audio: silence(s.cfg.BytesPerWord), Format: frames.Telephony}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	return nil
}

// Texts returns every text passed to Synthesize.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Cancels reports how many times Cancel was called.
func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func silence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
