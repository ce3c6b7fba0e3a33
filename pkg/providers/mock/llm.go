package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/llm"
)

type LLMConfig struct {
	// Responses are returned in order; the last one repeats.
	Responses []string
	// Respond overrides Responses when set.
	Respond    func(req llm.Request) string
	ChunkDelay time.Duration
	StreamErr  error
	// FailMidStream emits StreamErr after the first word instead of before it.
	FailMidStream bool
}

// Generator streams canned responses word by word.
type Generator struct {
	cfg LLMConfig

	mu       sync.Mutex
	calls    int
	requests []llm.Request
}

func NewLLM(cfg LLMConfig) *Generator {
	if len(cfg.Responses) == 0 && cfg.Respond == nil {
		cfg.Responses = []string{"mock response"}
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Name() string { return "mock_llm" }

func (g *Generator) Stream(ctx context.Context, req llm.Request) (<-chan llm.Delta, error) {
	g.mu.Lock()
	n := g.calls
	g.calls++
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	var text string
	if g.cfg.Respond != nil {
		text = g.cfg.Respond(req)
	} else {
		text = g.cfg.Responses[min(n, len(g.cfg.Responses)-1)]
	}
	words := strings.SplitAfter(text, " ")

	out := make(chan llm.Delta, len(words)+1)
	go func() {
		defer close(out)
		if g.cfg.StreamErr != nil && !g.cfg.FailMidStream {
			out <- llm.Delta{Err: g.cfg.StreamErr}
			return
		}
		for i, w := range words {
			if g.cfg.ChunkDelay > 0 {
				select {
				case <-time.After(g.cfg.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- llm.Delta{Text: w}:
			case <-ctx.Done():
				return
			}
			if i == 0 && g.cfg.StreamErr != nil {
				out <- llm.Delta{Err: g.cfg.StreamErr}
				return
			}
		}
	}()
	return out, nil
}

// Requests returns every request seen so far.
func (g *Generator) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

var _ llm.Generator = (*Generator)(nil)
