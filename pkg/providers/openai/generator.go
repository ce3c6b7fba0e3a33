package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/llm"
	"github.com/harunnryd/voxline/pkg/resilience"
)

// Generator streams chat completions over server-sent events.
type Generator struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Client      *http.Client
}

func NewGenerator(apiKey, model string) *Generator {
	return &Generator{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Generator) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Generator) Stream(ctx context.Context, input llm.Request) (<-chan llm.Delta, error) {
	body, err := g.buildRequest(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	g.applyHeaders(req)
	resp, err := g.client().Do(req)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("openai request: %w", err), errorsx.ReasonLLMGenerate)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, resilience.RateLimitError{
			Provider:   "openai",
			Message:    strings.TrimSpace(string(msg)),
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.New(errorsx.ReasonLLMGenerate, "openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	out := make(chan llm.Delta, 128)
	go g.read(ctx, resp.Body, out)
	return out, nil
}

func (g *Generator) read(ctx context.Context, body io.ReadCloser, out chan<- llm.Delta) {
	defer body.Close()
	defer close(out)
	emit := func(d llm.Delta) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- d:
			return true
		}
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			emit(llm.Delta{Err: errorsx.New(errorsx.ReasonLLMStream, "openai: %s", chunk.Error.Message)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if !emit(llm.Delta{Text: text}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(llm.Delta{Err: errorsx.Wrap(err, errorsx.ReasonLLMStream)})
		return
	}
	if ctx.Err() == nil {
		// the body ended without [DONE]
		emit(llm.Delta{Err: errorsx.New(errorsx.ReasonLLMStream, "openai: stream ended early")})
	}
}

func (g *Generator) buildRequest(input llm.Request) (*bytes.Buffer, error) {
	req := chatRequest{
		Model:     g.Model,
		Stream:    true,
		Messages:  toMessages(input),
		MaxTokens: g.MaxTokens,
	}
	if g.Temperature > 0 {
		t := g.Temperature
		req.Temperature = &t
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (g *Generator) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
}

func (g *Generator) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

func toMessages(input llm.Request) []chatMessage {
	out := make([]chatMessage, 0, len(input.Messages)+1)
	if input.System != "" {
		out = append(out, chatMessage{Role: string(llm.RoleSystem), Content: input.System})
	}
	for _, m := range input.Messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

var _ llm.Generator = (*Generator)(nil)
