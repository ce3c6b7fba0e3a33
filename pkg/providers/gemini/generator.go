package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/llm"
	"github.com/harunnryd/voxline/pkg/resilience"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int32
}

// Generator streams responses from the Gemini API.
type Generator struct {
	cfg    Config
	client *genai.Client
}

func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Generator{cfg: cfg, client: client}, nil
}

func (g *Generator) Name() string { return "gemini" }

func (g *Generator) Stream(ctx context.Context, input llm.Request) (<-chan llm.Delta, error) {
	contents, config := g.buildRequest(input)
	out := make(chan llm.Delta, 128)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- llm.Delta{Err: classify(err)}:
				case <-ctx.Done():
				}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case out <- llm.Delta{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *Generator) buildRequest(input llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if input.System != "" {
		config.SystemInstruction = genai.NewContentFromText(input.System, genai.RoleUser)
	}
	if g.cfg.Temperature > 0 {
		t := g.cfg.Temperature
		config.Temperature = &t
	}
	if g.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = g.cfg.MaxTokens
	}
	contents := make([]*genai.Content, 0, len(input.Messages))
	for _, m := range input.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, config
}

// classify maps API errors onto the adapter taxonomy.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return errorsx.Wrap(resilience.RateLimitError{Provider: "gemini", Message: apiErr.Message}, errorsx.ReasonLLMRateLimit)
	}
	return errorsx.Wrap(fmt.Errorf("gemini stream: %w", err), errorsx.ReasonLLMStream)
}

var _ llm.Generator = (*Generator)(nil)
