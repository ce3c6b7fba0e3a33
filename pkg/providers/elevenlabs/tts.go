package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/logging"
	"github.com/harunnryd/voxline/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Stability    float64
	Similarity   float64
}

// Synthesizer opens one stream-input websocket per utterance. Cancel closes
// the active socket so no further audio is read from it.
type Synthesizer struct {
	cfg    Config
	call   tts.Config
	format frames.Format
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

func New(cfg Config, call tts.Config) *Synthesizer {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	logger := logging.WithCall(logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"), call.CallSID, call.StreamID, call.TraceID)
	return &Synthesizer{cfg: cfg, call: call, format: ParseOutputFormat(cfg.OutputFormat), logger: logger}
}

// NewFactory binds provider credentials into a per-call tts.Factory.
func NewFactory(cfg Config) tts.Factory {
	return func(call tts.Config) (tts.Synthesizer, error) {
		if cfg.APIKey == "" {
			return nil, errors.New("elevenlabs: api key is required")
		}
		return New(cfg, call), nil
	}
}

// ParseOutputFormat maps an output_format such as "ulaw_8000" or "pcm_16000".
func ParseOutputFormat(s string) frames.Format {
	codec, rate, _ := strings.Cut(s, "_")
	hz, err := strconv.Atoi(rate)
	if err != nil || hz <= 0 {
		hz = 8000
	}
	if codec == "pcm" {
		return frames.Format{Rate: hz, Channels: 1, Encoding: frames.EncodingLinear16}
	}
	return frames.Format{Rate: hz, Channels: 1, Encoding: frames.EncodingMuLaw}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Start(context.Context) error {
	if s.cfg.APIKey == "" {
		return errorsx.New(errorsx.ReasonTTSConnect, "elevenlabs: missing api key")
	}
	return nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (<-chan tts.Chunk, error) {
	if voice == "" {
		voice = s.cfg.VoiceID
	}
	if voice == "" {
		return nil, errorsx.New(errorsx.ReasonTTSConnect, "elevenlabs: no voice")
	}
	s.Cancel()

	ctx, cancel := context.WithCancel(ctx)
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, s.buildURL(voice), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Warn("elevenlabs_rate_limited", slog.String("status", resp.Status))
			return nil, resilience.RateLimitError{
				Provider:   "elevenlabs",
				Message:    resp.Status,
				RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		return nil, errorsx.Wrap(fmt.Errorf("elevenlabs dial: %w", err), errorsx.ReasonTTSConnect)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, errorsx.New(errorsx.ReasonTTSConnect, "elevenlabs: closed")
	}
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.sendUtterance(conn, text); err != nil {
		s.release(conn)
		cancel()
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSend)
	}

	out := make(chan tts.Chunk, 64)
	go s.readLoop(ctx, conn, out)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	return out, nil
}

func (s *Synthesizer) sendUtterance(conn *websocket.Conn, text string) error {
	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
			},
			"generation_config": map[string]any{
				"chunk_length_schedule": []int{120, 160, 250, 290},
			},
		},
		{"text": strings.TrimSpace(text) + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return nil
}

type response struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Synthesizer) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- tts.Chunk) {
	defer close(out)
	defer s.release(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.send(ctx, out, tts.Chunk{Err: errorsx.Wrap(fmt.Errorf("elevenlabs read: %w", err), errorsx.ReasonTTSStream)})
			return
		}
		var msg response
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("elevenlabs_unparsed_message", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Error != "" {
			s.send(ctx, out, tts.Chunk{Err: errorsx.New(errorsx.ReasonTTSStream, "elevenlabs %s: %s", msg.Error, msg.Message)})
			return
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.send(ctx, out, tts.Chunk{Err: errorsx.Wrap(err, errorsx.ReasonTTSStream)})
				return
			}
			if !s.send(ctx, out, tts.Chunk{Audio: raw, Format: s.format}) {
				return
			}
		}
		if msg.IsFinal {
			return
		}
	}
}

func (s *Synthesizer) send(ctx context.Context, out chan<- tts.Chunk, c tts.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Synthesizer) release(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.cancel = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Synthesizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
	return nil
}

func (s *Synthesizer) buildURL(voice string) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
