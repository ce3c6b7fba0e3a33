package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	Interim        bool
	VADEvents      bool
	SmartFormat    bool
	UtteranceEndMS int
}

// Transcriber streams one call's audio to Deepgram's live endpoint and turns
// the callback stream into stt events.
type Transcriber struct {
	cfg    Config
	call   stt.Config
	logger *slog.Logger

	dgClient   *client.WSCallback
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	cancel     context.CancelFunc

	events chan stt.Event

	mu         sync.Mutex
	closed     bool
	finals     []string
	speaking   bool
	metaLogged bool
	closeOnce  sync.Once
}

func New(cfg Config, call stt.Config) *Transcriber {
	if call.Format.Rate == 0 {
		call.Format = frames.Format{Rate: 16000, Channels: 1, Encoding: frames.EncodingLinear16}
	}
	if cfg.Language == "" {
		cfg.Language = call.Language
	}
	logger := logging.WithCall(logging.NewComponentLogger(slog.Default(), "deepgram_stt"), call.CallSID, call.StreamID, call.TraceID)
	return &Transcriber{
		cfg:    cfg,
		call:   call,
		logger: logger,
		events: make(chan stt.Event, 256),
	}
}

// NewFactory binds provider credentials into a per-call stt.Factory.
func NewFactory(cfg Config) stt.Factory {
	return func(call stt.Config) (stt.Transcriber, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("deepgram: api key is required")
		}
		return New(cfg, call), nil
	}
}

func (s *Transcriber) Name() string { return "deepgram" }

func (s *Transcriber) Events() <-chan stt.Event { return s.events }

func (s *Transcriber) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()

	opts := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       encodingName(s.call.Format.Encoding),
		SampleRate:     s.call.Format.Rate,
		Channels:       max(s.call.Format.Channels, 1),
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    s.cfg.SmartFormat,
	}
	if s.cfg.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = fmt.Sprintf("%d", s.cfg.UtteranceEndMS)
	}

	s.logger.Info("deepgram_connecting",
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.call.Format.Rate),
		slog.Bool("vad_events", s.cfg.VADEvents))

	dgClient, err := client.NewWSUsingCallback(ctx, s.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, &callback{parent: s})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("deepgram client: %w", err), errorsx.ReasonSTTConnect)
	}
	if !dgClient.Connect() {
		return errorsx.New(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}
	s.dgClient = dgClient
	s.logger.Info("deepgram_connected")

	go func() {
		if err := dgClient.Stream(s.pipeReader); err != nil && ctx.Err() == nil {
			s.emit(stt.Event{Kind: stt.EventError, Err: errorsx.Wrap(err, errorsx.ReasonSTTStream)})
		}
	}()
	return nil
}

func (s *Transcriber) SendAudio(frame frames.AudioFrame) error {
	if s.pipeWriter == nil {
		return errorsx.New(errorsx.ReasonSTTSend, "deepgram: not started")
	}
	if _, err := s.pipeWriter.Write(frame.RawPayload()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *Transcriber) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("deepgram_closing")
		if s.cancel != nil {
			s.cancel()
		}
		if s.pipeWriter != nil {
			_ = s.pipeWriter.Close()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

// emit never blocks the SDK's read loop; a full buffer drops the event.
func (s *Transcriber) emit(ev stt.Event) {
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
		s.logger.Warn("deepgram_events_full", slog.String("kind", ev.Kind.String()))
	}
}

func (s *Transcriber) onTranscript(text string, isFinal, speechFinal bool) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	startSpeech := text != "" && !s.speaking
	if startSpeech {
		s.speaking = true
	}
	if isFinal && text != "" {
		s.finals = append(s.finals, text)
	}
	var utterance string
	if speechFinal {
		utterance = strings.Join(s.finals, " ")
		s.finals = nil
	}
	s.mu.Unlock()

	if startSpeech && !s.cfg.VADEvents {
		s.emit(stt.Event{Kind: stt.EventSpeechStarted})
	}
	if text != "" && !isFinal {
		s.emit(stt.Event{Kind: stt.EventInterim, Text: text})
	}
	if speechFinal {
		s.endUtterance(utterance)
	}
}

func (s *Transcriber) endUtterance(utterance string) {
	s.mu.Lock()
	if utterance == "" {
		utterance = strings.Join(s.finals, " ")
	}
	s.finals = nil
	wasSpeaking := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if utterance != "" {
		s.emit(stt.Event{Kind: stt.EventFinal, Text: utterance})
		return
	}
	if wasSpeaking {
		s.emit(stt.Event{Kind: stt.EventSpeechEnded})
	}
}

func encodingName(e frames.Encoding) string {
	if e == frames.EncodingMuLaw {
		return "mulaw"
	}
	return "linear16"
}

type callback struct {
	parent *Transcriber
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		if mr.SpeechFinal {
			c.parent.endUtterance("")
		}
		return nil
	}
	c.parent.onTranscript(mr.Channel.Alternatives[0].Transcript, mr.IsFinal, mr.SpeechFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.mu.Lock()
	first := !c.parent.metaLogged
	c.parent.metaLogged = true
	c.parent.mu.Unlock()
	if first {
		c.parent.logger.Info("deepgram_metadata", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.mu.Lock()
	c.parent.speaking = true
	c.parent.mu.Unlock()
	c.parent.emit(stt.Event{Kind: stt.EventSpeechStarted})
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.endUtterance("")
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.emit(stt.Event{
		Kind: stt.EventError,
		Err:  errorsx.New(errorsx.ReasonSTTStream, "deepgram %s: %s", er.ErrCode, er.ErrMsg),
	})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
