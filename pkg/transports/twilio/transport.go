package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/voxline/pkg/codec"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/logging"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// RecvBuffer bounds inbound frames waiting for the engine.
	RecvBuffer int `mapstructure:"recv_buffer"`
	// SendBuffer bounds outbound messages per stream.
	SendBuffer int `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&c.ServerAddr, ":8080")
	def(&c.VoicePath, "/voice")
	def(&c.WebsocketPath, "/ws")
	def(&c.StatusCallbackPath, "/status")
	if len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.RecvBuffer <= 0 {
		c.RecvBuffer = 512
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Transport bridges Twilio Media Streams into frames: a voice webhook that
// points the call at a websocket, the websocket itself, a status callback,
// and the REST API for hangups.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
	calls    callUpdater

	recvMu     sync.RWMutex
	recv       chan frames.Frame
	recvClosed bool
	stopped    chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	streams map[string]*stream
	byCall  map[string]*stream
	// moved maps a replaced stream id to its call, so audio the call
	// still addresses to the old stream reaches the new one.
	moved map[string]string

	draining atomic.Bool
}

// callUpdater is the slice of the Twilio REST API used for hangups.
type callUpdater interface {
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logging.NewComponentLogger(slog.Default(), "twilio_transport"),
		recv:     make(chan frames.Frame, cfg.RecvBuffer),
		stopped:  make(chan struct{}),
		streams:  make(map[string]*stream),
		byCall:   make(map[string]*stream),
		moved:    make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		t.calls = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}).Api
	}
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recv }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL(nil, "https", t.cfg.VoicePath),
		"status_callback_url": t.publicURL(nil, "https", t.cfg.StatusCallbackPath),
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.signed("voice", t.handleVoice))
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.signed("status", t.handleStatus))
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new streams, closes live ones and closes Recv. Calls still
// registered with the engine are ended by the engine's own drain.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	t.stopOnce.Do(func() { close(t.stopped) })
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	live := make([]*stream, 0, len(t.streams))
	for _, s := range t.streams {
		live = append(live, s)
	}
	clear(t.streams)
	clear(t.byCall)
	clear(t.moved)
	t.mu.Unlock()
	for _, s := range live {
		s.close()
	}

	t.recvMu.Lock()
	if !t.recvClosed {
		t.recvClosed = true
		close(t.recv)
	}
	t.recvMu.Unlock()
	return nil
}

// emit hands a frame to the engine. Audio is dropped when the engine is
// behind. call_start and call_end are never dropped: they wait for room,
// blocking only their own socket or webhook, until Stop.
func (t *Transport) emit(f frames.Frame) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.recvClosed {
		return
	}
	if f.Kind() == frames.KindSystem {
		select {
		case t.recv <- f:
		case <-t.stopped:
		}
		return
	}
	select {
	case t.recv <- f:
	default:
		t.logger.Warn("twilio_recv_full",
			slog.String("stream_id", f.Meta()[frames.MetaStreamID]),
			slog.String("kind", string(f.Kind())))
	}
}

// Send writes one outbound frame. Telephony audio becomes a media message;
// a clear or flush control frame asks Twilio to drop queued playback.
// A frame addressed to a stream that was replaced goes to the call's
// current stream. Frames for calls that already ended are ignored.
func (t *Transport) Send(f frames.Frame) error {
	var streamID string
	var msg outboundMessage
	switch fr := f.(type) {
	case frames.ControlFrame:
		if fr.Code() != frames.ControlClear && fr.Code() != frames.ControlFlush {
			return nil
		}
		streamID = fr.Meta()[frames.MetaStreamID]
		msg = outboundMessage{Event: "clear"}
	case frames.AudioFrame:
		streamID = fr.StreamID()
		msg = outboundMessage{
			Event: "media",
			Media: &outboundMedia{Payload: codec.ToWireEnvelope(fr)},
		}
	default:
		return nil
	}
	s := t.route(streamID, f.Meta()[frames.MetaCallSID])
	if s == nil {
		return nil
	}
	msg.StreamSID = s.id
	return s.enqueue(msg)
}

// route finds the live stream for an outbound frame: by stream id, then by
// the call it belongs to.
func (t *Transport) route(streamID, callSID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.streams[streamID]; s != nil {
		return s
	}
	if callSID == "" {
		callSID = t.moved[streamID]
	}
	if callSID == "" {
		return nil
	}
	return t.byCall[callSID]
}

// Hangup completes the call through the REST API. The SDK call cannot be
// cancelled; ctx only bounds how long we wait for it.
func (t *Transport) Hangup(ctx context.Context, callSID string) error {
	if strings.TrimSpace(callSID) == "" {
		return errorsx.New(errorsx.ReasonTransportHangup, "call sid required")
	}
	if t.calls == nil {
		return errorsx.New(errorsx.ReasonTransportHangup, "twilio account_sid and auth_token required for hangup")
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	done := make(chan error, 1)
	go func() {
		_, err := t.calls.UpdateCall(callSID, params)
		done <- err
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("hang up %s: %w", callSID, err), errorsx.ReasonTransportHangup)
	}
	return nil
}
