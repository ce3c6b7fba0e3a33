package twilio

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/voxline/pkg/codec"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/redact"
)

var errQueueFull = errors.New("outbound queue full")

// stream is one Media Streams websocket. The handler goroutine reads it;
// a single writer goroutine drains out so media leaves in production order.
type stream struct {
	id      string
	callSID string
	traceID string
	conn    *websocket.Conn
	log     *slog.Logger

	mu     sync.RWMutex
	out    chan []byte
	closed bool
}

func (s *stream) meta() map[string]string {
	meta := map[string]string{frames.MetaStreamID: s.id}
	if s.callSID != "" {
		meta[frames.MetaCallSID] = s.callSID
	}
	if s.traceID != "" {
		meta[frames.MetaTraceID] = s.traceID
	}
	return meta
}

func (s *stream) enqueue(msg outboundMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.out <- b:
		return nil
	default:
		return errorsx.Wrap(fmt.Errorf("%s: %w", msg.Event, errQueueFull), errorsx.ReasonTransportSend)
	}
}

func (s *stream) writeLoop() {
	for b := range s.out {
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			s.log.Debug("twilio_write_failed", slog.String("stream_id", s.id), slog.String("error", err.Error()))
		}
	}
}

func (s *stream) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// ServeHTTP runs one Media Streams websocket until Twilio sends stop or the
// socket drops. Inbound frames for a stream are emitted by this goroutine
// alone, so they reach the engine in arrival order.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var s *stream
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt StreamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.logger.Warn("twilio_event_malformed", slog.String("error", err.Error()))
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start != nil && s == nil {
				s = t.open(evt, conn)
			}
		case "media":
			if evt.Media != nil && s != nil {
				t.media(s, evt)
			}
		case "stop":
			if s != nil {
				t.end(s, endCompleted, "")
			}
			return
		}
	}
	if s != nil {
		t.end(s, endTransportClosed, errorsx.ReasonBridgeDisconnect)
	}
}

func (t *Transport) open(evt StreamEvent, conn *websocket.Conn) *stream {
	start := evt.Start
	s := &stream{
		id:      start.StreamSID,
		callSID: start.CallSID,
		traceID: uuid.NewString(),
		conn:    conn,
		log:     t.logger,
		out:     make(chan []byte, t.cfg.SendBuffer),
	}
	if s.id == "" {
		s.id = evt.StreamSID
	}
	t.attach(s)
	go s.writeLoop()

	if f := start.MediaFormat; f != nil && f.Encoding != "" && f.Encoding != "audio/x-mulaw" {
		t.logger.Warn("twilio_unexpected_media_format",
			slog.String("stream_id", s.id),
			slog.String("encoding", f.Encoding),
			slog.Int("sample_rate", f.SampleRate))
	}
	meta := s.meta()
	meta[frames.MetaFromNumber] = start.CustomParameters[paramFrom]
	meta[frames.MetaToNumber] = start.CustomParameters[paramTo]
	meta[frames.MetaSource] = "transport"
	t.logger.Info("twilio_stream_started",
		slog.String("call_sid", s.callSID),
		slog.String("stream_id", s.id),
		slog.String("trace_id", s.traceID),
		slog.String("to", redact.Number(meta[frames.MetaToNumber])))
	t.emit(frames.NewSystemFrame(s.id, time.Now().UnixNano(), frames.SystemCallStart, meta))
	return s
}

func (t *Transport) media(s *stream, evt StreamEvent) {
	seq, _ := strconv.ParseUint(evt.SequenceNumber, 10, 64)
	var offset time.Duration
	if ms, err := strconv.ParseInt(evt.Media.Timestamp, 10, 64); err == nil {
		offset = time.Duration(ms) * time.Millisecond
	}
	meta := s.meta()
	meta[frames.MetaEncoding] = string(frames.EncodingMuLaw)
	meta[frames.MetaSequence] = evt.SequenceNumber
	af, err := codec.FromWireEnvelope(s.id, seq, offset, evt.Media.Payload, meta)
	if err != nil {
		t.logger.Warn("twilio_media_dropped",
			slog.String("stream_id", s.id),
			slog.Uint64("seq", seq),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return
	}
	t.emit(af)
}

// end reports the call as over and forgets the stream. reason becomes
// call_end_reason; code, when set, marks the end as a failure.
func (t *Transport) end(s *stream, reason string, code errorsx.ReasonCode) {
	if !t.detach(s) {
		return
	}
	meta := s.meta()
	meta[frames.MetaCallEndReason] = reason
	if code != "" {
		meta[frames.MetaReason] = string(code)
	}
	t.emit(frames.NewSystemFrame(s.id, time.Now().UnixNano(), frames.SystemCallEnd, meta))
	s.close()
}

// attach registers s. A reconnecting call that opens a second stream
// replaces the first, which is closed without a call_end.
func (t *Transport) attach(s *stream) {
	t.mu.Lock()
	old := t.byCall[s.callSID]
	if old != nil && old != s {
		delete(t.streams, old.id)
		t.moved[old.id] = s.callSID
		t.logger.Info("twilio_stream_replaced",
			slog.String("call_sid", s.callSID),
			slog.String("old_stream_id", old.id),
			slog.String("stream_id", s.id))
	}
	t.streams[s.id] = s
	if s.callSID != "" {
		t.byCall[s.callSID] = s
	}
	t.mu.Unlock()
	if old != nil && old != s {
		old.close()
	}
}

// detach reports whether s was still registered, so that each stream ends
// exactly once whichever of stop, socket close or status callback comes
// first.
func (t *Transport) detach(s *stream) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.streams[s.id] != s {
		return false
	}
	delete(t.streams, s.id)
	if t.byCall[s.callSID] == s {
		delete(t.byCall, s.callSID)
		for id, call := range t.moved {
			if call == s.callSID {
				delete(t.moved, id)
			}
		}
	}
	return true
}

func (t *Transport) stream(streamID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[streamID]
}

func (t *Transport) streamForCall(callSID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byCall[callSID]
}
