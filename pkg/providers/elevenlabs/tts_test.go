package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/resilience"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newServer(t *testing.T, handle func(conn *websocket.Conn, texts []string)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-1/stream-input") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var texts []string
		for i := 0; i < 3; i++ {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			text, _ := msg["text"].(string)
			texts = append(texts, text)
		}
		handle(conn, texts)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, ch <-chan tts.Chunk) ([]byte, error) {
	t.Helper()
	var audio []byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return audio, nil
			}
			if c.Err != nil {
				return audio, c.Err
			}
			audio = append(audio, c.Audio...)
		case <-timeout:
			t.Fatalf("timed out waiting for audio")
		}
	}
}

func TestSynthesizeStreamsAudioUntilFinal(t *testing.T) {
	sent := make(chan []string, 1)
	srv := newServer(t, func(conn *websocket.Conn, texts []string) {
		sent <- texts
		for _, b := range [][]byte{{0x01, 0x02}, {0x03}} {
			_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(b)})
		}
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})
	s := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: wsURL(srv)}, tts.Config{StreamID: "MZ1"})
	ch, err := s.Synthesize(context.Background(), "We open at nine.", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	audio, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !bytes.Equal(audio, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("unexpected audio %v", audio)
	}
	got := <-sent
	if len(got) != 3 || got[0] != " " || got[1] != "We open at nine. " || got[2] != "" {
		t.Fatalf("unexpected utterance protocol %q", got)
	}
}

func TestSynthesizeReportsProviderError(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, _ []string) {
		_ = conn.WriteJSON(map[string]any{"error": "quota", "message": "exceeded"})
	})
	s := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: wsURL(srv)}, tts.Config{})
	ch, err := s.Synthesize(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if _, err := collect(t, ch); !errorsx.HasReason(err, errorsx.ReasonTTSStream) {
		t.Fatalf("expected tts stream error, got %v", err)
	}
}

func TestSynthesizeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	s := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: wsURL(srv)}, tts.Config{})
	if _, err := s.Synthesize(context.Background(), "hello", ""); !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestCancelEndsStream(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(conn *websocket.Conn, _ []string) {
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte{0x7F})})
		<-release
	})
	defer close(release)
	s := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: wsURL(srv)}, tts.Config{})
	ch, err := s.Synthesize(context.Background(), "a long answer", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	select {
	case c := <-ch:
		if len(c.Audio) != 1 {
			t.Fatalf("expected first chunk, got %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first chunk")
	}
	s.Cancel()
	if _, err := collect(t, ch); err != nil {
		t.Fatalf("expected clean end after cancel, got %v", err)
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f := ParseOutputFormat("ulaw_8000"); f != frames.Telephony {
		t.Fatalf("unexpected ulaw format %+v", f)
	}
	f := ParseOutputFormat("pcm_16000")
	if f.Rate != 16000 || f.Encoding != frames.EncodingLinear16 {
		t.Fatalf("unexpected pcm format %+v", f)
	}
}

func TestBuildURL(t *testing.T) {
	s := New(Config{APIKey: "key", ModelID: "eleven_flash_v2_5"}, tts.Config{})
	u := s.buildURL("voice 1")
	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice%201/stream-input?",
		"output_format=ulaw_8000",
		"model_id=eleven_flash_v2_5",
		"optimize_streaming_latency=4",
	} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in %s", want, u)
		}
	}
}
