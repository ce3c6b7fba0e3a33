package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/agents"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/providers/mock"
)

type captureSink struct {
	mu     sync.Mutex
	frames []frames.Frame
}

func (s *captureSink) Send(f frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) snapshot() []frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frames.Frame(nil), s.frames...)
}

func (s *captureSink) audio() int {
	n := 0
	for _, f := range s.snapshot() {
		if f.Kind() == frames.KindAudio {
			n++
		}
	}
	return n
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) OnStateChange(ev StateChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, ev.ToState)
}

func (l *stateLog) seen() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type harness struct {
	sess   *Session
	stt    *mock.Transcriber
	llm    *mock.Generator
	tts    *mock.Synthesizer
	sink   *captureSink
	states *stateLog
	obs    *metrics.MemoryObserver
	inbox  chan frames.Frame
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type harnessOptions struct {
	agent  agents.Snapshot
	llm    mock.LLMConfig
	tts    mock.TTSConfig
	cfg    Config
	shaper ReplyShaper
}

type shaperFunc func(string) string

func (f shaperFunc) Shape(text string) string { return f(text) }

func startHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if len(opts.llm.Responses) == 0 && opts.llm.Respond == nil {
		opts.llm.Responses = []string{"We're open 9 to 5."}
	}
	h := &harness{
		sess:   NewSession("CA1", "MZ1", "trace-1", opts.agent),
		stt:    mock.NewSTT(mock.STTConfig{}),
		llm:    mock.NewLLM(opts.llm),
		tts:    mock.NewTTS(opts.tts),
		sink:   &captureSink{},
		states: &stateLog{},
		obs:    metrics.NewMemoryObserver(),
		inbox:  make(chan frames.Frame, 16),
		done:   make(chan struct{}),
	}
	h.sess.AddListener(h.states)
	ctrl := NewController(h.sess, Deps{
		Transcriber: h.stt,
		Generator:   h.llm,
		Synthesizer: h.tts,
		Sink:        h.sink,
		Shaper:      opts.shaper,
		Observer:    h.obs,
	}, opts.cfg)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = ctrl.Run(ctx, h.inbox)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
		}
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(3 * time.Second):
		t.Fatalf("controller did not stop")
		return nil
	}
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	return h.wait(t)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsInOrder(got []State, want ...State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestControllerAnswersFinalTranscript(t *testing.T) {
	h := startHarness(t, harnessOptions{})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})

	waitFor(t, "reply playback", func() bool {
		return containsInOrder(h.states.seen(), StateGenerating, StateSpeaking, StateListening)
	})
	if err := h.stop(t); err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}

	turns := h.sess.History.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %+v", turns)
	}
	if turns[0].Role != RoleCaller || turns[0].Text != "What are your hours?" || !turns[0].Closed() {
		t.Fatalf("unexpected caller turn %+v", turns[0])
	}
	if turns[1].Role != RoleAgent || turns[1].Text != "We're open 9 to 5." || !turns[1].Closed() {
		t.Fatalf("unexpected agent turn %+v", turns[1])
	}
	if got := h.sink.audio(); got != 5 {
		t.Fatalf("expected 5 audio frames, got %d", got)
	}
	reqs := h.llm.Requests()
	if len(reqs) != 1 || len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "What are your hours?" {
		t.Fatalf("unexpected generator requests %+v", reqs)
	}
	if h.obs.Count(metrics.EventCallEnded) != 1 {
		t.Fatalf("expected one call_ended event")
	}
}

func TestControllerForwardsCallerAudio(t *testing.T) {
	h := startHarness(t, harnessOptions{})
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xFF
	}
	h.inbox <- frames.NewAudioFrame("MZ1", 1, 0, payload, frames.Telephony, nil)
	h.inbox <- frames.NewAudioFrame("MZ1", 2, 20*time.Millisecond, []byte{1, 2, 3, 4}, frames.Format{Rate: 22050, Channels: 1, Encoding: frames.EncodingLinear16}, nil)

	waitFor(t, "forwarded frame", func() bool { return len(h.stt.Received()) == 1 })
	got := h.stt.Received()[0]
	if got.Encoding() != frames.EncodingLinear16 || got.Rate() != 16000 {
		t.Fatalf("expected transcriber format, got %+v", got.Format())
	}
	waitFor(t, "dropped frame metric", func() bool { return h.obs.Count(metrics.EventFrameDropped) == 1 })
	if h.sess.State() != StateListening {
		t.Fatalf("codec errors must not change state, got %s", h.sess.State())
	}
}

func TestControllerBargeInStopsPlayback(t *testing.T) {
	h := startHarness(t, harnessOptions{
		llm: mock.LLMConfig{Responses: []string{
			"Our store is open from nine in the morning until five in the evening every weekday and closed on weekends and holidays.",
		}},
		tts: mock.TTSConfig{ChunkDelay: 20 * time.Millisecond},
	})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})
	waitFor(t, "first reply frame", func() bool { return h.sink.audio() > 0 })

	h.stt.Emit(stt.Event{Kind: stt.EventSpeechStarted})
	waitFor(t, "interrupted", func() bool { return h.sess.State() == StateInterrupted })
	time.Sleep(100 * time.Millisecond)

	sent := h.sink.snapshot()
	clearAt := -1
	for i, f := range sent {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlClear {
			clearAt = i
		}
	}
	if clearAt < 0 {
		t.Fatalf("expected a clear frame")
	}
	for _, f := range sent[clearAt+1:] {
		if f.Kind() == frames.KindAudio {
			t.Fatalf("audio sent after barge-in")
		}
	}
	if h.tts.Cancels() == 0 {
		t.Fatalf("expected synthesis to be cancelled")
	}
	turns := h.sess.History.Turns()
	if last := turns[len(turns)-1]; last.Role != RoleAgent || !last.Interrupted {
		t.Fatalf("expected agent turn marked interrupted, got %+v", last)
	}
	if h.obs.Count(metrics.EventBargeIn) != 1 {
		t.Fatalf("expected barge_in metric")
	}

	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "Never mind, thanks."})
	waitFor(t, "new generation", func() bool { return len(h.llm.Requests()) == 2 })
	if err := h.stop(t); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestControllerApologizesOnSynthesisFailure(t *testing.T) {
	h := startHarness(t, harnessOptions{
		tts: mock.TTSConfig{FailTexts: []string{"We're open 9 to 5."}},
	})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})

	waitFor(t, "apology playback", func() bool { return h.sink.audio() == 11 })
	waitFor(t, "listening", func() bool {
		return containsInOrder(h.states.seen(), StateSpeaking, StateListening) && h.sess.State() == StateListening
	})
	texts := h.tts.Texts()
	if len(texts) != 2 || texts[1] != agents.DefaultFallbackPhrase {
		t.Fatalf("expected reply then fallback phrase, got %q", texts)
	}
	if h.obs.Count(metrics.EventApology) != 1 {
		t.Fatalf("expected one apology")
	}
	if err := h.stop(t); err != nil {
		t.Fatalf("transient failure must not end the call with an error, got %v", err)
	}
}

func TestControllerSilentWhenApologyFails(t *testing.T) {
	h := startHarness(t, harnessOptions{tts: mock.TTSConfig{FailAll: true}})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})

	waitFor(t, "apology attempt", func() bool { return len(h.tts.Texts()) == 2 })
	time.Sleep(30 * time.Millisecond)
	if h.sess.State() != StateListening {
		t.Fatalf("expected listening, got %s", h.sess.State())
	}
	if h.sink.audio() != 0 {
		t.Fatalf("expected no audio")
	}
	if h.obs.Count(metrics.EventApology) != 1 {
		t.Fatalf("apology must not be retried")
	}
}

func TestControllerApologizesOnGenerationError(t *testing.T) {
	h := startHarness(t, harnessOptions{
		llm: mock.LLMConfig{StreamErr: errorsx.New(errorsx.ReasonLLMStream, "boom")},
	})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})
	waitFor(t, "apology", func() bool { return h.obs.Count(metrics.EventApology) == 1 })
	waitFor(t, "apology playback", func() bool { return h.sink.audio() == 11 })
	if h.sess.State() != StateListening {
		t.Fatalf("expected listening, got %s", h.sess.State())
	}
	for _, turn := range h.sess.History.Turns() {
		if turn.Role == RoleAgent && turn.Text != agents.DefaultFallbackPhrase {
			t.Fatalf("failed generation must not be committed: %+v", turn)
		}
	}
}

func TestControllerAdapterTimeout(t *testing.T) {
	h := startHarness(t, harnessOptions{
		llm: mock.LLMConfig{ChunkDelay: time.Second},
		cfg: Config{AdapterTimeout: 50 * time.Millisecond},
	})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "Hello?"})
	waitFor(t, "timeout apology", func() bool { return h.obs.Count(metrics.EventApology) == 1 })
	for _, ev := range h.obs.Snapshot() {
		if ev.Name == metrics.EventAdapterError && ev.Tags["reason"] != string(errorsx.ReasonAdapterTimeout) {
			t.Fatalf("unexpected reason %q", ev.Tags["reason"])
		}
	}
}

func TestControllerCallEndWhileGenerating(t *testing.T) {
	h := startHarness(t, harnessOptions{llm: mock.LLMConfig{ChunkDelay: time.Second}})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})
	waitFor(t, "generating", func() bool { return h.sess.State() == StateGenerating })

	h.inbox <- frames.NewSystemFrame("MZ1", 0, frames.SystemCallEnd, nil)
	if err := h.wait(t); err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}
	if h.sess.State() != StateEnded || h.sess.EndedAt().IsZero() {
		t.Fatalf("expected ended session")
	}
	if _, ok := <-h.stt.Events(); ok {
		t.Fatalf("expected transcriber to be closed")
	}
	if len(h.tts.Texts()) != 0 {
		t.Fatalf("no closing phrase on caller hangup")
	}
}

func TestControllerBridgeDisconnect(t *testing.T) {
	h := startHarness(t, harnessOptions{})
	close(h.inbox)
	err := h.wait(t)
	if !errorsx.HasReason(err, errorsx.ReasonBridgeDisconnect) {
		t.Fatalf("expected bridge disconnect, got %v", err)
	}
}

func TestControllerShapesReplyBeforeSpeaking(t *testing.T) {
	h := startHarness(t, harnessOptions{
		llm:    mock.LLMConfig{Responses: []string{"**We're** open 9 to 5."}},
		shaper: shaperFunc(func(s string) string { return strings.ReplaceAll(s, "**", "") }),
	})
	h.stt.Emit(stt.Event{Kind: stt.EventFinal, Text: "What are your hours?"})
	waitFor(t, "reply playback", func() bool {
		return containsInOrder(h.states.seen(), StateGenerating, StateSpeaking, StateListening)
	})
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "We're open 9 to 5." {
		t.Fatalf("expected shaped reply to be spoken, got %q", texts)
	}
	turns := h.sess.History.Turns()
	if len(turns) != 2 || turns[1].Text != "We're open 9 to 5." {
		t.Fatalf("expected shaped reply in history, got %+v", turns)
	}
}

func TestControllerCallEndFrameCarriesDisconnect(t *testing.T) {
	h := startHarness(t, harnessOptions{})
	h.inbox <- frames.NewSystemFrame("MZ1", 0, frames.SystemCallEnd, map[string]string{
		frames.MetaReason: string(errorsx.ReasonBridgeDisconnect),
	})
	err := h.wait(t)
	if !errorsx.HasReason(err, errorsx.ReasonBridgeDisconnect) {
		t.Fatalf("expected bridge disconnect, got %v", err)
	}
	if len(h.tts.Texts()) != 0 {
		t.Fatalf("expected no closing phrase, got %q", h.tts.Texts())
	}
}

func TestControllerIdleTimeout(t *testing.T) {
	h := startHarness(t, harnessOptions{cfg: Config{IdleTimeout: 50 * time.Millisecond}})
	err := h.wait(t)
	if !errorsx.HasReason(err, errorsx.ReasonIdleTimeout) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
	texts := h.tts.Texts()
	if len(texts) != 1 || texts[0] != agents.DefaultClosingPhrase {
		t.Fatalf("expected closing phrase, got %q", texts)
	}
	if h.sink.audio() == 0 {
		t.Fatalf("expected closing audio")
	}
}

func TestControllerUnrecoverableTranscriberError(t *testing.T) {
	h := startHarness(t, harnessOptions{agent: agents.Snapshot{ClosingPhrase: "Goodbye."}})
	h.stt.Emit(stt.Event{Kind: stt.EventError, Err: errorsx.New(errorsx.ReasonSTTConnect, "socket lost")})
	err := h.wait(t)
	if !errorsx.HasReason(err, errorsx.ReasonSTTConnect) {
		t.Fatalf("expected stt_connect, got %v", err)
	}
	if texts := h.tts.Texts(); len(texts) != 1 || texts[0] != "Goodbye." {
		t.Fatalf("expected closing phrase, got %q", texts)
	}
}

func TestControllerStartFailure(t *testing.T) {
	sess := NewSession("CA1", "MZ1", "", agents.Snapshot{})
	ctrl := NewController(sess, Deps{
		Transcriber: mock.NewSTT(mock.STTConfig{StartErr: errors.New("dial failed")}),
		Generator:   mock.NewLLM(mock.LLMConfig{}),
		Synthesizer: mock.NewTTS(mock.TTSConfig{}),
		Sink:        &captureSink{},
	}, Config{})
	err := ctrl.Run(context.Background(), make(chan frames.Frame))
	if !errorsx.HasReason(err, errorsx.ReasonSTTConnect) {
		t.Fatalf("expected stt_connect, got %v", err)
	}
	if sess.State() != StateEnded {
		t.Fatalf("expected ended, got %s", sess.State())
	}
}

func TestControllerSpeaksGreeting(t *testing.T) {
	h := startHarness(t, harnessOptions{agent: agents.Snapshot{Greeting: "Thanks for calling Acme."}})
	waitFor(t, "greeting", func() bool { return h.sink.audio() == 4 })
	waitFor(t, "listening", func() bool { return containsInOrder(h.states.seen(), StateSpeaking, StateListening) })
	turns := h.sess.History.Turns()
	if len(turns) != 1 || turns[0].Role != RoleAgent || turns[0].Text != "Thanks for calling Acme." {
		t.Fatalf("unexpected history %+v", turns)
	}
}

func TestDepsValidate(t *testing.T) {
	if err := (Deps{}).Validate(); err == nil {
		t.Fatalf("expected missing transcriber error")
	}
	deps := Deps{
		Transcriber: mock.NewSTT(mock.STTConfig{}),
		Generator:   mock.NewLLM(mock.LLMConfig{}),
		Synthesizer: mock.NewTTS(mock.TTSConfig{}),
		Sink:        SinkFunc(func(frames.Frame) error { return nil }),
	}
	if err := deps.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
