package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/codec"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/llm"
	"github.com/harunnryd/voxline/pkg/logging"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/redact"
	"github.com/harunnryd/voxline/pkg/resilience"
)

type Config struct {
	// IdleTimeout ends a call that sends no caller audio for this long.
	IdleTimeout time.Duration
	// AdapterTimeout is the longest a generation or synthesis stream may stay
	// silent before it counts as an adapter error.
	AdapterTimeout time.Duration
	// ClosingTimeout bounds the closing phrase spoken before a call is ended.
	ClosingTimeout time.Duration
	// CloseGrace bounds adapter shutdown when the call ends.
	CloseGrace    time.Duration
	FrameDuration time.Duration
	// TranscriberFormat is the audio format the transcriber expects.
	TranscriberFormat frames.Format
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = 10 * time.Second
	}
	if c.ClosingTimeout <= 0 {
		c.ClosingTimeout = 5 * time.Second
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 2 * time.Second
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = codec.DefaultFrameDuration
	}
	return c
}

// Deps are the per-call collaborators of a Controller.
type Deps struct {
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Sink        Sink
	// Shaper, when set, rewrites each generated reply before it is spoken
	// and recorded.
	Shaper   ReplyShaper
	Observer metrics.Observer
	Logger   *slog.Logger
}

// ReplyShaper turns generated text into what the agent says.
type ReplyShaper interface {
	Shape(text string) string
}

type purpose string

const (
	purposeReply    purpose = "reply"
	purposeGreeting purpose = "greeting"
	purposeApology  purpose = "apology"
)

type generation struct {
	id      uint64
	stream  <-chan llm.Delta
	cancel  context.CancelFunc
	buf     strings.Builder
	started time.Time
	first   bool
}

type utterance struct {
	id      uint64
	purpose purpose
	stream  <-chan tts.Chunk
	cancel  context.CancelFunc
	token   *cancelToken
	first   bool
}

type event struct {
	kind  EventKind
	text  string
	frame frames.AudioFrame
	chunk tts.Chunk
	err   error
}

// Controller runs one call: it feeds caller audio to the transcriber, asks the
// generator for a reply to each final transcript, and streams the synthesized
// reply back to the bridge. A single goroutine (Run) owns all of it.
type Controller struct {
	sess   *Session
	cfg    Config
	deps   Deps
	logger *slog.Logger
	codec  *codec.Transcoder

	gen    *generation
	genSeq uint64
	utt    *utterance
	uttSeq uint64
	reply  string

	callerSince   time.Time
	playbackUntil time.Time
	sendFailing   bool

	adapterWD *resilience.Watchdog
	idleWD    *resilience.Watchdog

	queue  []event
	endErr error
}

func NewController(sess *Session, deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := logging.WithCall(logging.NewComponentLogger(deps.Logger, "turn_controller"), sess.ID, sess.StreamID, sess.TraceID)
	return &Controller{
		sess:   sess,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		codec: codec.NewTranscoder(codec.TranscoderConfig{
			StreamID:      sess.StreamID,
			Adapter:       cfg.TranscriberFormat,
			FrameDuration: cfg.FrameDuration,
			Meta: map[string]string{
				frames.MetaCallSID:  sess.ID,
				frames.MetaTraceID:  sess.TraceID,
				frames.MetaSource:   "tts",
				frames.MetaStreamID: sess.StreamID,
			},
		}),
		adapterWD: resilience.NewWatchdog(cfg.AdapterTimeout),
		idleWD:    resilience.NewWatchdog(cfg.IdleTimeout),
	}
}

func (c *Controller) Session() *Session { return c.sess }

// Run drives the call until it ends and returns why it ended: nil when the
// caller hung up or ctx was cancelled, otherwise the unrecoverable error or
// idle timeout. Adapters are closed before Run returns.
func (c *Controller) Run(ctx context.Context, inbox <-chan frames.Frame) error {
	defer c.teardown()
	if err := c.start(ctx); err != nil {
		c.sess.sm.Fire(EventFatalError)
		c.sess.markEnded(time.Now())
		c.record(metrics.EventCallEnded, map[string]string{"reason": string(errorsx.Reason(err))})
		return err
	}
	c.idleWD.Reset()
	if c.sess.Agent.Greeting != "" {
		c.dispatch(ctx, event{kind: EventGreeting})
	}

	transcripts := c.deps.Transcriber.Events()
	for c.sess.State() != StateEnded {
		select {
		case <-ctx.Done():
			c.dispatch(ctx, event{kind: EventCallEnd})

		case f, ok := <-inbox:
			if !ok {
				c.dispatch(ctx, event{kind: EventCallEnd, err: errorsx.New(errorsx.ReasonBridgeDisconnect, "bridge closed without stop")})
				continue
			}
			c.onFrame(ctx, f)

		case ev, ok := <-transcripts:
			if !ok {
				transcripts = nil
				c.dispatch(ctx, event{kind: EventFatalError, err: errorsx.New(errorsx.ReasonSTTConnect, "transcriber closed")})
				continue
			}
			c.onTranscript(ctx, ev)

		case d, ok := <-c.generationStream():
			c.adapterWD.Reset()
			switch {
			case !ok:
				c.gen.stream = nil
				c.dispatch(ctx, event{kind: EventGenerationComplete})
			case d.Err != nil:
				c.cancelGeneration()
				c.dispatch(ctx, c.classify(d.Err))
			default:
				c.dispatch(ctx, event{kind: EventGenerationDelta, text: d.Text})
			}

		case chunk, ok := <-c.synthesisStream():
			c.adapterWD.Reset()
			switch {
			case !ok:
				c.utt.stream = nil
				c.dispatch(ctx, event{kind: EventSynthesisComplete})
			case chunk.Err != nil:
				p := c.utt.purpose
				c.dropPlayback()
				if p == purposeApology {
					c.dispatch(ctx, event{kind: EventApologyFailed, err: chunk.Err})
				} else {
					c.dispatch(ctx, c.classify(chunk.Err))
				}
			default:
				c.dispatch(ctx, event{kind: EventSynthesisAudio, chunk: chunk})
			}

		case <-c.adapterWD.C():
			c.adapterWD.Fired()
			err := errorsx.New(errorsx.ReasonAdapterTimeout, "no adapter output for %s", c.cfg.AdapterTimeout)
			apology := c.utt != nil && c.utt.purpose == purposeApology && c.gen == nil
			c.cancelGeneration()
			c.stopPlayback("adapter_timeout")
			if apology {
				c.dispatch(ctx, event{kind: EventApologyFailed, err: err})
			} else {
				c.dispatch(ctx, event{kind: EventAdapterError, err: err})
			}

		case <-c.idleWD.C():
			c.idleWD.Fired()
			c.dispatch(ctx, event{kind: EventIdleTimeout})
		}
		if !c.streaming() {
			c.adapterWD.Stop()
		}
	}
	return c.endErr
}

func (c *Controller) start(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := c.deps.Transcriber.Start(ctx); err != nil {
			return errorsx.Wrap(fmt.Errorf("start transcriber: %w", err), errorsx.ReasonSTTConnect)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.deps.Synthesizer.Start(ctx); err != nil {
			return errorsx.Wrap(fmt.Errorf("start synthesizer: %w", err), errorsx.ReasonTTSConnect)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		c.logger.Error("turn_controller_start_failed", slog.String("reason", string(errorsx.Reason(err))), slog.String("error", err.Error()))
		return err
	}
	c.logger.Info("turn_controller_started",
		slog.String("agent_id", c.sess.Agent.AgentID),
		slog.String("transcriber", c.deps.Transcriber.Name()),
		slog.String("generator", c.deps.Generator.Name()),
		slog.String("synthesizer", c.deps.Synthesizer.Name()))
	return nil
}

func (c *Controller) onFrame(ctx context.Context, f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		c.dispatch(ctx, event{kind: EventCallerAudio, frame: fr})
	case frames.SystemFrame:
		if fr.Name() == frames.SystemCallEnd {
			var err error
			if fr.Meta()[frames.MetaReason] == string(errorsx.ReasonBridgeDisconnect) {
				err = errorsx.New(errorsx.ReasonBridgeDisconnect, "media stream closed without stop")
			}
			c.dispatch(ctx, event{kind: EventCallEnd, err: err})
		}
	}
}

func (c *Controller) onTranscript(ctx context.Context, ev stt.Event) {
	switch ev.Kind {
	case stt.EventSpeechStarted:
		c.dispatch(ctx, event{kind: EventSpeechStarted})
	case stt.EventInterim:
		c.dispatch(ctx, event{kind: EventInterimTranscript, text: ev.Text})
	case stt.EventFinal:
		if strings.TrimSpace(ev.Text) == "" {
			c.dispatch(ctx, event{kind: EventSpeechEnded})
			return
		}
		c.dispatch(ctx, event{kind: EventFinalTranscript, text: ev.Text})
	case stt.EventSpeechEnded:
		c.dispatch(ctx, event{kind: EventSpeechEnded})
	case stt.EventError:
		c.dispatch(ctx, c.classify(ev.Err))
	}
}

// classify turns an adapter error into the event the table reacts to.
func (c *Controller) classify(err error) event {
	if errorsx.KindOf(err) == errorsx.KindUnrecoverable {
		return event{kind: EventFatalError, err: err}
	}
	return event{kind: EventAdapterError, err: err}
}

// dispatch fires ev and any events its actions raise, in order.
func (c *Controller) dispatch(ctx context.Context, ev event) {
	c.queue = append(c.queue, ev)
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		change, changed := c.sess.sm.Fire(next.kind)
		if changed {
			c.logger.Debug("turn_state_change",
				slog.String("from", change.FromState.String()),
				slog.String("to", change.ToState.String()),
				slog.String("event", next.kind.String()),
				slog.String("action", change.Action.String()))
			c.record(metrics.EventTurnState, map[string]string{
				"from":  change.FromState.String(),
				"to":    change.ToState.String(),
				"event": next.kind.String(),
			})
		}
		c.perform(ctx, change.Action, next)
	}
}

func (c *Controller) raise(ev event) {
	c.queue = append(c.queue, ev)
}

func (c *Controller) perform(ctx context.Context, a Action, ev event) {
	now := time.Now()
	if a.Has(ActForward) {
		c.forward(ev.frame)
	}
	if a.Has(ActStopPlayback) {
		c.stopPlayback("barge_in")
	}
	if a.Has(ActMarkInterrupted) {
		c.sess.History.MarkInterrupted()
	}
	if a.Has(ActOpenCaller) && c.callerSince.IsZero() {
		c.callerSince = now
		c.record(metrics.EventSpeechStarted, nil)
	}
	if a.Has(ActAbandonCaller) {
		c.callerSince = time.Time{}
	}
	if a.Has(ActCommitCaller) {
		started := c.callerSince
		if started.IsZero() {
			started = now
		}
		c.callerSince = time.Time{}
		text := strings.TrimSpace(ev.text)
		if _, err := c.sess.History.Add(RoleCaller, text, started, now); err != nil {
			c.logger.Error("history_caller_turn_failed", slog.String("error", err.Error()))
		}
		c.record(metrics.EventSTTFinal, nil)
		c.logger.Info("caller_turn", slog.Int("chars", len(text)))
		c.logger.Debug("caller_transcript", slog.String("text", redact.Text(text)))
	}
	if a.Has(ActStartGeneration) {
		c.startGeneration(ctx)
	}
	if a.Has(ActBuffer) && c.gen != nil {
		if !c.gen.first {
			c.gen.first = true
			c.record(metrics.EventLLMFirstToken, nil)
		}
		c.gen.buf.WriteString(ev.text)
	}
	if a.Has(ActCommitAgent) {
		c.commitAgent(now)
	}
	if a.Has(ActStartSynthesis) {
		c.speak(ctx, purposeReply, c.reply)
	}
	if a.Has(ActSendAudio) {
		c.sendAudio(ev.chunk)
	}
	if a.Has(ActFinishPlayback) {
		c.finishPlayback()
	}
	if a.Has(ActApologize) {
		c.apologize(ctx, ev.err)
	}
	if a.Has(ActSpeakGreeting) {
		greeting := c.sess.Agent.Greeting
		if _, err := c.sess.History.Add(RoleAgent, greeting, now, now); err != nil {
			c.logger.Error("history_agent_turn_failed", slog.String("error", err.Error()))
		}
		c.speak(ctx, purposeGreeting, greeting)
	}
	if a.Has(ActEnd) {
		c.end(ctx, ev)
	}
	if ev.kind == EventApologyFailed {
		c.logger.Warn("apology_failed", slog.String("reason", string(errorsx.Reason(ev.err))), slog.String("error", errString(ev.err)))
	}
}

func (c *Controller) forward(f frames.AudioFrame) {
	c.idleWD.Reset()
	in, err := c.codec.Inbound(f)
	if err != nil {
		c.logger.Warn("caller_frame_dropped", slog.Uint64("seq", f.Seq()), slog.String("error", err.Error()))
		c.record(metrics.EventFrameDropped, map[string]string{"reason": string(errorsx.ReasonCodecMalformed)})
		return
	}
	if err := c.deps.Transcriber.SendAudio(in); err != nil {
		if !c.sendFailing {
			c.sendFailing = true
			c.logger.Warn("transcriber_send_failed", slog.String("error", err.Error()))
		}
		return
	}
	c.sendFailing = false
}

func (c *Controller) startGeneration(ctx context.Context) {
	c.cancelGeneration()
	c.genSeq++
	gctx, cancel := context.WithCancel(ctx)
	req := llm.Request{System: c.sess.Agent.Instructions, Messages: c.sess.History.Messages()}
	stream, err := c.deps.Generator.Stream(gctx, req)
	if err != nil {
		cancel()
		c.raise(c.classify(err))
		return
	}
	c.gen = &generation{id: c.genSeq, stream: stream, cancel: cancel, started: time.Now()}
	c.adapterWD.Reset()
	c.logger.Debug("generation_started", slog.Uint64("generation_id", c.genSeq), slog.Int("messages", len(req.Messages)))
}

func (c *Controller) cancelGeneration() {
	if c.gen == nil {
		return
	}
	c.gen.cancel()
	c.gen = nil
}

func (c *Controller) commitAgent(now time.Time) {
	if c.gen == nil {
		c.reply = ""
		return
	}
	text := strings.TrimSpace(c.gen.buf.String())
	if c.deps.Shaper != nil {
		text = c.deps.Shaper.Shape(text)
	}
	started := c.gen.started
	c.cancelGeneration()
	c.reply = text
	c.record(metrics.EventLLMDone, nil)
	if text == "" {
		return
	}
	if _, err := c.sess.History.Add(RoleAgent, text, started, now); err != nil {
		c.logger.Error("history_agent_turn_failed", slog.String("error", err.Error()))
	}
}

// speak starts synthesizing text. Failures are raised as events for the
// table; an empty text completes immediately.
func (c *Controller) speak(ctx context.Context, p purpose, text string) {
	if c.utt != nil {
		c.dropPlayback()
	}
	if strings.TrimSpace(text) == "" {
		c.raise(event{kind: EventSynthesisComplete})
		return
	}
	uctx, cancel := context.WithCancel(ctx)
	stream, err := c.deps.Synthesizer.Synthesize(uctx, text, c.sess.Agent.Voice)
	if err != nil {
		cancel()
		if p == purposeApology {
			c.raise(event{kind: EventApologyFailed, err: err})
		} else {
			c.raise(c.classify(err))
		}
		return
	}
	c.uttSeq++
	c.utt = &utterance{id: c.uttSeq, purpose: p, stream: stream, cancel: cancel, token: newCancelToken()}
	c.adapterWD.Reset()
	c.logger.Debug("synthesis_started", slog.Uint64("utterance_id", c.uttSeq), slog.String("purpose", string(p)))
}

func (c *Controller) sendAudio(chunk tts.Chunk) {
	if c.utt == nil {
		return
	}
	out, err := c.codec.Outbound(chunk.Audio, chunk.Format)
	if err != nil {
		c.logger.Warn("synthesis_chunk_dropped", slog.String("error", err.Error()))
		c.record(metrics.EventFrameDropped, map[string]string{"reason": string(errorsx.ReasonCodecMalformed)})
		return
	}
	if len(out) > 0 && !c.utt.first {
		c.utt.first = true
		c.record(metrics.EventTTSFirstAudio, map[string]string{"purpose": string(c.utt.purpose)})
	}
	c.emit(c.utt.token, out)
}

// emit hands frames to the bridge. Only this goroutine cancels tokens, so a
// token never flips mid-slice. Interrupted audio stays off the wire because
// stopPlayback cancels the token and clears c.utt before the next chunk is
// read; the check below only stops a caller holding an already stale token.
func (c *Controller) emit(token *cancelToken, out []frames.AudioFrame) {
	for _, f := range out {
		if token.Cancelled() {
			return
		}
		if err := c.deps.Sink.Send(f); err != nil {
			c.logger.Warn("outbound_frame_failed", slog.Uint64("seq", f.Seq()), slog.String("error", err.Error()))
			continue
		}
		now := time.Now()
		if c.playbackUntil.Before(now) {
			c.playbackUntil = now
		}
		c.playbackUntil = c.playbackUntil.Add(f.Duration())
	}
}

func (c *Controller) finishPlayback() {
	if c.utt == nil {
		return
	}
	c.emit(c.utt.token, c.codec.Flush())
	c.record(metrics.EventTTSDone, map[string]string{"purpose": string(c.utt.purpose)})
	c.utt.cancel()
	c.utt = nil
}

// stopPlayback cancels synthesis and tells the bridge to drop queued audio.
func (c *Controller) stopPlayback(reason string) {
	active := c.utt != nil
	playing := active || time.Now().Before(c.playbackUntil)
	c.dropPlayback()
	if !playing {
		return
	}
	c.playbackUntil = time.Time{}
	if err := c.deps.Sink.Send(NewClearFrame(c.sess.StreamID, reason)); err != nil {
		c.logger.Warn("clear_failed", slog.String("error", err.Error()))
	}
	if reason == "barge_in" {
		c.logger.Info("barge_in", slog.Bool("synthesis_active", active))
		c.record(metrics.EventBargeIn, nil)
	}
}

// dropPlayback cancels the active utterance without touching the bridge.
func (c *Controller) dropPlayback() {
	if c.utt != nil {
		c.utt.token.Cancel()
		c.utt.cancel()
		c.utt = nil
		c.deps.Synthesizer.Cancel()
	}
	c.codec.Reset()
}

func (c *Controller) apologize(ctx context.Context, cause error) {
	c.cancelGeneration()
	c.stopPlayback("apology")
	reason := errorsx.Reason(cause)
	c.logger.Warn("adapter_error_apology", slog.String("reason", string(reason)), slog.String("error", errString(cause)))
	c.record(metrics.EventAdapterError, map[string]string{"reason": string(reason)})
	c.record(metrics.EventApology, nil)
	c.speak(ctx, purposeApology, c.sess.Agent.FallbackPhrase)
}

func (c *Controller) end(ctx context.Context, ev event) {
	c.cancelGeneration()
	c.dropPlayback()
	c.idleWD.Stop()
	c.adapterWD.Stop()

	reason := "call_end"
	closing := false
	switch ev.kind {
	case EventFatalError:
		c.endErr = ev.err
		reason = string(errorsx.Reason(ev.err))
		closing = true
	case EventIdleTimeout:
		c.endErr = errorsx.New(errorsx.ReasonIdleTimeout, "no caller audio for %s", c.cfg.IdleTimeout)
		reason = string(errorsx.ReasonIdleTimeout)
		closing = true
	case EventCallEnd:
		if ev.err != nil {
			c.endErr = ev.err
			reason = string(errorsx.Reason(ev.err))
		}
	}
	if closing && ctx.Err() == nil {
		c.sayClosing(ctx)
	}
	c.sess.markEnded(time.Now())
	c.logger.Info("call_session_ended", slog.String("reason", reason), slog.Int("turns", c.sess.History.Len()))
	c.record(metrics.EventCallEnded, map[string]string{"reason": reason})
}

// sayClosing speaks the closing phrase and waits for it to play, all within
// ClosingTimeout.
func (c *Controller) sayClosing(ctx context.Context) {
	phrase := c.sess.Agent.ClosingPhrase
	if phrase == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ClosingTimeout)
	defer cancel()
	stream, err := c.deps.Synthesizer.Synthesize(cctx, phrase, c.sess.Agent.Voice)
	if err != nil {
		c.logger.Warn("closing_phrase_failed", slog.String("error", err.Error()))
		return
	}
	token := newCancelToken()
	for chunk := range stream {
		if chunk.Err != nil {
			c.logger.Warn("closing_phrase_failed", slog.String("error", chunk.Err.Error()))
			return
		}
		out, err := c.codec.Outbound(chunk.Audio, chunk.Format)
		if err != nil {
			continue
		}
		c.emit(token, out)
	}
	c.emit(token, c.codec.Flush())
	if cctx.Err() != nil {
		return
	}
	now := time.Now()
	if _, err := c.sess.History.Add(RoleAgent, phrase, now, now); err != nil {
		c.logger.Debug("history_closing_turn_failed", slog.String("error", err.Error()))
	}
	if wait := time.Until(c.playbackUntil); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-cctx.Done():
		}
	}
}

func (c *Controller) teardown() {
	c.cancelGeneration()
	if c.utt != nil {
		c.utt.cancel()
		c.utt = nil
	}
	c.idleWD.Stop()
	c.adapterWD.Stop()

	var g errgroup.Group
	g.Go(c.deps.Transcriber.Close)
	g.Go(c.deps.Synthesizer.Close)
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(c.cfg.CloseGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("adapter_close_failed", slog.String("error", err.Error()))
		}
	case <-timer.C:
		c.logger.Warn("adapter_close_timeout", slog.Duration("grace", c.cfg.CloseGrace))
	}
}

func (c *Controller) generationStream() <-chan llm.Delta {
	if c.gen == nil {
		return nil
	}
	return c.gen.stream
}

func (c *Controller) synthesisStream() <-chan tts.Chunk {
	if c.utt == nil {
		return nil
	}
	return c.utt.stream
}

func (c *Controller) streaming() bool {
	return (c.gen != nil && c.gen.stream != nil) || (c.utt != nil && c.utt.stream != nil)
}

func (c *Controller) record(name string, extra map[string]string) {
	tags := map[string]string{
		"call_sid":  c.sess.ID,
		"stream_id": c.sess.StreamID,
		"trace_id":  c.sess.TraceID,
	}
	for k, v := range extra {
		tags[k] = v
	}
	metrics.Record(c.deps.Observer, name, tags, nil)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Validate reports missing collaborators.
func (d Deps) Validate() error {
	switch {
	case d.Transcriber == nil:
		return errors.New("turn: transcriber is required")
	case d.Generator == nil:
		return errors.New("turn: generator is required")
	case d.Synthesizer == nil:
		return errors.New("turn: synthesizer is required")
	case d.Sink == nil:
		return errors.New("turn: sink is required")
	}
	return nil
}
