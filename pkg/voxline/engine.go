// Package voxline assembles a running phone agent from configuration: the
// carrier transport, vendor adapters, the agent directory and the call
// registry.
package voxline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/agents"
	"github.com/harunnryd/voxline/pkg/configutil"
	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/llm"
	"github.com/harunnryd/voxline/pkg/logging"
	"github.com/harunnryd/voxline/pkg/metrics"
	"github.com/harunnryd/voxline/pkg/observers"
	"github.com/harunnryd/voxline/pkg/pipeline"
	"github.com/harunnryd/voxline/pkg/processors"
	"github.com/harunnryd/voxline/pkg/redact"
	"github.com/harunnryd/voxline/pkg/resilience"
	"github.com/harunnryd/voxline/pkg/runner"
	"github.com/harunnryd/voxline/pkg/transports"
	mocktransport "github.com/harunnryd/voxline/pkg/transports/mock"
	twiliotransport "github.com/harunnryd/voxline/pkg/transports/twilio"
	"github.com/harunnryd/voxline/pkg/turn"
)

const hangupTimeout = 5 * time.Second

type EngineOptions struct {
	Config Config
	// Providers defaults to the built-in vendor adapters.
	Providers *ProviderRegistry
	// Transport defaults to the one named in Config.Transports.
	Transport transports.Transport
	// Directory defaults to the one named in Config.Agents.
	Directory agents.Directory
	// Observers receive every metrics event alongside the built-in ones.
	Observers []metrics.Observer
	Logger    *slog.Logger
}

type Engine struct {
	cfg       Config
	turnCfg   turn.Config
	logger    *slog.Logger
	providers *ProviderRegistry
	transport transports.Transport
	directory agents.Directory
	registry  *pipeline.Registry
	runner    *pipeline.Runner

	sttFactory stt.Factory
	ttsFactory tts.Factory
	generator  llm.Generator
	shaper     *processors.ReplyShaper
	policy     resilience.RetryPolicy
	sttBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker

	obs      metrics.Observer
	asyncObs *metrics.AsyncObserver
	closers  []func()

	// pending holds frames for calls whose admission is still running.
	admitMu   sync.Mutex
	pending   map[string]*pendingCall
	holdLimit int

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterBuiltinProviders(providers)
	}

	e := &Engine{
		cfg:       cfg,
		turnCfg:   cfg.TurnSettings(),
		logger:    logging.NewComponentLogger(logger, "engine"),
		providers: providers,
		pending:   make(map[string]*pendingCall),
		holdLimit: cfg.Pipeline.InboxSize,
	}
	if e.holdLimit <= 0 {
		e.holdLimit = 64
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if err := e.buildObservers(logger, opts.Observers); err != nil {
		e.close()
		return nil, err
	}
	if err := e.buildAdapters(ctx); err != nil {
		e.close()
		return nil, err
	}

	e.transport = opts.Transport
	if e.transport == nil {
		t, err := BuildTransport(cfg)
		if err != nil {
			e.close()
			return nil, err
		}
		e.transport = t
	}

	e.directory = opts.Directory
	if e.directory == nil {
		dir, err := e.buildDirectory(ctx)
		if err != nil {
			e.close()
			return nil, err
		}
		e.directory = dir
	}

	e.registry = pipeline.NewRegistry(e.newCall, pipeline.Config{
		MaxConcurrent: cfg.Pipeline.MaxConcurrentCalls,
		InboxSize:     cfg.Pipeline.InboxSize,
		EndTimeout:    configutil.Millis(cfg.Pipeline.EndTimeoutMS, 5*time.Second),
		Observer:      e.obs,
		Logger:        logger,
		OnEnded:       e.onCallEnded,
	})
	e.runner = pipeline.NewRunner(e.registry, runner.Hooks{
		OnStart: e.onStart,
		OnStop:  e.onStop,
	},
		configutil.Millis(cfg.Pipeline.DrainGraceMS, 30*time.Second),
		configutil.Millis(cfg.Pipeline.ShutdownTimeoutMS, 45*time.Second),
	)
	return e, nil
}

func (e *Engine) buildObservers(logger *slog.Logger, extra []metrics.Observer) error {
	list := []metrics.Observer{
		observers.NewLatencyObserver(logger),
		observers.NewLoggerObserver(logger),
	}
	if path := strings.TrimSpace(e.cfg.Observability.MetricsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open observability.metrics_file: %w", err)
		}
		e.closers = append(e.closers, func() { _ = f.Close() })
		list = append(list, metrics.NewJSONLObserver(f))
	}
	list = append(list, extra...)

	var inner metrics.Observer = observers.NewMultiObserver(list...)
	if rate := e.cfg.Observability.SampleRate; rate > 0 && rate < 1 {
		inner = metrics.NewSamplingObserver(inner, rate)
	}
	e.asyncObs = metrics.NewAsyncObserver(inner, e.cfg.Observability.AsyncBuffer)
	e.obs = e.asyncObs
	return nil
}

// buildAdapters resolves the configured vendors. Each vendor gets one
// circuit breaker shared by every call, so an outage trips it once.
func (e *Engine) buildAdapters(ctx context.Context) error {
	res := e.cfg.Resilience
	backoff := configutil.Millis(res.RetryBackoffMS, 200*time.Millisecond)
	cooldown := configutil.Millis(res.BreakerCooldownMS, 30*time.Second)
	e.policy = resilience.NewRetryPolicy(res.Retries, backoff)
	e.sttBreaker = resilience.NewCircuitBreaker(res.BreakerThreshold, cooldown)
	e.ttsBreaker = resilience.NewCircuitBreaker(res.BreakerThreshold, cooldown)

	var err error
	if e.sttFactory, err = e.providers.BuildSTTFactory(e.cfg.Vendors.STT.Provider, e.cfg); err != nil {
		return err
	}
	if e.ttsFactory, err = e.providers.BuildTTSFactory(e.cfg.Vendors.TTS.Provider, e.cfg); err != nil {
		return err
	}
	gen, err := e.providers.BuildLLM(ctx, e.cfg.Vendors.LLM.Provider, e.cfg)
	if err != nil {
		return err
	}
	retrying := llm.NewRetryingGenerator(gen, llm.RetryConfig{
		MaxAttempts: res.Retries + 1,
		BaseDelay:   backoff,
	})
	guarded := llm.NewCircuitBreakerGenerator(retrying, resilience.NewCircuitBreaker(res.BreakerThreshold, cooldown))
	guarded.SetObserver(e.obs)
	e.generator = guarded
	e.shaper = processors.NewReplyShaper(processors.ReplyShaperConfig{
		MaxChars:     e.cfg.Turn.Reply.MaxChars,
		MaxSentences: e.cfg.Turn.Reply.MaxSentences,
		Replacements: e.cfg.Turn.Reply.Replacements,
	})
	return nil
}

func (e *Engine) buildDirectory(ctx context.Context) (agents.Directory, error) {
	ac := e.cfg.Agents
	if strings.EqualFold(strings.TrimSpace(ac.Source), "postgres") {
		pool, err := agents.Connect(ctx, ac.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		if ac.Postgres.Migrate {
			if err := agents.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		return agents.NewPostgresDirectory(pool), nil
	}
	byNumber := make(map[string]agents.Snapshot)
	for _, a := range ac.Static {
		for _, n := range a.Numbers {
			byNumber[n] = a.Snapshot
		}
	}
	return agents.NewStaticDirectory(byNumber, ac.Default), nil
}

// BuildTransport constructs the carrier transport named in configuration.
func BuildTransport(cfg Config) (transports.Transport, error) {
	switch providerKey(cfg.Transports.Provider) {
	case "twilio":
		if err := configutil.ValidateSettings("transports.settings", cfg.Transports.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token"},
			Optional: []string{"public_url", "server_addr", "voice_path", "ws_path", "status_callback_path", "allow_any_origin", "allowed_origins", "recv_buffer", "send_buffer"},
		}); err != nil {
			return nil, err
		}
		var settings twiliotransport.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AccountSID, "transports.settings.account_sid"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AuthToken, "transports.settings.auth_token"); err != nil {
			return nil, err
		}
		return twiliotransport.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
}

// newCall builds the controller for an admitted call. The agent is resolved
// once here and captured for the life of the call.
func (e *Engine) newCall(ctx context.Context, start pipeline.CallStart) (pipeline.Call, error) {
	snap, err := agents.Resolve(ctx, e.directory, start.To)
	if err != nil {
		return nil, err
	}
	snap = e.cfg.applyPhrases(snap)

	sess := turn.NewSession(start.CallID, start.StreamID, start.TraceID, snap)
	sess.From, sess.To = start.From, start.To

	transcriber, err := e.sttFactory(stt.Config{
		CallSID:  start.CallID,
		StreamID: start.StreamID,
		TraceID:  start.TraceID,
		Format:   e.turnCfg.TranscriberFormat,
		Language: snap.Language,
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	synth, err := e.ttsFactory(tts.Config{
		CallSID:  start.CallID,
		StreamID: start.StreamID,
		TraceID:  start.TraceID,
		Voice:    snap.Voice,
	})
	if err != nil {
		_ = transcriber.Close()
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}

	return turn.NewController(sess, turn.Deps{
		Transcriber: stt.WithResilience(transcriber, e.policy, e.sttBreaker),
		Generator:   e.generator,
		Synthesizer: tts.WithResilience(synth, e.policy, e.ttsBreaker),
		Sink:        turn.SinkFunc(e.transport.Send),
		Shaper:      e.shaper,
		Observer:    e.obs,
		Logger:      e.logger,
	}, e.turnCfg), nil
}

// Start begins accepting calls. Cancelling ctx drains the engine the same
// way Stop does.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	go e.routeTransport(e.ctx)
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

// Stop refuses new calls, lets live ones finish within the drain grace,
// ends the rest, then shuts the transport down.
func (e *Engine) Stop() error {
	return e.runner.Stop()
}

func (e *Engine) onStart() {
	attrs := []any{
		slog.String("transport", e.transport.Name()),
		slog.String("stt", e.cfg.Vendors.STT.Provider),
		slog.String("tts", e.cfg.Vendors.TTS.Provider),
		slog.String("llm", e.cfg.Vendors.LLM.Provider),
		slog.Int("max_concurrent_calls", e.cfg.Pipeline.MaxConcurrentCalls),
	}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			attrs = append(attrs, slog.Any(k, v))
		}
	}
	e.logger.Info("engine_ready", attrs...)
}

func (e *Engine) onStop() {
	_ = e.transport.Stop()
	e.close()
	e.logger.Info("engine_stopped", slog.Int64("dropped_metrics", e.asyncObs.Dropped()))
}

func (e *Engine) close() {
	e.cancel()
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	for _, fn := range e.closers {
		fn()
	}
	e.closers = nil
}

func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			e.route(f)
		}
	}
}

// route delivers one transport frame: call_start admits a call, audio goes to
// its inbox, call_end is handed to the call so it can record why it ended.
// Admission runs off this goroutine, so a slow agent lookup for one call
// never stalls the others.
func (e *Engine) route(f frames.Frame) {
	meta := f.Meta()
	callSID := meta[frames.MetaCallSID]
	if callSID == "" {
		return
	}
	if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SystemCallStart {
		e.admit(callSID, meta)
		return
	}
	if e.hold(callSID, f) {
		return
	}
	e.deliver(callSID, f)
}

type pendingCall struct {
	held    []frames.Frame
	dropped int
}

// hold parks f behind an admission still in flight. call_end is always
// kept; audio beyond the inbox size is dropped, as a full inbox would.
func (e *Engine) hold(callSID string, f frames.Frame) bool {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	p, ok := e.pending[callSID]
	if !ok {
		return false
	}
	if f.Kind() == frames.KindAudio && len(p.held) >= e.holdLimit {
		p.dropped++
		return true
	}
	p.held = append(p.held, f)
	return true
}

func (e *Engine) deliver(callSID string, f frames.Frame) {
	if sf, ok := f.(frames.SystemFrame); ok {
		if sf.Name() == frames.SystemCallEnd {
			e.finish(callSID, f)
		}
		return
	}
	entry, ok := e.registry.Get(callSID)
	if !ok {
		return
	}
	if !entry.Push(f) && entry.Dropped() == 1 {
		e.logger.Warn("call_inbox_full", slog.String("call_sid", callSID))
	}
}

// admit registers a call in the background. Frames routed meanwhile are
// held and replayed in order once the call exists. A call_start for a call
// that is already live is a reconnected media stream: the transport routes
// outbound audio to the new stream, and the call carries on.
func (e *Engine) admit(callSID string, meta map[string]string) {
	if _, ok := e.registry.Get(callSID); ok {
		e.logger.Info("call_stream_replaced",
			slog.String("call_sid", callSID),
			slog.String("stream_id", meta[frames.MetaStreamID]))
		return
	}
	e.admitMu.Lock()
	if _, ok := e.pending[callSID]; ok {
		e.admitMu.Unlock()
		return
	}
	e.pending[callSID] = &pendingCall{}
	e.admitMu.Unlock()

	start := pipeline.CallStart{
		CallID:   callSID,
		StreamID: meta[frames.MetaStreamID],
		TraceID:  meta[frames.MetaTraceID],
		From:     meta[frames.MetaFromNumber],
		To:       meta[frames.MetaToNumber],
	}
	go func() {
		_, err := e.registry.Create(e.ctx, start)
		e.admitMu.Lock()
		p := e.pending[callSID]
		delete(e.pending, callSID)
		if err == nil {
			// Under admitMu, so route cannot slip a newer frame ahead.
			for _, f := range p.held {
				e.deliver(callSID, f)
			}
		}
		e.admitMu.Unlock()
		if p.dropped > 0 {
			e.logger.Warn("call_admission_audio_dropped", slog.String("call_sid", callSID), slog.Int("frames", p.dropped))
		}
		if err != nil && !errors.Is(err, pipeline.ErrDuplicateCall) {
			e.hangup(callSID, err)
		}
	}()
}

func (e *Engine) finish(callSID string, f frames.Frame) {
	entry, ok := e.registry.Get(callSID)
	if !ok {
		return
	}
	if entry.Push(f) {
		return
	}
	reason := f.Meta()[frames.MetaCallEndReason]
	go func() {
		if err := e.registry.End(e.ctx, callSID, reason); err != nil {
			e.logger.Warn("call_end_failed", slog.String("call_sid", callSID), slog.String("error", err.Error()))
		}
	}()
}

// onCallEnded hangs up calls that ended on our side. A caller hangup or a
// lost media stream leaves nothing to hang up.
func (e *Engine) onCallEnded(entry *pipeline.Entry, err error) {
	if err == nil || errorsx.HasReason(err, errorsx.ReasonBridgeDisconnect) {
		return
	}
	e.hangup(entry.CallID, err)
}

func (e *Engine) hangup(callSID string, cause error) {
	h, ok := e.transport.(transports.Hanger)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := h.Hangup(ctx, callSID); err != nil {
		e.logger.Error("call_hangup_failed",
			slog.String("call_sid", callSID),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Info("call_hung_up",
		slog.String("call_sid", callSID),
		slog.String("reason_code", string(errorsx.Reason(cause))))
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Registry() *pipeline.Registry { return e.registry }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }
