package voxline

import (
	"context"
	"time"

	"github.com/harunnryd/voxline/pkg/adapters/stt"
	"github.com/harunnryd/voxline/pkg/adapters/tts"
	"github.com/harunnryd/voxline/pkg/configutil"
	"github.com/harunnryd/voxline/pkg/llm"
	"github.com/harunnryd/voxline/pkg/providers/deepgram"
	"github.com/harunnryd/voxline/pkg/providers/elevenlabs"
	"github.com/harunnryd/voxline/pkg/providers/gemini"
	"github.com/harunnryd/voxline/pkg/providers/mock"
	"github.com/harunnryd/voxline/pkg/providers/openai"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	SmartFormat    *bool  `mapstructure:"smart_format"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type elevenlabsSettings struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	OutputFormat string  `mapstructure:"output_format"`
	BaseURL      string  `mapstructure:"base_url"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity"`
}

type openAISettings struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type geminiSettings struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int32   `mapstructure:"max_tokens"`
}

type mockSTTSettings struct {
	Utterances         []string `mapstructure:"utterances"`
	FramesPerUtterance int      `mapstructure:"frames_per_utterance"`
	EmitInterim        *bool    `mapstructure:"emit_interim"`
}

type mockTTSSettings struct {
	BytesPerWord int `mapstructure:"bytes_per_word"`
	ChunkDelayMS int `mapstructure:"chunk_delay_ms"`
}

type mockLLMSettings struct {
	Responses    []string `mapstructure:"responses"`
	ChunkDelayMS int      `mapstructure:"chunk_delay_ms"`
}

// RegisterBuiltinProviders registers every vendor adapter shipped with
// voxline, plus the scripted mock adapters used for local runs.
func RegisterBuiltinProviders(reg *ProviderRegistry) {
	reg.RegisterSTT("deepgram", buildDeepgram)
	reg.RegisterSTT("mock", buildMockSTT)
	reg.RegisterTTS("elevenlabs", buildElevenLabs)
	reg.RegisterTTS("mock", buildMockTTS)
	reg.RegisterLLM("openai", buildOpenAI)
	reg.RegisterLLM("gemini", buildGemini)
	reg.RegisterLLM("mock", buildMockLLM)
}

func buildDeepgram(cfg Config) (stt.Factory, error) {
	if err := configutil.ValidateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "interim", "vad_events", "smart_format", "utterance_end_ms"},
	}); err != nil {
		return nil, err
	}
	var settings deepgramSettings
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
		return nil, err
	}
	if settings.Model == "" {
		settings.Model = "nova-2-phonecall"
	}
	utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
	if err := configutil.IntRange(utteranceEnd, 0, 5000, "vendors.stt.settings.utterance_end_ms"); err != nil {
		return nil, err
	}
	return deepgram.NewFactory(deepgram.Config{
		APIKey:         settings.APIKey,
		Model:          settings.Model,
		Language:       settings.Language,
		Interim:        configutil.BoolValue(settings.Interim, true),
		VADEvents:      configutil.BoolValue(settings.VADEvents, true),
		SmartFormat:    configutil.BoolValue(settings.SmartFormat, true),
		UtteranceEndMS: utteranceEnd,
	}), nil
}

func buildMockSTT(cfg Config) (stt.Factory, error) {
	if err := configutil.ValidateSettings("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
		Optional: []string{"utterances", "frames_per_utterance", "emit_interim"},
	}); err != nil {
		return nil, err
	}
	var settings mockSTTSettings
	if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
		return nil, err
	}
	return mock.NewSTTFactory(mock.STTConfig{
		Utterances:         settings.Utterances,
		FramesPerUtterance: settings.FramesPerUtterance,
		EmitInterim:        configutil.BoolValue(settings.EmitInterim, false),
	}), nil
}

func buildElevenLabs(cfg Config) (tts.Factory, error) {
	if err := configutil.ValidateSettings("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format", "base_url", "stability", "similarity"},
	}); err != nil {
		return nil, err
	}
	var settings elevenlabsSettings
	if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
		return nil, err
	}
	if settings.ModelID == "" {
		settings.ModelID = "eleven_flash_v2_5"
	}
	return elevenlabs.NewFactory(elevenlabs.Config{
		APIKey:       settings.APIKey,
		VoiceID:      settings.VoiceID,
		ModelID:      settings.ModelID,
		OutputFormat: settings.OutputFormat,
		BaseURL:      settings.BaseURL,
		Stability:    settings.Stability,
		Similarity:   settings.Similarity,
	}), nil
}

func buildMockTTS(cfg Config) (tts.Factory, error) {
	if err := configutil.ValidateSettings("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
		Optional: []string{"bytes_per_word", "chunk_delay_ms"},
	}); err != nil {
		return nil, err
	}
	var settings mockTTSSettings
	if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
		return nil, err
	}
	mcfg := mock.TTSConfig{
		BytesPerWord: settings.BytesPerWord,
		ChunkDelay:   time.Duration(settings.ChunkDelayMS) * time.Millisecond,
	}
	return func(tts.Config) (tts.Synthesizer, error) {
		return mock.NewTTS(mcfg), nil
	}, nil
}

func buildOpenAI(_ context.Context, cfg Config) (llm.Generator, error) {
	if err := configutil.ValidateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url", "temperature", "max_tokens"},
	}); err != nil {
		return nil, err
	}
	var settings openAISettings
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.Model, "vendors.llm.settings.model"); err != nil {
		return nil, err
	}
	gen := openai.NewGenerator(settings.APIKey, settings.Model)
	if settings.BaseURL != "" {
		gen.BaseURL = settings.BaseURL
	}
	gen.Temperature = settings.Temperature
	gen.MaxTokens = settings.MaxTokens
	return gen, nil
}

func buildGemini(ctx context.Context, cfg Config) (llm.Generator, error) {
	if err := configutil.ValidateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url", "temperature", "max_tokens"},
	}); err != nil {
		return nil, err
	}
	var settings geminiSettings
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(settings.Model, "vendors.llm.settings.model"); err != nil {
		return nil, err
	}
	return gemini.NewGenerator(ctx, gemini.Config{
		APIKey:      settings.APIKey,
		Model:       settings.Model,
		BaseURL:     settings.BaseURL,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	})
}

func buildMockLLM(_ context.Context, cfg Config) (llm.Generator, error) {
	if err := configutil.ValidateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Optional: []string{"responses", "chunk_delay_ms"},
	}); err != nil {
		return nil, err
	}
	var settings mockLLMSettings
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
		return nil, err
	}
	return mock.NewLLM(mock.LLMConfig{
		Responses:  settings.Responses,
		ChunkDelay: time.Duration(settings.ChunkDelayMS) * time.Millisecond,
	}), nil
}
