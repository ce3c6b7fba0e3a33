package voxline

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/voxline/pkg/agents"
	"github.com/harunnryd/voxline/pkg/codec"
	"github.com/harunnryd/voxline/pkg/configutil"
	"github.com/harunnryd/voxline/pkg/frames"
	"github.com/harunnryd/voxline/pkg/turn"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Agents        AgentsConfig        `mapstructure:"agents"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PipelineConfig struct {
	// MaxConcurrentCalls of 0 admits any number of calls.
	MaxConcurrentCalls int `mapstructure:"max_concurrent_calls"`
	InboxSize          int `mapstructure:"inbox_size"`
	EndTimeoutMS       int `mapstructure:"end_timeout_ms"`
	DrainGraceMS       int `mapstructure:"drain_grace_ms"`
	ShutdownTimeoutMS  int `mapstructure:"shutdown_timeout_ms"`
}

type TurnConfig struct {
	AdapterSilenceTimeoutMS int         `mapstructure:"adapter_silence_timeout_ms"`
	IdleTimeoutMS           int         `mapstructure:"idle_timeout_ms"`
	ClosingTimeoutMS        int         `mapstructure:"closing_timeout_ms"`
	CloseGraceMS            int         `mapstructure:"close_grace_ms"`
	FallbackPhrase          string      `mapstructure:"fallback_phrase"`
	ClosingPhrase           string      `mapstructure:"closing_phrase"`
	Reply                   ReplyConfig `mapstructure:"reply"`
}

// ReplyConfig keeps generated replies short enough for a phone turn.
type ReplyConfig struct {
	MaxChars     int               `mapstructure:"max_chars"`
	MaxSentences int               `mapstructure:"max_sentences"`
	Replacements map[string]string `mapstructure:"replacements"`
}

type AudioConfig struct {
	FrameMS int `mapstructure:"frame_ms"`
	// AdapterSampleRate is the linear16 rate handed to the transcriber.
	// 8000 keeps caller audio as μ-law.
	AdapterSampleRate int `mapstructure:"adapter_sample_rate"`
}

type AgentsConfig struct {
	// Source is "static" or "postgres".
	Source   string           `mapstructure:"source"`
	Static   []StaticAgent    `mapstructure:"static"`
	Default  *agents.Snapshot `mapstructure:"default"`
	Postgres PostgresConfig   `mapstructure:"postgres"`
}

// StaticAgent serves one agent on a set of numbers.
type StaticAgent struct {
	Numbers         []string `mapstructure:"numbers"`
	agents.Snapshot `mapstructure:",squash"`
}

type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type ResilienceConfig struct {
	Retries           int `mapstructure:"retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type ObservabilityConfig struct {
	// MetricsFile receives every metrics event as a JSON line when set.
	MetricsFile string  `mapstructure:"metrics_file"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	AsyncBuffer int     `mapstructure:"async_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pipeline.max_concurrent_calls", 50)
	v.SetDefault("pipeline.inbox_size", 64)
	v.SetDefault("pipeline.end_timeout_ms", 5000)
	v.SetDefault("pipeline.drain_grace_ms", 30000)
	v.SetDefault("pipeline.shutdown_timeout_ms", 45000)
	v.SetDefault("turn.adapter_silence_timeout_ms", 10000)
	v.SetDefault("turn.idle_timeout_ms", 60000)
	v.SetDefault("turn.closing_timeout_ms", 5000)
	v.SetDefault("turn.close_grace_ms", 2000)
	v.SetDefault("turn.reply.max_chars", 420)
	v.SetDefault("turn.reply.max_sentences", 3)
	v.SetDefault("audio.frame_ms", 20)
	v.SetDefault("audio.adapter_sample_rate", 16000)
	v.SetDefault("agents.source", "static")
	v.SetDefault("agents.postgres.migrate", false)
	v.SetDefault("resilience.retries", 1)
	v.SetDefault("resilience.retry_backoff_ms", 200)
	v.SetDefault("resilience.breaker_threshold", 5)
	v.SetDefault("resilience.breaker_cooldown_ms", 30000)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.async_buffer", 1024)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Pipeline.MaxConcurrentCalls < 0 {
		return fmt.Errorf("pipeline.max_concurrent_calls must not be negative, got %d", c.Pipeline.MaxConcurrentCalls)
	}
	if err := configutil.IntRange(c.Audio.FrameMS, 0, 100, "audio.frame_ms"); err != nil {
		return err
	}
	if r := c.Audio.AdapterSampleRate; r != 0 && r%frames.Telephony.Rate != 0 {
		return fmt.Errorf("audio.adapter_sample_rate must be a multiple of %d, got %d", frames.Telephony.Rate, r)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate)
	}
	switch strings.ToLower(strings.TrimSpace(c.Agents.Source)) {
	case "static", "":
		if len(c.Agents.Static) == 0 && c.Agents.Default == nil {
			return fmt.Errorf("agents.static or agents.default is required for the static source")
		}
		for i, a := range c.Agents.Static {
			if len(a.Numbers) == 0 {
				return fmt.Errorf("agents.static[%d].numbers is required", i)
			}
		}
	case "postgres":
		if err := configutil.RequireString(c.Agents.Postgres.DSN, "agents.postgres.dsn"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("agents.source must be one of [static, postgres], got %s", c.Agents.Source)
	}
	return nil
}

// TurnSettings converts the turn and audio sections for the call controller.
func (c Config) TurnSettings() turn.Config {
	format := frames.Telephony
	if r := c.Audio.AdapterSampleRate; r > 0 && r != frames.Telephony.Rate {
		format = frames.Format{Rate: r, Channels: 1, Encoding: frames.EncodingLinear16}
	}
	return turn.Config{
		IdleTimeout:       configutil.Millis(c.Turn.IdleTimeoutMS, 60*time.Second),
		AdapterTimeout:    configutil.Millis(c.Turn.AdapterSilenceTimeoutMS, 10*time.Second),
		ClosingTimeout:    configutil.Millis(c.Turn.ClosingTimeoutMS, 5*time.Second),
		CloseGrace:        configutil.Millis(c.Turn.CloseGraceMS, 2*time.Second),
		FrameDuration:     configutil.Millis(c.Audio.FrameMS, codec.DefaultFrameDuration),
		TranscriberFormat: format,
	}
}

// applyPhrases fills agent phrases left empty with the configured ones.
func (c Config) applyPhrases(s agents.Snapshot) agents.Snapshot {
	if s.FallbackPhrase == "" {
		s.FallbackPhrase = c.Turn.FallbackPhrase
	}
	if s.ClosingPhrase == "" {
		s.ClosingPhrase = c.Turn.ClosingPhrase
	}
	return s.WithDefaults()
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

// expandValue expands ${VAR} references in every settable string reachable
// from v. Settings maps are handled by expandSettings.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
