package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type deepgramSettings struct {
	APIKey     string `mapstructure:"api_key"`
	SampleRate int    `mapstructure:"sample_rate"`
	Interim    *bool  `mapstructure:"interim"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out deepgramSettings
	err := DecodeSettings(map[string]any{
		"API-Key":     "secret",
		"sample_rate": "16000",
		"interim":     false,
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" || out.SampleRate != 16000 {
		t.Fatalf("unexpected decode result %+v", out)
	}
	if BoolValue(out.Interim, true) {
		t.Fatalf("expected explicit false to win over fallback")
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	if err := ValidateSettings("vendors.stt.settings", map[string]any{"API-Key": "x", "model": "nova-2"}, schema); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	err := ValidateSettings("vendors.stt.settings", map[string]any{"api_key": " ", "voice": "x", "pitch": 1}, schema)
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(serr.Missing) != 1 || len(serr.Unknown) != 2 || serr.Unknown[0] != "pitch" {
		t.Fatalf("unexpected error detail %+v", serr)
	}
	want := "vendors.stt.settings: missing: api_key; unknown: pitch, voice"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}

	if err := ValidateSettings("", map[string]any{"api_key": "x", "extra": 1}, Schema{Required: []string{"api_key"}, AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys to be allowed, got %v", err)
	}
	if err := ValidateSettings("", nil, schema); err == nil || !strings.HasPrefix(err.Error(), "missing: api_key") {
		t.Fatalf("expected missing key for nil settings, got %v", err)
	}
}

func TestIntRange(t *testing.T) {
	if err := IntRange(1000, 0, 5000, "utterance_end_ms"); err != nil {
		t.Fatalf("expected in range, got %v", err)
	}
	if err := IntRange(9000, 0, 5000, "utterance_end_ms"); err == nil || !strings.Contains(err.Error(), "utterance_end_ms") {
		t.Fatalf("expected range error naming the key, got %v", err)
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(250, time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	if got := Millis(0, time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}
