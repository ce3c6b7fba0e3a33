// Package agents resolves which agent answers a dialled number and captures
// its configuration for the lifetime of a call.
package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/voxline/pkg/errorsx"
)

const (
	DefaultFallbackPhrase = "Sorry, I'm having trouble right now. Could you say that again?"
	DefaultClosingPhrase  = "Sorry, I have to end the call now. Goodbye."
)

// ErrNotFound is returned when no agent serves a number.
var ErrNotFound = errors.New("agents: no agent for number")

// Snapshot is an agent's configuration as captured when a call starts.
// Later edits to the agent do not affect calls already in progress.
type Snapshot struct {
	AgentID        string `mapstructure:"id"`
	Instructions   string `mapstructure:"instructions"`
	Greeting       string `mapstructure:"greeting"`
	Voice          string `mapstructure:"voice"`
	Language       string `mapstructure:"language"`
	FallbackPhrase string `mapstructure:"fallback_phrase"`
	ClosingPhrase  string `mapstructure:"closing_phrase"`
}

// WithDefaults fills the spoken phrases the call controller relies on.
func (s Snapshot) WithDefaults() Snapshot {
	if s.FallbackPhrase == "" {
		s.FallbackPhrase = DefaultFallbackPhrase
	}
	if s.ClosingPhrase == "" {
		s.ClosingPhrase = DefaultClosingPhrase
	}
	if s.Language == "" {
		s.Language = "en"
	}
	return s
}

// Directory looks up the agent for a dialled number.
type Directory interface {
	Lookup(ctx context.Context, number string) (Snapshot, error)
}

// Resolve wraps a lookup so a missing agent or a failing store ends the call.
func Resolve(ctx context.Context, dir Directory, number string) (Snapshot, error) {
	snap, err := dir.Lookup(ctx, NormalizeNumber(number))
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, errorsx.Wrap(err, errorsx.ReasonAgentNotFound)
	}
	if err != nil {
		return Snapshot{}, errorsx.Wrap(err, errorsx.ReasonAgentLookup)
	}
	return snap.WithDefaults(), nil
}

// NormalizeNumber keeps digits and a leading plus sign.
func NormalizeNumber(number string) string {
	number = strings.TrimSpace(number)
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
