// Package processors prepares generated replies for the phone: markup a
// synthesizer would read aloud is removed and replies are kept to a short
// spoken turn.
package processors

import (
	"regexp"
	"strings"
)

type ReplyShaperConfig struct {
	MaxChars     int
	MaxSentences int
	// Replacements rewrite written forms into how they should be spoken,
	// matched case-insensitively.
	Replacements map[string]string
}

// ReplyShaper enforces short-turn replies for telephony.
type ReplyShaper struct {
	cfg      ReplyShaperConfig
	replacer []replacement
}

type replacement struct {
	re *regexp.Regexp
	to string
}

var (
	markupRe     = regexp.MustCompile("[*_`#>]+")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	listMarkerRe = regexp.MustCompile(`(?m)^\s*(?:[-+]|\d+[.)])\s+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

func NewReplyShaper(cfg ReplyShaperConfig) *ReplyShaper {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 420
	}
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = 3
	}
	s := &ReplyShaper{cfg: cfg}
	for from, to := range cfg.Replacements {
		if strings.TrimSpace(from) == "" {
			continue
		}
		s.replacer = append(s.replacer, replacement{
			re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`),
			to: to,
		})
	}
	return s
}

// Shape returns the text to speak for a generated reply.
func (s *ReplyShaper) Shape(text string) string {
	text = linkRe.ReplaceAllString(text, "$1")
	text = listMarkerRe.ReplaceAllString(text, "")
	text = markupRe.ReplaceAllString(text, "")
	for _, r := range s.replacer {
		text = r.re.ReplaceAllString(text, r.to)
	}
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	if text == "" {
		return ""
	}
	text = truncateSentences(text, s.cfg.MaxSentences)
	if len(text) > s.cfg.MaxChars {
		text = truncateWords(text, s.cfg.MaxChars)
	}
	return text
}

func truncateSentences(text string, maxSentences int) string {
	var out strings.Builder
	count := 0
	runes := []rune(text)
	for i, r := range runes {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// "9.30" and "e.g." are not sentence ends.
			if i+1 < len(runes) && runes[i+1] != ' ' {
				continue
			}
			count++
			if count >= maxSentences {
				break
			}
		}
	}
	result := strings.TrimSpace(out.String())
	if result == "" {
		return text
	}
	return result
}

// truncateWords cuts text to at most limit bytes without splitting a word.
func truncateWords(text string, limit int) string {
	cut := text[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:")
}
