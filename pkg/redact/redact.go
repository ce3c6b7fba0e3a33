// Package redact masks caller PII before it reaches logs: phone numbers
// from call setup and emails, phone numbers and card numbers spoken in
// transcripts.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	digitRe = regexp.MustCompile(`\+?\d[\d \-]{7,}\d`)
)

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks a transcript. A long digit run that passes the Luhn check is
// treated as a card number; any other is a phone number.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	return digitRe.ReplaceAllStringFunc(out, func(run string) string {
		if !strings.HasPrefix(run, "+") && isCard(run) {
			return "[REDACTED_CARD]"
		}
		return "[REDACTED_PHONE]"
	})
}

// Number masks all but the last four digits of a caller or agent number,
// keeping its punctuation so the log still reads like a number.
func Number(in string) string {
	if !enabled.Load() {
		return in
	}
	keep := countDigits(in) - 4
	if keep < 0 {
		return in
	}
	b := []byte(in)
	for i, c := range b {
		if keep == 0 {
			break
		}
		if isDigit(c) {
			b[i] = '*'
			keep--
		}
	}
	return string(b)
}

func isCard(run string) bool {
	n := countDigits(run)
	if n < 13 || n > 19 {
		return false
	}
	sum, double := 0, false
	for i := len(run) - 1; i >= 0; i-- {
		if !isDigit(run[i]) {
			continue
		}
		d := int(run[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func countDigits(s string) int {
	n := 0
	for i := range len(s) {
		if isDigit(s[i]) {
			n++
		}
	}
	return n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
