// Package sanitize validates and normalizes user-supplied text before it is
// logged, cached, or forwarded upstream. Rules are declared per route class
// so every handler applies the same mechanism with different bounds.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// OverlengthPolicy decides what happens to input longer than MaxLen.
type OverlengthPolicy int

const (
	// Truncate caps the input at MaxLen and accepts it.
	Truncate OverlengthPolicy = iota
	// Reject refuses input longer than MaxLen outright.
	Reject
)

// Rules bounds and shapes one field of user input. Length bounds count
// characters (runes), not bytes, so multibyte input is not penalized.
type Rules struct {
	Field      string // name used in rejection messages, e.g. "query", "message"
	MinLen     int
	MaxLen     int
	Overlength OverlengthPolicy

	// DenyMarkup rejects input matching the dangerous-markup deny list
	// (script tags, javascript: URIs, inline event handlers, embed tags).
	DenyMarkup bool

	// NormalizeQuery lowercases, folds non-word runs to single spaces and
	// caps the number of terms. The result doubles as a cache key.
	NormalizeQuery bool
	MaxTerms       int
}

// RejectionError is a structured validation failure. It is safe to return
// verbatim in a 400 response body.
type RejectionError struct {
	Field  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|embed|object)\b`),
}

// Sanitize applies rules to raw input. On success the returned string is
// trimmed, control-stripped, length-bounded and (if requested) normalized;
// on failure it returns a *RejectionError and an empty string.
func Sanitize(raw string, rules Rules) (string, error) {
	s := strings.TrimSpace(raw)
	s = stripControl(s)

	if rules.MaxLen > 0 && utf8.RuneCountInString(s) > rules.MaxLen {
		if rules.Overlength == Reject {
			return "", &RejectionError{Field: rules.Field, Reason: fmt.Sprintf("too long (max %d characters)", rules.MaxLen)}
		}
		s = strings.TrimSpace(truncate(s, rules.MaxLen))
	}

	if rules.DenyMarkup {
		for _, p := range denyPatterns {
			if p.MatchString(s) {
				return "", &RejectionError{Field: rules.Field, Reason: "contains invalid content"}
			}
		}
	}

	if rules.NormalizeQuery {
		s = NormalizeQuery(s, rules.MaxTerms)
	}

	if utf8.RuneCountInString(s) < rules.MinLen {
		return "", &RejectionError{Field: rules.Field, Reason: fmt.Sprintf("too short (min %d characters)", rules.MinLen)}
	}

	return s, nil
}

// NormalizeQuery lowercases, folds runs of non-word characters to single
// spaces, collapses whitespace and keeps at most maxTerms terms. A zero or
// negative maxTerms means no term cap.
func NormalizeQuery(s string, maxTerms int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	terms := strings.Fields(b.String())
	if maxTerms > 0 && len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return strings.Join(terms, " ")
}

// stripControl drops null bytes and non-printable control characters while
// keeping newlines and tabs, which are legitimate in chat messages.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == 0 || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// truncate keeps the first max runes of s, so a UTF-8 sequence is never
// split.
func truncate(s string, max int) string {
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
