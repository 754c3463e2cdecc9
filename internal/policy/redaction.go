package policy

import (
	"regexp"

	"github.com/jmertens/parley/internal/transcript"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactTranscript returns a copy of entries with utterance text redacted.
// Roles and elapsed times are preserved so audio seek offsets stay valid.
func RedactTranscript(entries []transcript.Entry) ([]transcript.Entry, bool) {
	out := make([]transcript.Entry, len(entries))
	anyChanged := false
	for i, e := range entries {
		text, changed := RedactPII(e.Text)
		e.Text = text
		out[i] = e
		anyChanged = anyChanged || changed
	}
	return out, anyChanged
}
