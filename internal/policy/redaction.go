package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-._~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]*`)
	dataURIPrefix = regexp.MustCompile(`data:[a-z]+/[a-z0-9.+\-]+(?:;[a-z0-9=.\-]+)*;base64,`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, or card numbers get classified as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks bearer credentials and bare JWTs.
func RedactSecrets(input string) string {
	out := bearerPattern.ReplaceAllString(input, "Bearer [REDACTED_TOKEN]")
	return jwtPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
}

// Preview shortens user content for log lines and list previews: PII is masked
// and the result is cut to max runes with a trailing ellipsis.
func Preview(input string, max int) string {
	out, _ := RedactPII(strings.TrimSpace(input))
	if max <= 0 || utf8.RuneCountInString(out) <= max {
		return out
	}
	runes := []rune(out)
	return string(runes[:max]) + "…"
}

// ElideAudio replaces the payload of a base64 data URI with its length so
// audio never lands in logs.
func ElideAudio(uri string) string {
	loc := dataURIPrefix.FindStringIndex(uri)
	if loc == nil || loc[0] != 0 {
		return uri
	}
	return fmt.Sprintf("%s<%d bytes>", uri[:loc[1]], len(uri)-loc[1])
}
