package exitdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Normalisation rule for "same error" detection. The rule is deliberately
// deterministic and documented here, in application order:
//
//  1. lowercase
//  2. ISO-8601 timestamps and HH:MM:SS clock times replaced with "<ts>"
//  3. absolute paths replaced with "<path>"
//  4. hex literals of 6+ digits (hashes, addresses) replaced with "<hex>"
//  5. decimal runs of 4+ digits (pids, ports, line counts) replaced with "<n>"
//  6. whitespace collapsed to single spaces, leading/trailing trimmed
//
// The normalised text is hashed with SHA-256 and truncated to 16 hex
// characters. Two failures differing only in timestamps, paths, or
// whitespace therefore fingerprint identically.
// The regexes run after the lowercase step, so they match the lowercase
// forms only.
var (
	isoTimestampRegex = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(\.\d+)?(z|[+-]\d{2}:?\d{2})?`)
	clockTimeRegex    = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}\b`)
	absPathRegex      = regexp.MustCompile(`(/[\w.\-]+){2,}`)
	hexRegex          = regexp.MustCompile(`\b(0x)?[0-9a-f]{6,}\b`)
	longNumberRegex   = regexp.MustCompile(`\b\d{4,}\b`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
)

// Fingerprint returns the normalised fingerprint of failure text, or the
// empty string for blank input.
func Fingerprint(failureText string) string {
	normalised := Normalize(failureText)
	if normalised == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(sum[:])[:16]
}

// Normalize applies the documented normalisation rule without hashing.
// Exposed for tests and postmortem tooling.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = isoTimestampRegex.ReplaceAllString(s, "<ts>")
	s = clockTimeRegex.ReplaceAllString(s, "<ts>")
	s = absPathRegex.ReplaceAllString(s, "<path>")
	s = hexRegex.ReplaceAllString(s, "<hex>")
	s = longNumberRegex.ReplaceAllString(s, "<n>")
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
