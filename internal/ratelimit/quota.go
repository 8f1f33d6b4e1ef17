package ratelimit

import (
	"regexp"
	"strconv"
	"time"
)

// QuotaInfo describes a provider-side usage limit reported in the agent's
// transcript. Unlike the local fixed-window limiter, this is the external
// quota actually being exhausted; the loop cannot wait it out and exits
// with code 2.
type QuotaInfo struct {
	DetectedAt time.Time
	ResetAt    time.Time // Zero when the provider gave no reset time
	RawLine    string
}

var (
	// "usage limit reached|<unix_timestamp>" as emitted by some CLIs.
	quotaUnixPattern = regexp.MustCompile(`usage limit reached\|(\d+)`)

	// Generic provider quota indicators. Deliberately narrower than a
	// bare "rate limit" match: transcript lines inside fenced blocks are
	// already excluded by the caller, and log-prefix echoes are filtered
	// below.
	quotaIndicator = regexp.MustCompile(`(?i)(usage.?limit (reached|exceeded)|out of .{0,20}usage|429|too many requests)`)

	// Displayed/quoted text, not an actual provider message.
	quotaFalsePositive = regexp.MustCompile("(?i)(\\[quota\\]|`[^`]*usage.?limit|\"[^\"]*usage.?limit)")
)

// DetectQuotaExhausted scans narrated transcript lines (echoed content
// already removed) for a provider usage-limit message. Returns nil when
// none is present.
func DetectQuotaExhausted(lines []string) *QuotaInfo {
	for _, line := range lines {
		if !quotaIndicator.MatchString(line) {
			continue
		}
		if quotaFalsePositive.MatchString(line) {
			continue
		}

		info := &QuotaInfo{
			DetectedAt: time.Now(),
			RawLine:    line,
		}
		if matches := quotaUnixPattern.FindStringSubmatch(line); len(matches) > 1 {
			if ts, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
				info.ResetAt = time.Unix(ts, 0)
			}
		}
		return info
	}
	return nil
}
