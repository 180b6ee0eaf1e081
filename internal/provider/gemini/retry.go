package gemini

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	maxRetryAttempts  = 3
	defaultRetryDelay = 10 * time.Second
)

// parseRetryDelay extracts a retry delay from a Gemini 429 error body.
// It first looks for an `error.details[]` entry of
// `@type = type.googleapis.com/google.rpc.RetryInfo` and parses its
// `retryDelay` field ("<n>s" or "<n>ms"); failing that, it looks for an
// ErrorInfo entry with `reason = RATE_LIMIT_EXCEEDED` whose domain contains
// "cloudcode-pa.googleapis.com" and uses `metadata.quotaResetDelay`.
// Malformed or absent delays fall back to defaultRetryDelay.
func parseRetryDelay(body []byte) time.Duration {
	details := gjson.GetBytes(body, "error.details")
	if !details.Exists() {
		return defaultRetryDelay
	}

	var fallback time.Duration = -1
	details.ForEach(func(_, detail gjson.Result) bool {
		typ := detail.Get("@type").String()
		switch {
		case strings.Contains(typ, "RetryInfo"):
			if d, ok := parseDuration(detail.Get("retryDelay").String()); ok {
				fallback = d
				return false // RetryInfo takes precedence; stop scanning
			}
		case strings.Contains(typ, "ErrorInfo"):
			if detail.Get("reason").String() == "RATE_LIMIT_EXCEEDED" &&
				strings.Contains(detail.Get("domain").String(), "cloudcode-pa.googleapis.com") {
				if d, ok := parseDuration(detail.Get("metadata.quotaResetDelay").String()); ok {
					fallback = d
				}
			}
		}
		return true
	})

	if fallback >= 0 {
		return fallback
	}
	return defaultRetryDelay
}

// parseDuration accepts Google's "<number>s" or "<number>ms" duration strings.
func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "ms"), 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(n * float64(time.Millisecond)), true
	case strings.HasSuffix(s, "s"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(n * float64(time.Second)), true
	default:
		return 0, false
	}
}
