package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
)

// IsTransient reports whether err is worth retrying later: timeouts, an
// open breaker, throttling and upstream 5xx. Everything else, including
// malformed requests and auth failures, is treated as fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || circuitbreaker.IsBreakerError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "status code: 5", "502", "503", "504", "connection refused", "connection reset", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
