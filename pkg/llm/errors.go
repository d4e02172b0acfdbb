package llm

import (
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Classification buckets a provider failure for the retry controller.
type Classification int

const (
	// ClassFatal is any failure that retrying cannot fix; it is surfaced
	// wrapped in a generic error.
	ClassFatal Classification = iota
	// ClassRateLimited is a short-term throttling condition worth retrying.
	ClassRateLimited
	// ClassResourceExhausted means the account quota is spent. It presents
	// with the same HTTP status as rate limiting but must never be retried.
	ClassResourceExhausted
)

var quotaPatterns = []string{
	"resource_exhausted",
	"resource exhausted",
	"quota exceeded",
	"quota exhausted",
}

var rateLimitPatterns = []string{
	"rate limit",
	"too many requests",
}

// Classify buckets err using its message text and, when present, the
// provider's HTTP status code. Quota patterns are checked before the generic
// 429 test: both conditions present as 429, but retrying an exhausted quota
// only wastes time and allowance.
func Classify(err error) Classification {
	if err == nil {
		return ClassFatal
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range quotaPatterns {
		if strings.Contains(message, pattern) {
			return ClassResourceExhausted
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return ClassRateLimited
	}
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(message, pattern) {
			return ClassRateLimited
		}
	}

	return ClassFatal
}

// QuotaExhaustedError signals the provider account has no remaining request
// allowance. The original provider error is preserved for diagnostics.
type QuotaExhaustedError struct {
	cause error
}

func (e *QuotaExhaustedError) Error() string {
	return "API quota exhausted. Please try again later or upgrade your plan."
}

func (e *QuotaExhaustedError) Unwrap() error {
	return e.cause
}
