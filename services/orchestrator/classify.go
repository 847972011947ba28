package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/opsdeskhq/opsdesk/services/providers"
)

// Kind is the failure taxonomy shared by every provider backend.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNetwork   Kind = "network"
	KindServer    Kind = "server"
	KindUnknown   Kind = "unknown"
)

// ClassifiedError is the normalized view of one failed provider attempt.
// Auth failures require operator intervention and are never retried against
// the same provider; every other kind is retryable.
type ClassifiedError struct {
	Kind      Kind
	Message   string
	Retryable bool
}

const unknownExcerptLimit = 120

// Vendor SDKs share no common error taxonomy, so when no structured status
// is available we fall back to substring matching on the stringified error.
// Order matters: first match wins.
var classifyPatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindAuth, []string{"401", "403", "authentication_error", "invalid x-api-key", "unauthorized", "invalid api", "api key not configured", "permission"}},
	{KindRateLimit, []string{"429", "too many requests", "quota", "rate"}},
	{KindNetwork, []string{"econnrefused", "etimedout", "fetch failed", "network", "connection refused", "no such host", "timeout", "deadline"}},
	{KindServer, []string{"500", "502", "503", "overloaded", "internal server"}},
}

// Classify maps a raw backend error to the five-kind taxonomy. Structured
// status codes take priority; the substring table is the last resort. The
// function is pure: the same error always classifies identically.
func Classify(provider providers.ID, err error) ClassifiedError {
	if errors.Is(err, providers.ErrNotConfigured) {
		return ClassifiedError{
			Kind:      KindAuth,
			Message:   fmt.Sprintf("%s is not configured: add an API key in settings", provider.Display()),
			Retryable: false,
		}
	}

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode != 0 {
		switch {
		case provErr.StatusCode == 401 || provErr.StatusCode == 403:
			return classified(provider, KindAuth, err)
		case provErr.StatusCode == 429:
			return classified(provider, KindRateLimit, err)
		case provErr.StatusCode >= 500:
			return classified(provider, KindServer, err)
		}
	}

	lower := strings.ToLower(err.Error())
	for _, entry := range classifyPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return classified(provider, entry.kind, err)
			}
		}
	}

	return classified(provider, KindUnknown, err)
}

func classified(provider providers.ID, kind Kind, err error) ClassifiedError {
	switch kind {
	case KindAuth:
		return ClassifiedError{
			Kind:      KindAuth,
			Message:   fmt.Sprintf("%s rejected the credentials: update the API key in settings", provider.Display()),
			Retryable: false,
		}
	case KindRateLimit:
		return ClassifiedError{
			Kind:      KindRateLimit,
			Message:   fmt.Sprintf("%s is rate limited: retrying, then a fallback provider will be attempted", provider.Display()),
			Retryable: true,
		}
	case KindNetwork:
		return ClassifiedError{
			Kind:      KindNetwork,
			Message:   fmt.Sprintf("could not reach %s: trying a fallback provider", provider.Display()),
			Retryable: true,
		}
	case KindServer:
		return ClassifiedError{
			Kind:      KindServer,
			Message:   fmt.Sprintf("%s returned a server error: trying a fallback provider", provider.Display()),
			Retryable: true,
		}
	default:
		return ClassifiedError{
			Kind:      KindUnknown,
			Message:   fmt.Sprintf("%s failed: %s", provider.Display(), excerpt(err.Error())),
			Retryable: true,
		}
	}
}

// excerpt truncates raw error text so user-facing messages stay readable.
// The cut lands on a rune boundary so multi-byte characters are never split.
func excerpt(s string) string {
	if len(s) <= unknownExcerptLimit {
		return s
	}
	cut := unknownExcerptLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
