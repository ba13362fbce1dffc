// Package classify maps failures reported by AI workers and sheet
// backends onto the fixed set of error kinds the retry policy decides on.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// Kind is the classification of one failure
type Kind string

const (
	Network            Kind = "network"
	Authentication     Kind = "authentication"
	RateLimit          Kind = "rate_limit"
	SelectorOrProtocol Kind = "selector_or_protocol"
	Timeout            Kind = "timeout"
	Unknown            Kind = "unknown"
)

// Classify assigns an error kind to a failure. It is total: any error,
// including nil context weirdness from a backend, maps to some kind, and
// unrecognized failures map to Unknown. Classification itself never fails.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	if f, ok := domain.AsFailure(err); ok {
		if k, ok := byCategory(f.Category); ok {
			return k
		}
		if k, ok := byStatusCode(f.StatusCode); ok {
			return k
		}
	}

	// Transport-level errors that arrive without a structured failure.
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Network
	}

	return Unknown
}

func byCategory(category string) (Kind, bool) {
	switch category {
	case domain.CategoryNetwork:
		return Network, true
	case domain.CategoryAuth:
		return Authentication, true
	case domain.CategoryRateLimit:
		return RateLimit, true
	case domain.CategorySelector:
		return SelectorOrProtocol, true
	case domain.CategoryTimeout:
		return Timeout, true
	}
	return Unknown, false
}

func byStatusCode(status int) (Kind, bool) {
	switch status {
	case 0:
		return Unknown, false
	case http.StatusUnauthorized, http.StatusForbidden:
		return Authentication, true
	case http.StatusTooManyRequests:
		return RateLimit, true
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return Timeout, true
	}
	if status >= 500 {
		return Network, true
	}
	return Unknown, false
}
