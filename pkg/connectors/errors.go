package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies connector failures so the retry policy and the job
// record can treat them uniformly across providers.
type ErrorKind string

const (
	// KindUnavailable covers transport failures, 5xx responses, and timeouts.
	KindUnavailable ErrorKind = "unavailable"
	// KindRateLimited covers 429 responses and provider throttling.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidAOI covers AOIs the provider rejects outright.
	KindInvalidAOI ErrorKind = "invalid_aoi"
	// KindPartialData is returned alongside partial results when a page walk
	// failed partway through.
	KindPartialData ErrorKind = "partial_data"
)

// ConnectorError is the typed error returned by all connectors.
type ConnectorError struct {
	Provider   string
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // hint from the provider, zero when absent
	Err        error
}

func (e *ConnectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a retry could plausibly succeed.
func (e *ConnectorError) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// NewError creates a connector error.
func NewError(provider string, kind ErrorKind, message string, err error) *ConnectorError {
	return &ConnectorError{Provider: provider, Kind: kind, Message: message, Err: err}
}

// AsConnectorError unwraps err into a ConnectorError if it is one.
func AsConnectorError(err error) (*ConnectorError, bool) {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
