// Package llm provides the internal representations of chat requests, the
// streaming contract shared by generation backends, and the failure taxonomy
// the HTTP boundary understands.
package llm

import (
	"errors"
	"fmt"
)

// ErrorResponse is the JSON body returned for requests rejected before
// streaming begins.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Detail []string `json:"detail,omitempty"`
}

// ConfigError reports a violated local precondition, such as a missing
// credential. It is never the result of a network call.
type ConfigError struct {
	// Setting is the environment variable (or variables) at fault.
	Setting string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// UpstreamError reports that the remote provider was contacted and either
// rejected the request or failed mid-stream.
type UpstreamError struct {
	Backend string

	// StatusCode is the provider HTTP status, 0 when the failure happened
	// before or after the response status was known.
	StatusCode int

	// Message is short and safe to show to clients.
	Message string

	// Cause is the underlying provider error, for server-side logs only.
	Cause error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// AsConfigError extracts a *ConfigError from err.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsUpstreamError extracts an *UpstreamError from err.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
