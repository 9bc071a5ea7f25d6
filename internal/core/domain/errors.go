package domain

import (
	"errors"
	"fmt"
)

// ErrIncompleteConfiguration marks a route the control plane accepted but
// returned without methods, upstream nodes or plugins.
var ErrIncompleteConfiguration = errors.New("incomplete configuration")

// TransientNetworkError is a connection-level failure (refused, timeout, DNS).
// It is retried by the caller's attempt budget, never internally.
type TransientNetworkError struct {
	Target string
	Err    error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error reaching %s: %v", e.Target, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ConfigurationError describes a malformed profile or route. The offending
// item is skipped; others are still processed.
type ConfigurationError struct {
	Item   string
	Reason string
	Err    error
}

func NewConfigurationError(item, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Item: item, Reason: reason, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Item, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Item, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ControlPlaneError is an unexpected status from the admin API.
type ControlPlaneError struct {
	Op     string
	Status int
	Err    error
}

func (e *ControlPlaneError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("control plane %s failed with status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("control plane %s failed: %v", e.Op, e.Err)
}

func (e *ControlPlaneError) Unwrap() error { return e.Err }

// DiagnosticInconclusive is returned when no single level explains a failure.
// DeepestLevel is the last level that produced evidence.
type DiagnosticInconclusive struct {
	DeepestLevel int
	Evidence     []string
}

func (e *DiagnosticInconclusive) Error() string {
	return fmt.Sprintf("diagnostics inconclusive after level %d (%d pieces of evidence)", e.DeepestLevel, len(e.Evidence))
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsTransient reports whether err carries a TransientNetworkError.
func IsTransient(err error) bool {
	var netErr *TransientNetworkError
	return errors.As(err, &netErr)
}
