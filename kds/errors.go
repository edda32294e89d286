package kds

import "fmt"

// ResolutionErrorKind classifies certificate resolution failures.
type ResolutionErrorKind int

const (
	// ResolutionErrorNetwork covers transport failures, timeouts and
	// cancellation. Callers may retry.
	ResolutionErrorNetwork ResolutionErrorKind = iota + 1
	ResolutionErrorStatus
	ResolutionErrorInvalidCertificate
)

func (k ResolutionErrorKind) String() string {
	switch k {
	case ResolutionErrorNetwork:
		return "network"
	case ResolutionErrorStatus:
		return "status"
	case ResolutionErrorInvalidCertificate:
		return "invalid_certificate"
	default:
		return "unknown"
	}
}

// ResolutionError is returned by Resolver and Cache.
type ResolutionError struct {
	Kind       ResolutionErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("kds %s: %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
