package policy

import (
	"fmt"
	"strings"
)

// PolicyErrorKind classifies policy failures.
type PolicyErrorKind int

const (
	PolicyErrorNotConfigured PolicyErrorKind = iota + 1
	PolicyErrorUnknownMeasurement
	PolicyErrorInvalidFile
)

func (k PolicyErrorKind) String() string {
	switch k {
	case PolicyErrorNotConfigured:
		return "not_configured"
	case PolicyErrorUnknownMeasurement:
		return "unknown_measurement"
	case PolicyErrorInvalidFile:
		return "invalid_file"
	default:
		return "unknown"
	}
}

// PolicyError carries the measured digest and, for UnknownMeasurement, the
// allow-list it was compared against.
type PolicyError struct {
	Kind     PolicyErrorKind
	Expected []Digest
	Actual   Digest
	Message  string
	Err      error
}

func (e *PolicyError) Error() string {
	switch e.Kind {
	case PolicyErrorNotConfigured:
		return "policy not_configured: no trusted launch digests"
	case PolicyErrorUnknownMeasurement:
		expected := make([]string, len(e.Expected))
		for i, d := range e.Expected {
			expected[i] = d.String()
		}
		return fmt.Sprintf("policy unknown_measurement: launch digest %s not in [%s]", e.Actual, strings.Join(expected, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("policy %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("policy %s: %s", e.Kind, e.Message)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}
