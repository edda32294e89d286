package translog

import "fmt"

// LogErrorKind classifies transparency log failures.
type LogErrorKind int

const (
	LogErrorNetwork LogErrorKind = iota + 1
	LogErrorNotFound
	LogErrorMismatch
	LogErrorInvalidProof
	LogErrorMalformed
)

func (k LogErrorKind) String() string {
	switch k {
	case LogErrorNetwork:
		return "network"
	case LogErrorNotFound:
		return "not_found"
	case LogErrorMismatch:
		return "mismatch"
	case LogErrorInvalidProof:
		return "invalid_proof"
	case LogErrorMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// LogError is returned by Client.
type LogError struct {
	Kind    LogErrorKind
	Message string
	Err     error
}

func (e *LogError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transparency log %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("transparency log %s: %s", e.Kind, e.Message)
}

func (e *LogError) Unwrap() error {
	return e.Err
}
