package verifier

import "fmt"

// VerifyErrorKind classifies signature verification failures.
type VerifyErrorKind int

const (
	VerifyErrorUnsupportedAlgorithm VerifyErrorKind = iota + 1
	VerifyErrorSignatureInvalid
	VerifyErrorChainUntrusted
	VerifyErrorCertificateExpired
	VerifyErrorCertificateMismatch
	VerifyErrorMissingCertificate
)

func (k VerifyErrorKind) String() string {
	switch k {
	case VerifyErrorUnsupportedAlgorithm:
		return "unsupported_algorithm"
	case VerifyErrorSignatureInvalid:
		return "signature_invalid"
	case VerifyErrorChainUntrusted:
		return "chain_untrusted"
	case VerifyErrorCertificateExpired:
		return "certificate_expired"
	case VerifyErrorCertificateMismatch:
		return "certificate_mismatch"
	case VerifyErrorMissingCertificate:
		return "missing_certificate"
	default:
		return "unknown"
	}
}

// VerifyError is returned by every verifier in this package.
type VerifyError struct {
	Kind    VerifyErrorKind
	Message string
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Is matches another *VerifyError of the same kind.
func (e *VerifyError) Is(target error) bool {
	t, ok := target.(*VerifyError)
	return ok && t.Kind == e.Kind
}

func verifyErr(kind VerifyErrorKind, format string, args ...interface{}) *VerifyError {
	return &VerifyError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapVerifyErr(kind VerifyErrorKind, err error, format string, args ...interface{}) *VerifyError {
	return &VerifyError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
