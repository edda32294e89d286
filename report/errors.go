package report

import "fmt"

// ParseErrorKind distinguishes why evidence could not be decoded.
type ParseErrorKind int

const (
	ParseErrorTruncated ParseErrorKind = iota + 1
	ParseErrorMalformed
	ParseErrorUnsupportedVersion
	ParseErrorUnsupportedFormat
	ParseErrorInvalidEncoding
	ParseErrorWrongContentType
	ParseErrorMissingCertificates
	ParseErrorInvalidClaims
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseErrorTruncated:
		return "truncated"
	case ParseErrorMalformed:
		return "malformed"
	case ParseErrorUnsupportedVersion:
		return "unsupported_version"
	case ParseErrorUnsupportedFormat:
		return "unsupported_format"
	case ParseErrorInvalidEncoding:
		return "invalid_encoding"
	case ParseErrorWrongContentType:
		return "wrong_content_type"
	case ParseErrorMissingCertificates:
		return "missing_certificates"
	case ParseErrorInvalidClaims:
		return "invalid_claims"
	default:
		return "unknown"
	}
}

// ParseError is returned by every parser in this package.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches another *ParseError of the same kind so callers can write
// errors.Is(err, &report.ParseError{Kind: report.ParseErrorTruncated}).
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func parseErr(kind ParseErrorKind, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapParseErr(kind ParseErrorKind, err error, format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
