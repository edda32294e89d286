// Package verifier checks that parsed evidence was signed by a certificate
// chaining to a configured vendor root, and that it is bound to a session key.
package verifier

import (
	"crypto/x509"
	"errors"
	"time"

	"enclave-verifier/report"
	"enclave-verifier/trust"
)

// SignatureVerifier checks the signature on rep against chain.
type SignatureVerifier interface {
	Verify(rep *report.Report, chain *trust.Chain) error
}

// Option configures a verifier.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the time used for certificate validity checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// chainError classifies an error from trust.Anchors.
func chainError(err error) *VerifyError {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		return wrapVerifyErr(VerifyErrorCertificateExpired, err, "certificate outside its validity period")
	}
	if errors.Is(err, trust.ErrNoAnchors) {
		return wrapVerifyErr(VerifyErrorChainUntrusted, err, "no roots configured for this format")
	}
	return wrapVerifyErr(VerifyErrorChainUntrusted, err, "certificate chain does not reach a trusted root")
}
