package attestation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"enclave-verifier/kds"
	"enclave-verifier/policy"
	"enclave-verifier/report"
	"enclave-verifier/translog"
	"enclave-verifier/verifier"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{&report.ParseError{Kind: report.ParseErrorTruncated}, FailureMalformed},
		{&report.ParseError{Kind: report.ParseErrorWrongContentType}, FailureMalformed},
		{&report.ParseError{Kind: report.ParseErrorUnsupportedVersion}, FailureUnsupported},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorUnsupportedAlgorithm}, FailureUnsupported},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorSignatureInvalid}, FailureSignatureInvalid},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorChainUntrusted}, FailureChainUntrusted},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorCertificateExpired}, FailureChainUntrusted},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorCertificateMismatch}, FailureChainUntrusted},
		{&verifier.VerifyError{Kind: verifier.VerifyErrorMissingCertificate}, FailureChainUntrusted},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorNetwork}, FailureNetwork},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorStatus, StatusCode: http.StatusBadGateway}, FailureNetwork},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorStatus, StatusCode: http.StatusTooManyRequests}, FailureNetwork},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorStatus, StatusCode: http.StatusNotFound}, FailureChainUntrusted},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorInvalidCertificate}, FailureChainUntrusted},
		{&policy.PolicyError{Kind: policy.PolicyErrorNotConfigured}, FailureMeasurementNotAllowed},
		{&policy.PolicyError{Kind: policy.PolicyErrorUnknownMeasurement}, FailureMeasurementNotAllowed},
		{&translog.LogError{Kind: translog.LogErrorNotFound}, FailureTransparencyLogMissing},
		{&translog.LogError{Kind: translog.LogErrorInvalidProof}, FailureTransparencyLogMissing},
		{&translog.LogError{Kind: translog.LogErrorNetwork}, FailureNetwork},
		{&kds.ResolutionError{Kind: kds.ResolutionErrorNetwork, Err: context.DeadlineExceeded}, FailureNetwork},
		{fmt.Errorf("wrapped: %w", context.Canceled), FailureNetwork},
		{errors.New("something else"), FailureInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := classify(StepPolicy, tt.err)
			assert.Equal(t, tt.want, f.Kind)
			assert.Equal(t, StepPolicy, f.Step)
			assert.ErrorIs(t, f, tt.err)
		})
	}
}

func TestClassifyKeepsFailures(t *testing.T) {
	in := &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "x"}
	assert.Same(t, in, classify(StepPolicy, in))
}

func TestFormatForType(t *testing.T) {
	assert.Equal(t, report.FormatHardwareReport, FormatForType("sev-snp"))
	assert.Equal(t, report.FormatHardwareReport, FormatForType(" SEV-SNP "))
	assert.Equal(t, report.FormatCloudPKCS7, FormatForType("azure-pkcs7"))
	assert.Equal(t, report.FormatCloudPKCS7, FormatForType("pkcs7"))
	assert.Equal(t, report.FormatUnknown, FormatForType("mock-sev-snp"))
	assert.Equal(t, report.FormatUnknown, FormatForType(""))
}
