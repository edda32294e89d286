//go:build attestdiag

package attestation_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enclave-verifier/attestation"
	"enclave-verifier/attesttest"
	"enclave-verifier/policy"
	"enclave-verifier/report"
)

func kinds(failures []*attestation.Failure) []attestation.FailureKind {
	out := make([]attestation.FailureKind, len(failures))
	for i, f := range failures {
		out[i] = f.Kind
	}
	return out
}

func TestDiagnosticModeNeverValidates(t *testing.T) {
	f := newFixture(t)
	raw := f.signedReport(t)
	raw[report.Layout().Signature] ^= 0x01
	ep := attesttest.NewEndpoint(t, attesttest.EndpointResponse{
		AttestationType: "sev-snp",
		Quote:           base64.StdEncoding.EncodeToString(raw),
	})

	t.Run("OtherChecksPass", func(t *testing.T) {
		p := f.policy()
		policy.AllowUnverifiedSignatureForDiagnostics(p)

		res := f.verifier.FetchAndVerify(context.Background(), ep.URL, f.key, p)
		assert.Equal(t, attestation.FailureSignatureInvalid, failureKind(t, res))
		assert.Equal(t, []attestation.FailureKind{attestation.FailureSignatureInvalid}, kinds(res.Diagnostics()))
	})

	t.Run("LaterFailuresReported", func(t *testing.T) {
		p := policy.New(policy.Digest(attesttest.Digest(0x01)))
		p.RequireTransparencyLog = true
		policy.AllowUnverifiedSignatureForDiagnostics(p)

		res := f.verifier.FetchAndVerify(context.Background(), ep.URL, sessionKey(t), p)
		assert.Equal(t, attestation.FailureSignatureInvalid, failureKind(t, res))
		assert.Equal(t, []attestation.FailureKind{
			attestation.FailureSignatureInvalid,
			attestation.FailureKeyNotBound,
			attestation.FailureMeasurementNotAllowed,
			attestation.FailureTransparencyLogMissing,
		}, kinds(res.Diagnostics()))
	})
}

func TestDiagnosticModeContinuesPastChain(t *testing.T) {
	f := newFixture(t)
	f.kds.SetStatus(http.StatusServiceUnavailable)
	ep := attesttest.NewEndpoint(t, f.hardwareResponse(t))
	p := f.policy()
	policy.AllowUnverifiedSignatureForDiagnostics(p)

	res := f.verifier.FetchAndVerify(context.Background(), ep.URL, f.key, p)
	assert.Equal(t, attestation.FailureNetwork, failureKind(t, res))
	assert.Equal(t, attestation.StepChain, res.Failure().Step)
	require.Len(t, res.Diagnostics(), 1)
}

func TestDiagnosticModeDoesNotSkipParsing(t *testing.T) {
	f := newFixture(t)
	ep := attesttest.NewRawEndpoint(t, []byte(`{"attestation_type":"sev-snp","quote":"AAAA"}`))
	p := f.policy()
	policy.AllowUnverifiedSignatureForDiagnostics(p)

	res := f.verifier.FetchAndVerify(context.Background(), ep.URL, f.key, p)
	assert.Equal(t, attestation.FailureMalformed, failureKind(t, res))
	assert.Empty(t, res.Diagnostics())
}
