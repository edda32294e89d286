package attestation

import (
	"context"
	"strings"
	"time"

	"enclave-verifier/kds"
	"enclave-verifier/report"
	"enclave-verifier/trust"
	"enclave-verifier/verifier"
)

// Declared attestation types accepted from endpoints.
const (
	TypeHardwareReport = "sev-snp"
	TypeAzurePKCS7     = "azure-pkcs7"
	TypePKCS7          = "pkcs7"
)

// FormatForType maps a declared attestation type onto a Format. Unknown types,
// including simulated ones, map to FormatUnknown.
func FormatForType(attestationType string) report.Format {
	switch strings.ToLower(strings.TrimSpace(attestationType)) {
	case TypeHardwareReport:
		return report.FormatHardwareReport
	case TypeAzurePKCS7, TypePKCS7:
		return report.FormatCloudPKCS7
	default:
		return report.FormatUnknown
	}
}

// evidence is a parsed quote together with what its format extracted.
type evidence struct {
	report *report.Report
	claims *report.Claims
}

// strategy is the per-format half of the pipeline. The set is closed: one
// implementation per report.Format, chosen once per call.
type strategy interface {
	parse(quote string) (*evidence, error)
	chain(ctx context.Context, ev *evidence) (*trust.Chain, error)
	verify(ev *evidence, chain *trust.Chain, now time.Time) error
}

type hardwareStrategy struct {
	certificates kds.CertificateSource
	verifier     *verifier.HardwareVerifier
}

func (s *hardwareStrategy) parse(quote string) (*evidence, error) {
	rep, err := report.ParseHardwareEncoded(quote)
	if err != nil {
		return nil, err
	}
	return &evidence{report: rep}, nil
}

func (s *hardwareStrategy) chain(ctx context.Context, ev *evidence) (*trust.Chain, error) {
	id, fw := kds.IdentityFromReport(ev.report)
	cert, err := s.certificates.Resolve(ctx, id, fw)
	if err != nil {
		return nil, err
	}
	return &trust.Chain{Leaf: cert}, nil
}

func (s *hardwareStrategy) verify(ev *evidence, chain *trust.Chain, _ time.Time) error {
	return s.verifier.Verify(ev.report, chain)
}

type cloudStrategy struct {
	verifier *verifier.PKCS7Verifier
}

func (s *cloudStrategy) parse(quote string) (*evidence, error) {
	rep, claims, err := report.ParsePKCS7([]byte(quote))
	if err != nil {
		return nil, err
	}
	return &evidence{report: rep, claims: claims}, nil
}

func (s *cloudStrategy) chain(_ context.Context, ev *evidence) (*trust.Chain, error) {
	return verifier.SignerChain(ev.report.Envelope)
}

func (s *cloudStrategy) verify(ev *evidence, chain *trust.Chain, now time.Time) error {
	if err := s.verifier.Verify(ev.report, chain); err != nil {
		return err
	}
	return verifier.CheckClaimsFresh(ev.claims, now)
}
