package verifier

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/google/go-sev-guest/abi"
	sevkds "github.com/google/go-sev-guest/kds"
	sevverify "github.com/google/go-sev-guest/verify"

	"enclave-verifier/report"
	"enclave-verifier/trust"
)

// SignatureAlgorithmECDSAP384SHA384 is the only accepted hardware report
// signature algorithm.
const SignatureAlgorithmECDSAP384SHA384 = abi.SignEcdsaP384Sha384

// HardwareVerifier verifies fixed-layout hardware reports.
type HardwareVerifier struct {
	anchors *trust.Anchors
	opts    options
}

// NewHardwareVerifier returns a verifier that requires signing certificates
// to chain to the hardware roots in anchors.
func NewHardwareVerifier(anchors *trust.Anchors, opts ...Option) *HardwareVerifier {
	return &HardwareVerifier{anchors: anchors, opts: buildOptions(opts)}
}

// Verify implements SignatureVerifier.
func (v *HardwareVerifier) Verify(rep *report.Report, chain *trust.Chain) error {
	if rep == nil || rep.Format != report.FormatHardwareReport {
		return verifyErr(VerifyErrorUnsupportedAlgorithm, "not a hardware report")
	}
	if rep.SignatureAlgorithm != SignatureAlgorithmECDSAP384SHA384 {
		return verifyErr(VerifyErrorUnsupportedAlgorithm, "signature algorithm %d is not accepted", rep.SignatureAlgorithm)
	}
	if chain == nil || chain.Leaf == nil {
		return verifyErr(VerifyErrorMissingCertificate, "no signing certificate for hardware report")
	}

	pub, ok := chain.Leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P384() {
		return verifyErr(VerifyErrorUnsupportedAlgorithm, "signing certificate key is not ECDSA P-384")
	}

	if err := v.anchors.VerifyHardware(chain, v.opts.now()); err != nil {
		return chainError(err)
	}
	if err := checkSigningCertificate(chain, rep); err != nil {
		return err
	}

	if len(rep.SignedData) != report.SignedRegionSize {
		return verifyErr(VerifyErrorSignatureInvalid, "signed region is %d bytes", len(rep.SignedData))
	}
	raw := make([]byte, 0, report.MinimumReportSize)
	raw = append(raw, rep.SignedData...)
	raw = append(raw, rep.Signature...)
	if len(raw) != report.MinimumReportSize {
		return verifyErr(VerifyErrorSignatureInvalid, "signature field is %d bytes", len(rep.Signature))
	}
	if err := sevverify.SnpReportSignature(raw, chain.Leaf); err != nil {
		return wrapVerifyErr(VerifyErrorSignatureInvalid, err, "report signature does not verify")
	}
	return nil
}

// checkSigningCertificate cross-checks the chip identity and TCB extensions
// of the signing certificate against the report.
func checkSigningCertificate(chain *trust.Chain, rep *report.Report) error {
	exts, err := sevkds.VcekCertificateExtensions(chain.Leaf)
	if err != nil {
		return wrapVerifyErr(VerifyErrorCertificateMismatch, err, "signing certificate lacks chip extensions")
	}
	if !bytes.Equal(exts.HWID[:], rep.Platform.ChipID[:]) {
		return verifyErr(VerifyErrorCertificateMismatch, "signing certificate was issued for a different chip")
	}
	parts := sevkds.DecomposeTCBVersion(exts.TCBVersion)
	got := report.TCBVersion{
		BootloaderSPL: parts.BlSpl,
		TEESPL:        parts.TeeSpl,
		SNPSPL:        parts.SnpSpl,
		MicrocodeSPL:  parts.UcodeSpl,
	}
	if want := rep.Platform.ReportedTCB; got != want {
		return verifyErr(VerifyErrorCertificateMismatch, "signing certificate TCB %s, report has %s", got, want)
	}
	return nil
}
