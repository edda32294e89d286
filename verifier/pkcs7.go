package verifier

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"go.mozilla.org/pkcs7"

	"enclave-verifier/report"
	"enclave-verifier/trust"
)

// PKCS7Verifier verifies cloud vendor SignedData envelopes.
type PKCS7Verifier struct {
	anchors *trust.Anchors
	opts    options
}

// NewPKCS7Verifier returns a verifier that requires the envelope signer to
// chain to the cloud roots in anchors.
func NewPKCS7Verifier(anchors *trust.Anchors, opts ...Option) *PKCS7Verifier {
	return &PKCS7Verifier{anchors: anchors, opts: buildOptions(opts)}
}

// SignerChain locates the signer certificate among the embedded
// certificates by issuer and serial number. The remaining certificates are
// offered as intermediates.
func SignerChain(env *report.Envelope) (*trust.Chain, error) {
	if env == nil {
		return nil, verifyErr(VerifyErrorMissingCertificate, "no envelope")
	}
	chain := &trust.Chain{}
	for _, cert := range env.Certificates {
		if chain.Leaf == nil && env.SerialNumber != nil &&
			cert.SerialNumber.Cmp(env.SerialNumber) == 0 &&
			bytes.Equal(cert.RawIssuer, env.IssuerRaw) {
			chain.Leaf = cert
			continue
		}
		chain.Intermediates = append(chain.Intermediates, cert)
	}
	if chain.Leaf == nil {
		return nil, verifyErr(VerifyErrorMissingCertificate, "signer certificate is not embedded in the envelope")
	}
	return chain, nil
}

// Verify implements SignatureVerifier. The envelope signature and the full
// chain to the cloud roots are checked at the verifier's clock.
func (v *PKCS7Verifier) Verify(rep *report.Report, chain *trust.Chain) error {
	if rep == nil || rep.Format != report.FormatCloudPKCS7 || rep.Envelope == nil || rep.Envelope.Message == nil {
		return verifyErr(VerifyErrorUnsupportedAlgorithm, "not a PKCS7 envelope")
	}
	if chain == nil || chain.Leaf == nil {
		return verifyErr(VerifyErrorMissingCertificate, "no signer certificate")
	}
	env := rep.Envelope

	if !acceptedDigest(env.DigestAlgorithm) {
		return verifyErr(VerifyErrorUnsupportedAlgorithm, "digest algorithm %s is not accepted", env.DigestAlgorithm)
	}
	if !v.anchors.HasCloud() {
		return chainError(trust.ErrNoAnchors)
	}
	if env.HasSignedAttributes && !env.ContentType.Equal(report.OIDData) {
		return verifyErr(VerifyErrorSignatureInvalid, "content-type attribute is missing or not id-data")
	}

	now := v.opts.now()
	err := env.Message.VerifyWithChainAtTime(v.anchors.CloudRoots(), now)
	if err == nil {
		return nil
	}

	var mismatch *pkcs7.MessageDigestMismatchError
	switch {
	case errors.As(err, &mismatch):
		return wrapVerifyErr(VerifyErrorSignatureInvalid, err, "message-digest attribute does not match content")
	case strings.HasPrefix(err.Error(), "pkcs7: failed to verify certificate chain"):
		// The library flattens the x509 error; rebuild it to tell expiry apart.
		if chainErr := v.anchors.VerifyCloud(chain, now); chainErr != nil {
			return chainError(chainErr)
		}
		return wrapVerifyErr(VerifyErrorChainUntrusted, err, "certificate chain does not reach a trusted root")
	case strings.Contains(err.Error(), "unsupported"):
		return wrapVerifyErr(VerifyErrorUnsupportedAlgorithm, err, "signature algorithm %s is not accepted", env.SignatureAlgorithm)
	case strings.Contains(err.Error(), "No certificate for signer"):
		return wrapVerifyErr(VerifyErrorMissingCertificate, err, "signer certificate is not embedded in the envelope")
	}
	return wrapVerifyErr(VerifyErrorSignatureInvalid, err, "envelope signature does not verify")
}

// CheckClaimsFresh rejects claims whose validity window has ended.
func CheckClaimsFresh(claims *report.Claims, now time.Time) error {
	if claims == nil {
		return nil
	}
	expires, ok, err := claims.ExpiresAt()
	if err != nil {
		return wrapVerifyErr(VerifyErrorCertificateExpired, err, "claims expiry unreadable")
	}
	if ok && now.After(expires) {
		return verifyErr(VerifyErrorCertificateExpired, "claims expired at %s", expires.UTC().Format(time.RFC3339))
	}
	return nil
}

// acceptedDigest rejects SHA-1 and anything weaker.
func acceptedDigest(oid report.OID) bool {
	return oid.Equal(pkcs7.OIDDigestAlgorithmSHA256) ||
		oid.Equal(pkcs7.OIDDigestAlgorithmSHA384) ||
		oid.Equal(pkcs7.OIDDigestAlgorithmSHA512)
}
