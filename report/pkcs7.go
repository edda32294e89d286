package report

import (
	"bytes"
	encasn1 "encoding/asn1"
	"strings"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// OID is an ASN.1 object identifier.
type OID = encasn1.ObjectIdentifier

// CMS / PKCS7 identifiers.
var (
	OIDData          = pkcs7.OIDData
	OIDSignedData    = pkcs7.OIDSignedData
	OIDContentType   = pkcs7.OIDAttributeContentType
	OIDMessageDigest = pkcs7.OIDAttributeMessageDigest
)

// ParsePKCS7 decodes a (possibly base64 encoded) PKCS7 SignedData envelope and
// the JSON claims it carries. Both DER and BER (indefinite length) encodings
// are accepted. Signatures are not checked here.
func ParsePKCS7(input []byte) (*Report, *Claims, error) {
	raw, err := envelopeBytes(input)
	if err != nil {
		return nil, nil, err
	}

	contentType, err := contentInfoType(raw)
	if err != nil {
		return nil, nil, err
	}
	if !contentType.Equal(OIDSignedData) {
		return nil, nil, parseErr(ParseErrorWrongContentType, "content type %s is not SignedData", contentType)
	}

	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, nil, wrapParseErr(ParseErrorMalformed, err, "SignedData")
	}
	env, err := newEnvelope(p7)
	if err != nil {
		return nil, nil, err
	}

	claims, err := ParseClaims(env.Content)
	if err != nil {
		return nil, nil, err
	}
	m, err := claims.Measurements()
	if err != nil {
		return nil, nil, err
	}

	signer := p7.Signers[0]
	return &Report{
		Format:       FormatCloudPKCS7,
		Version:      uint32(signer.Version),
		Measurements: m,
		Raw:          raw,
		SignedData:   env.Content,
		Signature:    cloneBytes(signer.EncryptedDigest),
		Envelope:     env,
	}, claims, nil
}

// envelopeBytes returns an owned copy of input, base64-decoding it first
// unless it already looks like a SEQUENCE.
func envelopeBytes(input []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return nil, parseErr(ParseErrorTruncated, "empty PKCS7 envelope")
	}
	if trimmed[0] == 0x30 {
		return cloneBytes(trimmed), nil
	}
	der, err := DecodeBase64(strings.TrimSpace(string(trimmed)))
	if err != nil {
		return nil, wrapParseErr(ParseErrorInvalidEncoding, err, "PKCS7 envelope is neither DER nor base64")
	}
	return der, nil
}

// contentInfoType reads the outer ContentInfo type without decoding the
// content. A definite-length envelope must span all of raw; an indefinite
// one must end with the end-of-contents octets.
func contentInfoType(raw []byte) (OID, error) {
	if len(raw) >= 2 && raw[0] == 0x30 && raw[1] == 0x80 {
		if !bytes.HasSuffix(raw, []byte{0, 0}) {
			return nil, parseErr(ParseErrorMalformed, "indefinite-length ContentInfo is not terminated")
		}
		var oid OID
		if _, err := encasn1.Unmarshal(raw[2:], &oid); err != nil {
			return nil, wrapParseErr(ParseErrorMalformed, err, "ContentInfo has no content type")
		}
		return oid, nil
	}

	input := cryptobyte.String(raw)
	var contentInfo cryptobyte.String
	if !input.ReadASN1(&contentInfo, asn1.SEQUENCE) || !input.Empty() {
		return nil, parseErr(ParseErrorMalformed, "ContentInfo is not a single SEQUENCE")
	}
	var oid OID
	if !contentInfo.ReadASN1ObjectIdentifier(&oid) {
		return nil, parseErr(ParseErrorMalformed, "ContentInfo has no content type")
	}
	return oid, nil
}

func newEnvelope(p7 *pkcs7.PKCS7) (*Envelope, error) {
	if len(p7.Certificates) == 0 {
		return nil, parseErr(ParseErrorMissingCertificates, "SignedData carries no certificates")
	}
	switch len(p7.Signers) {
	case 0:
		return nil, parseErr(ParseErrorMalformed, "SignedData has no SignerInfo")
	case 1:
	default:
		return nil, parseErr(ParseErrorMalformed, "SignedData has %d SignerInfos", len(p7.Signers))
	}
	if len(p7.Content) == 0 {
		return nil, parseErr(ParseErrorInvalidClaims, "detached content: envelope carries no claims")
	}

	signer := p7.Signers[0]
	if len(signer.EncryptedDigest) == 0 {
		return nil, parseErr(ParseErrorMalformed, "SignerInfo signature")
	}
	env := &Envelope{
		Certificates:        p7.Certificates,
		Content:             cloneBytes(p7.Content),
		DigestAlgorithm:     signer.DigestAlgorithm.Algorithm,
		SignatureAlgorithm:  signer.DigestEncryptionAlgorithm.Algorithm,
		HasSignedAttributes: len(signer.AuthenticatedAttributes) > 0,
		IssuerRaw:           cloneBytes(signer.IssuerAndSerialNumber.IssuerName.FullBytes),
		SerialNumber:        signer.IssuerAndSerialNumber.SerialNumber,
		Message:             p7,
	}
	if env.HasSignedAttributes {
		if err := p7.UnmarshalSignedAttribute(OIDContentType, &env.ContentType); err != nil {
			env.ContentType = nil
		}
		if err := p7.UnmarshalSignedAttribute(OIDMessageDigest, &env.MessageDigest); err != nil {
			return nil, wrapParseErr(ParseErrorMalformed, err, "message-digest attribute")
		}
	}
	return env, nil
}
