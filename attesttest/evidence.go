package attesttest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	_ "crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"enclave-verifier/report"
)

// HardwareReportOptions describes a hardware report. Zero Version and
// SignatureAlgorithm mean the supported values.
type HardwareReportOptions struct {
	Version            uint32
	SignatureAlgorithm uint32
	LaunchDigest       [report.LaunchDigestSize]byte
	ReportData         [report.UserDataSize]byte
	FamilyID           [report.FamilyIDSize]byte
	ImageID            [report.ImageIDSize]byte
	VMPL               uint32
	ChipID             [report.ChipIDSize]byte
	TCB                report.TCBVersion
}

// BuildHardwareReport lays out an unsigned report of exactly the minimum size.
func BuildHardwareReport(o HardwareReportOptions) []byte {
	if o.Version == 0 {
		o.Version = report.SupportedReportVersion
	}
	if o.SignatureAlgorithm == 0 {
		o.SignatureAlgorithm = 1
	}
	l := report.Layout()
	raw := make([]byte, report.MinimumReportSize)
	binary.LittleEndian.PutUint32(raw[l.Version:], o.Version)
	binary.LittleEndian.PutUint32(raw[l.GuestSVN:], 1)
	binary.LittleEndian.PutUint64(raw[l.Policy:], 0x30000)
	copy(raw[l.FamilyID:], o.FamilyID[:])
	copy(raw[l.ImageID:], o.ImageID[:])
	binary.LittleEndian.PutUint32(raw[l.VMPL:], o.VMPL)
	binary.LittleEndian.PutUint32(raw[l.SignatureAlgorithm:], o.SignatureAlgorithm)
	binary.LittleEndian.PutUint64(raw[l.CurrentTCB:], o.TCB.Raw())
	copy(raw[l.ReportData:], o.ReportData[:])
	copy(raw[l.Measurement:], o.LaunchDigest[:])
	binary.LittleEndian.PutUint64(raw[l.ReportedTCB:], o.TCB.Raw())
	copy(raw[l.ChipID:], o.ChipID[:])
	return raw
}

// SignHardwareReport signs the report in place with key.
func SignHardwareReport(tb testing.TB, raw []byte, key *ecdsa.PrivateKey) {
	tb.Helper()
	digest := sha512.Sum384(raw[:report.SignedRegionSize])
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		tb.Fatalf("sign report: %v", err)
	}
	sig := raw[report.Layout().Signature:]
	putLittleEndian(sig[:report.SignatureComponentSize], r)
	putLittleEndian(sig[report.SignatureComponentSize:2*report.SignatureComponentSize], s)
}

func putLittleEndian(dst []byte, v *big.Int) {
	v.FillBytes(dst)
	for i, j := 0, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
}

// BindKey returns user data whose leading bytes are sha256(publicKey).
func BindKey(publicKey []byte) [report.UserDataSize]byte {
	var out [report.UserDataSize]byte
	sum := sha256.Sum256(publicKey)
	copy(out[:], sum[:])
	return out
}

// BindKeyAndNonce returns user data committing to publicKey and, in the
// second half, to nonce.
func BindKeyAndNonce(publicKey, nonce []byte) [report.UserDataSize]byte {
	out := BindKey(publicKey)
	sum := sha256.Sum256(nonce)
	copy(out[sha256.Size:], sum[:])
	return out
}

// Digest returns a launch digest filled with b.
func Digest(b byte) [report.LaunchDigestSize]byte {
	var d [report.LaunchDigestSize]byte
	for i := range d {
		d[i] = b
	}
	return d
}

// ClaimsJSON encodes a claims document. A zero expiresOn omits the time stamp.
func ClaimsJSON(tb testing.TB, digest [report.LaunchDigestSize]byte, userData [report.UserDataSize]byte, expiresOn time.Time) []byte {
	tb.Helper()
	c := report.Claims{
		LaunchDigest: hex.EncodeToString(digest[:]),
		UserData:     hex.EncodeToString(userData[:]),
		VMID:         "2b1f1c59-6a2e-4f7e-9a1f-6c1b2d3e4f50",
	}
	if !expiresOn.IsZero() {
		c.TimeStamp = &report.ClaimTimeStamp{
			CreatedOn: expiresOn.Add(-6 * time.Hour).UTC().Format("01/02/06 15:04:05 -0700"),
			ExpiresOn: expiresOn.UTC().Format("01/02/06 15:04:05 -0700"),
		}
	}
	out, err := json.Marshal(c)
	if err != nil {
		tb.Fatalf("marshal claims: %v", err)
	}
	return out
}

// PKCS7Options describes a SignedData envelope.
type PKCS7Options struct {
	Claims []byte
	Signer *Issued

	// Certificates embedded in the envelope. Nil embeds only the signer.
	Certificates   []*x509.Certificate
	NoCertificates bool

	// ContentType overrides the outer ContentInfo type.
	ContentType asn1.ObjectIdentifier

	// Hash defaults to SHA-256. SHA-1 is accepted for rejection tests.
	Hash crypto.Hash

	OmitSignedAttributes bool
	WrongMessageDigest   bool
}

var tagContext0 = cbasn1.Tag(0).ContextSpecific().Constructed()

// BuildPKCS7 returns the DER encoding of a SignedData envelope signed by
// o.Signer.
func BuildPKCS7(tb testing.TB, o PKCS7Options) []byte {
	tb.Helper()
	if o.Hash == 0 {
		o.Hash = crypto.SHA256
	}
	if o.ContentType == nil {
		o.ContentType = report.OIDSignedData
	}
	certs := o.Certificates
	if certs == nil && !o.NoCertificates {
		certs = []*x509.Certificate{o.Signer.Cert}
	}

	var digestOID, sigOID asn1.ObjectIdentifier
	switch o.Hash {
	case crypto.SHA1:
		digestOID, sigOID = pkcs7.OIDDigestAlgorithmSHA1, pkcs7.OIDDigestAlgorithmECDSASHA1
	case crypto.SHA384:
		digestOID, sigOID = pkcs7.OIDDigestAlgorithmSHA384, pkcs7.OIDDigestAlgorithmECDSASHA384
	case crypto.SHA512:
		digestOID, sigOID = pkcs7.OIDDigestAlgorithmSHA512, pkcs7.OIDDigestAlgorithmECDSASHA512
	default:
		digestOID, sigOID = pkcs7.OIDDigestAlgorithmSHA256, pkcs7.OIDDigestAlgorithmECDSASHA256
	}

	contentDigest := hashOf(o.Hash, o.Claims)
	if o.WrongMessageDigest {
		contentDigest[0] ^= 0xff
	}

	var attrs cryptobyte.Builder
	attrs.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(report.OIDContentType)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(report.OIDData)
		})
	})
	attrs.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(report.OIDMessageDigest)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(contentDigest)
		})
	})
	attrBody := attrs.BytesOrPanic()

	signed := o.Claims
	if !o.OmitSignedAttributes {
		var set cryptobyte.Builder
		set.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) { b.AddBytes(attrBody) })
		signed = set.BytesOrPanic()
	}
	signature, err := ecdsa.SignASN1(rand.Reader, o.Signer.Key, hashOf(o.Hash, signed))
	if err != nil {
		tb.Fatalf("sign envelope: %v", err)
	}

	algorithm := func(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oid)
		})
	}

	var out cryptobyte.Builder
	out.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(o.ContentType)
		b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) { algorithm(b, digestOID) })
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(report.OIDData)
					b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
						b.AddASN1OctetString(o.Claims)
					})
				})
				if len(certs) > 0 {
					b.AddASN1(tagContext0, func(b *cryptobyte.Builder) {
						for _, c := range certs {
							b.AddBytes(c.Raw)
						}
					})
				}
				b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1Int64(1)
						b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddBytes(o.Signer.Cert.RawIssuer)
							b.AddASN1BigInt(o.Signer.Cert.SerialNumber)
						})
						algorithm(b, digestOID)
						if !o.OmitSignedAttributes {
							b.AddASN1(tagContext0, func(b *cryptobyte.Builder) { b.AddBytes(attrBody) })
						}
						algorithm(b, sigOID)
						b.AddASN1OctetString(signature)
					})
				})
			})
		})
	})
	der, err := out.Bytes()
	if err != nil {
		tb.Fatalf("encode envelope: %v", err)
	}
	return der
}

// IndefiniteLength re-encodes the ContentInfo SEQUENCE of a DER envelope and
// its explicit [0] wrapper with BER indefinite lengths.
func IndefiniteLength(tb testing.TB, der []byte) []byte {
	tb.Helper()
	input := cryptobyte.String(der)
	var contentInfo, oid, explicit cryptobyte.String
	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) ||
		!contentInfo.ReadASN1Element(&oid, cbasn1.OBJECT_IDENTIFIER) ||
		!contentInfo.ReadASN1(&explicit, tagContext0) {
		tb.Fatalf("envelope is not a DER ContentInfo")
	}
	out := []byte{0x30, 0x80}
	out = append(out, oid...)
	out = append(out, 0xa0, 0x80)
	out = append(out, explicit...)
	return append(out, 0, 0, 0, 0)
}

func hashOf(h crypto.Hash, data []byte) []byte {
	w := h.New()
	w.Write(data)
	return w.Sum(nil)
}
