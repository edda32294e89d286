// Package attesttest builds certificate hierarchies, signed evidence and fake
// vendor services for tests of the verification engine.
package attesttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"enclave-verifier/report"
)

var serial atomic.Int64

// Issued is a certificate together with its private key.
type Issued struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// CertOptions controls the certificate produced by NewRoot and Issue.
type CertOptions struct {
	CommonName string
	Curve      elliptic.Curve
	IsCA       bool
	NotBefore  time.Time
	NotAfter   time.Time
	Extensions []pkix.Extension
}

func (o CertOptions) withDefaults() CertOptions {
	if o.Curve == nil {
		o.Curve = elliptic.P384()
	}
	if o.NotBefore.IsZero() {
		o.NotBefore = time.Now().Add(-time.Hour)
	}
	if o.NotAfter.IsZero() {
		o.NotAfter = time.Now().Add(24 * time.Hour)
	}
	if o.CommonName == "" {
		o.CommonName = "test certificate"
	}
	return o
}

// NewRoot creates a self-signed CA certificate.
func NewRoot(tb testing.TB, opts CertOptions) *Issued {
	tb.Helper()
	opts = opts.withDefaults()
	opts.IsCA = true
	return create(tb, opts, nil)
}

// Issue signs a new certificate with i.
func (i *Issued) Issue(tb testing.TB, opts CertOptions) *Issued {
	tb.Helper()
	return create(tb, opts.withDefaults(), i)
}

func create(tb testing.TB, opts CertOptions, parent *Issued) *Issued {
	tb.Helper()
	key, err := ecdsa.GenerateKey(opts.Curve, rand.Reader)
	if err != nil {
		tb.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:    big.NewInt(serial.Add(1)),
		Subject:         pkix.Name{CommonName: opts.CommonName},
		NotBefore:       opts.NotBefore,
		NotAfter:        opts.NotAfter,
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtraExtensions: opts.Extensions,
	}
	if opts.IsCA {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}

	signerCert, signerKey := tmpl, key
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		tb.Fatalf("create certificate %q: %v", opts.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parse certificate %q: %v", opts.CommonName, err)
	}
	return &Issued{Cert: cert, Key: key}
}

// PEM encodes certificates as a PEM bundle.
func PEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// VCEK extension identifiers.
var (
	OIDStructVersion = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 1}
	OIDProductName   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 2}
	OIDBootloaderSPL = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 1}
	OIDTEESPL        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 2}
	OIDSNPSPL        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 3}
	OIDMicrocodeSPL  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, 8}
	OIDHardwareID    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 4}
)

// VCEKExtensions returns the extensions a vendor signing certificate carries
// for chipID and tcb. The reserved SPL slots are zero.
func VCEKExtensions(chipID [report.ChipIDSize]byte, tcb report.TCBVersion) []pkix.Extension {
	integer := func(oid asn1.ObjectIdentifier, v uint8) pkix.Extension {
		var b cryptobyte.Builder
		b.AddASN1Int64(int64(v))
		return pkix.Extension{Id: oid, Value: b.BytesOrPanic()}
	}
	var name cryptobyte.Builder
	name.AddASN1(cbasn1.IA5String, func(b *cryptobyte.Builder) { b.AddBytes([]byte("Milan-B0")) })

	exts := []pkix.Extension{
		integer(OIDStructVersion, 1),
		{Id: OIDProductName, Value: name.BytesOrPanic()},
		integer(OIDBootloaderSPL, tcb.BootloaderSPL),
		integer(OIDTEESPL, tcb.TEESPL),
		integer(OIDSNPSPL, tcb.SNPSPL),
	}
	for slot := 4; slot <= 7; slot++ {
		exts = append(exts, integer(asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 3704, 1, 3, slot}, 0))
	}
	return append(exts,
		integer(OIDMicrocodeSPL, tcb.MicrocodeSPL),
		pkix.Extension{Id: OIDHardwareID, Value: chipID[:]},
	)
}

// HardwarePKI is a root, intermediate and per-chip signing certificate.
type HardwarePKI struct {
	Root         *Issued
	Intermediate *Issued
	Leaf         *Issued
}

// NewHardwarePKI builds a P-384 hierarchy whose leaf carries VCEK extensions
// for chipID and tcb.
func NewHardwarePKI(tb testing.TB, chipID [report.ChipIDSize]byte, tcb report.TCBVersion) *HardwarePKI {
	tb.Helper()
	root := NewRoot(tb, CertOptions{CommonName: "ARK-Test"})
	ask := root.Issue(tb, CertOptions{CommonName: "ASK-Test", IsCA: true})
	vcek := ask.Issue(tb, CertOptions{
		CommonName: "VCEK-Test",
		Extensions: VCEKExtensions(chipID, tcb),
	})
	return &HardwarePKI{Root: root, Intermediate: ask, Leaf: vcek}
}

// CloudPKI is a root and intermediate plus the leaf that signs envelopes.
type CloudPKI struct {
	Root         *Issued
	Intermediate *Issued
	Signer       *Issued
}

// NewCloudPKI builds a P-256 hierarchy for PKCS7 envelopes.
func NewCloudPKI(tb testing.TB) *CloudPKI {
	tb.Helper()
	root := NewRoot(tb, CertOptions{CommonName: "Cloud Root Test", Curve: elliptic.P256()})
	inter := root.Issue(tb, CertOptions{CommonName: "Cloud Intermediate Test", Curve: elliptic.P256(), IsCA: true})
	signer := inter.Issue(tb, CertOptions{CommonName: "metadata.test", Curve: elliptic.P256()})
	return &CloudPKI{Root: root, Intermediate: inter, Signer: signer}
}
