package verifier_test

import (
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enclave-verifier/attesttest"
	"enclave-verifier/report"
	"enclave-verifier/trust"
	"enclave-verifier/verifier"
)

type hardwareFixture struct {
	pki     *attesttest.HardwarePKI
	anchors *trust.Anchors
	opts    attesttest.HardwareReportOptions
	rep     *report.Report
}

func newHardwareFixture(t *testing.T) *hardwareFixture {
	t.Helper()
	var chip [report.ChipIDSize]byte
	chip[0], chip[1] = 0xCA, 0xFE
	tcb := report.TCBVersion{BootloaderSPL: 3, SNPSPL: 20, MicrocodeSPL: 209}

	pki := attesttest.NewHardwarePKI(t, chip, tcb)
	opts := attesttest.HardwareReportOptions{
		LaunchDigest: attesttest.Digest(0x11),
		ReportData:   attesttest.BindKey([]byte("pub")),
		ChipID:       chip,
		TCB:          tcb,
	}
	raw := attesttest.BuildHardwareReport(opts)
	attesttest.SignHardwareReport(t, raw, pki.Leaf.Key)
	rep, err := report.ParseHardware(raw)
	require.NoError(t, err)

	return &hardwareFixture{
		pki:     pki,
		anchors: trust.FromCertificates([]*x509.Certificate{pki.Root.Cert}, []*x509.Certificate{pki.Intermediate.Cert}, nil),
		opts:    opts,
		rep:     rep,
	}
}

func (f *hardwareFixture) chain() *trust.Chain {
	return &trust.Chain{Leaf: f.pki.Leaf.Cert}
}

func verifyKind(err error) verifier.VerifyErrorKind {
	var ve *verifier.VerifyError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return 0
}

func TestHardwareVerifierAcceptsValidReport(t *testing.T) {
	f := newHardwareFixture(t)
	v := verifier.NewHardwareVerifier(f.anchors)
	require.NoError(t, v.Verify(f.rep, f.chain()))
}

func TestHardwareVerifierRejectsBitFlips(t *testing.T) {
	f := newHardwareFixture(t)
	v := verifier.NewHardwareVerifier(f.anchors)

	t.Run("SignedRegion", func(t *testing.T) {
		for i := 0; i < report.SignedRegionSize; i++ {
			mutated := *f.rep
			mutated.SignedData = append([]byte(nil), f.rep.SignedData...)
			mutated.SignedData[i] ^= 1 << uint(i%8)
			err := v.Verify(&mutated, f.chain())
			require.Equal(t, verifier.VerifyErrorSignatureInvalid, verifyKind(err), "byte %d", i)
		}
	})

	t.Run("Signature", func(t *testing.T) {
		for _, i := range []int{0, 1, 40, 71, 72, 100, 143} {
			mutated := *f.rep
			mutated.Signature = append([]byte(nil), f.rep.Signature...)
			mutated.Signature[i] ^= 0x80
			err := v.Verify(&mutated, f.chain())
			require.Equal(t, verifier.VerifyErrorSignatureInvalid, verifyKind(err), "byte %d", i)
		}
	})
}

func TestHardwareVerifierFailures(t *testing.T) {
	f := newHardwareFixture(t)
	v := verifier.NewHardwareVerifier(f.anchors)

	t.Run("UnsupportedAlgorithm", func(t *testing.T) {
		for _, alg := range []uint32{0, 2, 3, 0xFFFF} {
			mutated := *f.rep
			mutated.SignatureAlgorithm = alg
			assert.Equal(t, verifier.VerifyErrorUnsupportedAlgorithm, verifyKind(v.Verify(&mutated, f.chain())), "alg %d", alg)
		}
	})

	t.Run("MissingCertificate", func(t *testing.T) {
		assert.Equal(t, verifier.VerifyErrorMissingCertificate, verifyKind(v.Verify(f.rep, nil)))
		assert.Equal(t, verifier.VerifyErrorMissingCertificate, verifyKind(v.Verify(f.rep, &trust.Chain{})))
	})

	t.Run("WrongCurve", func(t *testing.T) {
		p256 := f.pki.Intermediate.Issue(t, attesttest.CertOptions{CommonName: "p256", Curve: elliptic.P256()})
		err := v.Verify(f.rep, &trust.Chain{Leaf: p256.Cert})
		assert.Equal(t, verifier.VerifyErrorUnsupportedAlgorithm, verifyKind(err))
	})

	t.Run("UntrustedRoot", func(t *testing.T) {
		other := attesttest.NewHardwarePKI(t, f.opts.ChipID, f.opts.TCB)
		err := v.Verify(f.rep, &trust.Chain{Leaf: other.Leaf.Cert})
		assert.Equal(t, verifier.VerifyErrorChainUntrusted, verifyKind(err))
	})

	t.Run("NoRoots", func(t *testing.T) {
		empty := verifier.NewHardwareVerifier(trust.FromCertificates(nil, nil, nil))
		assert.Equal(t, verifier.VerifyErrorChainUntrusted, verifyKind(empty.Verify(f.rep, f.chain())))
	})

	t.Run("Expired", func(t *testing.T) {
		later := verifier.NewHardwareVerifier(f.anchors, verifier.WithClock(func() time.Time {
			return time.Now().Add(72 * time.Hour)
		}))
		assert.Equal(t, verifier.VerifyErrorCertificateExpired, verifyKind(later.Verify(f.rep, f.chain())))
	})

	t.Run("OtherChip", func(t *testing.T) {
		mutated := *f.rep
		mutated.Platform.ChipID[5] ^= 0xFF
		assert.Equal(t, verifier.VerifyErrorCertificateMismatch, verifyKind(v.Verify(&mutated, f.chain())))
	})

	t.Run("OtherTCB", func(t *testing.T) {
		mutated := *f.rep
		mutated.Platform.ReportedTCB.SNPSPL++
		assert.Equal(t, verifier.VerifyErrorCertificateMismatch, verifyKind(v.Verify(&mutated, f.chain())))
	})

	t.Run("NoChipExtensions", func(t *testing.T) {
		bare := f.pki.Intermediate.Issue(t, attesttest.CertOptions{CommonName: "bare"})
		err := v.Verify(f.rep, &trust.Chain{Leaf: bare.Cert})
		assert.Equal(t, verifier.VerifyErrorCertificateMismatch, verifyKind(err))
	})

	t.Run("SignedByAnotherChip", func(t *testing.T) {
		raw := attesttest.BuildHardwareReport(f.opts)
		impostor := f.pki.Intermediate.Issue(t, attesttest.CertOptions{CommonName: "impostor"})
		attesttest.SignHardwareReport(t, raw, impostor.Key)
		rep, err := report.ParseHardware(raw)
		require.NoError(t, err)
		assert.Equal(t, verifier.VerifyErrorSignatureInvalid, verifyKind(v.Verify(rep, f.chain())))
	})

	t.Run("WrongFormat", func(t *testing.T) {
		mutated := *f.rep
		mutated.Format = report.FormatCloudPKCS7
		assert.Equal(t, verifier.VerifyErrorUnsupportedAlgorithm, verifyKind(v.Verify(&mutated, f.chain())))
	})
}
