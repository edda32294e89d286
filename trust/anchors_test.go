package trust_test

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enclave-verifier/attesttest"
	"enclave-verifier/report"
	"enclave-verifier/trust"
)

func TestHardwareChain(t *testing.T) {
	pki := attesttest.NewHardwarePKI(t, [report.ChipIDSize]byte{1}, report.TCBVersion{})
	anchors, err := trust.New(trust.Material{
		HardwareRoots:         attesttest.PEM(pki.Root.Cert),
		HardwareIntermediates: attesttest.PEM(pki.Intermediate.Cert),
	})
	require.NoError(t, err)
	require.True(t, anchors.HasHardware())
	require.False(t, anchors.HasCloud())

	t.Run("Trusted", func(t *testing.T) {
		require.NoError(t, anchors.VerifyHardware(&trust.Chain{Leaf: pki.Leaf.Cert}, time.Now()))
	})

	t.Run("Expired", func(t *testing.T) {
		err := anchors.VerifyHardware(&trust.Chain{Leaf: pki.Leaf.Cert}, time.Now().Add(48*time.Hour))
		var invalid x509.CertificateInvalidError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, x509.Expired, invalid.Reason)
	})

	t.Run("ForeignLeaf", func(t *testing.T) {
		other := attesttest.NewHardwarePKI(t, [report.ChipIDSize]byte{2}, report.TCBVersion{})
		err := anchors.VerifyHardware(&trust.Chain{Leaf: other.Leaf.Cert}, time.Now())
		var unknown x509.UnknownAuthorityError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("NoLeaf", func(t *testing.T) {
		assert.Error(t, anchors.VerifyHardware(&trust.Chain{}, time.Now()))
	})

	t.Run("NoCloudRoots", func(t *testing.T) {
		err := anchors.VerifyCloud(&trust.Chain{Leaf: pki.Leaf.Cert}, time.Now())
		assert.True(t, errors.Is(err, trust.ErrNoAnchors))
	})
}

func TestCloudChainUsesEvidenceIntermediates(t *testing.T) {
	pki := attesttest.NewCloudPKI(t)
	anchors := trust.FromCertificates(nil, nil, []*x509.Certificate{pki.Root.Cert})

	require.Error(t, anchors.VerifyCloud(&trust.Chain{Leaf: pki.Signer.Cert}, time.Now()))
	require.NoError(t, anchors.VerifyCloud(&trust.Chain{
		Leaf:          pki.Signer.Cert,
		Intermediates: []*x509.Certificate{pki.Intermediate.Cert},
	}, time.Now()))

	pool := anchors.CloudRoots()
	require.NotNil(t, pool)
	_, err := pki.Intermediate.Cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	assert.NoError(t, err)
	assert.Nil(t, trust.FromCertificates(nil, nil, nil).CloudRoots())
}

func TestLoadFiles(t *testing.T) {
	pki := attesttest.NewCloudPKI(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cloud.pem")
	require.NoError(t, os.WriteFile(path, attesttest.PEM(pki.Root.Cert, pki.Intermediate.Cert), 0o600))

	anchors, err := trust.LoadFiles(trust.Files{CloudRoots: path})
	require.NoError(t, err)
	assert.True(t, anchors.HasCloud())
	assert.False(t, anchors.HasHardware())

	_, err = trust.LoadFiles(trust.Files{HardwareRoots: filepath.Join(dir, "missing.pem")})
	assert.Error(t, err)
}

func TestNewRejectsCorruptPEM(t *testing.T) {
	bad := []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	_, err := trust.New(trust.Material{CloudRoots: bad})
	assert.Error(t, err)
}

func TestNilAnchors(t *testing.T) {
	var a *trust.Anchors
	assert.False(t, a.HasHardware())
	assert.True(t, errors.Is(a.VerifyHardware(&trust.Chain{}, time.Now()), trust.ErrNoAnchors))
}
