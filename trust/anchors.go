// Package trust holds the vendor roots of trust. Anchors are loaded once at
// process start and are read-only afterwards; every verification shares them.
package trust

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoAnchors is returned when a chain is verified against an empty root set.
var ErrNoAnchors = errors.New("no trust anchors configured")

// Chain is a signing certificate plus any intermediates that came with the
// evidence. The roots are never part of a Chain.
type Chain struct {
	Leaf          *x509.Certificate
	Intermediates []*x509.Certificate
}

// Material is the PEM input for New.
type Material struct {
	HardwareRoots         []byte
	HardwareIntermediates []byte
	CloudRoots            []byte
}

// Files names PEM bundles on disk. Empty paths are skipped.
type Files struct {
	HardwareRoots         string
	HardwareIntermediates string
	CloudRoots            string
}

// Anchors is the immutable set of roots (and fixed vendor intermediates) that
// evidence must chain to.
type Anchors struct {
	hardwareRoots         *x509.CertPool
	hardwareIntermediates []*x509.Certificate
	cloudRoots            *x509.CertPool

	hardwareRootCount int
	cloudRootCount    int
}

// New parses PEM bundles into an Anchors value.
func New(m Material) (*Anchors, error) {
	hwRoots, err := parsePEM("hardware roots", m.HardwareRoots)
	if err != nil {
		return nil, err
	}
	hwInter, err := parsePEM("hardware intermediates", m.HardwareIntermediates)
	if err != nil {
		return nil, err
	}
	cloudRoots, err := parsePEM("cloud roots", m.CloudRoots)
	if err != nil {
		return nil, err
	}
	return FromCertificates(hwRoots, hwInter, cloudRoots), nil
}

// LoadFiles reads and parses the configured PEM bundles.
func LoadFiles(f Files) (*Anchors, error) {
	var m Material
	for _, item := range []struct {
		path string
		dst  *[]byte
	}{
		{f.HardwareRoots, &m.HardwareRoots},
		{f.HardwareIntermediates, &m.HardwareIntermediates},
		{f.CloudRoots, &m.CloudRoots},
	} {
		if item.path == "" {
			continue
		}
		data, err := os.ReadFile(item.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust anchors: %w", err)
		}
		*item.dst = data
	}
	return New(m)
}

// FromCertificates builds Anchors from already parsed certificates.
func FromCertificates(hardwareRoots, hardwareIntermediates, cloudRoots []*x509.Certificate) *Anchors {
	a := &Anchors{
		hardwareRoots:         x509.NewCertPool(),
		hardwareIntermediates: append([]*x509.Certificate(nil), hardwareIntermediates...),
		cloudRoots:            x509.NewCertPool(),
		hardwareRootCount:     len(hardwareRoots),
		cloudRootCount:        len(cloudRoots),
	}
	for _, c := range hardwareRoots {
		a.hardwareRoots.AddCert(c)
	}
	for _, c := range cloudRoots {
		a.cloudRoots.AddCert(c)
	}
	return a
}

func parsePEM(what string, data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", what, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// HasHardware reports whether hardware roots are configured.
func (a *Anchors) HasHardware() bool { return a != nil && a.hardwareRootCount > 0 }

// HasCloud reports whether cloud roots are configured.
func (a *Anchors) HasCloud() bool { return a != nil && a.cloudRootCount > 0 }

// CloudRoots returns a copy of the cloud root pool, or nil when none are
// configured.
func (a *Anchors) CloudRoots() *x509.CertPool {
	if !a.HasCloud() {
		return nil
	}
	return a.cloudRoots.Clone()
}

// VerifyHardware checks that c chains through the vendor intermediates to a
// hardware root at time at.
func (a *Anchors) VerifyHardware(c *Chain, at time.Time) error {
	if !a.HasHardware() {
		return ErrNoAnchors
	}
	return verify(c, a.hardwareIntermediates, a.hardwareRoots, at)
}

// VerifyCloud checks that c chains to a cloud root at time at.
func (a *Anchors) VerifyCloud(c *Chain, at time.Time) error {
	if !a.HasCloud() {
		return ErrNoAnchors
	}
	return verify(c, nil, a.cloudRoots, at)
}

func verify(c *Chain, fixed []*x509.Certificate, roots *x509.CertPool, at time.Time) error {
	if c == nil || c.Leaf == nil {
		return errors.New("chain has no leaf certificate")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range fixed {
		intermediates.AddCert(cert)
	}
	for _, cert := range c.Intermediates {
		intermediates.AddCert(cert)
	}
	_, err := c.Leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}
