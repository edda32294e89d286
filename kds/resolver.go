// Package kds resolves per-chip signing certificates from the hardware
// vendor's key distribution service.
package kds

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	sevkds "github.com/google/go-sev-guest/kds"
	"go.mozilla.org/pkcs7"
	"go.uber.org/zap"

	"enclave-verifier/report"
	"enclave-verifier/shared"
)

const (
	DefaultBaseURL = "https://kdsintf.amd.com"
	DefaultProduct = "Milan"

	// MaxCertificateSize caps the body accepted from the service.
	MaxCertificateSize = 16 * 1024
)

// DeviceIdentity identifies the chip that signed a report.
type DeviceIdentity struct {
	ChipID [report.ChipIDSize]byte
}

// FirmwareVersion is the reported TCB the signing certificate was issued for.
type FirmwareVersion = report.TCBVersion

// IdentityFromReport extracts the lookup key for rep's signing certificate.
func IdentityFromReport(rep *report.Report) (DeviceIdentity, FirmwareVersion) {
	return DeviceIdentity{ChipID: rep.Platform.ChipID}, rep.Platform.ReportedTCB
}

// CertificateSource resolves a signing certificate for a device.
type CertificateSource interface {
	Resolve(ctx context.Context, id DeviceIdentity, fw FirmwareVersion) (*x509.Certificate, error)
}

// Config configures a Resolver.
type Config struct {
	BaseURL    string
	Product    string
	HTTPClient *http.Client
	Logger     *shared.Logger
}

// Resolver fetches signing certificates over HTTP. It never retries and
// never caches; wrap it in a Cache for reuse.
type Resolver struct {
	baseURL string
	product string
	client  *http.Client
	logger  *shared.Logger
}

// NewResolver creates a resolver, filling defaults for empty fields.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		product: cfg.Product,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if r.baseURL == "" {
		r.baseURL = DefaultBaseURL
	}
	if r.product == "" {
		r.product = DefaultProduct
	}
	if r.client == nil {
		r.client = shared.NewHTTPClient(shared.DefaultHTTPTimeout)
	}
	if r.logger == nil {
		r.logger = shared.NopLogger()
	}
	return r
}

// URL returns the service URL for a device and firmware version. The path
// and query follow the vendor layout; scheme and host come from the
// configured base URL.
func (r *Resolver) URL(id DeviceIdentity, fw FirmwareVersion) string {
	vendor := sevkds.VCEKCertURL(r.product, id.ChipID[:], sevkds.TCBVersion(fw.Raw()))
	u, err := url.Parse(vendor)
	if err != nil {
		return vendor
	}
	base, err := url.Parse(r.baseURL)
	if err != nil {
		return vendor
	}
	u.Scheme, u.Host = base.Scheme, base.Host
	u.Path = strings.TrimRight(base.Path, "/") + u.Path
	return u.String()
}

// Resolve implements CertificateSource.
func (r *Resolver) Resolve(ctx context.Context, id DeviceIdentity, fw FirmwareVersion) (*x509.Certificate, error) {
	u := r.URL(id, fw)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ResolutionError{Kind: ResolutionErrorNetwork, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Accept", "application/pkix-cert")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ResolutionError{Kind: ResolutionErrorNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ResolutionError{Kind: ResolutionErrorStatus, StatusCode: resp.StatusCode, Message: "unexpected response"}
	}

	body, err := shared.ReadLimitedBody(resp, MaxCertificateSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ResolutionError{Kind: ResolutionErrorNetwork, Message: "read interrupted", Err: ctx.Err()}
		}
		return nil, &ResolutionError{Kind: ResolutionErrorInvalidCertificate, Message: "unreadable body", Err: err}
	}
	cert, err := parseCertificate(body)
	if err != nil {
		return nil, &ResolutionError{Kind: ResolutionErrorInvalidCertificate, Message: "body is not a certificate", Err: err}
	}

	r.logger.Debug("Resolved signing certificate",
		zap.String("product", r.product),
		zap.String("tcb", fw.String()),
		zap.Int("bytes", len(body)))
	return cert, nil
}

// parseCertificate accepts DER (the documented response), a PEM block, or a
// PKCS7 bundle whose first non self-signed certificate is the answer.
func parseCertificate(data []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(data)
	if err == nil {
		return cert, nil
	}

	if block, _ := pem.Decode(data); block != nil && block.Type == "CERTIFICATE" {
		return x509.ParseCertificate(block.Bytes)
	}

	if p7, p7err := pkcs7.Parse(data); p7err == nil {
		for _, c := range p7.Certificates {
			if !bytes.Equal(c.RawSubject, c.RawIssuer) {
				return c, nil
			}
		}
		return nil, errors.New("PKCS7 bundle holds only self-signed certificates")
	}
	return nil, fmt.Errorf("unable to parse certificate (tried DER, PEM and PKCS7): %w", err)
}
