package attestation

import (
	"fmt"
	"time"

	"enclave-verifier/kds"
	"enclave-verifier/policy"
	"enclave-verifier/shared"
	"enclave-verifier/translog"
	"enclave-verifier/trust"
)

// Config is the process-level configuration of a Verifier.
type Config struct {
	KDSBaseURL         string
	KDSProduct         string
	TransparencyLogURL string
	Anchors            trust.Files
	FetchTimeout       time.Duration
	PolicyFile         string
}

// LoadConfigFromEnv reads an optional .env file and then the ATTEST_*
// variables.
func LoadConfigFromEnv() (*Config, error) {
	if err := shared.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg := &Config{
		KDSBaseURL:         shared.GetEnvOrDefault("ATTEST_KDS_URL", kds.DefaultBaseURL),
		KDSProduct:         shared.GetEnvOrDefault("ATTEST_KDS_PRODUCT", kds.DefaultProduct),
		TransparencyLogURL: shared.GetEnvOrDefault("ATTEST_TLOG_URL", ""),
		Anchors: trust.Files{
			HardwareRoots:         shared.GetEnvOrDefault("ATTEST_HARDWARE_ROOTS", ""),
			HardwareIntermediates: shared.GetEnvOrDefault("ATTEST_HARDWARE_INTERMEDIATES", ""),
			CloudRoots:            shared.GetEnvOrDefault("ATTEST_CLOUD_ROOTS", ""),
		},
		FetchTimeout: time.Duration(shared.GetEnvIntOrDefault("ATTEST_FETCH_TIMEOUT_SECONDS", int(shared.DefaultHTTPTimeout/time.Second))) * time.Second,
		PolicyFile:   shared.GetEnvOrDefault("ATTEST_POLICY_FILE", ""),
	}
	return cfg, nil
}

// NewVerifier loads the trust anchors and wires a Verifier with a
// certificate cache and, when configured, a transparency log client.
func (c *Config) NewVerifier(logger *shared.Logger) (*Verifier, error) {
	anchors, err := trust.LoadFiles(c.Anchors)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = shared.NopLogger()
	}
	client := shared.NewHTTPClient(c.FetchTimeout)

	opts := Options{
		Anchors: anchors,
		Certificates: kds.NewCache(kds.NewResolver(kds.Config{
			BaseURL:    c.KDSBaseURL,
			Product:    c.KDSProduct,
			HTTPClient: client,
			Logger:     logger,
		}), logger),
		HTTPClient: client,
		Logger:     logger,
	}
	if c.TransparencyLogURL != "" {
		opts.TransparencyLog = translog.NewClient(c.TransparencyLogURL, client, logger)
	}
	return NewVerifier(opts), nil
}

// LoadPolicy reads PolicyFile. Without one the returned policy trusts
// nothing, so every verification fails as not configured.
func (c *Config) LoadPolicy() (*policy.Policy, error) {
	if c.PolicyFile == "" {
		return policy.New(), nil
	}
	return policy.LoadFile(c.PolicyFile)
}
