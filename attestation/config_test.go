package attestation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"enclave-verifier/attestation"
	"enclave-verifier/attesttest"
	"enclave-verifier/kds"
	"enclave-verifier/policy"
	"enclave-verifier/shared"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"ATTEST_KDS_URL", "ATTEST_KDS_PRODUCT", "ATTEST_TLOG_URL", "ATTEST_POLICY_FILE", "ATTEST_FETCH_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}
	cfg, err := attestation.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, kds.DefaultBaseURL, cfg.KDSBaseURL)
	assert.Equal(t, kds.DefaultProduct, cfg.KDSProduct)
	assert.Empty(t, cfg.TransparencyLogURL)
	assert.Equal(t, shared.DefaultHTTPTimeout, cfg.FetchTimeout)

	p, err := cfg.LoadPolicy()
	require.NoError(t, err)
	assert.Empty(t, p.TrustedLaunchDigests)
}

func TestConfigEndToEnd(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	p := f.policy()
	p.RequireTransparencyLog = true
	policyTOML, err := policy.Encode(p)
	require.NoError(t, err)
	f.tlog.AddDigest(f.digest[:])

	t.Setenv("ATTEST_KDS_URL", f.kds.URL)
	t.Setenv("ATTEST_KDS_PRODUCT", "Genoa")
	t.Setenv("ATTEST_TLOG_URL", f.tlog.URL)
	t.Setenv("ATTEST_HARDWARE_ROOTS", writeFile(t, dir, "ark.pem", attesttest.PEM(f.hw.Root.Cert)))
	t.Setenv("ATTEST_HARDWARE_INTERMEDIATES", writeFile(t, dir, "ask.pem", attesttest.PEM(f.hw.Intermediate.Cert)))
	t.Setenv("ATTEST_CLOUD_ROOTS", writeFile(t, dir, "cloud.pem", attesttest.PEM(f.cloud.Root.Cert)))
	t.Setenv("ATTEST_FETCH_TIMEOUT_SECONDS", "3")
	t.Setenv("ATTEST_POLICY_FILE", writeFile(t, dir, "policy.toml", policyTOML))

	cfg, err := attestation.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)

	v, err := cfg.NewVerifier(shared.WrapLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	loaded, err := cfg.LoadPolicy()
	require.NoError(t, err)
	assert.True(t, loaded.RequireTransparencyLog)

	ep := attesttest.NewEndpoint(t, f.hardwareResponse(t))
	res := v.FetchAndVerify(context.Background(), ep.URL, f.key, loaded)
	require.True(t, res.Valid(), "%v", res.Err())
	got, _ := res.Verified()
	assert.NotNil(t, got.LogEntry)

	path, _ := f.kds.LastRequest()
	assert.Contains(t, path, "/vcek/v1/Genoa/")
}

func TestConfigMissingAnchorFile(t *testing.T) {
	cfg := &attestation.Config{}
	cfg.Anchors.HardwareRoots = filepath.Join(t.TempDir(), "missing.pem")
	_, err := cfg.NewVerifier(nil)
	assert.Error(t, err)
}
