package shared

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ATTEST_TEST_STRING", "value")
	t.Setenv("ATTEST_TEST_INT", "42")
	t.Setenv("ATTEST_TEST_BAD_INT", "forty")
	t.Setenv("ATTEST_TEST_BOOL", "true")
	t.Setenv("ATTEST_TEST_EMPTY", "")

	assert.Equal(t, "value", GetEnvOrDefault("ATTEST_TEST_STRING", "x"))
	assert.Equal(t, "x", GetEnvOrDefault("ATTEST_TEST_EMPTY", "x"))
	assert.Equal(t, 42, GetEnvIntOrDefault("ATTEST_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvIntOrDefault("ATTEST_TEST_BAD_INT", 1))
	assert.True(t, GetEnvBoolOrDefault("ATTEST_TEST_BOOL", false))
	assert.True(t, GetEnvBoolOrDefault("ATTEST_TEST_EMPTY", true))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ATTEST_DOTENV_VALUE=from-file\n"), 0o600))

	t.Setenv("ATTEST_DOTENV_VALUE", "")
	require.NoError(t, os.Unsetenv("ATTEST_DOTENV_VALUE"))
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("ATTEST_DOTENV_VALUE"))

	// Existing variables win over the file.
	t.Setenv("ATTEST_DOTENV_VALUE", "from-env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("ATTEST_DOTENV_VALUE"))
}

func TestLoggerScopes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := WrapLogger(zap.New(core)).WithVerification("v-1").WithEndpoint("https://enclave.example")

	l.Security("rejected", zap.String("kind", "malformed"))
	l.Critical("panic")
	l.DebugIf("detail")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	for _, e := range entries {
		ctx := e.ContextMap()
		assert.Equal(t, "v-1", ctx["verification_id"])
		assert.Equal(t, "https://enclave.example", ctx["endpoint"])
	}
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["security_event"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, true, entries[1].ContextMap()["critical"])
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)

	// Empty scopes return the same logger.
	assert.Same(t, l, l.WithVerification("").WithEndpoint(""))
}

func TestDebugIfSilentInEnclaveMode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{Logger: zap.New(core), enclaveMode: true}
	l.DebugIf("detail")
	assert.Zero(t, logs.Len())
}

func TestSecuritySurvivesEnclaveMode(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := (&Logger{Logger: zap.New(core), enclaveMode: true}).WithVerification("v-2")
	l.Security("rejected", zap.String("kind", "signature_invalid"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["security_event"])
	assert.Equal(t, "v-2", entries[0].ContextMap()["verification_id"])
}

func TestNewLoggerFromEnv(t *testing.T) {
	t.Setenv("ENCLAVE_MODE", "true")
	t.Setenv("DEVELOPMENT", "")
	t.Setenv("LOG_LEVEL", "debug")
	l, err := NewLoggerFromEnv("attestctl")
	require.NoError(t, err)
	assert.True(t, l.enclaveMode)
	assert.Equal(t, "attestctl", l.serviceName)
	assert.False(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewLoggerLevel(t *testing.T) {
	l, err := NewLogger(LoggerConfig{ServiceName: "attestctl", Level: "warn"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger(LoggerConfig{Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestReadLimitedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 16)))
	}))
	defer srv.Close()

	client := NewHTTPClient(0)
	assert.Equal(t, DefaultHTTPTimeout, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	body, err := ReadLimitedBody(resp, 16)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Len(t, body, 16)

	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	_, err = ReadLimitedBody(resp, 15)
	resp.Body.Close()
	assert.ErrorContains(t, err, "15 byte limit")
}

func TestRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(0).Get(srv.URL)
	assert.ErrorContains(t, err, "too many redirects")
}
