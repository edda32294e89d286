package translog_test

import (
	"context"
	"crypto/sha512"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"enclave-verifier/attesttest"
	"enclave-verifier/translog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func digest(s string) []byte {
	d := sha512.Sum384([]byte(s))
	return d[:]
}

func logKind(err error) translog.LogErrorKind {
	var le *translog.LogError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

func newClient(l *attesttest.TransparencyLog) *translog.Client {
	return translog.NewClient(l.URL, attesttest.HTTPClient(), nil)
}

func TestCrossCheckFound(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		l.AddDigest(digest(s))
	}
	uuid := l.AddDigest(digest("build"))
	l.AddDigest(digest("f"))

	entry, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	require.NoError(t, err)
	assert.Equal(t, uuid, entry.UUID)
	assert.Equal(t, int64(5), entry.LogIndex)
	require.NotNil(t, entry.InclusionProof)
	assert.Equal(t, int64(7), entry.InclusionProof.TreeSize)
	assert.JSONEq(t, string(attesttest.HashedRekordBody(digest("build"))), string(entry.Body))
	assert.False(t, entry.IntegratedTime.IsZero())
	assert.Equal(t, 1, l.Searches())
}

func TestCrossCheckSingleEntryTree(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("only"))

	entry, err := newClient(l).CrossCheck(context.Background(), digest("only"))
	require.NoError(t, err)
	assert.Empty(t, entry.InclusionProof.Hashes)
}

func TestCrossCheckNotFound(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("other"))

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorNotFound, logKind(err))
}

func TestCrossCheckMismatch(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddEntry(digest("build"), attesttest.HashedRekordBody(digest("something else")))

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorMismatch, logKind(err))
}

func TestCrossCheckSkipsMismatchedEntry(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddEntry(digest("build"), attesttest.HashedRekordBody(digest("something else")))
	uuid := l.AddDigest(digest("build"))

	entry, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	require.NoError(t, err)
	assert.Equal(t, uuid, entry.UUID)
}

func TestCrossCheckInvalidProof(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("a"))
	l.AddDigest(digest("build"))
	l.TamperProofs(true)

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorInvalidProof, logKind(err))
}

func TestCrossCheckMissingProof(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("build"))
	l.OmitProofs(true)

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorInvalidProof, logKind(err))
	assert.ErrorContains(t, err, "no inclusion proof")
}

func TestCrossCheckMalformedBody(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddEntry(digest("build"), []byte("not json"))

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorMalformed, logKind(err))
}

func TestCrossCheckServerError(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("build"))
	l.SetStatus(http.StatusServiceUnavailable)

	_, err := newClient(l).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorNetwork, logKind(err))
}

func TestCrossCheckUnreachable(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	url := l.URL
	l.Close()

	_, err := translog.NewClient(url, attesttest.HTTPClient(), nil).CrossCheck(context.Background(), digest("build"))
	assert.Equal(t, translog.LogErrorNetwork, logKind(err))
}

func TestCrossCheckCancelled(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	l.AddDigest(digest("build"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(l).CrossCheck(ctx, digest("build"))
	assert.Equal(t, translog.LogErrorNetwork, logKind(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.Searches())
}

func TestCrossCheckEmptyDigest(t *testing.T) {
	l := attesttest.NewTransparencyLog(t)
	_, err := newClient(l).CrossCheck(context.Background(), nil)
	assert.Equal(t, translog.LogErrorMalformed, logKind(err))
}
