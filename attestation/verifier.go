// Package attestation composes the report parsers, signature verifiers,
// certificate resolution, key binding, measurement policy and transparency
// log into one fail-closed verification call.
package attestation

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"enclave-verifier/kds"
	"enclave-verifier/policy"
	"enclave-verifier/report"
	"enclave-verifier/shared"
	"enclave-verifier/translog"
	"enclave-verifier/trust"
	"enclave-verifier/verifier"
)

// Options configures a Verifier. Anchors are required for anything to
// verify; the other fields have working defaults.
type Options struct {
	Anchors *trust.Anchors

	// Certificates resolves hardware signing certificates. Defaults to a
	// kds.Cache over a kds.Resolver for the vendor's public service.
	Certificates kds.CertificateSource

	// TransparencyLog is consulted when a policy requires it. A nil log makes
	// such policies fail.
	TransparencyLog translog.Checker

	HTTPClient *http.Client
	Logger     *shared.Logger
	Now        func() time.Time
}

// Verifier is safe for concurrent use. The only state shared between calls
// is the certificate cache behind Options.Certificates.
type Verifier struct {
	client       *http.Client
	logger       *shared.Logger
	now          func() time.Time
	certificates kds.CertificateSource
	tlog         translog.Checker
	strategies   map[report.Format]strategy
}

// NewVerifier builds a Verifier from opts.
func NewVerifier(opts Options) *Verifier {
	v := &Verifier{
		client:       opts.HTTPClient,
		logger:       opts.Logger,
		now:          opts.Now,
		certificates: opts.Certificates,
		tlog:         opts.TransparencyLog,
	}
	if v.client == nil {
		v.client = shared.NewHTTPClient(shared.DefaultHTTPTimeout)
	}
	if v.logger == nil {
		v.logger = shared.NopLogger()
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.certificates == nil {
		v.certificates = kds.NewCache(kds.NewResolver(kds.Config{HTTPClient: v.client, Logger: v.logger}), v.logger)
	}

	clock := verifier.WithClock(v.now)
	v.strategies = map[report.Format]strategy{
		report.FormatHardwareReport: &hardwareStrategy{
			certificates: v.certificates,
			verifier:     verifier.NewHardwareVerifier(opts.Anchors, clock),
		},
		report.FormatCloudPKCS7: &cloudStrategy{
			verifier: verifier.NewPKCS7Verifier(opts.Anchors, clock),
		},
	}
	return v
}

// ClearCache drops every cached signing certificate. It is a no-op when the
// certificate source does not cache.
func (v *Verifier) ClearCache() {
	if c, ok := v.certificates.(interface{ Clear() }); ok {
		c.Clear()
	}
}

// CallOption adjusts a single FetchAndVerify call.
type CallOption func(*callOptions)

type callOptions struct {
	format report.Format
	nonce  string
}

// WithFormat requires the endpoint to declare format. A different declared
// type fails as unsupported instead of being parsed with another strategy.
func WithFormat(format report.Format) CallOption {
	return func(o *callOptions) {
		o.format = format
	}
}

// WithNonce challenges the endpoint with nonce. The attestation is requested
// by POST and the signed user data must carry sha256(nonce) after the key
// hash. An empty nonce leaves the call unchallenged.
func WithNonce(nonce string) CallOption {
	return func(o *callOptions) {
		o.nonce = nonce
	}
}

// run tracks one verification call.
type run struct {
	logger       *shared.Logger
	step         Step
	launchDigest string

	allowUnverified bool
	continuing      bool
	failures        []*Failure
}

// fail records err and reports whether the pipeline must stop. Only chain and
// signature failures can be passed over, and only under a diagnostic policy;
// once passed over, every later check still runs so its outcome is reported.
func (r *run) fail(step Step, err error) (stop bool) {
	f := classify(step, err)
	if f.LaunchDigest == "" {
		f.LaunchDigest = r.launchDigest
	}
	r.failures = append(r.failures, f)

	if r.allowUnverified && (step == StepChain || step == StepSignature) {
		r.continuing = true
	}
	return !r.continuing
}

// FetchAndVerify fetches a fresh attestation from endpoint and verifies that
// it is signed by a trusted vendor chain, binds expectedKey, and carries a
// launch digest p trusts. The result is Valid only if every check passed and
// ctx is still live. It never panics.
func (v *Verifier) FetchAndVerify(ctx context.Context, endpoint string, expectedKey []byte, p *policy.Policy, opts ...CallOption) (res Result) {
	id := uuid.NewString()
	logger := v.logger.WithVerification(id).WithEndpoint(endpoint)
	r := &run{logger: logger, step: StepFetch, allowUnverified: p.AllowsUnverifiedSignature()}

	defer func() {
		if rec := recover(); rec != nil {
			f := &Failure{Kind: FailureInternal, Step: r.step, Message: fmt.Sprintf("panic: %v", rec), LaunchDigest: r.launchDigest}
			logger.Critical("Verification panicked", zap.String("step", string(r.step)), zap.Any("panic", rec), zap.Stack("stack"))
			res = invalid(id, f, nil)
		}
	}()

	var call callOptions
	for _, o := range opts {
		o(&call)
	}

	verified, ok := v.verify(ctx, r, endpoint, expectedKey, p, call)
	if !ok {
		var diagnostics []*Failure
		if r.continuing {
			diagnostics = r.failures
		}
		f := r.failures[0]
		logger.Security("Attestation rejected",
			zap.String("kind", f.Kind.String()),
			zap.String("step", string(f.Step)),
			zap.String("launch_digest", f.LaunchDigest),
			zap.Int("failures", len(r.failures)),
			zap.Error(f))
		return invalid(id, f, diagnostics)
	}

	fields := []zap.Field{
		zap.String("format", verified.Format.String()),
		zap.String("launch_digest", verified.Report.Measurements.LaunchDigestHex()),
		zap.Int("public_key_len", len(verified.PublicKey)),
	}
	if verified.LogEntry != nil {
		fields = append(fields, zap.Int64("log_index", verified.LogEntry.LogIndex))
	}
	logger.Info("Attestation verified", fields...)
	return valid(id, verified)
}

func (v *Verifier) verify(ctx context.Context, r *run, endpoint string, expectedKey []byte, p *policy.Policy, call callOptions) (*Verified, bool) {
	if err := ctx.Err(); err != nil {
		r.fail(StepFetch, err)
		return nil, false
	}
	resp, err := v.fetch(ctx, endpoint, call.nonce)
	if err != nil {
		r.fail(StepFetch, err)
		return nil, false
	}

	r.step = StepParse
	format := FormatForType(resp.AttestationType)
	if format == report.FormatUnknown {
		r.fail(StepParse, &Failure{Kind: FailureUnsupported, Step: StepParse, Message: fmt.Sprintf("attestation type %q is not supported", resp.AttestationType)})
		return nil, false
	}
	if call.format != report.FormatUnknown && call.format != format {
		r.fail(StepParse, &Failure{Kind: FailureUnsupported, Step: StepParse, Message: fmt.Sprintf("endpoint declared %s, caller requires %s", format, call.format)})
		return nil, false
	}
	strat := v.strategies[format]
	ev, err := strat.parse(resp.Quote)
	if err != nil {
		r.fail(StepParse, err)
		return nil, false
	}
	r.launchDigest = ev.report.Measurements.LaunchDigestHex()
	r.logger.DebugIf("Evidence parsed",
		zap.String("format", format.String()),
		zap.Uint32("version", ev.report.Version),
		zap.String("launch_digest", r.launchDigest))

	r.step = StepChain
	chain, err := strat.chain(ctx, ev)
	if err != nil {
		if r.fail(StepChain, err) {
			return nil, false
		}
	} else {
		r.step = StepSignature
		if err := strat.verify(ev, chain, v.now()); err != nil && r.fail(StepSignature, err) {
			return nil, false
		}
	}

	r.step = StepKeyBinding
	if err := checkKeyBinding(resp, ev.report, expectedKey); err != nil && r.fail(StepKeyBinding, err) {
		return nil, false
	}
	if call.nonce != "" && !verifier.VerifyNonceBinding(ev.report.Measurements.UserData[:], []byte(call.nonce)) {
		err := &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "report does not commit to the challenge nonce"}
		if r.fail(StepKeyBinding, err) {
			return nil, false
		}
	}

	r.step = StepPolicy
	if err := policy.Evaluate(ev.report.Measurements, p); err != nil && r.fail(StepPolicy, err) {
		return nil, false
	}

	var entry *translog.LogEntry
	if p != nil && p.RequireTransparencyLog {
		r.step = StepTransparencyLog
		if v.tlog == nil {
			err = &Failure{Kind: FailureTransparencyLogMissing, Step: StepTransparencyLog, Message: "policy requires a transparency log but none is configured"}
		} else {
			entry, err = v.tlog.CrossCheck(ctx, ev.report.Measurements.LaunchDigest[:])
		}
		if err != nil && r.fail(StepTransparencyLog, err) {
			return nil, false
		}
	}

	if len(r.failures) > 0 {
		return nil, false
	}
	r.step = StepComplete
	if err := ctx.Err(); err != nil {
		r.fail(StepComplete, err)
		return nil, false
	}
	return &Verified{
		Format:     format,
		Report:     ev.report,
		PublicKey:  append([]byte(nil), expectedKey...),
		Claims:     ev.claims,
		LogEntry:   entry,
		VerifiedAt: v.now(),
	}, true
}

// checkKeyBinding requires the signed user data to commit to expectedKey.
// Unsigned fields in the response may only agree with that commitment; they
// never replace it.
func checkKeyBinding(resp *endpointResponse, rep *report.Report, expectedKey []byte) error {
	if len(expectedKey) == 0 {
		return &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "no expected public key"}
	}

	if resp.PublicKey != "" {
		advertised, err := report.DecodeKey(resp.PublicKey)
		if err != nil {
			return &Failure{Kind: FailureMalformed, Step: StepKeyBinding, Message: "public_key is neither hex nor base64", Err: err}
		}
		if subtle.ConstantTimeCompare(advertised, expectedKey) != 1 {
			return &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "endpoint advertises a different public key"}
		}
	}

	if resp.PublicKeyHash != "" {
		advertised, err := report.DecodeKey(resp.PublicKeyHash)
		if err != nil {
			return &Failure{Kind: FailureMalformed, Step: StepKeyBinding, Message: "public_key_hash is neither hex nor base64", Err: err}
		}
		sum := sha256.Sum256(expectedKey)
		if subtle.ConstantTimeCompare(advertised, sum[:]) != 1 {
			return &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "public_key_hash does not match the expected key"}
		}
	}

	userData := rep.Measurements.UserData[:]
	if resp.ReportData != "" {
		override, err := report.DecodeKey(resp.ReportData)
		if err != nil {
			return &Failure{Kind: FailureMalformed, Step: StepKeyBinding, Message: "report_data is neither hex nor base64", Err: err}
		}
		if len(override) == 0 || len(override) > len(userData) ||
			subtle.ConstantTimeCompare(override, userData[:len(override)]) != 1 {
			return &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "report_data does not match the signed user data"}
		}
	}

	if !verifier.VerifyKeyBinding(userData, expectedKey) {
		return &Failure{Kind: FailureKeyNotBound, Step: StepKeyBinding, Message: "expected public key is not bound to the report"}
	}
	return nil
}
