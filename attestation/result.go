package attestation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"enclave-verifier/kds"
	"enclave-verifier/policy"
	"enclave-verifier/report"
	"enclave-verifier/translog"
	"enclave-verifier/verifier"
)

// FailureKind is the reason class of an Invalid result.
type FailureKind int

const (
	FailureInternal FailureKind = iota
	FailureMalformed
	FailureUnsupported
	FailureSignatureInvalid
	FailureChainUntrusted
	FailureKeyNotBound
	FailureMeasurementNotAllowed
	FailureTransparencyLogMissing
	FailureNetwork
)

func (k FailureKind) String() string {
	switch k {
	case FailureMalformed:
		return "malformed"
	case FailureUnsupported:
		return "unsupported"
	case FailureSignatureInvalid:
		return "signature_invalid"
	case FailureChainUntrusted:
		return "chain_untrusted"
	case FailureKeyNotBound:
		return "key_not_bound"
	case FailureMeasurementNotAllowed:
		return "measurement_not_allowed"
	case FailureTransparencyLogMissing:
		return "transparency_log_missing"
	case FailureNetwork:
		return "network_failure"
	default:
		return "internal"
	}
}

// Step names the pipeline stage a failure came from.
type Step string

const (
	StepFetch           Step = "fetch"
	StepParse           Step = "parse"
	StepChain           Step = "chain"
	StepSignature       Step = "signature"
	StepKeyBinding      Step = "key_binding"
	StepPolicy          Step = "policy"
	StepTransparencyLog Step = "transparency_log"
	StepComplete        Step = "complete"
)

// Failure explains an Invalid result. The component error that caused it is
// reachable through errors.As.
type Failure struct {
	Kind    FailureKind
	Step    Step
	Message string

	// LaunchDigest is the hex launch digest of the rejected evidence, empty
	// when the evidence never parsed.
	LaunchDigest string

	Err error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("attestation %s at %s: %s: %v", f.Kind, f.Step, f.Message, f.Err)
	}
	return fmt.Sprintf("attestation %s at %s: %s", f.Kind, f.Step, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another *Failure of the same kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// Verified is the payload of a Valid result.
type Verified struct {
	Format     report.Format
	Report     *report.Report
	PublicKey  []byte
	Claims     *report.Claims
	LogEntry   *translog.LogEntry
	VerifiedAt time.Time
}

// Result is either Valid or Invalid. Only this package can build a Valid
// Result; the zero value is Invalid.
type Result struct {
	id          string
	verified    *Verified
	failure     *Failure
	diagnostics []*Failure
}

func valid(id string, v *Verified) Result {
	return Result{id: id, verified: v}
}

func invalid(id string, f *Failure, diagnostics []*Failure) Result {
	return Result{id: id, failure: f, diagnostics: diagnostics}
}

// ID is the verification_id the call was logged under.
func (r Result) ID() string { return r.id }

// Valid reports whether every check passed.
func (r Result) Valid() bool { return r.verified != nil && r.failure == nil }

// Verified returns the verified evidence and bound key of a Valid result.
func (r Result) Verified() (*Verified, bool) {
	if !r.Valid() {
		return nil, false
	}
	return r.verified, true
}

// Failure returns why the result is Invalid, or nil when it is Valid.
func (r Result) Failure() *Failure {
	if r.Valid() {
		return nil
	}
	if r.failure == nil {
		return &Failure{Kind: FailureInternal, Step: StepComplete, Message: "no verification was performed"}
	}
	return r.failure
}

// Err is Failure as an error value.
func (r Result) Err() error {
	if f := r.Failure(); f != nil {
		return f
	}
	return nil
}

// Diagnostics lists every failure observed when the policy let verification
// continue past a signature failure. It is empty otherwise.
func (r Result) Diagnostics() []*Failure {
	return r.diagnostics
}

// classify maps a component error onto the failure taxonomy.
func classify(step Step, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	out := &Failure{Kind: FailureInternal, Step: step, Message: "verification error", Err: err}

	var (
		pe  *report.ParseError
		ve  *verifier.VerifyError
		re  *kds.ResolutionError
		pol *policy.PolicyError
		le  *translog.LogError
		ne  net.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		out.Kind, out.Message = FailureNetwork, "verification cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind, out.Message = FailureNetwork, "verification timed out"
	case errors.As(err, &pe):
		out.Message = "evidence could not be parsed"
		out.Kind = FailureMalformed
		if pe.Kind == report.ParseErrorUnsupportedVersion || pe.Kind == report.ParseErrorUnsupportedFormat {
			out.Kind = FailureUnsupported
		}
	case errors.As(err, &ve):
		out.Message = "signature verification failed"
		switch ve.Kind {
		case verifier.VerifyErrorUnsupportedAlgorithm:
			out.Kind = FailureUnsupported
		case verifier.VerifyErrorSignatureInvalid:
			out.Kind = FailureSignatureInvalid
		default:
			out.Kind = FailureChainUntrusted
		}
	case errors.As(err, &re):
		out.Message = "signing certificate could not be resolved"
		out.Kind = FailureNetwork
		// A 4xx means the service does not know this chip and TCB.
		if re.Kind == kds.ResolutionErrorInvalidCertificate ||
			(re.Kind == kds.ResolutionErrorStatus && re.StatusCode >= 400 && re.StatusCode < 500 && re.StatusCode != http.StatusTooManyRequests) {
			out.Kind = FailureChainUntrusted
		}
	case errors.As(err, &pol):
		out.Kind, out.Message = FailureMeasurementNotAllowed, "measurement rejected by policy"
	case errors.As(err, &le):
		out.Kind, out.Message = FailureTransparencyLogMissing, "transparency log cross-check failed"
		if le.Kind == translog.LogErrorNetwork {
			out.Kind = FailureNetwork
		}
	case errors.As(err, &ne):
		out.Kind, out.Message = FailureNetwork, "network error"
	}
	return out
}
