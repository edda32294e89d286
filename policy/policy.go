// Package policy decides which measured images are trusted. There is no
// wildcard: an empty allow-list rejects everything.
package policy

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"enclave-verifier/report"
)

// Digest is a launch digest.
type Digest [report.LaunchDigestSize]byte

// String returns the lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a hex launch digest, with or without a 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("launch digest is not hex: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("launch digest is %d bytes, want %d", len(b), len(d))
	}
	copy(d[:], b)
	return d, nil
}

// Policy is supplied by the caller for each verification and never stored
// by the engine.
type Policy struct {
	TrustedLaunchDigests   []Digest
	RequireTransparencyLog bool

	// Only reachable from builds with the attestdiag tag.
	allowUnverifiedSignature bool
}

// New returns a policy trusting digests.
func New(digests ...Digest) *Policy {
	return &Policy{TrustedLaunchDigests: append([]Digest(nil), digests...)}
}

// Trust adds d to the allow-list.
func (p *Policy) Trust(d Digest) *Policy {
	p.TrustedLaunchDigests = append(p.TrustedLaunchDigests, d)
	return p
}

// AllowsUnverifiedSignature reports whether the diagnostic mode is on. Even
// then verification never succeeds; the engine only keeps evaluating the
// remaining checks so the failure report is complete.
func (p *Policy) AllowsUnverifiedSignature() bool {
	return p != nil && p.allowUnverifiedSignature
}

// Evaluate checks m against p. A nil policy or an empty allow-list is
// PolicyNotConfigured.
func Evaluate(m report.Measurements, p *Policy) error {
	if p == nil || len(p.TrustedLaunchDigests) == 0 {
		return &PolicyError{Kind: PolicyErrorNotConfigured, Actual: Digest(m.LaunchDigest)}
	}

	// Every member is compared so timing does not reveal which one matched.
	match := 0
	for _, d := range p.TrustedLaunchDigests {
		match |= subtle.ConstantTimeCompare(d[:], m.LaunchDigest[:])
	}
	if match == 1 {
		return nil
	}
	return &PolicyError{
		Kind:     PolicyErrorUnknownMeasurement,
		Expected: append([]Digest(nil), p.TrustedLaunchDigests...),
		Actual:   Digest(m.LaunchDigest),
	}
}
